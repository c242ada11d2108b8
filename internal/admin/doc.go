// Package admin serves the management API of a raidbd process and the JSON
// helpers its clients use.
//
// # Endpoints
//
//	GET  /health                                 process and mirror health
//	GET  /arrays                                 every array, sorted by name
//	GET  /arrays/{name}                          one array with its slots
//	POST /arrays/{name}/mirrors/{slot}/remove    take a mirror out of service
//	GET  /metrics                                Prometheus exposition
//
// Errors are returned as {"error": "..."} with a matching status code;
// GetJSON and PostJSON surface them as *StatusError.
//
// Removing a mirror waits until every I/O thread has dropped its channel to
// the slot, so once the call returns no new I/O reaches that device.
package admin
