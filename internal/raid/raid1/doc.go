// Package raid1 implements mirroring: N interchangeable base devices hold
// identical copies of the array's data. Importing the package registers the
// raid1 level with internal/raid.
//
// # Capacity
//
// At start the array's capacity is the smallest block count among present
// mirrors, and every present mirror's usable size is truncated to it, so a
// read returns the same address space whichever mirror serves it. At least
// two slots must be configured. By default the array stays online while at
// least one mirror is present.
//
// # Reads
//
// Each Thread keeps, per slot, the number of read blocks it has in flight. A
// read goes whole to the present slot with the smallest counter, lowest index
// on ties. The counter is raised by the read's length once the submission is
// accepted and lowered by the same amount when it completes. A failed read
// fails the request; there is no fallback to another mirror. With no present
// slot the read fails immediately.
//
// # Writes
//
// A write is sent, unchanged, to every present slot in index order and the
// request waits for one credit per slot. Absent slots are credited as
// successful without I/O, so a write to an array whose slots are all absent
// succeeds. The request fails if any mirror fails.
//
// A hard submission error at slot i credits slot i and every later slot as
// failed in one batch. Sub-writes already submitted still complete through
// their own callbacks.
//
// # Backpressure
//
// When a base channel returns bdev.ErrNoMemory nothing is counted or
// credited. The request parks a continuation on that channel and, when
// woken, starts over: a read picks a mirror again, a write resumes at the
// slot that was refused and never resubmits earlier slots.
//
// # Concurrency
//
// Counters and request state are owned by one Thread. Completions for a
// request are delivered serially on that Thread, so no locks are taken on
// the I/O path.
package raid1
