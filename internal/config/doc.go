// Package config loads the TOML description of a raidbd process: the admin
// listener, the mirror health monitor and the arrays to assemble.
//
//	[admin]
//	addr = ":9420"
//
//	[health]
//	disabled = false        # default
//	interval = "5s"
//	max_failures = 3
//
//	[[array]]
//	name = "r1"
//	level = "raid1"          # default
//	block_size = 512         # default
//	min_operational = 1      # default: the level's minimum
//	queue_depth = 128        # per I/O thread and mirror
//
//	[[array.mirror]]
//	name = "m0"
//	backend = "memory"       # memory | file | absent
//	blocks = 1000
//
//	[[array.mirror]]
//	backend = "file"
//	path = "/var/lib/raidbd/m1.img"
//	blocks = 1200
//
// Defaults are applied before validation, and validation reports every
// problem found rather than the first. RAIDBD_ADMIN_ADDR overrides
// admin.addr.
package config
