// Package raid assembles base block devices into arrays and hands request
// routing to a per-level Module.
//
// # Overview
//
// The package owns everything that is common to redundancy levels:
//
//	┌──────────────────────────────────────────┐
//	│                 Array                    │
//	├──────────────────────────────────────────┤
//	│  BaseBdevs  []*BaseBdevInfo (slots)      │
//	│  BlockCnt   capacity set by the module   │
//	│  channels   IODevice[*IOChannel]         │
//	│  module     Module (raid1, ...)          │
//	└──────────────────────────────────────────┘
//	        │ Submit                ▲ CompletePart / Complete
//	        ▼                       │
//	┌──────────────────────────────────────────┐
//	│  Module.SubmitRWRequest(*IO)             │
//	│    base channel per slot  ──▶ Readv/Writev│
//	└──────────────────────────────────────────┘
//
// Modules register themselves from init with RegisterModule, so importing a
// level's package is what makes it available to Create.
//
// # Slots
//
// A slot is present when bound to a live device and absent otherwise. Slots
// may be configured absent at creation, or removed later with
// RemoveBaseBdev. Removing a slot detaches it from every channel on the
// channel's own Thread. When fewer slots remain than the array's operational
// minimum, the array goes offline and Submit rejects new requests.
//
// # Request lifecycle
//
// Submit validates the range and builds an IO owned by the channel's Thread.
// The module sets BaseIORemaining, submits sub-I/Os to base channels and
// credits their outcomes with CompletePart. Failure is latched: one failed
// credit makes the whole IO fail. The IO completes exactly once, when the
// remaining count reaches zero or when the module calls Complete directly.
// Crediting a completed IO, or crediting more than is remaining, panics.
//
// When a base channel reports bdev.ErrNoMemory the module parks a
// continuation with QueueWait and resumes from the progress recorded in the
// IO.
//
// # Lifecycle
//
//	Create ──▶ online ──RemoveBaseBdev──▶ offline
//	   │          │                          │
//	   │          └──────── Destroy ─────────┘
//	   │                       │
//	   │        channels released, Module.Stop
//	   │                       │ (pending)
//	   │                ModuleStopDone
//	   ▼                       ▼
//	Module.Start            stopped
package raid
