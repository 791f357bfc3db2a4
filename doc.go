// Package gstate records which graphics pipeline variants a program binds,
// persists that set and later compiles it ahead of use.
//
// # Overview
//
// Creating a pipeline the first time it is bound stalls the frame that binds
// it. gstate removes these stalls in two runs. A tracing run captures every
// variant the backend binds into a Collection and saves it. A later run loads
// the Collection and compiles every variant on background workers before real
// rendering needs them.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gstate"
//	    "github.com/gogpu/gstate/backend"
//	)
//
//	cfg := gstate.DefaultConfig()
//	cfg.Mode = gstate.ModeTraceAndSave
//	cfg.Directory = "cache"
//
//	c, err := gstate.NewController(cfg, backend.MustDefault())
//	if err != nil {
//	    return err
//	}
//	if err := c.Start(ctx); err != nil {
//	    return err
//	}
//	defer c.Stop(ctx)
//
// Switching cfg.Mode to ModeLoadAndWarmUp on the next run compiles what the
// first run recorded.
//
// # Architecture
//
// The package is organized into:
//   - Collection: the deduplicated variant set, its file codec and trace flags
//   - Tracer: one trace span with a periodic variant count diagnostic
//   - Scheduler: background warm-up with a completion Handle
//   - Controller: the mode state machine driven by the host
//
// Backends live in gstate/backend; variant identity in gstate/variant.
//
// # File Format
//
// Collections are stored as directory/filename.graphicsstate with a magic,
// a format version, the collection ID and length-prefixed descriptor records,
// closed by a CRC-32. Readers reject newer format versions and any checksum
// or record error; a failed load never yields a partial collection.
package gstate

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"
)
