// Package crdtlog wires the core's (deliberately sparse) logging needs to
// hclog. This is observability, not part of the correctness contract:
// nothing in the core behaves differently depending on what is logged.
// oplog.New and branch.New build their loggers with New; neither accepts a
// caller-supplied logger.
package crdtlog

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// New returns a logger named for the given component, logging at Warn, so
// the oplog's per-insert/per-delete Trace lines stay silent.
func New(component string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   component,
		Level:  hclog.Warn,
		Output: os.Stderr,
	})
}

// Null returns a logger that discards everything, for tests and callers
// that don't care about the core's trace output.
func Null() hclog.Logger {
	return hclog.NewNullLogger()
}
