// Package history persists published messages into an indexed Store and
// exposes namespaced, time-bounded queries, decoupled from the bus
// package's own bounded in-memory retention ring via the same hook surface
// the crosstab package attaches through.
package history

import "errors"

var (
	ErrStoreNotOpen     = errors.New("history: store not open")
	ErrStoreAlreadyOpen = errors.New("history: store already open")
	ErrAlreadyAttached  = errors.New("history: adapter already attached")
	ErrNotAttached      = errors.New("history: adapter not attached")
	ErrGCAlreadyRunning = errors.New("history: garbage collection already running")
)
