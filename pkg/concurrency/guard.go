// Package concurrency holds small synchronization helpers.
package concurrency

import (
	"errors"
	"sync/atomic"
)

var ErrBusy = errors.New("a request is already in progress")

// Guard lets at most one task run at a time. Callers that arrive while a task
// is running get ErrBusy instead of waiting.
type Guard struct {
	busy atomic.Bool
}

func NewGuard() *Guard {
	return &Guard{}
}

func (g *Guard) Execute(task func() error) error {
	if !g.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer g.busy.Store(false)
	return task()
}

// Busy reports whether a task is running.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}
