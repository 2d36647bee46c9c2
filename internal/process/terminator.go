package process

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
)

// Terminator ends processes on behalf of the kill workflow. It sends one
// configured signal and waits a bounded time for the process to go away.
type Terminator struct {
	manager *RealManager
	signal  unix.Signal
	grace   time.Duration
}

// NewTerminator creates a Terminator using signal and grace period.
func NewTerminator(manager *RealManager, signal unix.Signal, grace time.Duration) *Terminator {
	return &Terminator{manager: manager, signal: signal, grace: grace}
}

// Terminate reports true when the process exited within the grace period and
// false when the signal was delivered but the process is still alive. Errors
// mean the signal could not be sent at all: the process is protected, gone,
// or owned by someone else.
func (t *Terminator) Terminate(ctx context.Context, pid int) (bool, error) {
	return t.manager.KillAndWait(ctx, pid, t.signal, t.grace)
}
