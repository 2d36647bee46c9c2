package engine

import "context"

// Terminator ends a process. It returns true when the process was
// terminated, false when termination was attempted but the process
// survived, and an error when the attempt could not be made.
type Terminator interface {
	Terminate(ctx context.Context, pid int) (bool, error)
}

// TerminatorFunc adapts a function to the Terminator interface.
type TerminatorFunc func(ctx context.Context, pid int) (bool, error)

// Terminate calls f(ctx, pid).
func (f TerminatorFunc) Terminate(ctx context.Context, pid int) (bool, error) {
	return f(ctx, pid)
}
