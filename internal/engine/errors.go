package engine

import "errors"

var (
	// ErrUnknownPID is returned by Select for a PID absent from the snapshot.
	ErrUnknownPID = errors.New("pid not present in current snapshot")
	// ErrNotSelected is returned by RequestKill for a PID other than the selection.
	ErrNotSelected = errors.New("pid is not the current selection")
	// ErrKillInProgress is returned by RequestKill outside the idle state.
	ErrKillInProgress = errors.New("another kill request is in progress")
	// ErrNoPendingKill is returned by ConfirmKill and DeclineKill outside confirm_pending.
	ErrNoPendingKill = errors.New("no kill request awaiting confirmation")
	// ErrNotTerminated is the failure reported when the terminator ran but the
	// process survived.
	ErrNotTerminated = errors.New("process could not be terminated: insufficient privilege or already exited")
	// ErrClosed is returned once the engine has been closed.
	ErrClosed = errors.New("engine closed")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("engine already started")

	errInvalidTransition = errors.New("invalid kill state transition")
)
