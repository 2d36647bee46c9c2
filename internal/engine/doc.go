// Package engine owns the live port table and the kill workflow.
//
// # Overview
//
// An Engine holds the authoritative snapshot of listening ports returned by a
// port.Enumerator, the operator's selection (at most one PID), and the state
// of the confirm-then-kill workflow. Presentation layers read through View,
// Selection and KillState and issue commands through RequestRefresh, Select,
// RequestKill, ConfirmKill and DeclineKill.
//
// # Concurrency
//
// Engine is safe for concurrent use. Provider calls run on their own
// goroutines and never while the internal lock is held. At most one
// enumeration is in flight: a refresh requested while another is running
// joins it instead of starting a second scan, and no trailing scan is queued.
// Replacing the snapshot and revalidating the selection happen in one
// critical section, so readers never see a selection that points at a PID
// missing from the snapshot.
//
// # Kill workflow
//
//   idle            -> confirm_pending
//   confirm_pending -> killing | cancelled
//   killing         -> succeeded | failed
//   succeeded, failed, cancelled -> idle
//
// Commands that do not fit the current state are rejected with a sentinel
// error, leave state untouched, and are counted in Stats.Rejections.
//
// # Lifecycle
//
// Start performs the first refresh and then refreshes on a fixed interval.
// Close stops the ticker, cancels in-flight provider calls and discards any
// result that arrives afterwards.
package engine
