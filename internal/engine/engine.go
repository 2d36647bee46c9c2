package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/lu-zhengda/portman/internal/port"
)

// DefaultInterval is the refresh cadence used when Options.Interval is unset.
const DefaultInterval = 5 * time.Second

// EventKind classifies an Event.
type EventKind int

const (
	EventSnapshot      EventKind = iota + 1 // snapshot replaced
	EventRefreshFailed                      // enumeration failed, previous snapshot kept
	EventSelection                          // selection changed by the operator
	EventKill                               // kill workflow changed state
)

func (k EventKind) String() string {
	switch k {
	case EventSnapshot:
		return "snapshot"
	case EventRefreshFailed:
		return "refresh_failed"
	case EventSelection:
		return "selection"
	case EventKill:
		return "kill"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event tells a presentation layer that engine state changed.
type Event struct {
	Kind      EventKind
	KillState KillState // set for EventKill
	Err       error     // refresh or kill failure, verbatim from the provider
}

// Options configures an Engine.
type Options struct {
	// Interval between scheduled refreshes. Defaults to DefaultInterval.
	Interval time.Duration
	// Logger receives diagnostics. Defaults to discarding output.
	Logger *log.Logger
	// Notify is called after every state change, outside the engine lock,
	// from whichever goroutine made the change. It must not block for long.
	Notify func(Event)
}

// Stats is a diagnostic summary of the engine.
type Stats struct {
	Entries     int
	LastRefresh time.Time // zero until the first successful refresh
	LastError   error     // most recent enumeration error, nil after a success
	Refreshing  bool
	Refreshes   int // completed enumeration calls, successful or not
	Rejections  int // commands refused because they did not fit the state
}

// refreshCall is the single in-flight enumeration. Callers that arrive while
// it runs share its result.
type refreshCall struct {
	done chan struct{}
	err  error
}

// Engine reconciles the live port table with the operator's selection and
// drives the kill workflow. Create it with New.
type Engine struct {
	enumerator port.Enumerator
	terminator Terminator
	interval   time.Duration
	logger     *log.Logger
	notify     func(Event)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	entries      []port.PortEntry
	protocols    []string
	selected     int
	hasSelection bool
	inflight     *refreshCall
	kill         killMachine
	started      bool
	closed       bool
	lastRefresh  time.Time
	lastErr      error
	refreshes    int
	rejections   int
}

// New creates an Engine with an empty snapshot. Call Start to begin polling.
func New(enumerator port.Enumerator, terminator Terminator, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Notify == nil {
		opts.Notify = func(Event) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		enumerator: enumerator,
		terminator: terminator,
		interval:   opts.Interval,
		logger:     opts.Logger,
		notify:     opts.Notify,
		ctx:        ctx,
		cancel:     cancel,
		kill:       killMachine{state: KillIdle},
	}
}

// Start performs the initial refresh and schedules one every interval until
// Close is called.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.wg.Add(1)
	e.mu.Unlock()

	e.RequestRefresh()
	go func() {
		defer e.wg.Done()
		e.schedule()
	}()
	return nil
}

func (e *Engine) schedule() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.RequestRefresh()
		}
	}
}

// Close stops scheduled refreshes and cancels provider calls in flight.
// Results that arrive afterwards are discarded. Close waits for the
// scheduler to exit but not for providers to return.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
}

// RequestRefresh starts an enumeration in the background. It returns false
// without starting anything when one is already running or the engine is
// closed.
func (e *Engine) RequestRefresh() bool {
	_, started := e.beginRefresh()
	return started
}

// Refresh starts an enumeration, or joins the one in flight, and waits for
// it to be applied. Concurrent callers observe the same result.
func (e *Engine) Refresh(ctx context.Context) error {
	call, _ := e.beginRefresh()
	if call == nil {
		return ErrClosed
	}

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrClosed
	}
}

func (e *Engine) beginRefresh() (*refreshCall, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, false
	}
	if e.inflight != nil {
		e.logger.Printf("engine: refresh already in flight, coalescing")
		return e.inflight, false
	}

	call := &refreshCall{done: make(chan struct{})}
	e.inflight = call
	go e.runRefresh(call)
	return call, true
}

func (e *Engine) runRefresh(call *refreshCall) {
	entries, err := e.enumerator.ListPorts(e.ctx)

	e.mu.Lock()
	e.inflight = nil
	if e.closed {
		e.mu.Unlock()
		call.err = ErrClosed
		close(call.done)
		return
	}

	e.refreshes++
	ev := Event{Kind: EventSnapshot}
	if err != nil {
		e.lastErr = err
		e.logger.Printf("engine: refresh failed, keeping previous snapshot: %v", err)
		ev = Event{Kind: EventRefreshFailed, Err: err}
	} else {
		e.replaceLocked(entries)
	}
	e.mu.Unlock()

	call.err = err
	close(call.done)
	e.notify(ev)
}

// replaceLocked installs a new snapshot and drops a selection that no longer
// refers to a PID in it.
func (e *Engine) replaceLocked(entries []port.PortEntry) {
	e.entries = slices.Clone(entries)
	e.protocols = Protocols(e.entries)
	e.lastRefresh = time.Now()
	e.lastErr = nil

	if e.hasSelection && !containsPID(e.entries, e.selected) {
		e.logger.Printf("engine: PID %d left the snapshot, clearing selection", e.selected)
		e.selected, e.hasSelection = 0, false
	}
}

// Select toggles the selection: selecting the selected PID clears it,
// selecting another PID replaces it.
func (e *Engine) Select(pid int) error {
	e.mu.Lock()
	if e.closed {
		err := e.rejectLocked("select", ErrClosed)
		e.mu.Unlock()
		return err
	}
	if !containsPID(e.entries, pid) {
		err := e.rejectLocked("select", fmt.Errorf("%w: %d", ErrUnknownPID, pid))
		e.mu.Unlock()
		return err
	}

	if e.hasSelection && e.selected == pid {
		e.selected, e.hasSelection = 0, false
	} else {
		e.selected, e.hasSelection = pid, true
	}
	e.mu.Unlock()

	e.notify(Event{Kind: EventSelection})
	return nil
}

// RequestKill opens a confirmation for the selected process.
func (e *Engine) RequestKill(pid int) (KillRequest, error) {
	e.mu.Lock()
	if e.closed {
		err := e.rejectLocked("kill request", ErrClosed)
		e.mu.Unlock()
		return KillRequest{}, err
	}
	if e.kill.state != KillIdle {
		err := e.rejectLocked("kill request", fmt.Errorf("%w (state %s)", ErrKillInProgress, e.kill.state))
		e.mu.Unlock()
		return KillRequest{}, err
	}
	if !e.hasSelection || e.selected != pid {
		err := e.rejectLocked("kill request", fmt.Errorf("%w: %d", ErrNotSelected, pid))
		e.mu.Unlock()
		return KillRequest{}, err
	}

	req := newKillRequest(pid, e.entries)
	if err := e.kill.transition(KillConfirmPending); err != nil {
		err = e.rejectLocked("kill request", err)
		e.mu.Unlock()
		return KillRequest{}, err
	}
	e.kill.pending = req
	e.mu.Unlock()

	e.notify(Event{Kind: EventKill, KillState: KillConfirmPending})
	req.Ports = slices.Clone(req.Ports)
	return req, nil
}

// ConfirmKill calls the terminator for the pending request in the background.
func (e *Engine) ConfirmKill() error {
	e.mu.Lock()
	if e.closed {
		err := e.rejectLocked("kill confirm", ErrClosed)
		e.mu.Unlock()
		return err
	}
	if e.kill.state != KillConfirmPending {
		err := e.rejectLocked("kill confirm", fmt.Errorf("%w (state %s)", ErrNoPendingKill, e.kill.state))
		e.mu.Unlock()
		return err
	}
	if err := e.kill.transition(KillKilling); err != nil {
		err = e.rejectLocked("kill confirm", err)
		e.mu.Unlock()
		return err
	}
	req := e.kill.pending
	e.mu.Unlock()

	e.notify(Event{Kind: EventKill, KillState: KillKilling})
	go e.runKill(req)
	return nil
}

// DeclineKill abandons the pending request without calling the terminator.
func (e *Engine) DeclineKill() error {
	e.mu.Lock()
	if e.closed {
		err := e.rejectLocked("kill decline", ErrClosed)
		e.mu.Unlock()
		return err
	}
	if e.kill.state != KillConfirmPending {
		err := e.rejectLocked("kill decline", fmt.Errorf("%w (state %s)", ErrNoPendingKill, e.kill.state))
		e.mu.Unlock()
		return err
	}
	if err := e.kill.transition(KillCancelled); err != nil {
		err = e.rejectLocked("kill decline", err)
		e.mu.Unlock()
		return err
	}
	e.kill.pending = KillRequest{}
	e.mu.Unlock()

	e.notify(Event{Kind: EventKill, KillState: KillCancelled})
	e.settle(KillCancelled)
	return nil
}

func (e *Engine) runKill(req KillRequest) {
	ok, err := e.terminator.Terminate(e.ctx, req.PID)
	if err == nil && !ok {
		err = ErrNotTerminated
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	outcome := KillOutcome{Request: req, State: KillSucceeded, Err: err, Finished: time.Now()}
	if err != nil {
		outcome.State = KillFailed
		e.logger.Printf("engine: kill of PID %d failed: %v", req.PID, err)
	} else {
		e.logger.Printf("engine: killed PID %d", req.PID)
		if e.hasSelection && e.selected == req.PID {
			e.selected, e.hasSelection = 0, false
		}
	}
	if terr := e.kill.transition(outcome.State); terr != nil {
		e.logger.Printf("engine: %v", terr)
	}
	e.kill.pending = KillRequest{}
	e.kill.last = &outcome
	e.mu.Unlock()

	e.notify(Event{Kind: EventKill, KillState: outcome.State, Err: err})
	if outcome.State == KillSucceeded {
		e.RequestRefresh()
	}
	e.settle(outcome.State)
}

// settle returns the workflow to idle from a terminal state.
func (e *Engine) settle(from KillState) {
	e.mu.Lock()
	moved := e.kill.state == from && e.kill.transition(KillIdle) == nil
	e.mu.Unlock()

	if moved {
		e.notify(Event{Kind: EventKill, KillState: KillIdle})
	}
}

func (e *Engine) rejectLocked(op string, err error) error {
	e.rejections++
	e.logger.Printf("engine: rejected %s: %v", op, err)
	return err
}

// View returns the snapshot entries matching c.
func (e *Engine) View(c FilterCriteria) []port.PortEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Filter(e.entries, c)
}

// Snapshot returns a copy of the current snapshot.
func (e *Engine) Snapshot() []port.PortEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.entries)
}

// Selection returns the selected PID, if any.
func (e *Engine) Selection() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected, e.hasSelection
}

// Protocols returns the distinct protocols in the current snapshot.
func (e *Engine) Protocols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.protocols)
}

// KillState returns the current kill workflow state.
func (e *Engine) KillState() KillState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kill.state
}

// PendingKill returns the request awaiting confirmation or being executed.
func (e *Engine) PendingKill() (KillRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kill.state != KillConfirmPending && e.kill.state != KillKilling {
		return KillRequest{}, false
	}
	req := e.kill.pending
	req.Ports = slices.Clone(req.Ports)
	return req, true
}

// LastKill returns the outcome of the most recent confirmed kill.
func (e *Engine) LastKill() (KillOutcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kill.last == nil {
		return KillOutcome{}, false
	}
	return *e.kill.last, true
}

// Stats returns diagnostic counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Entries:     len(e.entries),
		LastRefresh: e.lastRefresh,
		LastError:   e.lastErr,
		Refreshing:  e.inflight != nil,
		Refreshes:   e.refreshes,
		Rejections:  e.rejections,
	}
}

func containsPID(entries []port.PortEntry, pid int) bool {
	for _, e := range entries {
		if e.PID == pid {
			return true
		}
	}
	return false
}
