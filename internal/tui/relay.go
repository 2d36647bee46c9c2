package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lu-zhengda/portman/internal/engine"
)

// EngineMsg carries an engine event into the program.
type EngineMsg engine.Event

// Relay forwards engine events to a program in the order they were raised,
// without blocking the goroutine that raised them. Engine commands issued
// from Update notify synchronously, and Program.Send would block there.
type Relay struct {
	send func(tea.Msg)

	mu    sync.Mutex
	queue []engine.Event

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewRelay starts a relay delivering to send.
func NewRelay(send func(tea.Msg)) *Relay {
	r := &Relay{
		send:    send,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.loop()
	return r
}

// Notify queues ev for delivery. It is safe to use as engine.Options.Notify.
func (r *Relay) Notify(ev engine.Event) {
	r.mu.Lock()
	r.queue = append(r.queue, ev)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Close stops delivery and waits for the relay goroutine. Queued events
// that were not yet delivered are dropped.
func (r *Relay) Close() {
	r.once.Do(func() { close(r.done) })
	<-r.stopped
}

func (r *Relay) loop() {
	defer close(r.stopped)
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}

		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()

		for _, ev := range batch {
			select {
			case <-r.done:
				return
			default:
			}
			r.send(EngineMsg(ev))
		}
	}
}
