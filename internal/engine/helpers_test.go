package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lu-zhengda/portman/internal/port"
)

type scanResult struct {
	entries []port.PortEntry
	err     error
}

// scriptedEnumerator blocks each ListPorts call until the test feeds a result.
type scriptedEnumerator struct {
	calls   atomic.Int32
	results chan scanResult
}

func newScriptedEnumerator() *scriptedEnumerator {
	return &scriptedEnumerator{results: make(chan scanResult)}
}

func (s *scriptedEnumerator) ListPorts(ctx context.Context) ([]port.PortEntry, error) {
	s.calls.Add(1)
	select {
	case r := <-s.results:
		return r.entries, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type killResult struct {
	ok  bool
	err error
}

// scriptedTerminator blocks each Terminate call until the test feeds a result.
type scriptedTerminator struct {
	mu      sync.Mutex
	pids    []int
	results chan killResult
}

func newScriptedTerminator() *scriptedTerminator {
	return &scriptedTerminator{results: make(chan killResult)}
}

func (s *scriptedTerminator) Terminate(ctx context.Context, pid int) (bool, error) {
	s.mu.Lock()
	s.pids = append(s.pids, pid)
	s.mu.Unlock()
	select {
	case r := <-s.results:
		return r.ok, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *scriptedTerminator) calls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pids...)
}

// recorder collects notifications.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) killStates() []KillState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []KillState
	for _, ev := range r.events {
		if ev.Kind == EventKill {
			states = append(states, ev.KillState)
		}
	}
	return states
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func staticEnumerator(entries []port.PortEntry) port.Enumerator {
	return port.EnumeratorFunc(func(context.Context) ([]port.PortEntry, error) {
		return entries, nil
	})
}

var nginxSnapshot = []port.PortEntry{
	{Process: "nginx", PID: 100, Port: 80, Protocol: port.TCP, Address: "0.0.0.0"},
	{Process: "nginx", PID: 100, Port: 443, Protocol: port.TCP, Address: "0.0.0.0"},
}

var mixedSnapshot = []port.PortEntry{
	{Process: "nginx", PID: 100, Port: 80, Protocol: port.TCP, Address: "0.0.0.0"},
	{Process: "nginx", PID: 100, Port: 443, Protocol: port.TCP, Address: "0.0.0.0"},
	{Process: "node", PID: 8080, Port: 3000, Protocol: port.TCP, Address: "::1"},
	{Process: "mDNSResponder", PID: 8, Port: 5353, Protocol: port.UDP, Address: "*"},
	{Process: "postgres", PID: 512, Port: 5432, Protocol: port.TCP, Address: "127.0.0.1"},
}
