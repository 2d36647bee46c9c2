package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lu-zhengda/portman/internal/engine"
)

func TestRelayPreservesOrder(t *testing.T) {
	got := make(chan tea.Msg, 100)
	r := NewRelay(func(msg tea.Msg) { got <- msg })
	defer r.Close()

	for i := range 100 {
		r.Notify(engine.Event{Kind: engine.EventKill, Err: indexErr(i)})
	}

	for i := range 100 {
		select {
		case msg := <-got:
			ev, ok := msg.(EngineMsg)
			if !ok {
				t.Fatalf("message %d: got %T", i, msg)
			}
			if ev.Err != indexErr(i) {
				t.Fatalf("message %d out of order: %v", i, ev.Err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d messages", i)
		}
	}
}

func TestRelayNotifyDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	r := NewRelay(func(tea.Msg) { <-block })

	done := make(chan struct{})
	go func() {
		for range 50 {
			r.Notify(engine.Event{Kind: engine.EventSnapshot})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify blocked on a stalled receiver")
	}
	close(block)
	r.Close()
	r.Close()
}

type indexErr int

func (e indexErr) Error() string { return "event" }
