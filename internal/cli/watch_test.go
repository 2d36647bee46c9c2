package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lu-zhengda/portman/internal/engine"
	"github.com/lu-zhengda/portman/internal/history"
	"github.com/lu-zhengda/portman/internal/port"
)

var watchFixture = []port.PortEntry{
	{Port: 80, Protocol: port.TCP, Address: "*", PID: 100, Process: "nginx", User: "root"},
	{Port: 3000, Protocol: port.TCP, Address: "127.0.0.1", PID: 200, Process: "node", User: "dev"},
	{Port: 5353, Protocol: port.UDP, Address: "*", PID: 300, Process: "avahi", User: "avahi"},
}

// sequenceEngine returns an engine whose nth refresh yields snapshots[n],
// repeating the last one.
func sequenceEngine(t *testing.T, snapshots ...[]port.PortEntry) *engine.Engine {
	t.Helper()
	var n atomic.Int32
	enum := port.EnumeratorFunc(func(context.Context) ([]port.PortEntry, error) {
		i := int(n.Add(1)) - 1
		if i >= len(snapshots) {
			i = len(snapshots) - 1
		}
		return snapshots[i], nil
	})
	eng := engine.New(enum, engine.TerminatorFunc(func(context.Context, int) (bool, error) {
		return false, errors.New("unused")
	}), engine.Options{})
	t.Cleanup(eng.Close)
	return eng
}

func refresh(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

func TestWatcherRender(t *testing.T) {
	eng := sequenceEngine(t, watchFixture)
	refresh(t, eng)

	var out bytes.Buffer
	w := &watcher{eng: eng, out: &out, criteria: engine.FilterCriteria{Protocol: "UDP"}}

	now := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	if err := w.pass(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Showing: 1  Total: 3", "10:00:00", "avahi", "Filter: protocol=UDP"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "nginx") {
		t.Error("filtered-out entry rendered")
	}

	out.Reset()
	if err := w.pass(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 0 {
		t.Error("a pass without a new snapshot should print nothing")
	}
}

func TestWatcherAlert(t *testing.T) {
	watchAlert = true
	t.Cleanup(func() { watchAlert = false })

	grown := append([]port.PortEntry{}, watchFixture...)
	grown = append(grown, port.PortEntry{Port: 4444, Protocol: port.TCP, Address: "*", PID: 666, Process: "nc"})
	eng := sequenceEngine(t, watchFixture, grown)

	var out bytes.Buffer
	w := &watcher{eng: eng, out: &out}

	refresh(t, eng)
	if err := w.pass(time.Now()); err != nil {
		t.Fatalf("baseline pass: %v", err)
	}
	if !strings.Contains(out.String(), "Monitoring 3 port(s)") {
		t.Errorf("baseline output:\n%s", out.String())
	}

	refresh(t, eng)
	err := w.pass(time.Now())
	var alert *alertExitError
	if !errors.As(err, &alert) || alert.count != 1 {
		t.Fatalf("expected alert for 1 listener, got %v", err)
	}
	if !strings.Contains(out.String(), "4444") {
		t.Errorf("alert should list the new listener:\n%s", out.String())
	}
}

func TestWatcherRecord(t *testing.T) {
	eng := sequenceEngine(t, watchFixture, watchFixture[:2])
	store := history.NewStoreWithPath(filepath.Join(t.TempDir(), "history.json"))

	var out bytes.Buffer
	w := &watcher{eng: eng, out: &out, store: store}

	refresh(t, eng)
	if err := w.pass(time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Recorded 3 change(s)") {
		t.Errorf("first pass should record three opens:\n%s", out.String())
	}

	out.Reset()
	refresh(t, eng)
	if err := w.pass(time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Recorded 1 change(s)") || !strings.Contains(out.String(), "CLOSE") {
		t.Errorf("second pass should record the closed UDP port:\n%s", out.String())
	}

	data, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(data.Events) != 4 {
		t.Errorf("stored events: got %d, want 4", len(data.Events))
	}
}

func TestFindNewEntries(t *testing.T) {
	baseline := makePortKeySet(watchFixture[:1])
	current := []port.PortEntry{
		watchFixture[0],
		{Port: 80, Protocol: port.TCP, Address: "::1", PID: 100, Process: "nginx"},
	}

	got := findNewEntries(current, baseline)
	if len(got) != 1 || got[0].Address != "::1" {
		t.Errorf("got %v, want only the ::1 listener", got)
	}
}

func TestDescribeFilter(t *testing.T) {
	got := describeFilter(engine.FilterCriteria{Name: "node", Port: "30", Address: "127"})
	if got != "name=node, port=30, address=127" {
		t.Errorf("got %q", got)
	}
	if describeFilter(engine.FilterCriteria{}) != "" {
		t.Error("zero criteria should describe as empty")
	}
}
