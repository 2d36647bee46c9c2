package port

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Enumerator produces the current set of listening ports. Implementations
// must be side-effect free; every call returns a fresh scan.
type Enumerator interface {
	ListPorts(ctx context.Context) ([]PortEntry, error)
}

// EnumeratorFunc adapts a function to the Enumerator interface.
type EnumeratorFunc func(ctx context.Context) ([]PortEntry, error)

// ListPorts calls f(ctx).
func (f EnumeratorFunc) ListPorts(ctx context.Context) ([]PortEntry, error) {
	return f(ctx)
}

// CmdRunner abstracts shell command execution for testability.
type CmdRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Scanner kinds accepted by NewEnumerator.
const (
	KindLsof = "lsof"
	KindProc = "proc"
)

// NewEnumerator returns the enumerator registered under kind.
func NewEnumerator(kind string, runner CmdRunner) (Enumerator, error) {
	switch kind {
	case "", KindLsof:
		return NewLsofScanner(runner), nil
	case KindProc:
		return NewProcScanner("/proc"), nil
	default:
		return nil, fmt.Errorf("unknown scanner %q (use %s or %s)", kind, KindLsof, KindProc)
	}
}

// LsofScanner implements Enumerator using lsof.
type LsofScanner struct {
	runner CmdRunner
}

// NewLsofScanner creates a new scanner backed by lsof.
func NewLsofScanner(runner CmdRunner) *LsofScanner {
	return &LsofScanner{runner: runner}
}

// ListPorts returns all listening ports.
func (s *LsofScanner) ListPorts(ctx context.Context) ([]PortEntry, error) {
	out, err := s.runner.Run(ctx, "lsof", "-iTCP", "-iUDP", "-sTCP:LISTEN", "-P", "-n")
	if err != nil {
		return nil, fmt.Errorf("failed to run lsof: %w", err)
	}
	entries := ParseLsofOutput(string(out))
	SortByPort(entries)
	return entries, nil
}

// SortByPort orders entries by port, then PID, keeping the original order
// for ties.
func SortByPort(entries []PortEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Port != entries[j].Port {
			return entries[i].Port < entries[j].Port
		}
		return entries[i].PID < entries[j].PID
	})
}

// ByPort returns the entries bound to the given port number.
func ByPort(entries []PortEntry, port int) []PortEntry {
	var matched []PortEntry
	for _, e := range entries {
		if e.Port == port {
			matched = append(matched, e)
		}
	}
	return matched
}

// Exclude wraps an enumerator and drops entries whose process name matches
// one of names, case-insensitively.
func Exclude(inner Enumerator, names []string) Enumerator {
	if len(names) == 0 {
		return inner
	}
	skip := make(map[string]struct{}, len(names))
	for _, n := range names {
		skip[strings.ToLower(n)] = struct{}{}
	}
	return EnumeratorFunc(func(ctx context.Context) ([]PortEntry, error) {
		entries, err := inner.ListPorts(ctx)
		if err != nil {
			return nil, err
		}
		kept := entries[:0:0]
		for _, e := range entries {
			if _, ok := skip[strings.ToLower(e.Process)]; ok {
				continue
			}
			kept = append(kept, e)
		}
		return kept, nil
	})
}
