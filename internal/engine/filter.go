package engine

import (
	"sort"
	"strconv"
	"strings"

	"github.com/lu-zhengda/portman/internal/port"
)

// FilterCriteria narrows a snapshot for display. Empty fields do not
// constrain anything.
//
// PID and Port match on the decimal text, so "8" matches 8, 80 and 8080.
type FilterCriteria struct {
	Name     string // case-insensitive substring of the process name
	PID      string // substring of the decimal PID
	Port     string // substring of the decimal port
	Protocol string // exact protocol, or empty for any
	Address  string // case-sensitive substring of the bound address
}

// IsZero reports whether c applies no constraint.
func (c FilterCriteria) IsZero() bool {
	return c == FilterCriteria{}
}

// Match reports whether e satisfies every predicate in c.
func (c FilterCriteria) Match(e port.PortEntry) bool {
	for _, p := range c.predicates() {
		if !p(e) {
			return false
		}
	}
	return true
}

type predicate func(port.PortEntry) bool

func (c FilterCriteria) predicates() []predicate {
	name := strings.ToLower(c.Name)
	return []predicate{
		func(e port.PortEntry) bool { return strings.Contains(strings.ToLower(e.Process), name) },
		func(e port.PortEntry) bool { return strings.Contains(strconv.Itoa(e.PID), c.PID) },
		func(e port.PortEntry) bool { return strings.Contains(strconv.Itoa(e.Port), c.Port) },
		func(e port.PortEntry) bool { return c.Protocol == "" || string(e.Protocol) == c.Protocol },
		func(e port.PortEntry) bool { return strings.Contains(e.Address, c.Address) },
	}
}

// Filter returns the entries matching c, in their original order. The input
// slice is not modified.
func Filter(entries []port.PortEntry, c FilterCriteria) []port.PortEntry {
	out := make([]port.PortEntry, 0, len(entries))
	for _, e := range entries {
		if c.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Protocols returns the sorted distinct protocols present in entries.
func Protocols(entries []port.PortEntry) []string {
	set := make(map[string]struct{})
	for _, e := range entries {
		set[string(e.Protocol)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
