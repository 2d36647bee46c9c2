package port

import "fmt"

// Protocol represents a network protocol. Values are treated as opaque
// labels by consumers; TCP and UDP are the ones the scanners produce.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

// SystemProcess is the name given to entries owned by PID 0.
const SystemProcess = "System"

// PortEntry represents a single listening endpoint observed in one scan.
type PortEntry struct {
	Port     int
	Protocol Protocol
	PID      int
	Process  string // short process name
	Address  string // bound local address, "*" for wildcard
	User     string // owner
	Command  string // full command path
	State    string // LISTEN, ESTABLISHED, etc.
	FD       string // file descriptor
}

// String returns a human-readable representation of the entry.
func (e PortEntry) String() string {
	return fmt.Sprintf("%s:%d/%s (PID %d, %s)", e.Address, e.Port, e.Protocol, e.PID, e.Process)
}

// Key identifies an entry within a single scan.
func (e PortEntry) Key() string {
	return fmt.Sprintf("%d/%d/%s/%s", e.PID, e.Port, e.Protocol, e.Address)
}
