package port

import (
	"strconv"
	"strings"
)

// ParseLsofOutput parses the columnar output from lsof -iTCP -iUDP -P -n.
// Each line after the header has fields: COMMAND PID USER FD TYPE DEVICE SIZE/OFF NODE NAME
//
// A socket shared by several descriptors of the same process is reported
// once per descriptor by lsof; only the first occurrence is kept.
func ParseLsofOutput(output string) []PortEntry {
	lines := strings.Split(output, "\n")
	if len(lines) < 2 {
		return nil
	}

	var entries []PortEntry
	seen := make(map[string]struct{})
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		entry, ok := parseLsofLine(line)
		if !ok {
			continue
		}
		if _, dup := seen[entry.Key()]; dup {
			continue
		}
		seen[entry.Key()] = struct{}{}
		entries = append(entries, entry)
	}
	return entries
}

// parseLsofLine parses a single lsof output line into a PortEntry.
// Format: COMMAND  PID  USER  FD  TYPE  DEVICE  SIZE/OFF  NODE  NAME
func parseLsofLine(line string) (PortEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return PortEntry{}, false
	}

	pid, err := strconv.Atoi(fields[1])
	if err != nil || pid < 0 {
		return PortEntry{}, false
	}

	proto := parseProtocol(fields[7])
	// The state suffix "(LISTEN)" is split into its own field by strings.Fields.
	name := strings.Join(fields[8:], " ")
	addr, port, state := parseNameField(name, proto)
	if port < 0 {
		return PortEntry{}, false
	}

	process := fields[0]
	if pid == 0 {
		process = SystemProcess
	}

	return PortEntry{
		Process:  process,
		PID:      pid,
		User:     fields[2],
		FD:       fields[3],
		Protocol: proto,
		Port:     port,
		Address:  addr,
		State:    state,
		Command:  fields[0], // will be enriched later via ps
	}, true
}

// parseProtocol converts the NODE field to a Protocol.
func parseProtocol(node string) Protocol {
	upper := strings.ToUpper(node)
	if strings.Contains(upper, "UDP") {
		return UDP
	}
	return TCP
}

// parseNameField extracts the local address, port number and connection
// state from the NAME field.
// NAME formats:
//   - "*:8080" or "127.0.0.1:8080" (LISTEN implied)
//   - "[::1]:8080" (IPv6, brackets are stripped from the address)
//   - "127.0.0.1:8080->127.0.0.1:54321" (ESTABLISHED)
//   - "*:8080 (LISTEN)" or similar with state in parentheses
//
// For connections with "->", we extract the local side. UDP sockets carry
// no state and are reported as LISTEN since they are bound and receiving.
func parseNameField(name string, proto Protocol) (string, int, string) {
	state := ""

	// Check for state in parentheses at the end.
	if idx := strings.LastIndex(name, "("); idx != -1 {
		closeParen := strings.LastIndex(name, ")")
		if closeParen > idx {
			state = name[idx+1 : closeParen]
			name = strings.TrimSpace(name[:idx])
		}
	}

	// Split on "->" for established connections.
	local := name
	if idx := strings.Index(name, "->"); idx != -1 {
		local = name[:idx]
		if state == "" {
			state = "ESTABLISHED"
		}
	}

	idx := strings.LastIndex(local, ":")
	if idx == -1 {
		return "", -1, ""
	}
	addr, portStr := local[:idx], local[idx+1:]
	addr = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")

	// Handle wildcard or port-only entries.
	if portStr == "*" {
		return "", -1, ""
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", -1, ""
	}

	if state == "" {
		state = "LISTEN"
	}

	return addr, port, state
}
