package port

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
)

// Socket states as they appear in the st column of /proc/net/*.
const (
	tcpListen   = "0A"
	udpUnconned = "07"
)

// ProcScanner implements Enumerator by reading the Linux procfs socket
// tables directly, without shelling out.
type ProcScanner struct {
	root string
}

// NewProcScanner creates a scanner reading from the procfs mounted at root.
func NewProcScanner(root string) *ProcScanner {
	return &ProcScanner{root: root}
}

// procSocket is one row of a /proc/net socket table.
type procSocket struct {
	inode    string
	protocol Protocol
	address  string
	port     int
	uid      string
}

// ListPorts returns listening TCP sockets and bound UDP sockets whose
// owning process can be resolved.
func (s *ProcScanner) ListPorts(ctx context.Context) ([]PortEntry, error) {
	tables := []struct {
		file  string
		proto Protocol
		ipv6  bool
		state string
	}{
		{"tcp", TCP, false, tcpListen},
		{"tcp6", TCP, true, tcpListen},
		{"udp", UDP, false, udpUnconned},
		{"udp6", UDP, true, udpUnconned},
	}

	var sockets []procSocket
	read := 0
	for _, t := range tables {
		rows, err := readSocketTable(filepath.Join(s.root, "net", t.file), t.proto, t.ipv6, t.state)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read socket table %s: %w", t.file, err)
		}
		read++
		sockets = append(sockets, rows...)
	}
	if read == 0 {
		return nil, fmt.Errorf("failed to read socket tables under %s: no tables found", s.root)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	owners, err := s.socketOwners()
	if err != nil {
		return nil, err
	}

	names := make(map[int]string)
	users := make(map[string]string)
	seen := make(map[string]struct{})
	var entries []PortEntry
	for _, sock := range sockets {
		pid, ok := owners[sock.inode]
		if !ok {
			continue
		}
		name, ok := names[pid]
		if !ok {
			name = s.processName(pid)
			names[pid] = name
		}
		username, ok := users[sock.uid]
		if !ok {
			username = lookupUser(sock.uid)
			users[sock.uid] = username
		}

		e := PortEntry{
			Port:     sock.port,
			Protocol: sock.protocol,
			PID:      pid,
			Process:  name,
			Address:  sock.address,
			User:     username,
			Command:  name,
			State:    "LISTEN",
		}
		if _, dup := seen[e.Key()]; dup {
			continue
		}
		seen[e.Key()] = struct{}{}
		entries = append(entries, e)
	}

	SortByPort(entries)
	return entries, nil
}

// readSocketTable parses a /proc/net/{tcp,udp}[6] file, keeping rows in the
// wanted state.
func readSocketTable(path string, proto Protocol, ipv6 bool, wantState string) ([]procSocket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []procSocket
	scanner := bufio.NewScanner(f)
	scanner.Scan() // skip header

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		if fields[3] != wantState {
			continue
		}
		addr, port, ok := parseHexAddr(fields[1], ipv6)
		if !ok {
			continue
		}
		rows = append(rows, procSocket{
			inode:    fields[9],
			protocol: proto,
			address:  addr,
			port:     port,
			uid:      fields[7],
		})
	}
	return rows, scanner.Err()
}

// parseHexAddr decodes "0100007F:1F90" style local addresses.
func parseHexAddr(raw string, ipv6 bool) (string, int, bool) {
	ipHex, portHex, found := strings.Cut(raw, ":")
	if !found {
		return "", 0, false
	}
	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return "", 0, false
	}

	b, err := hex.DecodeString(ipHex)
	if err != nil {
		return "", 0, false
	}

	// Addresses are stored as host-order 32-bit words.
	switch {
	case !ipv6 && len(b) == 4:
		return net.IPv4(b[3], b[2], b[1], b[0]).String(), int(port), true
	case ipv6 && len(b) == 16:
		ip := make(net.IP, 16)
		for i := 0; i < 4; i++ {
			ip[i*4+0] = b[i*4+3]
			ip[i*4+1] = b[i*4+2]
			ip[i*4+2] = b[i*4+1]
			ip[i*4+3] = b[i*4+0]
		}
		return ip.String(), int(port), true
	default:
		return "", 0, false
	}
}

// socketOwners maps socket inodes to the PID holding them open. Processes
// whose fd directory is unreadable are skipped.
func (s *ProcScanner) socketOwners() (map[string]int, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}

	owners := make(map[string]int)
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(d.Name())
		if err != nil {
			continue
		}

		fdDir := filepath.Join(s.root, d.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if inode, ok := strings.CutPrefix(link, "socket:["); ok {
				inode = strings.TrimSuffix(inode, "]")
				if _, taken := owners[inode]; !taken {
					owners[inode] = pid
				}
			}
		}
	}
	return owners, nil
}

func (s *ProcScanner) processName(pid int) string {
	if pid == 0 {
		return SystemProcess
	}
	data, err := os.ReadFile(filepath.Join(s.root, strconv.Itoa(pid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func lookupUser(uid string) string {
	if u, err := user.LookupId(uid); err == nil {
		return u.Username
	}
	return uid
}
