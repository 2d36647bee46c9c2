package port

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const procTCP = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 00000000:0050 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 1001 1 0000000000000000 100 0 0 10 0
   1: 0100007F:1F90 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 1002 1 0000000000000000 100 0 0 10 0
   2: 0100007F:C350 0100007F:1F90 01 00000000:00000000 00:00000000 00000000  1000        0 1003 1 0000000000000000 100 0 0 10 0
   3: 00000000:0016 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 9999 1 0000000000000000 100 0 0 10 0
`

const procTCP6 = `  sl  local_address                         remote_address                        st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 00000000000000000000000001000000:0BB8 00000000000000000000000000000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 1004 1 0000000000000000 100 0 0 10 0
`

const procUDP = `   sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode ref pointer drops
  100: 00000000:14E9 00000000:0000 07 00000000:00000000 00:00000000 00000000     0        0 1005 2 0000000000000000 0
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func addProcess(t *testing.T, root, pid, comm string, inodes ...string) {
	t.Helper()
	writeFile(t, filepath.Join(root, pid, "comm"), comm+"\n")
	fdDir := filepath.Join(root, pid, "fd")
	if err := os.MkdirAll(fdDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i, inode := range inodes {
		link := filepath.Join(fdDir, string(rune('3'+i)))
		if err := os.Symlink("socket:["+inode+"]", link); err != nil {
			t.Fatal(err)
		}
	}
}

func TestProcScanner_ListPorts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "net", "tcp"), procTCP)
	writeFile(t, filepath.Join(root, "net", "tcp6"), procTCP6)
	writeFile(t, filepath.Join(root, "net", "udp"), procUDP)
	addProcess(t, root, "100", "nginx", "1001")
	addProcess(t, root, "200", "node", "1002", "1003", "1004")
	addProcess(t, root, "300", "avahi-daemon", "1005")

	entries, err := NewProcScanner(root).ListPorts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Port 22 has no resolvable owner and the ESTABLISHED row is not listening.
	want := []struct {
		port    int
		proto   Protocol
		pid     int
		process string
		address string
	}{
		{80, TCP, 100, "nginx", "0.0.0.0"},
		{3000, TCP, 200, "node", "::1"},
		{5353, UDP, 300, "avahi-daemon", "0.0.0.0"},
		{8080, TCP, 200, "node", "127.0.0.1"},
	}

	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(entries), entries)
	}
	for i, w := range want {
		e := entries[i]
		if e.Port != w.port || e.Protocol != w.proto || e.PID != w.pid || e.Process != w.process || e.Address != w.address {
			t.Errorf("[%d] got %+v, want %+v", i, e, w)
		}
	}
}

func TestProcScanner_NoTables(t *testing.T) {
	_, err := NewProcScanner(t.TempDir()).ListPorts(context.Background())
	if err == nil {
		t.Fatal("expected error when no socket tables exist")
	}
}

func TestParseHexAddr(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		ipv6     bool
		wantAddr string
		wantPort int
		wantOK   bool
	}{
		{"ipv4 loopback", "0100007F:1F90", false, "127.0.0.1", 8080, true},
		{"ipv4 any", "00000000:0050", false, "0.0.0.0", 80, true},
		{"ipv6 any", "00000000000000000000000000000000:01BB", true, "::", 443, true},
		{"ipv6 loopback", "00000000000000000000000001000000:0BB8", true, "::1", 3000, true},
		{"missing port", "0100007F", false, "", 0, false},
		{"bad hex", "ZZ00007F:0050", false, "", 0, false},
		{"wrong length", "0100007F:0050", true, "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, port, ok := parseHexAddr(tt.raw, tt.ipv6)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if addr != tt.wantAddr || port != tt.wantPort {
				t.Errorf("got %s:%d, want %s:%d", addr, port, tt.wantAddr, tt.wantPort)
			}
		})
	}
}
