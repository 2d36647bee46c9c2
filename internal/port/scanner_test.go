package port

import (
	"context"
	"errors"
	"testing"
)

const lsofFixture = `COMMAND     PID      USER   FD   TYPE             DEVICE SIZE/OFF NODE NAME
node       5678   zhengda    8u  IPv6 0x1234567892      0t0  TCP *:3000 (LISTEN)
nginx      1234      root    7u  IPv4 0x1234567891      0t0  TCP *:443 (LISTEN)
nginx      1234      root    6u  IPv4 0x1234567890      0t0  TCP *:80 (LISTEN)
mDNSRespo   100      root    5u  IPv4 0x1234567899      0t0  UDP *:5353
`

func TestLsofScanner_ListPorts(t *testing.T) {
	runner := &MockCmdRunner{Output: []byte(lsofFixture)}
	scanner := NewLsofScanner(runner)

	entries, err := scanner.ListPorts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(runner.Calls) != 1 || runner.Calls[0] != "lsof -iTCP -iUDP -sTCP:LISTEN -P -n" {
		t.Errorf("unexpected lsof invocation: %v", runner.Calls)
	}

	wantPorts := []int{80, 443, 3000, 5353}
	if len(entries) != len(wantPorts) {
		t.Fatalf("expected %d entries, got %d", len(wantPorts), len(entries))
	}
	for i, p := range wantPorts {
		if entries[i].Port != p {
			t.Errorf("[%d] port: got %d, want %d", i, entries[i].Port, p)
		}
	}
}

func TestLsofScanner_Error(t *testing.T) {
	scanner := NewLsofScanner(&MockCmdRunner{Err: errors.New("permission denied")})

	_, err := scanner.ListPorts(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestExclude(t *testing.T) {
	inner := NewLsofScanner(&MockCmdRunner{Output: []byte(lsofFixture)})
	e := Exclude(inner, []string{"NGINX"})

	entries, err := e.ListPorts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, entry := range entries {
		if entry.Process == "nginx" {
			t.Errorf("excluded process still present: %v", entry)
		}
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}

func TestExclude_NoNames(t *testing.T) {
	inner := NewLsofScanner(&MockCmdRunner{})
	if got := Exclude(inner, nil); got != Enumerator(inner) {
		t.Error("expected inner enumerator to be returned unchanged")
	}
}

func TestNewEnumerator(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr bool
	}{
		{"", false},
		{KindLsof, false},
		{KindProc, false},
		{"netstat", true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			_, err := NewEnumerator(tt.kind, &MockCmdRunner{})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEnumerator(%q) error = %v, wantErr %v", tt.kind, err, tt.wantErr)
			}
		})
	}
}

func TestByPort(t *testing.T) {
	entries := ParseLsofOutput(lsofFixture)
	got := ByPort(entries, 443)
	if len(got) != 1 || got[0].PID != 1234 {
		t.Errorf("ByPort(443) = %v", got)
	}
	if got := ByPort(entries, 9999); len(got) != 0 {
		t.Errorf("ByPort(9999) = %v, want empty", got)
	}
}
