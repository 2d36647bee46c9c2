package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lu-zhengda/portman/internal/port"
)

// ProcessInfo holds detailed information about a running process.
type ProcessInfo struct {
	PID        int
	PPID       int
	Name       string
	Command    string // full command line
	User       string
	StartTime  time.Time
	CPUPercent float64
	MemRSS     int64 // in bytes
	State      string
	Children   []int // child PIDs
}

// Uptime returns how long the process has been running at now, or zero when
// the start time is unknown.
func (p *ProcessInfo) Uptime(now time.Time) time.Duration {
	if p.StartTime.IsZero() || now.Before(p.StartTime) {
		return 0
	}
	return now.Sub(p.StartTime).Truncate(time.Second)
}

// psFormat is the column list requested from ps. lstart expands to five
// tokens and command runs to the end of the line.
const psFormat = "pid=,ppid=,user=,%cpu=,rss=,stat=,lstart=,command="

// InfoFetcher retrieves detailed process information from ps, falling back
// to procfs where ps is unavailable (minimal containers).
type InfoFetcher struct {
	runner   port.CmdRunner
	procRoot string
}

// NewInfoFetcher creates a new InfoFetcher.
func NewInfoFetcher(runner port.CmdRunner) *InfoFetcher {
	return &InfoFetcher{runner: runner, procRoot: "/proc"}
}

// GetInfo retrieves detailed information for a process.
func (f *InfoFetcher) GetInfo(ctx context.Context, pid int) (*ProcessInfo, error) {
	out, err := f.runner.Run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", psFormat)
	if err != nil {
		info, procErr := readProcInfo(f.procRoot, pid)
		if procErr != nil {
			return nil, fmt.Errorf("failed to get process info for PID %d: %w", pid, errors.Join(err, procErr))
		}
		return info, nil
	}

	line := strings.TrimSpace(string(out))
	if line == "" {
		return nil, fmt.Errorf("PID %d: %w", pid, ErrNotRunning)
	}

	info, err := parsePsOutput(line)
	if err != nil {
		return nil, fmt.Errorf("failed to parse process info: %w", err)
	}

	nameOut, err := f.runner.Run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "comm=")
	if err == nil {
		info.Name = baseName(strings.TrimSpace(string(nameOut)))
	}

	childOut, err := f.runner.Run(ctx, "pgrep", "-P", strconv.Itoa(pid))
	if err == nil {
		info.Children = parseChildPIDs(string(childOut))
	}

	return info, nil
}

// parsePsOutput parses one line of `ps -o` output in psFormat order:
// PID PPID USER %CPU RSS STAT <lstart, 5 tokens> COMMAND...
func parsePsOutput(line string) (*ProcessInfo, error) {
	fields := strings.Fields(line)
	if len(fields) < 12 {
		return nil, fmt.Errorf("unexpected ps output format: %q", line)
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse PID: %w", err)
	}

	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse PPID: %w", err)
	}

	cpu, _ := strconv.ParseFloat(fields[3], 64)
	// RSS from ps is in kilobytes.
	rss, _ := strconv.ParseInt(fields[4], 10, 64)

	// e.g. "Thu Feb 13 10:30:00 2026"; unparseable means unknown.
	startTime, err := time.Parse("Mon Jan 2 15:04:05 2006", strings.Join(fields[6:11], " "))
	if err != nil {
		startTime = time.Time{}
	}

	return &ProcessInfo{
		PID:        pid,
		PPID:       ppid,
		User:       fields[2],
		CPUPercent: cpu,
		MemRSS:     rss * 1024,
		State:      fields[5],
		StartTime:  startTime,
		Command:    strings.Join(fields[11:], " "),
	}, nil
}

// readProcInfo builds a ProcessInfo from /proc/<pid>/status and cmdline.
// CPU usage, start time and children are left unset.
func readProcInfo(root string, pid int) (*ProcessInfo, error) {
	dir := filepath.Join(root, strconv.Itoa(pid))
	status, err := os.Open(filepath.Join(dir, "status"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("PID %d: %w", pid, ErrNotRunning)
		}
		return nil, err
	}
	defer status.Close()

	info := &ProcessInfo{PID: pid}
	sc := bufio.NewScanner(status)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			info.Name = value
		case "State":
			info.State, _, _ = strings.Cut(value, " ")
		case "PPid":
			info.PPID, _ = strconv.Atoi(value)
		case "Uid":
			if fields := strings.Fields(value); len(fields) > 0 {
				info.User = fields[0]
				if u, err := user.LookupId(fields[0]); err == nil {
					info.User = u.Username
				}
			}
		case "VmRSS":
			kb, _ := strconv.ParseInt(strings.TrimSuffix(value, " kB"), 10, 64)
			info.MemRSS = kb * 1024
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", status.Name(), err)
	}

	if raw, err := os.ReadFile(filepath.Join(dir, "cmdline")); err == nil {
		args := bytes.Split(bytes.TrimRight(raw, "\x00"), []byte{0})
		parts := make([]string, 0, len(args))
		for _, a := range args {
			if len(a) > 0 {
				parts = append(parts, string(a))
			}
		}
		info.Command = strings.Join(parts, " ")
	}
	if info.Command == "" {
		info.Command = info.Name
	}

	return info, nil
}

// parseChildPIDs parses pgrep output into a slice of PIDs.
func parseChildPIDs(output string) []int {
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}

// baseName strips the directory from a command path.
func baseName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
