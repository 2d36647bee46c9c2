package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/lu-zhengda/portman/internal/engine"
	"github.com/lu-zhengda/portman/internal/port"
	"github.com/lu-zhengda/portman/internal/process"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	forceKill  bool
	signalFlag string
	assumeYes  bool
)

var killCmd = &cobra.Command{
	Use:   "kill <port>",
	Short: "Kill process listening on a port",
	Long: `Send a signal to the process listening on the specified port.

Each process is confirmed interactively unless --yes is given. The signal
defaults to kill_signal from the config file (SIGTERM).`,
	Args: cobra.ExactArgs(1),
	RunE: runKill,
}

func init() {
	killCmd.Flags().BoolVar(&forceKill, "force", false, "Send SIGKILL instead of the configured signal")
	killCmd.Flags().StringVar(&signalFlag, "signal", "", "Custom signal to send (e.g. SIGINT, SIGHUP)")
	killCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}

func runKill(cmd *cobra.Command, args []string) error {
	portNum, err := strconv.Atoi(args[0])
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid port number: %q", args[0])
	}
	if !assumeYes && !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return errors.New("stdin is not a terminal: pass --yes to kill without confirmation")
	}

	sigName := signalFlag
	if forceKill {
		sigName = "SIGKILL"
	}

	runner := &port.RealCmdRunner{}
	manager := process.NewRealManager(runner)
	enum, err := newEnumerator(runner)
	if err != nil {
		return err
	}
	term, err := newTerminator(manager, sigName)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	events := make(chan engine.Event, 16)
	eng := engine.New(enum, term, engine.Options{
		Logger: diagnostics(),
		Notify: forwardKillEvents(events),
	})
	defer eng.Close()

	s := &killSession{
		eng:    eng,
		events: events,
		in:     bufio.NewReader(cmd.InOrStdin()),
		out:    cmd.OutOrStdout(),
		yes:    assumeYes,
		forced: forceKill,
		verify: func(pid int, name string) bool {
			return manager.VerifyProcess(ctx, pid, name)
		},
	}
	return s.killPort(ctx, portNum)
}

// forwardKillEvents returns a notify hook that passes kill workflow events
// to ch. The kill session drains ch after every request, so a small buffer
// never fills.
func forwardKillEvents(ch chan<- engine.Event) func(engine.Event) {
	return func(ev engine.Event) {
		if ev.Kind == engine.EventKill {
			ch <- ev
		}
	}
}

// killSession walks every listener on a port through the engine's kill
// workflow, one process at a time.
type killSession struct {
	eng    *engine.Engine
	events <-chan engine.Event
	in     *bufio.Reader
	out    io.Writer
	yes    bool
	forced bool
	verify func(pid int, name string) bool
}

func (s *killSession) killPort(ctx context.Context, portNum int) error {
	if err := s.eng.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to scan ports: %w", err)
	}

	listeners := port.ByPort(s.eng.Snapshot(), portNum)
	if len(listeners) == 0 {
		return fmt.Errorf("no process listening on port %d", portNum)
	}

	failed := 0
	for _, e := range distinctProcesses(listeners) {
		if s.verify != nil && !s.verify(e.PID, e.Process) {
			fmt.Fprintf(s.out, "Warning: PID %d may have changed since scan, skipping.\n", e.PID)
			continue
		}

		ok, err := s.killOne(ctx, e.PID)
		if err != nil {
			return err
		}
		if !ok {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d process(es) on port %d could not be terminated", failed, portNum)
	}
	return nil
}

// killOne selects pid, asks for confirmation and runs the kill. It reports
// false when the process survived; errors mean the workflow itself refused.
func (s *killSession) killOne(ctx context.Context, pid int) (bool, error) {
	if sel, ok := s.eng.Selection(); !ok || sel != pid {
		if err := s.eng.Select(pid); err != nil {
			return false, err
		}
	}
	req, err := s.eng.RequestKill(pid)
	if err != nil {
		return false, err
	}

	if !s.yes && !confirm(s.in, s.out, req.Prompt()) {
		if err := s.eng.DeclineKill(); err != nil {
			return false, err
		}
		if _, err := awaitIdle(ctx, s.events); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Skipped %s (PID %d).\n", req.Process, req.PID)
		return true, nil
	}

	fmt.Fprintf(s.out, "Killing %s (PID %d)...\n", req.Process, req.PID)
	if err := s.eng.ConfirmKill(); err != nil {
		return false, err
	}
	result, err := awaitIdle(ctx, s.events)
	if err != nil {
		return false, err
	}

	if result.KillState == engine.KillSucceeded {
		fmt.Fprintf(s.out, "Process %s (PID %d) terminated.\n", req.Process, req.PID)
		return true, nil
	}
	fmt.Fprintf(s.out, "Failed to kill %s (PID %d): %v\n", req.Process, req.PID, result.Err)
	if errors.Is(result.Err, engine.ErrNotTerminated) && !s.forced {
		fmt.Fprintln(s.out, "Use --force to send SIGKILL.")
	}
	return false, nil
}

// awaitIdle consumes kill events until the workflow is back to idle and
// returns the terminal event that preceded it.
func awaitIdle(ctx context.Context, events <-chan engine.Event) (engine.Event, error) {
	var last engine.Event
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case ev := <-events:
			switch ev.KillState {
			case engine.KillSucceeded, engine.KillFailed, engine.KillCancelled:
				last = ev
			case engine.KillIdle:
				return last, nil
			}
		}
	}
}

// distinctProcesses keeps the first entry of each PID, in order.
func distinctProcesses(entries []port.PortEntry) []port.PortEntry {
	seen := make(map[int]bool, len(entries))
	var out []port.PortEntry
	for _, e := range entries {
		if seen[e.PID] {
			continue
		}
		seen[e.PID] = true
		out = append(out, e)
	}
	return out
}

// confirm prints prompt and reads a yes/no answer. Anything but y or yes,
// including EOF, is a no.
func confirm(in *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
