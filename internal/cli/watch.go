package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lu-zhengda/portman/internal/engine"
	"github.com/lu-zhengda/portman/internal/history"
	"github.com/lu-zhengda/portman/internal/port"
	"github.com/lu-zhengda/portman/internal/process"
	"github.com/spf13/cobra"
)

var (
	watchInterval int
	watchAlert    bool
	watchRecord   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Auto-refresh port table in terminal",
	Long: `Continuously display listening ports with periodic refresh.

The interval defaults to refresh_interval from the config file.

With --record, every refresh is diffed against the history log and open/close
events are appended to it.

With --alert, monitors for new port listeners that appear after the initial
scan. When a new listener is detected, prints an alert and exits with code 1.
Useful for security monitoring.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchInterval, "interval", 0, "Refresh interval in seconds (default from config)")
	addFilterFlags(watchCmd)
	watchCmd.Flags().BoolVar(&watchAlert, "alert", false, "Alert and exit on new port listeners")
	watchCmd.Flags().BoolVar(&watchRecord, "record", false, "Record open/close events to history")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	interval := cfg.Interval()
	if watchInterval > 0 {
		interval = time.Duration(watchInterval) * time.Second
	}

	runner := &port.RealCmdRunner{}
	enum, err := newEnumerator(runner)
	if err != nil {
		return err
	}
	term, err := newTerminator(process.NewRealManager(runner), "")
	if err != nil {
		return err
	}

	var store *history.Store
	if watchRecord {
		if store, err = history.NewStore(); err != nil {
			return fmt.Errorf("failed to create history store: %w", err)
		}
	}

	// One pending wake-up is enough: every pass reads the engine's
	// current state, so intermediate events can be dropped.
	changed := make(chan struct{}, 1)
	eng := engine.New(enum, term, engine.Options{
		Interval: interval,
		Logger:   diagnostics(),
		Notify: func(ev engine.Event) {
			if ev.Kind != engine.EventSnapshot && ev.Kind != engine.EventRefreshFailed {
				return
			}
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})
	defer eng.Close()

	w := &watcher{
		eng:      eng,
		store:    store,
		out:      os.Stdout,
		criteria: criteria(),
		interval: interval,
	}

	if err := eng.Start(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			if !jsonOutput {
				fmt.Println("\nStopped watching.")
			}
			return nil
		case <-changed:
			if err := w.pass(time.Now()); err != nil {
				return err
			}
		}
	}
}

// watcher renders, records and alerts on each engine refresh.
type watcher struct {
	eng      *engine.Engine
	store    *history.Store
	out      io.Writer
	criteria engine.FilterCriteria
	interval time.Duration

	seenRefresh time.Time
	baseline    map[string]struct{}
}

// pass handles one wake-up from the engine. Only the alert path returns an
// error, which ends the watch.
func (w *watcher) pass(now time.Time) error {
	stats := w.eng.Stats()
	if stats.LastError != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to scan ports: %v\n", stats.LastError)
		return nil
	}
	if stats.LastRefresh.Equal(w.seenRefresh) {
		return nil
	}
	w.seenRefresh = stats.LastRefresh

	entries := w.eng.View(w.criteria)

	var recorded []history.Event
	if w.store != nil {
		events, err := w.store.Record(w.eng.Snapshot(), now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to record history: %v\n", err)
		}
		recorded = events
	}

	if watchAlert {
		return w.alert(entries)
	}
	if err := w.render(entries, now); err != nil {
		return err
	}
	if len(recorded) > 0 && !jsonOutput {
		fmt.Fprintf(w.out, "\nRecorded %d change(s):\n", len(recorded))
		return printHistoryHuman(w.out, recorded)
	}
	return nil
}

func (w *watcher) alert(entries []port.PortEntry) error {
	if w.baseline == nil {
		w.baseline = makePortKeySet(entries)
		if !jsonOutput {
			fmt.Fprintf(w.out, "Monitoring %d port(s) for new listeners... (interval: %s)\n",
				len(entries), w.interval)
		}
		return nil
	}

	newEntries := findNewEntries(entries, w.baseline)
	if len(newEntries) == 0 {
		return nil
	}
	if jsonOutput {
		return printAlertJSON(w.out, newEntries)
	}
	return printAlertHuman(w.out, newEntries)
}

func (w *watcher) render(entries []port.PortEntry, now time.Time) error {
	if jsonOutput {
		return printJSON(w.out, entries)
	}

	// Clear screen.
	fmt.Fprint(w.out, "\033[2J\033[H")

	total := len(w.eng.Snapshot())
	fmt.Fprintf(w.out, "portman watch | Showing: %d  Total: %d | %s | Ctrl+C to stop\n\n",
		len(entries), total, now.Format("15:04:05"))

	if len(entries) == 0 {
		fmt.Fprintln(w.out, "No ports found matching filter.")
		return nil
	}

	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tPROTO\tADDRESS\tPID\tPROCESS\tUSER\tCOMMAND")
	for _, e := range entries {
		cmd := e.Command
		if len(cmd) > 40 {
			cmd = cmd[:37] + "..."
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.Port, e.Protocol, e.Address, e.PID, e.Process, e.User, cmd)
	}
	tw.Flush()

	if filter := describeFilter(w.criteria); filter != "" {
		fmt.Fprintf(w.out, "\nFilter: %s\n", filter)
	}

	return nil
}

// portKeyStr creates a unique key for identifying a port listener.
func portKeyStr(e port.PortEntry) string {
	return fmt.Sprintf("%d/%s/%s", e.Port, e.Protocol, e.Address)
}

// makePortKeySet builds a set of port keys from entries.
func makePortKeySet(entries []port.PortEntry) map[string]struct{} {
	keys := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		keys[portKeyStr(e)] = struct{}{}
	}
	return keys
}

// findNewEntries returns entries not present in the baseline set.
func findNewEntries(current []port.PortEntry, baseline map[string]struct{}) []port.PortEntry {
	var newEntries []port.PortEntry
	for _, e := range current {
		if _, exists := baseline[portKeyStr(e)]; !exists {
			newEntries = append(newEntries, e)
		}
	}
	return newEntries
}

// alertExitError is returned when --alert detects new ports.
// The CLI should exit with code 1.
type alertExitError struct {
	count int
}

func (e *alertExitError) Error() string {
	return fmt.Sprintf("alert: %d new port listener(s) detected", e.count)
}

func printAlertJSON(out io.Writer, entries []port.PortEntry) error {
	type alertOutput struct {
		Alert   string      `json:"alert"`
		Count   int         `json:"count"`
		Entries []jsonEntry `json:"entries"`
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(alertOutput{
		Alert:   "new_port_listeners",
		Count:   len(entries),
		Entries: toJSONEntries(entries),
	}); err != nil {
		return fmt.Errorf("failed to encode alert JSON: %w", err)
	}

	return &alertExitError{count: len(entries)}
}

func printAlertHuman(out io.Writer, entries []port.PortEntry) error {
	fmt.Fprintf(out, "\nALERT: %d new port listener(s) detected!\n\n", len(entries))
	printTable(out, entries)
	return &alertExitError{count: len(entries)}
}

func describeFilter(c engine.FilterCriteria) string {
	var parts []string
	for _, f := range []struct{ name, value string }{
		{"name", c.Name},
		{"pid", c.PID},
		{"port", c.Port},
		{"protocol", c.Protocol},
		{"address", c.Address},
	} {
		if f.value != "" {
			parts = append(parts, f.name+"="+f.value)
		}
	}
	return strings.Join(parts, ", ")
}
