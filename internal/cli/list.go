package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/lu-zhengda/portman/internal/engine"
	"github.com/lu-zhengda/portman/internal/port"
	"github.com/spf13/cobra"
)

var (
	filterName  string
	filterPID   string
	filterPort  string
	filterProto string
	filterAddr  string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all listening ports",
	Long: `Display a table of all ports currently in use by processes.

Filters are combined: --name matches the process name case-insensitively,
--pid and --port match any part of the number, --protocol must equal TCP or
UDP, and --address matches part of the bound address.`,
	RunE: runList,
}

func init() {
	addFilterFlags(listCmd)
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&filterName, "name", "", "Filter by process name")
	cmd.Flags().StringVar(&filterName, "process", "", "Filter by process name")
	cmd.Flags().MarkDeprecated("process", "use --name instead")
	cmd.Flags().StringVar(&filterPID, "pid", "", "Filter by PID digits")
	cmd.Flags().StringVar(&filterPort, "port", "", "Filter by port digits")
	cmd.Flags().StringVar(&filterProto, "protocol", "", "Filter by protocol (tcp/udp)")
	cmd.Flags().StringVar(&filterAddr, "address", "", "Filter by bound address")
}

// criteria builds the filter from the command-line flags.
func criteria() engine.FilterCriteria {
	return engine.FilterCriteria{
		Name:     filterName,
		PID:      filterPID,
		Port:     filterPort,
		Protocol: strings.ToUpper(filterProto),
		Address:  filterAddr,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	enum, err := newEnumerator(&port.RealCmdRunner{})
	if err != nil {
		return err
	}

	entries, err := enum.ListPorts(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan ports: %w", err)
	}

	entries = engine.Filter(entries, criteria())

	if jsonOutput {
		return printJSON(os.Stdout, entries)
	}

	return printTable(os.Stdout, entries)
}

func printTable(out io.Writer, entries []port.PortEntry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tPROTO\tADDRESS\tPID\tPROCESS\tUSER\tSTATE")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.Port, e.Protocol, e.Address, e.PID, e.Process, e.User, e.State)
	}
	return w.Flush()
}

// jsonEntry is the JSON shape of a port entry shared by list and watch.
type jsonEntry struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Address  string `json:"address"`
	PID      int    `json:"pid"`
	Process  string `json:"process"`
	User     string `json:"user"`
	State    string `json:"state,omitempty"`
	Command  string `json:"command"`
}

func toJSONEntries(entries []port.PortEntry) []jsonEntry {
	out := make([]jsonEntry, len(entries))
	for i, e := range entries {
		out[i] = jsonEntry{
			Port:     e.Port,
			Protocol: string(e.Protocol),
			Address:  e.Address,
			PID:      e.PID,
			Process:  e.Process,
			User:     e.User,
			State:    e.State,
			Command:  e.Command,
		}
	}
	return out
}

func printJSON(out io.Writer, entries []port.PortEntry) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(toJSONEntries(entries))
}
