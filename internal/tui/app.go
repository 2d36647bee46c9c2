package tui

import (
	"context"
	"fmt"
	"os/user"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lu-zhengda/portman/internal/engine"
	"github.com/lu-zhengda/portman/internal/port"
	"github.com/lu-zhengda/portman/internal/process"
)

// viewState tracks which screen the TUI is currently showing.
type viewState int

const (
	viewTable viewState = iota
	viewInfo
	viewKillConfirm
	viewKilling
	viewKillResult
)

// sortField defines what column to sort by.
type sortField int

const (
	sortByPort sortField = iota
	sortByPID
	sortByProcess
)

// Filter inputs, in the order "/" cycles through them.
const (
	filterName = iota
	filterPID
	filterPort
	filterProto
	filterAddr
	filterCount
)

var filterLabels = [filterCount]string{"name", "pid", "port", "proto", "addr"}

// InfoSource looks up process details for the info view.
type InfoSource interface {
	Info(ctx context.Context, pid int) (*process.ProcessInfo, error)
}

type startedMsg struct {
	err error
}

type infoDoneMsg struct {
	info *process.ProcessInfo
	err  error
}

// Model is the main Bubbletea model for the portman TUI. It renders the
// engine's state and turns key presses into engine commands.
type Model struct {
	engine  *engine.Engine
	info    InfoSource
	version string

	rows        []port.PortEntry // engine view under the current filters, display order
	total       int
	selected    int
	hasSelected bool
	refreshErr  error

	cursor       int
	scrollOffset int
	sortBy       sortField
	paused       bool

	filters   [filterCount]textinput.Model
	focus     int
	filtering bool

	// Info view state.
	infoEntry *port.PortEntry
	infoData  *process.ProcessInfo
	infoErr   error

	// Kill workflow state mirrored from the engine.
	killReq     engine.KillRequest
	killOutcome engine.KillOutcome

	// message is a one-line notice, e.g. a rejected command.
	message string

	currentUser string
	scanning    bool
	spinner     spinner.Model

	width  int
	height int

	currentView viewState
}

// New creates a new TUI model. The engine is started by Init.
func New(eng *engine.Engine, info InfoSource, version string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorCyan)

	currentUser := "unknown"
	if u, err := user.Current(); err == nil {
		currentUser = u.Username
	}

	var filters [filterCount]textinput.Model
	for i := range filters {
		ti := textinput.New()
		ti.Prompt = ""
		ti.Placeholder = filterLabels[i]
		ti.CharLimit = 64
		ti.Width = 12
		filters[i] = ti
	}

	return Model{
		engine:      eng,
		info:        info,
		version:     version,
		filters:     filters,
		currentUser: currentUser,
		scanning:    true,
		spinner:     sp,
		currentView: viewTable,
	}
}

// Init starts the spinner and the engine.
func (m Model) Init() tea.Cmd {
	eng := m.engine
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		return startedMsg{err: eng.Start()}
	})
}

func (m Model) doGetInfo(pid int) tea.Cmd {
	src := m.info
	return func() tea.Msg {
		if src == nil {
			return infoDoneMsg{err: fmt.Errorf("process details unavailable")}
		}
		info, err := src.Info(context.Background(), pid)
		return infoDoneMsg{info: info, err: err}
	}
}

// Update handles all messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.adjustScroll()
		return m, nil

	case spinner.TickMsg:
		if m.scanning || m.currentView == viewKilling {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case startedMsg:
		if msg.err != nil {
			m.scanning = false
			m.refreshErr = msg.err
		}
		return m, nil

	case EngineMsg:
		return m.handleEngine(engine.Event(msg))

	case infoDoneMsg:
		m.infoData = msg.info
		m.infoErr = msg.err
		m.currentView = viewInfo
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		switch m.currentView {
		case viewTable:
			if m.filtering {
				return m.updateFilter(msg)
			}
			return m.updateTable(msg)
		case viewInfo:
			return m.updateInfo(msg)
		case viewKillConfirm:
			return m.updateKillConfirm(msg)
		case viewKilling:
			if msg.String() == "q" {
				return m, tea.Quit
			}
		case viewKillResult:
			return m.updateKillResult(msg)
		}
	}

	return m, nil
}

func (m Model) handleEngine(ev engine.Event) (tea.Model, tea.Cmd) {
	switch ev.Kind {
	case engine.EventSnapshot:
		m.scanning = false
		m.refreshErr = nil
		if !m.paused {
			m.sync()
		}
		m.syncSelection()
	case engine.EventRefreshFailed:
		m.scanning = false
		m.refreshErr = ev.Err
	case engine.EventSelection:
		m.syncSelection()
	case engine.EventKill:
		switch ev.KillState {
		case engine.KillSucceeded, engine.KillFailed:
			if outcome, ok := m.engine.LastKill(); ok {
				m.killOutcome = outcome
			}
			m.currentView = viewKillResult
			m.syncSelection()
		case engine.KillCancelled:
			if m.currentView == viewKillConfirm {
				m.currentView = viewTable
			}
		}
	}
	return m, nil
}

func (m Model) updateTable(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.message = ""
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "j", "down":
		if len(m.rows) > 0 && m.cursor < len(m.rows)-1 {
			m.cursor++
			m.ensureCursorVisible()
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
			m.ensureCursorVisible()
		}
	case " ":
		if entry := m.cursorEntry(); entry != nil {
			if err := m.engine.Select(entry.PID); err != nil {
				m.message = err.Error()
			}
			m.syncSelection()
		}
	case "K":
		m.requestKill(m.cursorEntry())
	case "i", "enter":
		if entry := m.cursorEntry(); entry != nil {
			m.infoEntry = entry
			m.infoData = nil
			m.infoErr = nil
			return m, m.doGetInfo(entry.PID)
		}
	case "r":
		if m.engine.RequestRefresh() {
			m.scanning = true
			return m, m.spinner.Tick
		}
	case "s":
		m.sortBy = (m.sortBy + 1) % 3
		m.sortRows()
	case "p":
		m.paused = !m.paused
		if !m.paused {
			m.sync()
		}
	case "/":
		m.filtering = true
		return m, m.focusFilter(filterName)
	case "esc":
		if !m.criteria().IsZero() {
			for i := range m.filters {
				m.filters[i].SetValue("")
			}
			m.sync()
		}
	}
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.filtering = false
		m.filters[m.focus].Blur()
		return m, nil
	case "esc":
		m.filtering = false
		for i := range m.filters {
			m.filters[i].SetValue("")
			m.filters[i].Blur()
		}
		m.sync()
		return m, nil
	case "/":
		return m, m.focusFilter((m.focus + 1) % filterCount)
	case "shift+tab":
		return m, m.focusFilter((m.focus + filterCount - 1) % filterCount)
	case "tab":
		if m.focus == filterProto {
			m.cycleProtocol()
			m.sync()
			return m, nil
		}
		return m, m.focusFilter((m.focus + 1) % filterCount)
	}

	var cmd tea.Cmd
	m.filters[m.focus], cmd = m.filters[m.focus].Update(msg)
	m.sync()
	return m, cmd
}

// focusFilter moves keyboard focus to filter input i.
func (m *Model) focusFilter(i int) tea.Cmd {
	m.filters[m.focus].Blur()
	m.focus = i
	return m.filters[i].Focus()
}

// cycleProtocol steps the protocol filter through "", then every protocol
// present in the snapshot.
func (m *Model) cycleProtocol() {
	options := append([]string{""}, m.engine.Protocols()...)
	current := strings.ToUpper(m.filters[filterProto].Value())
	next := 0
	for i, p := range options {
		if p == current {
			next = (i + 1) % len(options)
			break
		}
	}
	m.filters[filterProto].SetValue(options[next])
	m.filters[filterProto].CursorEnd()
}

func (m Model) updateInfo(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "backspace":
		m.currentView = viewTable
	case "K":
		if e := m.infoEntry; e != nil {
			if pid, ok := m.engine.Selection(); !ok || pid != e.PID {
				if err := m.engine.Select(e.PID); err != nil {
					m.message = err.Error()
					return m, nil
				}
			}
		}
		m.requestKill(m.infoEntry)
	}
	return m, nil
}

// requestKill opens the confirmation for the selected process. With no
// selection, entry is selected first.
func (m *Model) requestKill(entry *port.PortEntry) {
	pid, ok := m.engine.Selection()
	if !ok {
		if entry == nil {
			return
		}
		if err := m.engine.Select(entry.PID); err != nil {
			m.message = err.Error()
			return
		}
		pid = entry.PID
	}
	m.syncSelection()

	req, err := m.engine.RequestKill(pid)
	if err != nil {
		m.message = err.Error()
		m.currentView = viewTable
		return
	}
	m.killReq = req
	m.currentView = viewKillConfirm
}

func (m Model) updateKillConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		if err := m.engine.ConfirmKill(); err != nil {
			m.message = err.Error()
			m.currentView = viewTable
			return m, nil
		}
		m.currentView = viewKilling
		return m, m.spinner.Tick
	case "n", "N", "esc":
		if err := m.engine.DeclineKill(); err != nil {
			m.message = err.Error()
		}
		m.currentView = viewTable
	case "q":
		m.engine.DeclineKill()
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateKillResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "enter", "backspace":
		m.currentView = viewTable
	}
	return m, nil
}

// criteria builds the engine filter from the inputs.
func (m Model) criteria() engine.FilterCriteria {
	return engine.FilterCriteria{
		Name:     m.filters[filterName].Value(),
		PID:      m.filters[filterPID].Value(),
		Port:     m.filters[filterPort].Value(),
		Protocol: strings.ToUpper(m.filters[filterProto].Value()),
		Address:  m.filters[filterAddr].Value(),
	}
}

// sync reloads rows from the engine, keeping the cursor on the same entry
// when it is still visible.
func (m *Model) sync() {
	var keep string
	if e := m.cursorEntry(); e != nil {
		keep = e.Key()
	}

	m.rows = m.engine.View(m.criteria())
	m.total = m.engine.Stats().Entries
	m.sortRows()

	for i, e := range m.rows {
		if e.Key() == keep {
			m.cursor = i
			break
		}
	}
	if m.cursor >= len(m.rows) {
		m.cursor = max(0, len(m.rows)-1)
	}
	m.adjustScroll()
}

func (m *Model) syncSelection() {
	m.selected, m.hasSelected = m.engine.Selection()
}

func (m *Model) cursorEntry() *port.PortEntry {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return nil
	}
	entry := m.rows[m.cursor]
	return &entry
}

func (m *Model) sortRows() {
	sort.SliceStable(m.rows, func(i, j int) bool {
		switch m.sortBy {
		case sortByPID:
			return m.rows[i].PID < m.rows[j].PID
		case sortByProcess:
			return strings.ToLower(m.rows[i].Process) < strings.ToLower(m.rows[j].Process)
		default:
			return m.rows[i].Port < m.rows[j].Port
		}
	})
}

func (m *Model) ensureCursorVisible() {
	visible := m.visibleRows()
	if m.cursor < m.scrollOffset {
		m.scrollOffset = m.cursor
	}
	if m.cursor >= m.scrollOffset+visible {
		m.scrollOffset = m.cursor - visible + 1
	}
}

func (m *Model) adjustScroll() {
	m.ensureCursorVisible()
	maxOffset := max(0, len(m.rows)-m.visibleRows())
	m.scrollOffset = min(max(m.scrollOffset, 0), maxOffset)
}

func (m Model) visibleRows() int {
	// header (2), column headers (1), filter bar (1), status (2), help (1).
	const reserved = 8
	return max(1, m.height-reserved)
}

// View renders the TUI.
func (m Model) View() string {
	switch m.currentView {
	case viewInfo:
		return m.viewInfo()
	case viewKillConfirm:
		return m.viewKillConfirm()
	case viewKilling:
		return m.viewKilling()
	case viewKillResult:
		return m.viewKillResult()
	default:
		return m.viewTable()
	}
}

func (m Model) viewTable() string {
	var b strings.Builder

	// Header bar.
	title := titleStyle.Render(fmt.Sprintf("portman %s", m.version))
	stats := dimStyle.Render(fmt.Sprintf("Showing: %d  Total: %d", len(m.rows), m.total))
	indicators := ""
	if m.hasSelected {
		indicators += selectedStyle.Render(fmt.Sprintf("  [PID %d selected]", m.selected))
	}
	if m.paused {
		indicators += warnStyle.Render("  [PAUSED]")
	}
	b.WriteString(title + "  " + stats + indicators + "\n")

	if m.scanning && m.total == 0 && m.refreshErr == nil {
		b.WriteString("\n" + m.spinner.View() + " Scanning ports...\n")
		return b.String()
	}

	// Column headers.
	sortIndicator := func(field sortField) string {
		if m.sortBy == field {
			return " ^"
		}
		return ""
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf(
		"    %-7s %-6s %-16s %-7s %-16s %-11s %s",
		"PORT"+sortIndicator(sortByPort),
		"PROTO",
		"ADDRESS",
		"PID"+sortIndicator(sortByPID),
		"PROCESS"+sortIndicator(sortByProcess),
		"USER",
		"COMMAND",
	)) + "\n")

	if len(m.rows) == 0 {
		if !m.criteria().IsZero() {
			b.WriteString("\n  No ports match the current filters.\n")
		} else {
			b.WriteString("\n  No listening ports found.\n")
		}
	} else {
		end := min(m.scrollOffset+m.visibleRows(), len(m.rows))
		for i := m.scrollOffset; i < end; i++ {
			e := m.rows[i]

			cursor := "  "
			if i == m.cursor {
				cursor = cursorStyle.Render("> ")
			}
			mark := "  "
			if m.hasSelected && e.PID == m.selected {
				mark = selectedStyle.Render("* ")
			}

			line := fmt.Sprintf("%-7d %-6s %-16s %-7d %-16s %-11s %s",
				e.Port, e.Protocol,
				truncate(e.Address, 16),
				e.PID,
				truncate(e.Process, 16),
				truncate(e.User, 11),
				truncate(e.Command, max(10, m.width-76)),
			)

			b.WriteString(cursor + mark + processStyle(e.User).Render(line) + "\n")
		}

		if len(m.rows) > m.visibleRows() {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  [%d-%d of %d]",
				m.scrollOffset+1, end, len(m.rows))) + "\n")
		}
	}

	if m.filtering || !m.criteria().IsZero() {
		b.WriteString("\n" + m.viewFilterBar() + "\n")
	}

	if m.refreshErr != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("  refresh failed: %v", m.refreshErr)) + "\n")
	}
	if m.message != "" {
		b.WriteString(statusBarStyle.Render(m.message) + "\n")
	}

	if m.filtering {
		b.WriteString(helpStyle.Render("/:next field  tab:next (proto: cycle)  enter:apply  esc:clear") + "\n")
	} else {
		b.WriteString(helpStyle.Render("j/k:navigate  space:select  K:kill  i:info  r:refresh  s:sort  p:pause  /:filter  q:quit") + "\n")
	}

	return b.String()
}

func (m Model) viewFilterBar() string {
	parts := make([]string, filterCount)
	for i, f := range m.filters {
		label := filterLabelStyle.Render(filterLabels[i] + ":")
		if m.filtering && i == m.focus {
			label = cursorStyle.Render(filterLabels[i] + ":")
		}
		parts[i] = label + f.View()
	}
	return "  " + strings.Join(parts, "  ")
}

func (m Model) viewInfo() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("portman -- Port Info") + "\n\n")

	if m.infoEntry == nil {
		b.WriteString("  No port selected.\n")
		b.WriteString(helpStyle.Render("\nesc back | q quit") + "\n")
		return b.String()
	}

	e := m.infoEntry
	b.WriteString(labelStyle.Render("Port:") + valueStyle.Render(fmt.Sprintf("%d/%s", e.Port, e.Protocol)) + "\n")
	b.WriteString(labelStyle.Render("Address:") + valueStyle.Render(e.Address) + "\n")
	b.WriteString(labelStyle.Render("Process:") + valueStyle.Render(fmt.Sprintf("%s (PID %d)", e.Process, e.PID)) + "\n")

	if m.infoErr != nil {
		b.WriteString(labelStyle.Render("User:") + valueStyle.Render(e.User) + "\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("  Details unavailable: %v", m.infoErr)) + "\n")
	} else if info := m.infoData; info != nil {
		b.WriteString(labelStyle.Render("Command:") + valueStyle.Render(info.Command) + "\n")
		b.WriteString(labelStyle.Render("User:") + valueStyle.Render(info.User) + "\n")

		if !info.StartTime.IsZero() {
			b.WriteString(labelStyle.Render("Started:") + valueStyle.Render(
				fmt.Sprintf("%s ago (%s)", formatDuration(info.Uptime(time.Now())), info.StartTime.Format("2006-01-02 15:04:05")),
			) + "\n")
		}

		b.WriteString(labelStyle.Render("CPU:") + valueStyle.Render(fmt.Sprintf("%.1f%%", info.CPUPercent)) + "\n")
		b.WriteString(labelStyle.Render("Memory:") + valueStyle.Render(formatBytes(info.MemRSS)+" (RSS)") + "\n")

		if info.PPID > 0 {
			b.WriteString(labelStyle.Render("Parent PID:") + valueStyle.Render(fmt.Sprintf("%d", info.PPID)) + "\n")
		}

		if len(info.Children) > 0 {
			childStrs := make([]string, len(info.Children))
			for i, c := range info.Children {
				childStrs[i] = fmt.Sprintf("%d", c)
			}
			b.WriteString(labelStyle.Render("Children:") + valueStyle.Render(strings.Join(childStrs, ", ")) + "\n")
		}
	}

	if m.message != "" {
		b.WriteString("\n" + statusBarStyle.Render(m.message) + "\n")
	}
	b.WriteString(helpStyle.Render("\nK:kill  esc:back  q:quit") + "\n")
	return b.String()
}

func (m Model) viewKillConfirm() string {
	var b strings.Builder

	b.WriteString(dangerStyle.Render(" KILL PROCESS ") + "\n\n")
	b.WriteString("  " + m.killReq.Prompt() + "\n\n")

	if owner := m.ownerOf(m.killReq.PID); owner != "" && (owner == "root" || owner != m.currentUser) {
		b.WriteString(warnStyle.Render("  WARNING: This process belongs to user '"+owner+"'.") + "\n")
		b.WriteString(warnStyle.Render("  You may need elevated privileges to kill it.") + "\n\n")
	}

	b.WriteString(helpStyle.Render("y:kill  n/esc:cancel") + "\n")
	return b.String()
}

func (m Model) viewKilling() string {
	return titleStyle.Render("portman -- Kill") + "\n\n" +
		fmt.Sprintf("  %s Killing %s (PID %d)...\n", m.spinner.View(), m.killReq.Process, m.killReq.PID)
}

func (m Model) viewKillResult() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("portman -- Kill Result") + "\n\n")

	o := m.killOutcome
	if o.State == engine.KillSucceeded {
		b.WriteString(successStyle.Render(fmt.Sprintf("  Killed %s (PID %d)", o.Request.Process, o.Request.PID)) + "\n")
	} else if o.Err != nil {
		b.WriteString(errorStyle.Render("  Failed: "+o.Err.Error()) + "\n")
	}

	b.WriteString(helpStyle.Render("\nenter/esc:back  q:quit") + "\n")
	return b.String()
}

// ownerOf returns the user owning pid in the current snapshot.
func (m Model) ownerOf(pid int) string {
	for _, e := range m.engine.Snapshot() {
		if e.PID == pid {
			return e.User
		}
	}
	return ""
}

// truncate truncates a string to max length, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	if maxLen < 4 {
		maxLen = 4
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatBytes formats bytes into a human-readable string.
func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	hours := int(d.Hours())
	if hours < 24 {
		return fmt.Sprintf("%dh %dm", hours, int(d.Minutes())%60)
	}
	days := hours / 24
	return fmt.Sprintf("%dd %dh", days, hours%24)
}
