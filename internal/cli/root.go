package cli

import (
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lu-zhengda/portman/internal/config"
	"github.com/lu-zhengda/portman/internal/engine"
	"github.com/lu-zhengda/portman/internal/port"
	"github.com/lu-zhengda/portman/internal/process"
	"github.com/lu-zhengda/portman/internal/tui"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var (
	// Set via ldflags at build time.
	version = "dev"

	// Global flags.
	jsonOutput bool
	configPath string
	debug      bool

	// cfg is loaded once per invocation by the root PersistentPreRunE.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "portman",
	Short: "Port & process manager",
	Long: `portman shows what processes are listening on which ports,
lets you kill them, and provides a live TUI dashboard.
Launch without subcommands for interactive TUI mode.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		if shell, _ := cmd.Flags().GetString("generate-completion"); shell != "" {
			switch shell {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			default:
				return fmt.Errorf("unsupported shell: %s (use bash, zsh, or fish)", shell)
			}
		}
		return runTUI()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("portman %s\n", version))
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().String("generate-completion", "", "Generate shell completion (bash, zsh, fish)")
	rootCmd.Flags().MarkHidden("generate-completion")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/portman/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Write engine diagnostics (TUI: portman-debug.log, otherwise stderr)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	load := config.Load
	if configPath != "" {
		// An explicit path must exist.
		load = config.LoadFrom
	}
	c, err := load(configPath)
	if err != nil {
		return err
	}
	cfg = c
	if !cfg.ColorEnabled {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	return nil
}

func runTUI() error {
	logger := log.New(io.Discard, "", 0)
	if debug {
		f, err := tea.LogToFile("portman-debug.log", "portman")
		if err != nil {
			return fmt.Errorf("failed to open debug log: %w", err)
		}
		defer f.Close()
		logger = log.Default()
	}

	runner := &port.RealCmdRunner{}
	manager := process.NewRealManager(runner)

	// The engine is started from the model's Init, so no event reaches the
	// relay before p is assigned.
	var p *tea.Program
	relay := tui.NewRelay(func(msg tea.Msg) { p.Send(msg) })
	defer relay.Close()

	eng, err := newEngine(runner, manager, logger, relay.Notify)
	if err != nil {
		return err
	}
	defer eng.Close()

	p = tea.NewProgram(tui.New(eng, manager, version), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// newEnumerator builds the configured port scanner with the exclude list
// applied.
func newEnumerator(runner port.CmdRunner) (port.Enumerator, error) {
	enum, err := port.NewEnumerator(cfg.Scanner, runner)
	if err != nil {
		return nil, err
	}
	return port.Exclude(enum, cfg.Exclude), nil
}

// newTerminator builds a terminator from the configured signal, or from
// override when it is non-empty.
func newTerminator(manager *process.RealManager, override string) (*process.Terminator, error) {
	name := cfg.KillSignal
	if override != "" {
		name = override
	}
	sig, err := process.ParseSignal(name)
	if err != nil {
		return nil, err
	}
	return process.NewTerminator(manager, sig, cfg.Grace()), nil
}

func newEngine(runner port.CmdRunner, manager *process.RealManager, logger *log.Logger, notify func(engine.Event)) (*engine.Engine, error) {
	enum, err := newEnumerator(runner)
	if err != nil {
		return nil, err
	}
	term, err := newTerminator(manager, "")
	if err != nil {
		return nil, err
	}
	return engine.New(enum, term, engine.Options{
		Interval: cfg.Interval(),
		Logger:   logger,
		Notify:   notify,
	}), nil
}

// diagnostics returns the engine logger for non-TUI commands.
func diagnostics() *log.Logger {
	if debug {
		return log.New(os.Stderr, "portman: ", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}
