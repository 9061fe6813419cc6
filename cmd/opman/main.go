// opman is the multi-project terminal orchestrator's entry point: a
// single binary that loads configuration, connects to the backend,
// and runs the cooperative event loop driving the four synchronized
// panes (assistant, shell, editor, git-browser) per project.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/adityaU/opman/internal/client"
	"github.com/adityaU/opman/internal/config"
	"github.com/adityaU/opman/internal/dispatcher"
	"github.com/adityaU/opman/internal/eventloop"
	"github.com/adityaU/opman/internal/gitbrowser"
	"github.com/adityaU/opman/internal/orchestrator"
	"github.com/adityaU/opman/internal/ptyhandle"
	"github.com/adityaU/opman/internal/socket"
	"github.com/adityaU/opman/internal/theme"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Print("\033[?1049l") // exit alt screen
			fmt.Print("\033[?25h")   // show cursor
			fmt.Print("\033[0m")     // reset colors
			fmt.Fprintf(os.Stderr, "\n\nPANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := &cobra.Command{
		Use:     "opman",
		Short:   "Multi-project terminal orchestrator",
		Version: Version,
		RunE:    runStart,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the configured backend URL and projects",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit configuration",
	}
	configGetCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a top-level configuration value (backend_url, default_terminal_command, follow_edits_in_editor)",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigGet,
	}
	configSetCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a top-level configuration value",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigSet,
	}
	configCmd.AddCommand(configGetCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*slog.Logger, *os.File, error) {
	stateDir, err := config.StateDir()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}
	logPath := filepath.Join(stateDir, "opman.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	level := slog.LevelInfo
	if os.Getenv("OPMAN_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level}))
	return logger, logFile, nil
}

// runStatus reports configured projects without starting the TUI,
// using golang.org/x/term to size a plain-text table when stdout is a
// terminal (spec §6: CLI surface must work headless).
func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	width := 80
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = w
		}
	}

	fmt.Printf("Backend: %s\n", cfg.BackendURL)
	fmt.Println(stringsRepeat("-", width))
	if len(cfg.Projects) == 0 {
		fmt.Println("No projects configured.")
		return nil
	}
	for _, p := range cfg.Projects {
		branch := gitbrowser.BranchString(p.Path)
		if branch == "" {
			branch = "-"
		}
		fmt.Printf("%-30s %-40s [%s]\n", p.Name, p.Path, branch)
	}
	return nil
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, s...)
	}
	return string(out[:n])
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	switch args[0] {
	case "backend_url":
		fmt.Println(cfg.BackendURL)
	case "default_terminal_command":
		fmt.Println(cfg.Settings.DefaultTerminalCommand)
	case "follow_edits_in_editor":
		fmt.Println(cfg.Settings.FollowEditsInEditor)
	default:
		return fmt.Errorf("unknown key: %s", args[0])
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	key, value := args[0], args[1]
	switch key {
	case "backend_url":
		cfg.BackendURL = value
	case "default_terminal_command":
		cfg.Settings.DefaultTerminalCommand = value
	case "follow_edits_in_editor":
		cfg.Settings.FollowEditsInEditor = value == "true"
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return cfg.Save()
}

func runStart(cmd *cobra.Command, args []string) error {
	logger, logFile, err := newLogger()
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("starting opman", "version", Version, "backend_url", cfg.BackendURL, "projects", len(cfg.Projects))

	backend := client.New(client.Config{BaseURL: cfg.BackendURL, Token: cfg.BackendToken}, logger)

	stateDir, err := config.StateDir()
	if err != nil {
		return fmt.Errorf("resolve state dir: %w", err)
	}
	editorSocketPath := func(projectIdx int, sessionID string) string {
		return filepath.Join(stateDir, fmt.Sprintf("nvim-%d-%s.sock", projectIdx, sessionID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := orchestrator.Settings{
		DefaultTerminalCommand: cfg.Settings.DefaultTerminalCommand,
		FollowEditsInEditor:    cfg.Settings.FollowEditsInEditor,
		Theme:                  theme.Default(),
		EditorRows:             40,
		EditorCols:             120,
		EditorSocketPath:       editorSocketPath,
		SendSystemMessage: func(projectDir, sessionID, text string) {
			go func() {
				if err := backend.SendSystemMessage(ctx, projectDir, sessionID, text); err != nil {
					logger.Error("failed to send todo continuation prompt", "session", sessionID, "error", err)
				}
			}()
		},
	}
	orch := orchestrator.New(settings, logger)
	for _, entry := range cfg.Projects {
		orch.AddProject(entry.Name, entry.Path)
	}

	socketPath := filepath.Join(stateDir, "opman.sock")
	deps := dispatcher.Deps{Rows: 40, Cols: 120}

	socks, err := socket.Listen(socketPath, logger)
	if err != nil {
		return fmt.Errorf("listen on tool socket: %w", err)
	}
	defer socks.Close()
	go socks.Serve()

	events := make(chan orchestrator.Event, 256)
	for idx, p := range orch.Projects {
		go bootstrapProject(ctx, orch, backend, events, idx, p.Path, logger)
		go subscribeProject(ctx, backend, idx, events, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}

	loop := eventloop.New(screen, orch, events, socks, deps, settings.Theme, logger)

	go func() {
		<-ctx.Done()
		loop.RequestShutdown()
	}()

	if err := loop.Run(); err != nil {
		return fmt.Errorf("event loop: %w", err)
	}
	return nil
}

// bootstrapProject resolves the project's initial assistant PTY on a
// worker goroutine so the main loop never blocks on the backend round
// trip or fork/exec (spec §4.4: PtySpawned/SessionsFetched are always
// delivered asynchronously). It fetches the project's existing
// sessions first: if any exist, the assistant PTY resumes the most
// recent one directly, under its real id; otherwise it follows the
// awaiting-placeholder creation path of spec §3/§9.
func bootstrapProject(ctx context.Context, orch *orchestrator.Orchestrator, backend *client.Client, events chan<- orchestrator.Event, projectIdx int, dir string, logger *slog.Logger) {
	sessions, err := backend.ListSessions(ctx, dir)
	if err != nil {
		logger.Warn("failed to list sessions", "project", projectIdx, "error", err)
		events <- orchestrator.SessionFetchFailed{ProjectIdx: projectIdx}
	} else {
		events <- orchestrator.SessionsFetched{ProjectIdx: projectIdx, Sessions: sessions}
	}

	if len(sessions) > 0 {
		resumeID := sessions[0].ID
		h, err := ptyhandle.Spawn(ptyhandle.SpawnConfig{
			Kind:   ptyhandle.KindAssistant,
			Rows:   40,
			Cols:   120,
			Dir:    dir,
			Argv:   assistantArgv(resumeID),
			Logger: logger,
		})
		if err != nil {
			logger.Error("failed to spawn assistant PTY", "project", projectIdx, "error", err)
			return
		}
		events <- orchestrator.PtySpawned{ProjectIdx: projectIdx, SessionID: resumeID, PTY: h}
		return
	}

	orch.BeginAwaitingNewSession(projectIdx)
	h, err := ptyhandle.Spawn(ptyhandle.SpawnConfig{
		Kind:   ptyhandle.KindAssistant,
		Rows:   40,
		Cols:   120,
		Dir:    dir,
		Argv:   assistantArgv(""),
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to spawn assistant PTY", "project", projectIdx, "error", err)
		return
	}
	events <- orchestrator.PtySpawned{ProjectIdx: projectIdx, SessionID: orchestrator.PlaceholderSessionID, PTY: h}
	if err := backend.CreateSession(ctx, dir); err != nil {
		logger.Warn("failed to request backend session creation", "project", projectIdx, "error", err)
	}
}

// assistantArgv resolves the coding-assistant binary's command line,
// honoring OPMAN_ASSISTANT_COMMAND (defaulting to "claude") and
// appending a resume flag when resumeID is known.
func assistantArgv(resumeID string) []string {
	bin := os.Getenv("OPMAN_ASSISTANT_COMMAND")
	if bin == "" {
		bin = "claude"
	}
	argv := []string{bin}
	if resumeID != "" {
		argv = append(argv, "--resume", resumeID)
	}
	return argv
}

// subscribeProject runs the backend's SSE subscription for one
// project, forwarding decoded events onto the shared channel until ctx
// is cancelled or the stream ends. Neither this function nor
// client.SubscribeEvents reconnects: once the stream ends, the project
// receives no further events, and only an error ending is logged.
func subscribeProject(ctx context.Context, backend *client.Client, projectIdx int, events chan<- orchestrator.Event, logger *slog.Logger) {
	if err := backend.SubscribeEvents(ctx, projectIdx, events); err != nil && ctx.Err() == nil {
		logger.Error("event subscription ended", "project", projectIdx, "error", err)
	}
}
