// Herald is an announcement router for Home Assistant households.
//
// It tracks which room each person is in, addresses announcements to
// individuals or groups, optionally rewrites them through an AI agent,
// and delivers them over room media players with volume ducking and a
// pre-announce chime. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	herald serve                   Start the announcement server
//	herald announce <message>      Send an announcement to a running server
//	herald version                 Print version and build information
//	herald -o json version         Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/herald-home/herald/internal/announce"
	"github.com/herald-home/herald/internal/api"
	"github.com/herald-home/herald/internal/buildinfo"
	"github.com/herald-home/herald/internal/config"
	"github.com/herald-home/herald/internal/connwatch"
	"github.com/herald-home/herald/internal/conversation"
	"github.com/herald-home/herald/internal/history"
	"github.com/herald-home/herald/internal/homeassistant"
	"github.com/herald-home/herald/internal/httpkit"
	"github.com/herald-home/herald/internal/llm"
	"github.com/herald-home/herald/internal/location"
	"github.com/herald-home/herald/internal/metrics"
	"github.com/herald-home/herald/internal/mqtt"
	"github.com/herald-home/herald/internal/prompts"
	"github.com/herald-home/herald/internal/settings"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the herald command. All OS-level
// dependencies are injected as parameters. Arguments are parsed by
// hand: the flag package relies on package-level globals, which makes
// it impossible to call run() concurrently from tests, and the
// argument surface is small enough that manual parsing is clearer.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "announce":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: herald announce [-person <name>] [-area <id>] <message>")
		}
		return runAnnounce(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Herald - Home Assistant Announcement Router")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: herald [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve             Start the announcement server")
	fmt.Fprintln(w, "  announce <msg>    Send an announcement to a running server")
	fmt.Fprintln(w, "  version           Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/herald/config.yaml, /etc/herald/config.yaml")
	return nil
}

// runAnnounce posts a one-shot announcement to a running herald server
// and prints the per-room outcomes. Flags before the message narrow the
// target: -person <name[,name]>, -area <area_id>, -server <url>.
func runAnnounce(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	var req announce.Request
	server := ""

	var words []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-person" && i+1 < len(args):
			req.TargetPerson = args[i+1]
			i++
		case args[i] == "-area" && i+1 < len(args):
			req.TargetArea = args[i+1]
			i++
		case args[i] == "-server" && i+1 < len(args):
			server = args[i+1]
			i++
		default:
			words = append(words, args[i])
		}
	}
	req.Message = strings.Join(words, " ")
	if err := req.Validate(); err != nil {
		return err
	}

	if server == "" {
		server = "http://localhost:8127"
		if cfgPath, err := config.FindConfig(configPath); err == nil {
			if cfg, err := config.Load(cfgPath); err == nil && cfg.Listen.Port != 0 {
				server = fmt.Sprintf("http://localhost:%d", cfg.Listen.Port)
			}
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	client := httpkit.NewClient(httpkit.WithTimeout(2 * time.Minute))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(server, "/")+"/api/announce?wait=true", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("announce request to %s: %w", server, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var result struct {
		RequestID string             `json:"request_id"`
		Outcomes  []announce.Outcome `json:"outcomes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Fprintf(stdout, "request %s\n", result.RequestID)
	for _, o := range result.Outcomes {
		line := fmt.Sprintf("  %-16s %s", o.Room, o.Status)
		if o.Reason != "" {
			line += " (" + string(o.Reason) + ")"
		}
		if o.Message != "" {
			line += ": " + o.Message
		}
		fmt.Fprintln(stdout, line)
	}
	if len(result.Outcomes) == 0 {
		fmt.Fprintln(stdout, "  no rooms resolved")
	}
	return nil
}

// runServe starts the announcement server and blocks until shutdown.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Herald",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit,
		"branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial text logger covers only the startup banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"people", len(cfg.People),
		"rooms", len(cfg.Rooms),
	)

	// --- Data directory ---
	// All persistent state (switch board, history journal, MQTT
	// instance ID) lives under this directory.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Switch board and settings store ---
	// Enable switches persist across restarts; everything else in the
	// settings store is derived from config.
	board, err := settings.OpenSwitchBoard(filepath.Join(cfg.DataDir, "switches.db"))
	if err != nil {
		return fmt.Errorf("open switch board: %w", err)
	}
	defer board.Close()

	store := settings.NewStore(cfg, board)
	globals := store.Snapshot().Globals

	// --- Home Assistant clients ---
	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	haWS := homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	logger.Debug("Home Assistant configured", "url", cfg.HomeAssistant.URL)

	// --- Conversation agents ---
	// Home Assistant handles "conversation.*" agent references; a local
	// Ollama endpoint handles "ollama:<model>" references when set.
	var ollamaClient *llm.OllamaClient
	if cfg.Ollama.URL != "" {
		ollamaClient = llm.NewOllamaClient(cfg.Ollama.URL, logger)
	}
	var mux *conversation.Mux
	if ollamaClient != nil {
		mux = conversation.NewMux(ha, ollamaClient, logger)
	} else {
		mux = conversation.NewMux(ha, nil, logger)
	}

	// --- Connection resilience ---
	// Exponential backoff on startup, periodic probing at runtime. The
	// WebSocket subscription is (re-)established whenever HA comes back.
	var subscribeOnce sync.Once
	haWatcher := connwatch.New("homeassistant",
		func(pCtx context.Context) error { return ha.Ping(pCtx) },
		func() {
			wsCtx, wsCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer wsCancel()
			if err := haWS.Reconnect(wsCtx); err != nil {
				logger.Error("WebSocket reconnect failed", "error", err)
				return
			}
			// Subsequent reconnects restore subscriptions automatically
			// via the WebSocket client.
			subscribeOnce.Do(func() {
				subCtx, subCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer subCancel()
				if err := haWS.Subscribe(subCtx, "state_changed"); err != nil {
					logger.Error("subscribe to state_changed failed", "error", err)
				} else {
					logger.Info("subscribed to state_changed events")
				}
			})
		},
		nil, logger)
	go haWatcher.Start(ctx)
	ha.SetWatcher(haWatcher)

	var ollamaWatcher *connwatch.Watcher
	if ollamaClient != nil {
		ollamaWatcher = connwatch.New("ollama",
			func(pCtx context.Context) error { return ollamaClient.Ping(pCtx) },
			nil, nil, logger)
		go ollamaWatcher.Start(ctx)
	}

	// --- Tracker activity log ---
	// Mirrors tracker and presence sensor changes into the log at trace
	// level so location decisions can be audited after the fact.
	watchGlobs := trackedEntityGlobs(cfg)
	filter := homeassistant.NewEntityFilter(watchGlobs, logger)
	stateWatcher := homeassistant.NewStateWatcher(haWS.Events(), filter,
		func(entityID, oldState, newState string) {
			logger.Log(context.Background(), config.LevelTrace, "tracked entity changed",
				"entity_id", entityID, "old", oldState, "new", newState)
		}, logger)
	go stateWatcher.Run(ctx)

	// --- Announcement core ---
	resolver := location.NewResolver(ha, logger)
	templates := prompts.NewTemplates(
		cfg.Announce.Prompts.Translate,
		cfg.Announce.Prompts.Enhance,
		cfg.Announce.Prompts.Both,
	)
	pipeline := announce.NewPipeline(mux, templates, logger)
	orchestrator := announce.NewOrchestrator(ha, globals.DuckVolume, globals.DeliveryTimeout, logger)
	announcer := announce.New(store, resolver, resolver, pipeline, orchestrator, logger)

	// --- History journal ---
	journal, err := history.Open(filepath.Join(cfg.DataDir, "history.db"), logger)
	if err != nil {
		return fmt.Errorf("open history journal: %w", err)
	}
	defer journal.Close()
	announcer.AddSink(journal)
	announcer.AddSink(metrics.NewSink())

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, announcer, journal, logger)
	server.AddStatusReporter(haWatcher)
	if ollamaWatcher != nil {
		server.AddStatusReporter(ollamaWatcher)
	}

	// --- MQTT bridge ---
	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

		announceFn := func(_ context.Context, req announce.Request) {
			done := metrics.RequestAccepted()
			defer done()
			reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if req.ID == "" {
				req.ID = uuid.NewString()
			}
			if err := journal.RecordRequest(req); err != nil {
				logger.Error("journal request failed", "request_id", req.ID, "error", err)
			}
			if _, err := announcer.Announce(reqCtx, req); err != nil {
				logger.Error("mqtt announce failed", "error", err)
			}
		}

		bridge = mqtt.NewBridge(cfg.MQTT, instanceID, board, switchDefs(cfg), announceFn, logger)
		board.SetListener(bridge.PublishSwitchState)
		announcer.AddSink(bridge)
		server.AddStatusReporter(bridge)

		go func() {
			if err := bridge.Start(ctx); err != nil {
				logger.Error("mqtt bridge failed", "error", err)
			}
		}()
		logger.Info("mqtt bridge enabled",
			"broker", cfg.MQTT.Broker, "device_name", cfg.MQTT.DeviceName)
	} else {
		logger.Info("mqtt bridge disabled (not configured)")
	}

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Daily history pruning keeps the journal bounded.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := journal.Prune(ctx, 30*24*time.Hour); err != nil {
					logger.Error("history prune failed", "error", err)
				} else if n > 0 {
					logger.Info("history pruned", "removed", n)
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if bridge != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := bridge.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		haWS.Close()
		_ = server.Shutdown(context.Background())
	}()

	// Start the API server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Herald stopped")
	return nil
}

// trackedEntityGlobs collects every entity the resolver may consult so
// the state watcher can mirror their changes into the log.
func trackedEntityGlobs(cfg *config.Config) []string {
	var globs []string
	for _, p := range cfg.People {
		if p.Entity != "" {
			globs = append(globs, p.Entity)
		}
		globs = append(globs, p.Trackers...)
	}
	for _, r := range cfg.Rooms {
		globs = append(globs, r.PresenceSensors...)
	}
	return globs
}

// switchDefs builds the MQTT discovery switch list: one enable switch
// per configured person and room.
func switchDefs(cfg *config.Config) []mqtt.SwitchDef {
	defs := make([]mqtt.SwitchDef, 0, len(cfg.People)+len(cfg.Rooms))
	for _, p := range cfg.People {
		defs = append(defs, mqtt.SwitchDef{
			Kind:  settings.KindPerson,
			ID:    p.Name,
			Label: p.Name,
		})
	}
	for _, r := range cfg.Rooms {
		label := r.Name
		if label == "" {
			label = r.AreaID
		}
		defs = append(defs, mqtt.SwitchDef{
			Kind:  settings.KindRoom,
			ID:    r.AreaID,
			Label: label,
		})
	}
	return defs
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
