// AO orchestrator daemon — supervises fleets of coding-agent sessions:
// spawning, reconciliation, phase workflows, reactions, and metrics.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentops/ao/pkg/config"
	"github.com/agentops/ao/pkg/events"
	"github.com/agentops/ao/pkg/metrics"
	"github.com/agentops/ao/pkg/phase"
	"github.com/agentops/ao/pkg/plugin"
	"github.com/agentops/ao/pkg/plugin/builtin"
	"github.com/agentops/ao/pkg/reaction"
	"github.com/agentops/ao/pkg/session"
	"github.com/agentops/ao/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("AO_CONFIG", "ao.yaml"),
		"Path to the orchestrator configuration file")
	metricsAddr := flag.String("metrics-addr",
		getEnv("AO_METRICS_ADDR", ":9464"),
		"Listen address for the Prometheus /metrics endpoint (empty disables)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString(version.Full() + "\n")
		return
	}

	// Load .env from the config file's directory.
	envPath := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting AO",
		"version", version.Full(),
		"config", *configPath)

	// 1. Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Metrics registry and exposition endpoint
	registry := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(registry)

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			slog.Info("Metrics endpoint listening", "addr", *metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server error", "error", err)
			}
		}()
	}

	// 3. Event bus with a log sink so every orchestrator event lands in
	// the structured log even when no notifier is configured.
	bus := events.NewBus()
	logSink := bus.Subscribe(logEvent)
	defer bus.Unsubscribe(logSink)

	// 4. Plugin registry with the built-in plugin set
	pluginRegistry := plugin.NewRegistry()
	pluginRegistry.LoadBuiltins(builtin.Table(cfg.Orchestrator.CommandTimeout))

	// 5. Session manager (pool, rate limits, cycle detection, phases)
	manager, err := session.NewManager(cfg, pluginRegistry, bus, m)
	if err != nil {
		slog.Error("Failed to initialize session manager", "error", err)
		os.Exit(1)
	}

	// 6. Reaction engine fed by the configured notifiers
	engine := reaction.NewEngine(cfg.Reactions, manager, resolveNotifiers(cfg, pluginRegistry), bus)
	reactionSub := engine.Subscribe()
	defer bus.Unsubscribe(reactionSub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 7. Artifact watcher: plan and review files appearing between ticks
	// kick an immediate reconciliation instead of waiting out the interval.
	kick := make(chan struct{}, 1)
	watcher, err := phase.NewWatcher(func(string) {
		select {
		case kick <- struct{}{}:
		default:
		}
	})
	if err != nil {
		slog.Warn("Artifact watcher unavailable, relying on poll ticks", "error", err)
		watcher = nil
	}
	if watcher != nil {
		watchSub := trackWorkspaces(bus, manager, watcher)
		defer bus.Unsubscribe(watchSub)
		defer watcher.Close()
	}

	// 8. Initial reconcile: pick up sessions persisted by a previous run.
	if err := manager.Poll(ctx); err != nil {
		slog.Warn("Startup reconcile failed", "error", err)
	}
	if watcher != nil {
		seedWatcher(ctx, manager, watcher)
	}

	// 9. Reconciliation loop
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		manager.Run(ctx)
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-kick:
				if err := manager.Poll(ctx); err != nil && ctx.Err() == nil {
					slog.Error("Artifact-triggered poll failed", "error", err)
				}
			}
		}
	}()

	slog.Info("AO started",
		"projects", len(cfg.Projects),
		"poll_interval", cfg.Orchestrator.PollInterval,
		"global_max", cfg.Pool.GlobalMax)

	// 10. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	// 11. Graceful shutdown: stop the loop, drain in-flight work, then
	// tear down the reaction engine and bus.
	cancel()
	select {
	case <-runDone:
		slog.Info("Reconciliation loop drained")
	case <-time.After(cfg.Orchestrator.ShutdownTimeout):
		slog.Warn("Shutdown timeout exceeded while draining reconciliation")
	}

	engine.Close()
	bus.Close()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}

// resolveNotifiers collects the distinct notifier plugins named by the
// project configs, falling back to the built-in log notifier.
func resolveNotifiers(cfg *config.Config, registry *plugin.Registry) []plugin.Notifier {
	seen := make(map[string]bool)
	var notifiers []plugin.Notifier
	for projectID, project := range cfg.Projects {
		name := project.Plugins.Notifier
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if n := registry.Notifier(name); n != nil {
			notifiers = append(notifiers, n)
		} else {
			slog.Warn("Configured notifier not registered",
				"project", projectID, "notifier", name)
		}
	}
	if len(notifiers) == 0 {
		if n := registry.Notifier("log"); n != nil {
			notifiers = append(notifiers, n)
		}
	}
	return notifiers
}

// trackWorkspaces keeps the artifact watcher's workspace set in sync with
// session lifecycle events.
func trackWorkspaces(bus *events.Bus, manager *session.Manager, watcher *phase.Watcher) *events.Subscription {
	return bus.Subscribe(func(evt events.Event) {
		switch evt.Type {
		case events.TypeSessionSpawned:
			sess, err := manager.Get(evt.SessionID)
			if err != nil || sess.WorkspacePath == "" {
				return
			}
			if err := watcher.Add(sess.WorkspacePath); err != nil {
				slog.Warn("Failed to watch workspace",
					"session_id", evt.SessionID, "error", err)
			}
		case events.TypeSessionKilled:
			sess, err := manager.Get(evt.SessionID)
			if err != nil || sess.WorkspacePath == "" {
				return
			}
			watcher.Remove(sess.WorkspacePath)
		}
	})
}

// seedWatcher registers the workspaces of sessions that survived a restart.
func seedWatcher(ctx context.Context, manager *session.Manager, watcher *phase.Watcher) {
	sessions, err := manager.List(ctx, "")
	if err != nil {
		slog.Warn("Failed to list sessions for artifact watching", "error", err)
		return
	}
	for _, sess := range sessions {
		if sess.WorkspacePath == "" {
			continue
		}
		if err := watcher.Add(sess.WorkspacePath); err != nil {
			slog.Warn("Failed to watch workspace",
				"session_id", sess.ID, "error", err)
		}
	}
}

// logEvent is the bus log sink: every published event becomes one
// structured log line at a level matching its priority.
func logEvent(evt events.Event) {
	level := slog.LevelInfo
	switch evt.Priority {
	case events.PriorityUrgent:
		level = slog.LevelError
	case events.PriorityAction, events.PriorityWarning:
		level = slog.LevelWarn
	}
	slog.Default().Log(context.Background(), level, "Orchestrator event",
		"event_type", evt.Type,
		"project", evt.ProjectID,
		"session_id", evt.SessionID,
		"message", evt.Message)
}
