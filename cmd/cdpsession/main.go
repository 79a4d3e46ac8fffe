// Package main provides the cdpsession CLI: it opens a session against a
// locally running browser, issues a single protocol command, and prints the
// result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360/cdpsession/config"
	"github.com/c360/cdpsession/connection"
	"github.com/c360/cdpsession/health"
	"github.com/c360/cdpsession/metric"
	"github.com/c360/cdpsession/session"
)

var version = "dev"

type cliFlags struct {
	configPath  string
	port        int
	method      string
	params      string
	timeout     time.Duration
	watch       bool
	showVersion bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()
	if flags.showVersion {
		fmt.Println("cdpsession", version)
		return 0
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *metric.Metrics
	if cfg.Metrics.Enabled {
		registry := metric.NewMetricsRegistry()
		metrics = registry.CoreMetrics()
		server := registry.Serve(cfg.Metrics.Addr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	monitor := health.NewMonitor()

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithHealthMonitor(monitor),
	}
	if metrics != nil {
		opts = append(opts, session.WithMetrics(metrics))
	}

	sess, err := session.New(cfg.Session, opts...)
	if err != nil {
		logger.Error("session setup failed", "error", err)
		return 1
	}
	defer func() { _ = sess.Close() }()

	if err := sess.Open(ctx); err != nil {
		logger.Error("failed to open session", "error", err)
		return 1
	}
	logger.Info("session open", "session_id", sess.ID())

	var params any
	if flags.params != "" {
		if err := json.Unmarshal([]byte(flags.params), &params); err != nil {
			logger.Error("params must be a JSON object", "error", err)
			return 1
		}
	}

	result, err := sess.Call(ctx, "cli", flags.method, params, flags.timeout)
	if err != nil {
		logger.Error("command failed", "method", flags.method, "error", err)
		return 1
	}
	printResult(result)

	if flags.watch {
		return watchEvents(ctx, logger, sess, monitor)
	}
	return 0
}

func parseFlags() *cliFlags {
	flags := &cliFlags{}
	flag.StringVar(&flags.configPath, "config", "", "Path to YAML configuration file")
	flag.IntVar(&flags.port, "port", 0, "Browser remote debugging port (overrides config)")
	flag.StringVar(&flags.method, "method", "Browser.getVersion", "Protocol method to invoke")
	flag.StringVar(&flags.params, "params", "", "Method parameters as a JSON object")
	flag.DurationVar(&flags.timeout, "timeout", 0, "Per-request timeout (0 = configured default)")
	flag.BoolVar(&flags.watch, "watch", false, "Stay attached and print protocol events until interrupted")
	flag.BoolVar(&flags.showVersion, "version", false, "Show version information")
	flag.Parse()
	return flags
}

func loadConfig(flags *cliFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flags.port != 0 {
		cfg.Session.Discovery.Port = flags.port
	}
	return cfg, nil
}

func printResult(result json.RawMessage) {
	var pretty any
	if err := json.Unmarshal(result, &pretty); err == nil {
		if out, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			fmt.Println(string(out))
			return
		}
	}
	fmt.Println(string(result))
}

// watchEvents streams protocol events and connection transitions to stdout
// until the context is cancelled or the connection turns terminal.
func watchEvents(ctx context.Context, logger *slog.Logger, sess *session.Session, monitor *health.Monitor) int {
	logger.Info("watching protocol events, interrupt to stop")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0
		case ev, ok := <-sess.Events():
			if !ok {
				return 0
			}
			fmt.Printf("%s %s\n", ev.Method, string(ev.Params))
		case cev, ok := <-sess.ConnectionEvents():
			if !ok {
				return 0
			}
			logger.Info("connection event", "event", cev.Type.String(), "error", cev.Err)
			if cev.Type == connection.EventReconnectExhausted {
				logger.Error("connection is terminal, exiting")
				return 1
			}
		case <-ticker.C:
			agg := monitor.AggregateHealth("cdpsession")
			logger.Info("health", "status", agg.Status, "components", len(agg.SubStatuses))
		}
	}
}
