// Command nodewatch monitors a fleet of nodes: one-shot checks, a
// continuous watch loop and the web dashboard.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nodewatch/nodewatch/internal/channels"
	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/dashboard"
	"github.com/nodewatch/nodewatch/internal/model"
	"github.com/nodewatch/nodewatch/internal/monitor"
	"github.com/nodewatch/nodewatch/internal/notify"
	"github.com/nodewatch/nodewatch/internal/remediation"
)

const usage = `Usage: nodewatch <command> [flags]

Commands:
  check        run one check cycle with alerting and remediation
  quick        check a single ad-hoc node without a config file
  watch        run check cycles continuously
  serve        run watch mode plus the web dashboard
  init-config  write an example configuration file

Flags:
  -config path   configuration file (default nodewatch.yaml)
  -json          emit the report as JSON instead of a table

Quick flags (local host unless -host is given):
  -host, -port, -user, -password, -key, -platform, -services a,b,c
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "nodewatch.yaml", "configuration file")
	jsonOut := fs.Bool("json", false, "emit the report as JSON")
	host := fs.String("host", "", "ad-hoc node SSH host (quick only)")
	port := fs.Int("port", 22, "ad-hoc node SSH port (quick only)")
	user := fs.String("user", "", "ad-hoc node SSH username (quick only)")
	password := fs.String("password", "", "ad-hoc node SSH password (quick only)")
	keyFile := fs.String("key", "", "ad-hoc node SSH private key file (quick only)")
	platform := fs.String("platform", "linux", "ad-hoc node platform (quick only)")
	services := fs.String("services", "", "comma-separated services to check (quick only)")
	fs.Parse(os.Args[2:])

	// A .env next to the binary may carry NW_* secrets.
	godotenv.Load()

	if command == "init-config" {
		if err := config.WriteExample(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "nodewatch: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote example configuration to %s\n", *configPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if command == "quick" {
		// Quick checks describe their node on the command line and need
		// no configuration file.
		logger := newLogger(config.LoggingConfig{})
		slog.SetDefault(logger)
		cfg := adhocConfig(*host, *port, *user, *password, *keyFile, *platform, *services)
		if err := runQuick(ctx, cfg, logger, *jsonOut); err != nil {
			logger.Error("quick check failed", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nodewatch: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	switch command {
	case "check":
		err = runCheck(ctx, cfg, logger, *jsonOut)
	case "watch":
		err = runWatch(ctx, cfg, logger, false)
	case "serve":
		err = runWatch(ctx, cfg, logger, true)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !isShutdown(err) {
		logger.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}

// adhocConfig builds a one-node configuration from quick-check flags:
// an SSH node when a host is given, the local host otherwise.
func adhocConfig(host string, port int, user, password, keyFile, platform, services string) *config.Config {
	node := &config.NodeConfig{
		Name:     "localhost",
		Platform: platform,
		Local:    true,
	}
	if host != "" {
		node.Name = host
		node.Local = false
		node.SSH = &config.SSHConfig{
			Host:     host,
			Port:     port,
			Username: user,
			Password: password,
			KeyFile:  keyFile,
		}
	}
	if services != "" {
		for _, s := range strings.Split(services, ",") {
			if s = strings.TrimSpace(s); s != "" {
				node.Services = append(node.Services, s)
			}
		}
	}
	return &config.Config{
		Nodes:      map[string]*config.NodeConfig{node.Name: node},
		Thresholds: config.DefaultThresholds(),
	}
}

// runCheck performs a single cycle with the full alerting pipeline and
// exits with a code reflecting the cluster severity.
func runCheck(ctx context.Context, cfg *config.Config, logger *slog.Logger, jsonOut bool) error {
	events := channels.NewEventChannels(channels.DefaultConfig())

	m := monitor.New(cfg, events, logger)
	rem := remediation.NewDispatcher(cfg.Nodes, logger)
	m.SetNoteSource(rem)
	notifier := notify.NewDispatcher(notify.FromConfig(cfg.Notifiers), logger)

	var workers errgroup.Group
	workers.Go(func() error {
		notifier.Run(ctx, events.Alerts)
		return nil
	})
	workers.Go(func() error {
		rem.Run(ctx, events.Remediation)
		return nil
	})
	// The report channel has no consumer in one-shot mode; drain it so
	// the hub buffer never matters.
	workers.Go(func() error {
		for range events.Reports {
		}
		return nil
	})

	report, err := m.RunCycle(ctx)

	events.Close()
	workers.Wait()

	if err != nil {
		return err
	}
	if printErr := printReport(report, jsonOut); printErr != nil {
		return printErr
	}
	os.Exit(exitCode(report.Overall))
	return nil
}

// runQuick collects and grades without alerting.
func runQuick(ctx context.Context, cfg *config.Config, logger *slog.Logger, jsonOut bool) error {
	events := channels.NewEventChannels(channels.DefaultConfig())
	defer events.Close()

	m := monitor.New(cfg, events, logger)
	report, err := m.QuickCheck(ctx)
	if err != nil {
		return err
	}
	if err := printReport(report, jsonOut); err != nil {
		return err
	}
	os.Exit(exitCode(report.Overall))
	return nil
}

// runWatch runs the continuous pipeline; withDashboard additionally
// serves the web UI.
func runWatch(ctx context.Context, cfg *config.Config, logger *slog.Logger, withDashboard bool) error {
	events := channels.NewEventChannels(channels.DefaultConfig())
	defer events.Close()

	m := monitor.New(cfg, events, logger)
	rem := remediation.NewDispatcher(cfg.Nodes, logger)
	m.SetNoteSource(rem)
	notifier := notify.NewDispatcher(notify.FromConfig(cfg.Notifiers), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		notifier.Run(gctx, events.Alerts)
		return nil
	})
	g.Go(func() error {
		rem.Run(gctx, events.Remediation)
		return nil
	})
	if withDashboard && cfg.Dashboard.Enabled {
		srv := dashboard.New(cfg.Dashboard, m, logger)
		g.Go(func() error {
			return srv.Run(gctx, events.Reports)
		})
	} else {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case _, ok := <-events.Reports:
					if !ok {
						return nil
					}
				}
			}
		})
	}
	g.Go(func() error {
		return m.Watch(gctx)
	})

	return g.Wait()
}

func exitCode(sev model.Severity) int {
	switch sev {
	case model.SeverityOK:
		return 0
	case model.SeverityWarning:
		return 1
	case model.SeverityCritical:
		return 2
	default:
		return 3
	}
}

func printReport(report *model.ClusterReport, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tSTATUS\tMEMORY\tDISK\tLOAD\tDETAIL")
	for _, n := range report.Nodes {
		memory, disk, load := "-", "-", "-"
		if n.Snapshot != nil {
			memory = fmt.Sprintf("%.1f%%", n.Snapshot.MemoryPercent)
			disk = fmt.Sprintf("%.1f%%", n.Snapshot.DiskPercent)
			if n.Snapshot.Load != nil {
				load = fmt.Sprintf("%.2f", n.Snapshot.Load.Load1)
			}
		}
		detail := n.Error
		if detail == "" {
			detail = n.RemediationNote
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			n.Node, strings.ToUpper(n.Overall.String()), memory, disk, load, detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	s := report.Summary
	fmt.Printf("\ncluster: %s (%d nodes: %d ok, %d warning, %d critical, %d unknown)\n",
		strings.ToUpper(report.Overall.String()),
		s.Total, s.OK, s.Warning, s.Critical, s.Unknown)
	return nil
}
