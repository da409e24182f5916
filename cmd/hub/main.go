// Command hub implements the hub side of the file-tree backup engine
// (spec.md §4): a scheduler-gated per-leaf sync pipeline, an optional
// serve mode exposing health/metrics/reports, and first-time leaf
// provisioning via create-remote-db.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jianglibo/bkoverssh/pkg/archive"
	"github.com/jianglibo/bkoverssh/pkg/config"
	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/helper/log"
	"github.com/jianglibo/bkoverssh/pkg/httpapi"
	"github.com/jianglibo/bkoverssh/pkg/inventory"
	"github.com/jianglibo/bkoverssh/pkg/metrics"
	"github.com/jianglibo/bkoverssh/pkg/report"
	"github.com/jianglibo/bkoverssh/pkg/scheduler"
	"github.com/jianglibo/bkoverssh/pkg/session"
	"github.com/jianglibo/bkoverssh/pkg/slashpath"
	"github.com/jianglibo/bkoverssh/pkg/sync"
	"github.com/jianglibo/bkoverssh/pkg/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	var leafBinary string

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Hub-side CLI for a file-tree backup engine",
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&leafBinary, "leaf-bin", "leaf", "remote command name of the leaf binary")

	registry := metrics.NewRegistry()

	cmd.AddCommand(newSyncCmd(&leafBinary, &logLevel, registry))
	cmd.AddCommand(newServeCmd(&logLevel, registry))
	cmd.AddCommand(newCreateRemoteDBCmd(&leafBinary))
	return cmd
}

func newLogger(level string) log.Logger {
	switch level {
	case "debug":
		return log.NewBasicLogger(log.DebugLevel)
	case "warn":
		return log.NewBasicLogger(log.WarnLevel)
	case "error":
		return log.NewBasicLogger(log.ErrorLevel)
	default:
		return log.NewBasicLogger(log.InfoLevel)
	}
}

func dialLeaf(cfg *config.ServerYml) (*transport.Conn, error) {
	tcfg := transport.Config{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User: cfg.User,
	}
	if cfg.PrivateKeyPath != "" {
		pem, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, errors.Wrap(err, "read private key %s", cfg.PrivateKeyPath)
		}
		tcfg.PrivateKeyPEM = pem
	} else {
		tcfg.Password = cfg.Password
	}
	return transport.Dial(tcfg)
}

// runSyncOnce performs one gated sync cycle for leaf: connect, pull or
// push per cfg.EffectiveMode, archive+prune every directory's hub-side
// mirror, write the run report, and mark the scheduler claim done.
func runSyncOnce(ctx context.Context, logger log.Logger, registry *metrics.Registry, leafBinary string, leaf session.Leaf) (err error) {
	// session.Manager's own runGuarded already isolates a panicking task
	// into an error, but that happens above this closure and has no
	// registry in scope. Recovering here too lets the panic still surface
	// as a plain error to the manager while being counted.
	defer func() {
		if r := recover(); r != nil {
			registry.RecordPanic("sync")
			err = fmt.Errorf("sync run panicked: %v", r)
		}
	}()

	cfg, err := config.LoadFromFile(leaf.ServerYmlPath)
	if err != nil {
		return err
	}

	layout := config.NewLayout(cfg.MyDir)
	for _, dir := range layout.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create hub layout dir %s", dir)
		}
	}

	store, err := inventory.Open(layout.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	gate := scheduler.NewGate(store, logger)
	now := time.Now()
	decision, fireTime, err := gate.Check(ctx, cfg.Path, "sync", cfg.CronExpr, now)
	if err != nil {
		return err
	}
	if decision != scheduler.Run {
		registry.RecordSchedulerDecision(leaf.Name, "wait")
		return nil
	}
	registry.RecordSchedulerDecision(leaf.Name, "run")

	mode := cfg.EffectiveMode()
	conn, err := dialLeaf(cfg)
	if err != nil {
		registry.RecordAuthFailure(leaf.Name)
		return err
	}
	defer conn.Close()

	registry.SetLeavesActive(1)
	defer registry.SetLeavesActive(0)

	started := time.Now()
	var stats *report.ProcessStats
	switch mode {
	case "push":
		stats, err = sync.RunPushSession(ctx, conn, leafBinary, cfg.Path, cfg.Path, store, cfg.Directories, false, cfg.EffectiveSQLBatchSize(), logger)
	default:
		workingInventoryPath := filepath.Join(layout.WorkingDir(), "file_list_working.txt")
		window := cfg.Window
		stats, err = sync.RunPull(ctx, conn, leafBinary, cfg.Path, workingInventoryPath, layout.WorkingDir(), cfg.Directories, cfg.RsyncValve, window, logger)
	}
	duration := time.Since(started)
	if err != nil {
		registry.RecordSync(leaf.Name, mode, "failed", duration, 0, 0)
		registry.RecordSyncError(leaf.Name, "transport")
		logger.WithField("leaf", leaf.Name).Error("sync run failed", err)
		return err
	}
	registry.RecordSync(leaf.Name, mode, "succeeded", duration, int64(stats.BytesTransferred), stats.Succeeded)
	registry.ObserveSchedulerClaimDuration(leaf.Name, duration)

	if err := archiveAndPrune(cfg, logger); err != nil {
		logger.WithField("leaf", leaf.Name).Error("archive/prune failed", err)
	}

	writer := report.NewWriter(layout.ReportPath())
	if err := writer.Append(started, duration, stats); err != nil {
		logger.WithField("leaf", leaf.Name).Error("write report failed", err)
	}

	return gate.MarkDone(ctx, cfg.Path, "sync", fireTime)
}

// archiveAndPrune rolls a fresh archive of each directory's hub-side
// mirror and prunes by the configured keep-last-N strategy. When the
// server yml sets neither an archive prefix nor an archive postfix,
// nothing is archived or pruned.
func archiveAndPrune(cfg *config.ServerYml, logger log.Logger) error {
	if cfg.ArchivePrefix == "" && cfg.ArchivePostfix == "" {
		return nil
	}
	naming := archive.Naming{
		Prefix:          cfg.ArchivePrefix,
		Postfix:         cfg.ArchivePostfix,
		TimestampFormat: cfg.ArchiveTimestampFormat,
	}
	var errs []error
	for i := range cfg.Directories {
		dir := &cfg.Directories[i]
		archivesDir := filepath.Join(cfg.MyDir, "archives", slashpath.New(dir.RemoteDir).LastName())
		if err := os.MkdirAll(archivesDir, 0o755); err != nil {
			errs = append(errs, err)
			continue
		}
		opts := archive.Options{ArchivesDir: archivesDir, Naming: naming}
		if _, err := archive.Create(dir.LocalDir, opts, time.Now(), logger); err != nil {
			errs = append(errs, err)
			continue
		}
		strategy := archive.PruneStrategy{KeepLastN: cfg.ArchiveKeepLastN}
		if _, err := archive.Prune(archivesDir, naming, strategy, logger); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Multiple(errs...)
	}
	return nil
}

func newSyncCmd(leafBinary, logLevel *string, registry *metrics.Registry) *cobra.Command {
	var service bool
	var tick time.Duration

	cmd := &cobra.Command{
		Use:   "sync <server-yml>...",
		Short: "Run one gated sync cycle per configured leaf, or loop forever with --service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			leaves := make([]session.Leaf, len(args))
			for i, path := range args {
				cfg, err := config.LoadFromFile(path)
				if err != nil {
					return err
				}
				leaves[i] = session.Leaf{Name: filepath.Base(path), ServerYmlPath: path, CronExpr: cfg.CronExpr}
			}
			registry.SetWorkerPoolSize(len(leaves))

			manager := session.NewManager(logger, func(ctx context.Context, leaf session.Leaf) error {
				return runSyncOnce(ctx, logger, registry, *leafBinary, leaf)
			})

			ctx := cmd.Context()
			if service {
				manager.RunService(ctx, leaves, tick)
				return nil
			}

			var failed int
			for _, result := range manager.RunOnce(ctx, leaves) {
				if result.Err != nil {
					logger.WithField("leaf", result.Leaf.Name).Error("sync failed", result.Err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d leaves failed", failed, len(leaves))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&service, "service", false, "loop forever, checking the scheduler gate on each tick")
	cmd.Flags().DurationVar(&tick, "tick", time.Minute, "tick interval used by --service")
	return cmd
}

func newServeCmd(logLevel *string, registry *metrics.Registry) *cobra.Command {
	var addr string
	var reportsPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the hub's HTTP server (/healthz, /metrics, /reports)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			server := httpapi.NewServer(logger, httpapi.Options{Addr: addr, ReportsPath: reportsPath, Metrics: registry})
			return server.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&reportsPath, "reports", "", "path to the JSON-lines report file served at /reports")
	return cmd
}

func newCreateRemoteDBCmd(leafBinary *string) *cobra.Command {
	var remoteDBPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "create-remote-db <server-yml>",
		Short: "SSH to the leaf named by server-yml and initialize its local inventory database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			conn, err := dialLeaf(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			dbPath := remoteDBPath
			if dbPath == "" {
				dbPath = slashpath.New(cfg.Path).Parent().Join("leaf.db").String()
			}
			remoteCmd := fmt.Sprintf("%s create-db --db %s", *leafBinary, dbPath)
			if force {
				remoteCmd += " --force"
			}
			stream, err := conn.Exec(remoteCmd)
			if err != nil {
				return err
			}
			if _, err := io.Copy(io.Discard, stream); err != nil {
				stream.Close()
				return errors.Wrap(err, "drain remote create-db output")
			}
			return stream.Close()
		},
	}
	cmd.Flags().StringVar(&remoteDBPath, "db", "", "remote inventory database path (default: leaf.db next to the leaf's server yml)")
	cmd.Flags().BoolVar(&force, "force", false, "drop and recreate an existing remote database")
	return cmd
}
