package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"agentledger/internal/config"
	"agentledger/internal/ledger"
	"agentledger/internal/logging"
	"agentledger/internal/render"
	"agentledger/internal/storage"
	"agentledger/internal/tools"
)

var version = "dev"

// app carries the state shared by all subcommands for one invocation.
type app struct {
	configPath string
	root       string
	dbPath     string

	cfg    config.Config
	logger zerolog.Logger
	theme  render.Theme
	mgr    *ledger.Manager
}

func newApp() *app {
	return &app{theme: render.DarkTheme()}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ledger",
		Short:         "Record, commit, diff and roll back file changes made by agents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: ledger.config.json or .ledger/config.json)")
	root.PersistentFlags().StringVar(&a.root, "root", "", "tracked root directory (default: current directory)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "ledger database path (default: <root>/.ledger/ledger.db)")

	root.AddCommand(
		newServeCmd(a),
		newInitCmd(a),
		newStatusCmd(a),
		newTrackCmd(a),
		newCommitCmd(a),
		newLogCmd(a),
		newDiffCmd(a),
		newRollbackCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = logging.Init("ledger", logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if a.root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		a.root = wd
	}

	a.mgr = ledger.NewManager(ledger.ManagerOptions{
		DBPath:         cfg.Storage.DBPath,
		DefaultAgentID: cfg.Ledger.DefaultAgentID,
		OpenStore:      backendOpener(cfg.Storage),
		Logger:         &a.logger,
	})
	return nil
}

func (a *app) close() error {
	if a.mgr == nil {
		return nil
	}
	return a.mgr.Close()
}

// open installs the ledger session for the configured root.
func (a *app) open(ctx context.Context, forceNew bool) (ledger.InitResult, error) {
	return a.mgr.Init(ctx, ledger.InitOptions{Root: a.root, DBPath: a.dbPath, ForceNew: forceNew})
}

func (a *app) diffLimits() tools.DiffLimits {
	return tools.DiffLimits{MaxLines: a.cfg.Diff.MaxLines, MaxBytes: a.cfg.Diff.MaxBytes}
}

func (a *app) debounce() time.Duration {
	return time.Duration(a.cfg.Watch.DebounceMS) * time.Millisecond
}

// backendOpener selects the store for the configured backend. The Redis
// backend ignores the database path.
func backendOpener(sc config.StorageConfig) ledger.StoreOpener {
	if sc.Backend != config.BackendRedis {
		return ledger.OpenSQLite
	}
	return func(ctx context.Context, _ string) (storage.Store, error) {
		return storage.NewRedisStore(ctx, storage.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		})
	}
}
