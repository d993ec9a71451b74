package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"claudesched/internal/config"
	"claudesched/internal/logging"
	"claudesched/internal/manager"
	"claudesched/internal/notify"
	"claudesched/internal/scheduler"
	"claudesched/internal/store"
)

type rootOptions struct {
	overrides config.Overrides
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "claudesched",
		Short: "Schedule Claude prompts with the operating system's native scheduler",
		Long: `claudesched keeps a registry of cron-style tasks and registers each one
with launchd (macOS), crontab (Linux) or Task Scheduler (Windows), so tasks
fire even when no claudesched process is running.`,
		Version:       Version,
		SilenceUsage:  true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.overrides.StateDir, "state-dir", "", "registry directory (default ~/.claude)")
	flags.StringVar(&opts.overrides.LogDir, "log-dir", "", "task output and script directory (default <state-dir>/logs)")
	flags.StringVar(&opts.overrides.LogLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&opts.overrides.LogFormat, "log-format", "", "text or json")
	flags.StringVar(&opts.overrides.Platform, "platform", "", "native backend: darwin, linux or windows (default this OS)")

	cmd.AddCommand(
		newAddCmd(opts),
		newUpdateCmd(opts),
		newRemoveCmd(opts),
		newEnableCmd(opts, true),
		newEnableCmd(opts, false),
		newListCmd(opts),
		newShowCmd(opts),
		newScriptCmd(opts),
		newLogsCmd(opts),
		newRegistrationsCmd(opts),
		newStatusCmd(opts),
		newSyncCmd(opts),
		newPreviewCmd(),
		newServeCmd(opts),
		newMCPCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// app bundles the wired dependencies of a command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	manager *manager.Manager
}

func (o *rootOptions) open(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Apply(o.overrides); err != nil {
		return nil, fmt.Errorf("apply flags: %w", err)
	}

	// Logs go to stderr so stdout stays free for command output and MCP.
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, nil)

	if !scheduler.IsSupported(cfg.Platform) {
		return nil, fmt.Errorf("platform %q has no native scheduler, use one of %s",
			cfg.Platform, strings.Join(scheduler.SupportedPlatforms(), ", "))
	}
	sched, err := scheduler.Resolve(cfg.Platform, scheduler.Options{
		LogDir:    cfg.LogDir,
		ClaudeBin: cfg.ClaudeBin,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.StateDir, cfg.Retention)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	mgr := manager.New(st, sched, notifier, logger, manager.Options{
		LogDir:    cfg.LogDir,
		ClaudeBin: cfg.ClaudeBin,
	})
	logger.Debug("configured", "platform", cfg.Platform, "scheduler", sched.Name(), "state_dir", cfg.StateDir)
	return &app{cfg: cfg, logger: logger, store: st, manager: mgr}, nil
}

// buildNotifier returns one Bark notifier per comma-separated URL.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	if !cfg.Notification.Bark.Enabled {
		return notify.NoOpNotifier{}, nil
	}
	var notifiers []notify.Notifier
	for _, url := range strings.Split(cfg.Notification.Bark.URL, ",") {
		if strings.TrimSpace(url) == "" {
			continue
		}
		bark, err := notify.NewBarkNotifier(url)
		if err != nil {
			return nil, fmt.Errorf("configure bark: %w", err)
		}
		notifiers = append(notifiers, bark)
	}
	if len(notifiers) == 1 {
		return notifiers[0], nil
	}
	return notify.NewMultiNotifier(notifiers...), nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "err", err)
	}
}

// withApp opens the app for the duration of fn.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
