package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yairfalse/permitwatch/internal/runner"
	"github.com/yairfalse/permitwatch/pkg/config"
)

type runOptions struct {
	once        bool
	watchConfig bool
}

func newRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check for new availability now and then on a fixed interval",
		Long: `Run checks every configured permit, stores what it found and sends a
notification for days that became available since the previous check. It then
waits run-every seconds and checks again, until interrupted.

A failed check is reported to the error recipients and retried at the next
interval. Ctrl-C waits for a running check to finish before exiting.`,
		Example: `  permitwatch run
  permitwatch run --once
  permitwatch run --config ~/permits.yaml --watch-config`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.once, "once", false, "check once and exit, overriding run-once")
	cmd.Flags().BoolVar(&opts.watchConfig, "watch-config", false, "apply edits to the settings file at the next check")

	return cmd
}

func runWatch(cmd *cobra.Command, opts runOptions) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if opts.once {
		settings.RunOnce = true
	}
	printNotices(cmd, settings)

	log, err := newLogger(cmd, settings)
	if err != nil {
		return err
	}

	deps, err := openCollaborators(ctx, settings, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	var reloads <-chan *config.Settings
	if opts.watchConfig && !settings.RunOnce {
		watcher, err := config.NewWatcher(settings.Path, log)
		if err != nil {
			return err
		}
		go watcher.Run(ctx)
		reloads = watcher.Updates()
	}

	var r *runner.Runner
	r, err = runner.New(runner.Config{
		Settings: settings,
		Fetcher:  deps.fetcher,
		Notifier: deps.notifier,
		Store:    deps.store,
		Log:      log,
		Reloads:  reloads,
		OnCycle: func(result runner.CycleResult) {
			log.WithField("cycle", result.ID).Debug(r.Status().String())
		},
	})
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"permits":  len(settings.Permits),
		"dates":    settings.Range.String(),
		"storage":  deps.store.Location(),
		"run_once": settings.RunOnce,
	}).Info("starting permit watch")

	return r.Run(ctx)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
