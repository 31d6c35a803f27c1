package commands

import (
	"context"

	"github.com/spf13/cobra"

	perrors "github.com/yairfalse/permitwatch/internal/errors"
	"github.com/yairfalse/permitwatch/internal/fetcher"
	"github.com/yairfalse/permitwatch/internal/logger"
	"github.com/yairfalse/permitwatch/internal/notifier"
	"github.com/yairfalse/permitwatch/internal/storage"
	"github.com/yairfalse/permitwatch/pkg/config"
)

// loadSettings reads the settings file named by --config, or the first
// default location that exists
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	path, err := config.ResolvePath(cfgFile)
	if err != nil {
		return nil, err
	}
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		settings.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}
	return settings, nil
}

func newLogger(cmd *cobra.Command, settings *config.Settings) (logger.Logger, error) {
	log, err := logger.New(logger.Options{
		Level:  settings.Logging.Level,
		Format: settings.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, perrors.ConfigError(err.Error(), `Check "logging.level" and "logging.format"`)
	}
	return log, nil
}

// printNotices writes the defaults that were filled in
func printNotices(cmd *cobra.Command, settings *config.Settings) {
	for _, notice := range settings.Notices {
		cmd.PrintErrln("NOTICE: " + notice)
	}
}

func newFetcher(settings *config.Settings, log logger.Logger) *fetcher.RecreationClient {
	if settings.ShowBrowser {
		log.Debug(`"show-browser" has no effect, availability is read from the API`)
	}
	return fetcher.NewRecreationClient(fetcher.Options{
		BaseURL:    settings.API.BaseURL,
		UserAgent:  settings.API.UserAgent,
		Timeout:    settings.WaitBudget(),
		DetailsTTL: settings.API.DetailsTTL,
		Log:        log.WithField("component", "fetcher"),
	})
}

// collaborators are the pieces a runner is built from
type collaborators struct {
	store    storage.Store
	notifier *notifier.Multi
	fetcher  *fetcher.RecreationClient
}

func (c *collaborators) Close() error {
	c.notifier.Close()
	return c.store.Close()
}

func openCollaborators(ctx context.Context, settings *config.Settings, log logger.Logger) (*collaborators, error) {
	store, err := storage.Open(ctx, settings.Storage.URL, storage.Options{
		Backup: settings.Storage.Backup,
		Log:    log,
	})
	if err != nil {
		return nil, err
	}

	multi, err := notifier.New(settings, log)
	if err != nil {
		store.Close()
		return nil, perrors.ConfigError(err.Error())
	}

	return &collaborators{
		store:    store,
		notifier: multi,
		fetcher:  newFetcher(settings, log),
	}, nil
}
