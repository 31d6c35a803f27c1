package commands

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	perrors "github.com/yairfalse/permitwatch/internal/errors"
	"github.com/yairfalse/permitwatch/internal/storage"
	"github.com/yairfalse/permitwatch/pkg/types"
)

func newShowCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputYAML, "output format (json, yaml)")

	return cmd
}

func runShow(cmd *cobra.Command, output string) error {
	ctx := commandContext(cmd)

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, settings)
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, settings.Storage.URL, storage.Options{
		Backup: settings.Storage.Backup,
		Log:    log,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	current, err := store.Load(ctx)
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		cmd.PrintErrln("Nothing stored yet at " + store.Location())
		current = types.Store{}
	case err != nil:
		return perrors.PersistenceError(store.Location(), err)
	default:
		describeStore(ctx, cmd.ErrOrStderr(), store)
	}

	return writeStructured(cmd.OutOrStdout(), output, current)
}

// describeStore prints what the backend can tell about the saved document
func describeStore(ctx context.Context, w io.Writer, store storage.Store) {
	if timed, ok := store.(interface {
		UpdatedAt(ctx context.Context) (time.Time, error)
	}); ok {
		if updated, err := timed.UpdatedAt(ctx); err == nil {
			fmt.Fprintf(w, "Last saved %s\n", humanize.Time(updated))
		}
	}
	if backed, ok := store.(interface{ Backups() ([]string, error) }); ok {
		if backups, err := backed.Backups(); err == nil && len(backups) > 0 {
			fmt.Fprintf(w, "%d previous copies kept, newest %s\n", len(backups), backups[0])
		}
	}
}
