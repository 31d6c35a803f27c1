package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/permitwatch/internal/differ"
	"github.com/yairfalse/permitwatch/internal/notifier"
)

func newTestNotifyCommand() *cobra.Command {
	var asError bool

	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test message through the configured notifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestNotify(cmd, asError)
		},
	}

	cmd.Flags().BoolVar(&asError, "error", false, "send to the error recipients instead")

	return cmd
}

func runTestNotify(cmd *cobra.Command, asError bool) error {
	ctx := commandContext(cmd)

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, settings)
	if err != nil {
		return err
	}

	multi, err := notifier.New(settings, log)
	if err != nil {
		return err
	}
	defer multi.Close()

	now := time.Now()
	msg := notifier.Message{
		Subject: "PERMITWATCH: Test notification",
		Body:    fmt.Sprintf("This is a test message sent at %s.\n", now.Format("Jan 2, 2006 3:04 PM")),
	}
	if asError {
		msg = notifier.Message{
			Subject: differ.ErrorSubject(),
			Body:    differ.ErrorBody(now, "test error notification"),
			IsError: true,
		}
	}

	if err := multi.Send(ctx, msg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent test message through %d notifier(s)\n", multi.Len())
	return nil
}
