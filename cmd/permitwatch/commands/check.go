package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/permitwatch/internal/differ"
	"github.com/yairfalse/permitwatch/internal/runner"
)

func newCheckCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Show what a check would report, without saving or notifying",
		Long: `Check fetches every configured permit and compares it with the stored
availability, exactly like a run would. Nothing is saved and no notification
is sent, so the same days are reported again by the next run.`,
		Example: `  permitwatch check
  permitwatch check --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, json, yaml)")

	return cmd
}

func runCheck(cmd *cobra.Command, output string) error {
	ctx := commandContext(cmd)

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
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

	r, err := runner.New(runner.Config{
		Settings: settings,
		Fetcher:  deps.fetcher,
		Notifier: deps.notifier,
		Store:    deps.store,
		Log:      log,
	})
	if err != nil {
		return err
	}

	report, _, err := r.Preview(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if output != outputText {
		return writeStructured(out, output, report)
	}
	if report.Empty() {
		fmt.Fprintln(out, differ.Summary(report))
		return nil
	}
	fmt.Fprint(out, differ.FormatReport(report))
	return nil
}
