package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the settings file and list the defaults it relies on",
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, notice := range settings.Notices {
		fmt.Fprintln(out, "NOTICE: "+notice)
	}

	fmt.Fprintf(out, "Settings OK: %s\n", settings.Path)
	fmt.Fprintf(out, "  permits:   %d\n", len(settings.Permits))
	fmt.Fprintf(out, "  dates:     %s\n", settings.Range)
	months := make([]string, 0, len(settings.Range.Buckets()))
	for _, bucket := range settings.Range.Buckets() {
		months = append(months, string(bucket))
	}
	fmt.Fprintf(out, "  months:    %s\n", strings.Join(months, ", "))
	fmt.Fprintf(out, "  interval:  %s\n", settings.Interval())
	fmt.Fprintf(out, "  notifiers: %s\n", strings.Join(settings.Notifiers, ", "))
	fmt.Fprintf(out, "  storage:   %s\n", settings.Storage.URL)
	return nil
}
