package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	perrors "github.com/yairfalse/permitwatch/internal/errors"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permitwatch",
		Short: "Watch permit availability and get told when days open up",
		Long: `permitwatch polls recreation.gov for the permits listed in its settings
file and sends a notification when days that were booked out become available.

The first check only records what is available. Every later check compares
against the stored availability and reports the days that were added.

  permitwatch run                 # check now, then every run-every seconds
  permitwatch run --once          # a single check
  permitwatch check -o yaml       # what would be reported, without saving
  permitwatch show                # the stored availability
  permitwatch validate            # check the settings file`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				runVersion(cmd, []string{})
				return nil
			}
			return runWatch(cmd, runOptions{})
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "settings file (default is ./settings.json or ~/.permitwatch/settings.json)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides the settings file")
	cmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	cmd.Flags().Bool("version", false, "show version information")

	viper.BindPFlag("output.no_color", cmd.PersistentFlags().Lookup("no-color"))

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newCheckCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newTestNotifyCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// Execute runs the root command and exits with the code for its error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(perrors.GetExitCode(err))
	}
}

func printError(w io.Writer, err error) {
	perrors.FprintError(w, err)
	if perrors.IsUserError(err) {
		fmt.Fprintln(w, "Run 'permitwatch validate' to check the settings file.")
	}
}
