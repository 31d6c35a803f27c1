package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/viper"
)

// FprintError writes a formatted error to w
func FprintError(w io.Writer, err error) {
	color.NoColor = noColor()

	var pe *PermitError
	if !stderrors.As(err, &pe) {
		fmt.Fprintln(w, color.RedString("Error: %v", err))
		return
	}

	colorFunc := getErrorStyle(pe.Type)

	header := pe.Message
	if pe.Subject != "" {
		header += " (" + pe.Subject + ")"
	}
	fmt.Fprintf(w, "\n%s\n", colorFunc("Error: %s", header))

	cause := pe.Cause
	if pe.Err != nil {
		cause = pe.Err.Error()
	}
	if cause != "" {
		fmt.Fprintf(w, "   %s %s\n", color.YellowString("Cause:"), color.HiBlackString(cause))
	}

	if len(pe.Solutions) > 0 {
		fmt.Fprintf(w, "\n   %s\n", color.GreenString("Solutions:"))
		for i, solution := range pe.Solutions {
			fmt.Fprintf(w, "   %s %s\n", color.HiBlackString(fmt.Sprintf("%d.", i+1)), solution)
		}
	}

	if pe.Help != "" {
		fmt.Fprintf(w, "   %s %s\n", color.MagentaString("Help:"), color.HiWhiteString(pe.Help))
	}

	fmt.Fprintln(w)
}

// FormatPlain formats an error without color, for email bodies and logs
func FormatPlain(err error) string {
	var pe *PermitError
	if !stderrors.As(err, &pe) {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString(pe.Error())
	if len(pe.Solutions) > 0 {
		sb.WriteString("\n\nSolutions:\n")
		for i, solution := range pe.Solutions {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, solution))
		}
	}
	return sb.String()
}

// getErrorStyle returns the appropriate color function for an error type
func getErrorStyle(errType ErrorType) func(format string, a ...interface{}) string {
	switch errType {
	case ErrorTypeConfiguration:
		return color.YellowString
	case ErrorTypeFetch:
		return color.CyanString
	case ErrorTypePersistence:
		return color.MagentaString
	default:
		return color.RedString
	}
}

func noColor() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("PERMITWATCH_NO_COLOR") != "" {
		return true
	}
	return viper.IsSet("output.no_color") && viper.GetBool("output.no_color")
}
