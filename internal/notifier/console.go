package notifier

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	perrors "github.com/yairfalse/permitwatch/internal/errors"
)

// ConsoleNotifier prints messages to a terminal or log stream
type ConsoleNotifier struct {
	out     io.Writer
	subject *color.Color
	failure *color.Color
	body    *color.Color
}

// NewConsoleNotifier writes to out. Colors are used only when out is a
// terminal.
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	n := &ConsoleNotifier{
		out:     out,
		subject: color.New(color.FgGreen, color.Bold),
		failure: color.New(color.FgRed, color.Bold),
		body:    color.New(color.FgWhite),
	}
	if !isTerminal(out) {
		n.subject.DisableColor()
		n.failure.DisableColor()
		n.body.DisableColor()
	}
	return n
}

func (n *ConsoleNotifier) Send(ctx context.Context, msg Message) error {
	heading := n.subject
	if msg.IsError {
		heading = n.failure
	}

	if _, err := heading.Fprintln(n.out, msg.Subject); err != nil {
		return perrors.NotificationError("console", err)
	}
	body := strings.TrimRight(msg.Body, "\n")
	if body != "" {
		if _, err := n.body.Fprintln(n.out, body); err != nil {
			return perrors.NotificationError("console", err)
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
