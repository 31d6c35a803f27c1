package notifier

import (
	"context"
	"io"

	"github.com/hashicorp/go-multierror"
)

// Multi sends every message to all of its notifiers. One failing backend
// does not stop the others; their failures are returned together.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a fan-out notifier
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Len returns the number of backends
func (m *Multi) Len() int {
	return len(m.notifiers)
}

func (m *Multi) Send(ctx context.Context, msg Message) error {
	var result *multierror.Error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close releases backends that hold connections
func (m *Multi) Close() error {
	var result *multierror.Error
	for _, n := range m.notifiers {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}
