package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	perrors "github.com/yairfalse/permitwatch/internal/errors"
)

const (
	notificationsDest   = "org.freedesktop.Notifications"
	notificationsPath   = "/org/freedesktop/Notifications"
	notificationsMethod = "org.freedesktop.Notifications.Notify"
)

// notifyObject is the part of dbus.BusObject used to raise notifications
type notifyObject interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// DesktopNotifier raises freedesktop notifications on the session bus
type DesktopNotifier struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	obj     notifyObject
	connect func() (*dbus.Conn, error)
}

// NewDesktopNotifier creates a notifier that connects to the session bus on
// first use
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{connect: func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() }}
}

func (n *DesktopNotifier) Send(ctx context.Context, msg Message) error {
	obj, err := n.object()
	if err != nil {
		return perrors.NotificationError("desktop", err)
	}

	// urgency: 1 normal, 2 critical
	urgency := byte(1)
	if msg.IsError {
		urgency = 2
	}
	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(urgency)}

	call := obj.CallWithContext(ctx, notificationsMethod, 0,
		"permitwatch", uint32(0), "", msg.Subject, msg.Body, []string{}, hints, int32(-1))
	if call.Err != nil {
		return perrors.NotificationError("desktop", fmt.Errorf("notify call failed: %w", call.Err))
	}
	return nil
}

func (n *DesktopNotifier) object() (notifyObject, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.obj != nil {
		return n.obj, nil
	}
	conn, err := n.connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	n.conn = conn
	n.obj = conn.Object(notificationsDest, notificationsPath)
	return n.obj, nil
}

// Close releases the bus connection
func (n *DesktopNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		err := n.conn.Close()
		n.conn = nil
		n.obj = nil
		return err
	}
	return nil
}
