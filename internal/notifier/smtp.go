package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"

	perrors "github.com/yairfalse/permitwatch/internal/errors"
)

// KeyringService is the OS keyring service holding SMTP app passwords,
// keyed by sender address
const KeyringService = "permitwatch"

var keyringGet = keyring.Get

// SMTPConfig configures an SMTPNotifier
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
	To       []string
	ErrorsTo []string
	// ImplicitTLS dials TLS directly; otherwise STARTTLS is used when offered.
	// Port 465 always uses implicit TLS.
	ImplicitTLS bool
	Timeout     time.Duration
}

// SMTPNotifier sends email through an authenticated SMTP server
type SMTPNotifier struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewSMTPNotifier creates an email notifier
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Port == 465 {
		cfg.ImplicitTLS = true
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPNotifier{cfg: cfg, now: time.Now}
}

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	recipients := n.cfg.To
	if msg.IsError {
		recipients = n.cfg.ErrorsTo
	}
	if len(recipients) == 0 {
		return perrors.NotificationError("email", errors.New("no recipients configured"))
	}

	password, err := n.password()
	if err != nil {
		return perrors.NotificationError("email", err)
	}

	if err := n.deliver(ctx, password, recipients, n.buildMessage(msg, recipients)); err != nil {
		return perrors.NotificationError("email", err)
	}
	return nil
}

func (n *SMTPNotifier) password() (string, error) {
	if n.cfg.Password != "" {
		return n.cfg.Password, nil
	}
	secret, err := keyringGet(KeyringService, n.cfg.From)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("no app password for %s in settings or the %q keyring", n.cfg.From, KeyringService)
		}
		return "", fmt.Errorf("keyring lookup failed: %w", err)
	}
	return secret, nil
}

func (n *SMTPNotifier) buildMessage(msg Message, recipients []string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	return buf.Bytes()
}

func (n *SMTPNotifier) deliver(ctx context.Context, password string, recipients []string, body []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	tlsConfig := &tls.Config{ServerName: n.cfg.Host}
	var conn net.Conn
	var err error
	if n.cfg.ImplicitTLS {
		dialer := &tls.Dialer{Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var dialer net.Dialer
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer client.Close()

	if !n.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls failed: %w", err)
			}
		}
	}

	if err := client.Auth(smtp.PlainAuth("", n.cfg.From, password, n.cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth failed: %w", err)
	}
	if err := client.Mail(n.cfg.From); err != nil {
		return err
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("recipient %s rejected: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
