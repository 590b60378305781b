package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/shuttled/internal/config"
	"codeberg.org/mutker/shuttled/internal/errors"
	"codeberg.org/mutker/shuttled/internal/logger"
)

// sendTimeout bounds the whole SMTP exchange. A stalled mail server must
// never stall the supervisor tick.
const sendTimeout = 10 * time.Second

// Dispatcher delivers an alert to the operator. Delivery failure is the
// caller's to log; it never escalates into a suspend decision.
type Dispatcher interface {
	Send(ctx context.Context, subject, body string, category Category) error
}

// NewDispatcher builds an SMTP dispatcher from the mail configuration,
// or a noop dispatcher when no host is configured.
func NewDispatcher(cfg config.Mail) Dispatcher {
	if strings.TrimSpace(cfg.Host) == "" {
		logger.Debug().Msg("no mail host configured, notifications disabled")
		return noopDispatcher{}
	}

	return &smtpDispatcher{cfg: cfg}
}

type smtpDispatcher struct {
	cfg config.Mail
}

func (d *smtpDispatcher) Send(ctx context.Context, subject, body string, category Category) error {
	errFactory := errors.New()

	port := d.cfg.Port
	if port == 0 {
		port = 25
	}
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(port))

	if prefix := strings.TrimSpace(d.cfg.SubjectPrefix); prefix != "" {
		subject = prefix + " " + subject
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", d.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(d.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "X-Shuttled-Category: %s\r\n", category)
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	if err := d.deliver(ctx, addr, []byte(msg.String())); err != nil {
		return errFactory.Wrap(errors.ErrDispatchFailed, err)
	}

	logger.Info().
		Str("category", string(category)).
		Str("subject", subject).
		Msg("notification dispatched")

	return nil
}

// deliver speaks the SMTP exchange over a connection with a hard
// deadline, honouring an earlier ctx deadline when one is set.
func (d *smtpDispatcher) deliver(ctx context.Context, addr string, msg []byte) error {
	dialer := net.Dialer{Timeout: sendTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(sendTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	client, err := smtp.NewClient(conn, d.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(d.cfg.From); err != nil {
		return err
	}
	for _, rcpt := range d.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

type noopDispatcher struct{}

func (noopDispatcher) Send(_ context.Context, subject, _ string, category Category) error {
	logger.Debug().
		Str("category", string(category)).
		Str("subject", subject).
		Msg("notification suppressed, no dispatcher configured")

	return nil
}
