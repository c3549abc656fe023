package mailer

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/metrics"
)

// Message is a single plain-text e-mail.
type Message struct {
	Template string
	To       string
	Subject  string
	Body     string
}

// Sender delivers messages. Implementations must honour ctx cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// routerSender is the slice of shoutrrr's ServiceRouter the mailer needs.
type routerSender interface {
	Send(message string, params *stypes.Params) []error
}

type senderFactory func(rawURL string, timeout time.Duration) (routerSender, error)

func shoutrrrFactory(rawURL string, timeout time.Duration) (routerSender, error) {
	sender, err := shoutrrr.CreateSender(rawURL)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return sender, nil
}

// SMTPMailer sends through an smtp:// shoutrrr service. The recipient is part
// of the service URL, so a sender is built per message.
type SMTPMailer struct {
	cfg     config.MailConfig
	logg    *logger.Logger
	metrics *metrics.Metrics
	factory senderFactory
}

// New returns an SMTPMailer, or a disabled mailer when no SMTP user is set.
func New(cfg config.MailConfig, logg *logger.Logger, m *metrics.Metrics) Sender {
	if logg == nil {
		logg = logger.Nop()
	}
	if !cfg.Enabled() {
		return &DisabledMailer{logg: logg, metrics: m}
	}
	return &SMTPMailer{cfg: cfg, logg: logg, metrics: m, factory: shoutrrrFactory}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		m.metrics.IncMail(msg.Template, "invalid")
		return err
	}

	sender, err := m.factory(m.serviceURL(msg), m.cfg.Timeout)
	if err != nil {
		m.metrics.IncMail(msg.Template, "error")
		return fmt.Errorf("create smtp sender: %w", redact(err, m.cfg.AppPass))
	}

	params := stypes.Params{}
	params.SetTitle(msg.Subject)

	done := make(chan error, 1)
	go func() {
		done <- firstError(sender.Send(msg.Body, &params))
	}()

	select {
	case <-ctx.Done():
		m.metrics.IncMail(msg.Template, "timeout")
		return fmt.Errorf("send %s mail: %w", msg.Template, ctx.Err())
	case err := <-done:
		if err != nil {
			m.metrics.IncMail(msg.Template, "error")
			return fmt.Errorf("send %s mail: %w", msg.Template, redact(err, m.cfg.AppPass))
		}
	}

	m.metrics.IncMail(msg.Template, "sent")
	ctx = m.logg.WithFields(ctx, map[string]any{"template": msg.Template, "to": msg.To})
	m.logg.Info(ctx, "mail sent")
	return nil
}

func (m *SMTPMailer) serviceURL(msg Message) string {
	q := url.Values{}
	q.Set("fromaddress", m.cfg.User)
	q.Set("fromname", m.cfg.FromName)
	q.Set("toaddresses", msg.To)
	q.Set("subject", msg.Subject)
	q.Set("auth", "Plain")

	u := url.URL{
		Scheme:   "smtp",
		User:     url.UserPassword(m.cfg.User, m.cfg.AppPass),
		Host:     net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port)),
		Path:     "/",
		RawQuery: q.Encode(),
	}
	return u.String()
}

// DisabledMailer logs and drops messages when SMTP is not configured.
type DisabledMailer struct {
	logg    *logger.Logger
	metrics *metrics.Metrics
}

func (d *DisabledMailer) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	d.metrics.IncMail(msg.Template, "skipped")
	ctx = d.logg.WithFields(ctx, map[string]any{"template": msg.Template, "to": msg.To})
	d.logg.Warn(ctx, "mail disabled; message skipped")
	return nil
}

func validate(msg Message) error {
	to := strings.TrimSpace(msg.To)
	if to == "" || !strings.Contains(to, "@") {
		return fmt.Errorf("invalid recipient %q", msg.To)
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	return nil
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// redact strips the app password from errors that echo the service URL.
func redact(err error, secret string) error {
	if err == nil || secret == "" {
		return err
	}
	msg := err.Error()
	for _, s := range []string{secret, url.QueryEscape(secret), url.PathEscape(secret)} {
		msg = strings.ReplaceAll(msg, s, "****")
	}
	return fmt.Errorf("%s", msg)
}
