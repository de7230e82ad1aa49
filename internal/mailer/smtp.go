package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"rentbridge.com/app/internal/config"
)

const (
	tlsModeNone     = "none"
	tlsModeStartTLS = "starttls"
	tlsModeImplicit = "tls"
)

var ErrStartTLSUnsupported = errors.New("smtp: server does not offer STARTTLS")

// SMTPMailer delivers mail to a relay. Implicit TLS when TLSMode is "tls",
// STARTTLS when it is "starttls", plain otherwise (MailHog in development).
type SMTPMailer struct {
	cfg          config.SMTPConfig
	dialTimeout  time.Duration
	writeTimeout time.Duration
	domain       string
	now          func() time.Time
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	domain := cfg.Host
	if domain == "" {
		domain = "local"
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = tlsModeNone
	}
	return &SMTPMailer{
		cfg:          cfg,
		dialTimeout:  5 * time.Second,
		writeTimeout: 10 * time.Second,
		domain:       domain,
		now:          time.Now,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, e Email) error {
	if err := e.Validate(); err != nil {
		return err
	}
	raw, err := buildMIMEMessage(e, m.domain, m.now())
	if err != nil {
		return err
	}

	conn, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer c.Close()

	if err := m.secure(c); err != nil {
		return err
	}
	if err := m.auth(c); err != nil {
		return err
	}
	if err := m.deliver(c, conn, e, raw); err != nil {
		return err
	}
	return c.Quit()
}

// dial opens the TCP (or implicit TLS) connection. The ctx deadline, when set,
// bounds the whole exchange.
func (m *SMTPMailer) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	dialer := &net.Dialer{Timeout: m.dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s failed: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if strings.EqualFold(m.cfg.TLSMode, tlsModeImplicit) {
		tlsConn := tls.Client(conn, m.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("smtp tls handshake failed: %w", err)
		}
		return tlsConn, nil
	}
	return conn, nil
}

func (m *SMTPMailer) secure(c *smtp.Client) error {
	if !strings.EqualFold(m.cfg.TLSMode, tlsModeStartTLS) {
		return nil
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return ErrStartTLSUnsupported
	}
	if err := c.StartTLS(m.tlsConfig()); err != nil {
		return fmt.Errorf("smtp starttls failed: %w", err)
	}
	return nil
}

// No credentials means an open relay.
func (m *SMTPMailer) auth(c *smtp.Client) error {
	if m.cfg.User == "" || m.cfg.Pass == "" {
		return nil
	}
	if ok, _ := c.Extension("AUTH"); !ok {
		return nil
	}
	if err := c.Auth(smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth failed: %w", err)
	}
	return nil
}

func (m *SMTPMailer) deliver(c *smtp.Client, conn net.Conn, e Email, raw string) error {
	if err := c.Mail(e.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	for _, rcpt := range e.AllRecipients() {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s failed: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	_ = conn.SetWriteDeadline(m.now().Add(m.writeTimeout))
	if _, err := w.Write([]byte(raw)); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp message rejected: %w", err)
	}
	return nil
}

func (m *SMTPMailer) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         m.cfg.Host,
		InsecureSkipVerify: m.cfg.SkipVerifyTLS,
	}
}
