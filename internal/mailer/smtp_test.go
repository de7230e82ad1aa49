package mailer

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentbridge.com/app/internal/config"
)

// fakeRelay speaks just enough SMTP for one plain, unauthenticated delivery.
type fakeRelay struct {
	ln       net.Listener
	starttls bool

	mu    sync.Mutex
	rcpts []string
	data  string
	done  chan struct{}
}

func newFakeRelay(t *testing.T, starttls bool) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &fakeRelay{ln: ln, starttls: starttls, done: make(chan struct{})}
	t.Cleanup(func() { _ = ln.Close() })
	go r.serve()
	return r
}

func (r *fakeRelay) port() string {
	_, p, _ := net.SplitHostPort(r.ln.Addr().String())
	return p
}

func (r *fakeRelay) serve() {
	defer close(r.done)
	conn, err := r.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	rd := bufio.NewReader(conn)
	say := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
	say("220 fake ESMTP")

	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			if r.starttls {
				say("250-fake")
				say("250 STARTTLS")
			} else {
				say("250 fake")
			}
		case strings.HasPrefix(cmd, "MAIL FROM"):
			say("250 ok")
		case strings.HasPrefix(cmd, "RCPT TO"):
			r.mu.Lock()
			r.rcpts = append(r.rcpts, strings.TrimSpace(line[len("RCPT TO:"):]))
			r.mu.Unlock()
			say("250 ok")
		case cmd == "DATA":
			say("354 go ahead")
			var b strings.Builder
			for {
				l, err := rd.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			r.mu.Lock()
			r.data = b.String()
			r.mu.Unlock()
			say("250 queued")
		case cmd == "QUIT":
			say("221 bye")
			return
		default:
			say("502 not implemented")
		}
	}
}

func TestSMTPMailerDelivers(t *testing.T) {
	relay := newFakeRelay(t, false)
	m := NewSMTPMailer(config.SMTPConfig{Host: "127.0.0.1", Port: relay.port()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.Send(ctx, Email{
		From:     "no-reply@rentbridge.local",
		To:       []string{"landlord@example.com"},
		Bcc:      []string{"audit@example.com"},
		Subject:  "Rent released",
		TextBody: "Funds are on the way.",
	})
	require.NoError(t, err)
	<-relay.done

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, []string{"<landlord@example.com>", "<audit@example.com>"}, relay.rcpts)
	assert.Contains(t, relay.data, "Subject: Rent released")
	assert.Contains(t, relay.data, "Funds are on the way.")
	assert.NotContains(t, relay.data, "audit@example.com")
}

func TestSMTPMailerStartTLSRequired(t *testing.T) {
	relay := newFakeRelay(t, false)
	m := NewSMTPMailer(config.SMTPConfig{Host: "127.0.0.1", Port: relay.port(), TLSMode: "starttls"})

	err := m.Send(context.Background(), Email{From: "a@b.c", To: []string{"x@y.z"}, Subject: "s", TextBody: "t"})
	assert.ErrorIs(t, err, ErrStartTLSUnsupported)
}

func TestSMTPMailerRejectsInvalidEmail(t *testing.T) {
	m := NewSMTPMailer(config.SMTPConfig{Host: "127.0.0.1", Port: "1"})
	err := m.Send(context.Background(), Email{From: "a@b.c"})
	assert.ErrorContains(t, err, "recipient")
}
