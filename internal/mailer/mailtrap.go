package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MailtrapConfig points at the Mailtrap send API, e.g.
// "https://send.api.mailtrap.io/api/send" or a sandbox inbox URL.
type MailtrapConfig struct {
	APIURL   string
	APIToken string
	Category string
	Timeout  time.Duration
}

// Mailtrap delivers mail over the Mailtrap HTTP API instead of SMTP.
type Mailtrap struct {
	cfg    MailtrapConfig
	client *http.Client
}

type mailtrapPayload struct {
	From     mailtrapAddress   `json:"from"`
	To       []mailtrapAddress `json:"to"`
	Cc       []mailtrapAddress `json:"cc,omitempty"`
	Bcc      []mailtrapAddress `json:"bcc,omitempty"`
	Subject  string            `json:"subject"`
	Text     string            `json:"text,omitempty"`
	HTML     string            `json:"html,omitempty"`
	Category string            `json:"category,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

type mailtrapAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func NewMailtrap(cfg MailtrapConfig) *Mailtrap {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Category == "" {
		cfg.Category = "Transactional"
	}
	return &Mailtrap{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (m *Mailtrap) Send(ctx context.Context, e Email) error {
	if m.cfg.APIURL == "" || m.cfg.APIToken == "" {
		return fmt.Errorf("mailtrap credentials not configured")
	}
	if err := e.Validate(); err != nil {
		return err
	}

	payload := mailtrapPayload{
		From:     mailtrapAddress{Email: e.From, Name: e.FromName},
		To:       addresses(e.To),
		Cc:       addresses(e.Cc),
		Bcc:      addresses(e.Bcc),
		Subject:  e.Subject,
		Text:     e.TextBody,
		HTML:     e.HTMLBody,
		Category: m.cfg.Category,
		Headers:  e.Headers,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailtrap request failed: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))

	if res.StatusCode >= 400 {
		return fmt.Errorf("mailtrap API error: %d", res.StatusCode)
	}
	return nil
}

func addresses(in []string) []mailtrapAddress {
	if len(in) == 0 {
		return nil
	}
	out := make([]mailtrapAddress, 0, len(in))
	for _, a := range in {
		out = append(out, mailtrapAddress{Email: a})
	}
	return out
}
