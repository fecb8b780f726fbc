// Package notify renders and sends the storefront's transactional
// emails.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Message is one outgoing email.
type Message struct {
	To      []string
	Subject string
	HTML    string
	ReplyTo string
}

// Mailer delivers a rendered email.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

const resendEndpoint = "https://api.resend.com/emails"

// ResendMailer sends through the Resend HTTP API.
type ResendMailer struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{
		apiKey:   apiKey,
		from:     from,
		endpoint: resendEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithEndpoint points the mailer at another base URL. Used by tests.
func (m *ResendMailer) WithEndpoint(url string) *ResendMailer {
	m.endpoint = url
	return m
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(resendRequest{From: m.from, To: msg.To, Subject: msg.Subject, HTML: msg.HTML, ReplyTo: msg.ReplyTo})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("resend: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// LogMailer only logs messages. It is used when no API key is set.
type LogMailer struct{ Log *zap.Logger }

func (m LogMailer) Send(_ context.Context, msg Message) error {
	m.Log.Info("email not sent, no mail provider configured",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

// NewMailer returns a Resend mailer, or a LogMailer when apiKey is empty.
func NewMailer(apiKey, from string, log *zap.Logger) Mailer {
	if apiKey == "" {
		return LogMailer{Log: log}
	}
	return NewResendMailer(apiKey, from)
}
