package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultUsername is the display name the webhook posts under.
const DefaultUsername = "WOT_BOT"

// Sink delivers a rendered message.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookConfig holds the webhook sink configuration.
type WebhookConfig struct {
	URL      string
	Username string
	Timeout  time.Duration
}

// WebhookSink posts messages to a Discord compatible webhook.
type WebhookSink struct {
	url        string
	username   string
	httpClient *http.Client
}

type webhookPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook URL is required")
	}
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:        cfg.URL,
		username:   cfg.Username,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Send posts msg.Text. Any non-2xx status is an error.
func (s *WebhookSink) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookPayload{Content: msg.Text, Username: s.username})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// LogSink writes messages to a logger. It is used when no webhook is configured.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send logs msg at info level.
func (s *LogSink) Send(_ context.Context, msg Message) error {
	s.logger.Info().
		Str("reason", msg.Reason).
		Str("member", msg.Member.Name).
		Int64("member_id", msg.Member.ID).
		Str("clan", msg.Clan.Name).
		Int64("clan_id", msg.Clan.ClanID).
		Str("profile_url", msg.ProfileURL).
		Msg(msg.Text)
	return nil
}
