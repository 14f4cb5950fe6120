package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// SignatureHeader carries the HMAC-SHA256 of the request body when a
// webhook secret is configured.
const SignatureHeader = "X-Signature-256"

// WebhookConfig holds outbound webhook settings.
type WebhookConfig struct {
	URL string
	// Secret signs the body with HMAC-SHA256 ("sha256=<hex>").
	Secret string
	// BearerToken is sent as Authorization when set.
	BearerToken string
	Timeout     time.Duration
}

// WebhookPayload is the JSON body posted for each notable poll.
type WebhookPayload struct {
	Summary string               `json:"summary"`
	Report  *protocol.PollReport `json:"report"`
}

// Webhook posts poll reports as JSON to an HTTP endpoint.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg WebhookConfig, logger *slog.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (w *Webhook) Notify(ctx context.Context, report *protocol.PollReport) error {
	body, err := json.Marshal(WebhookPayload{Summary: StripMarkdown(Summary(report)), Report: report})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, ComputeSignature(body, w.cfg.Secret))
	}
	if w.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.BearerToken)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	io.Copy(io.Discard, resp.Body)
	w.logger.Debug("webhook delivered", "poll", report.ID, "status", resp.StatusCode)
	return nil
}

// ComputeSignature returns the "sha256=<hex>" HMAC of body. Receivers use
// it to check SignatureHeader.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a SignatureHeader value against body.
func VerifySignature(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
