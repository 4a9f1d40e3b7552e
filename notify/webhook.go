// Package notify delivers operational notifications to external endpoints.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"` // e.g. "site.needs_reauth"
	Site      string `json:"site"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Webhook posts signed JSON events to a single configured endpoint. It
// implements sitehealth.ReauthNotifier.
type Webhook struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhook creates a Webhook notifier. An empty url yields a notifier
// whose deliveries are silently skipped.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyReauthNeeded delivers a one-shot "site.needs_reauth" event.
func (w *Webhook) NotifyReauthNeeded(ctx context.Context, site, reason string) error {
	return w.deliver(ctx, &Event{
		Type:      "site.needs_reauth",
		Site:      site,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	})
}

// deliver sends one event. The request body is signed with HMAC-SHA256 if
// a secret is configured. Header: X-Harvester-Signature: sha256=<hex>
func (w *Webhook) deliver(ctx context.Context, event *Event) error {
	if w.url == "" {
		slog.Debug("webhook not configured, dropping event", "event", event.Type)
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Harvester-Webhook/1.0")

	if w.secret != "" {
		mac := hmac.New(sha256.New, []byte(w.secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-Harvester-Signature", "sha256="+sig)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: endpoint returned status %d", resp.StatusCode)
	}

	slog.Info("webhook delivered", "event", event.Type, "site", event.Site)
	return nil
}
