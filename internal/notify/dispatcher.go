// Package notify delivers engine notifications: every notification lands in
// the recipient's in-app inbox and is fanned out to the configured webhooks in
// the background.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc"

	"intakeline/internal/config"
	"intakeline/internal/domain"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultMaxElapsed     = 30 * time.Second
)

// Inbox stores in-app notifications.
type Inbox interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
}

// Dispatcher implements engine.Notifier. The zero value delivers with the
// default client and retry policy; a Dispatcher must not be copied after use.
type Dispatcher struct {
	Inbox    Inbox
	Webhooks []config.Webhook
	Client   *http.Client
	Logger   *slog.Logger
	// Backoff returns a fresh retry policy per delivery; BackOff values are
	// stateful and must not be shared.
	Backoff func() backoff.BackOff

	wg conc.WaitGroup
}

func NewDispatcher(inbox Inbox, hooks []config.Webhook, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Inbox:    inbox,
		Webhooks: hooks,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
		Logger:   logger,
	}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) newBackoff() backoff.BackOff {
	if d.Backoff != nil {
		return d.Backoff()
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = defaultMaxElapsed
	return bo
}

// Send stores n synchronously and schedules webhook deliveries. Only the
// inbox write can fail the call.
func (d *Dispatcher) Send(ctx context.Context, n domain.Notification) error {
	if strings.TrimSpace(n.UserID) == "" {
		return errors.New("notify: recipient required")
	}
	if d.Inbox != nil {
		if err := d.Inbox.InsertNotification(ctx, n); err != nil {
			return err
		}
	}
	ctx = context.WithoutCancel(ctx)
	for _, hook := range d.Webhooks {
		if !hook.IsEnabled() || strings.TrimSpace(hook.URL) == "" || !hook.Accepts(string(n.Type)) {
			continue
		}
		hook := hook
		d.wg.Go(func() {
			if err := d.deliver(ctx, hook, n); err != nil {
				d.logger().Warn("webhook delivery failed", "url", hook.URL, "notification_id", n.ID, "err", err)
			}
		})
	}
	return nil
}

// Close waits for in-flight webhook deliveries.
func (d *Dispatcher) Close() {
	if r := d.wg.WaitAndRecover(); r != nil {
		d.logger().Error("webhook delivery panicked", "err", r.AsError())
	}
}

type webhookNotification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sign returns the X-Intake-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) deliver(ctx context.Context, hook config.Webhook, n domain.Notification) error {
	data, err := json.Marshal(webhookNotification{
		ID:        n.ID,
		Type:      string(n.Type),
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		CreatedAt: n.CreatedAt.UTC(),
	})
	if err != nil {
		return err
	}
	return backoff.Retry(func() error {
		return d.post(ctx, hook, n, data)
	}, backoff.WithContext(d.newBackoff(), ctx))
}

func (d *Dispatcher) post(ctx context.Context, hook config.Webhook, n domain.Notification, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Intake-Event", string(n.Type))
	req.Header.Set("X-Intake-Delivery", n.ID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Intake-Signature", Sign(hook.Secret, data))
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	err = fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}
