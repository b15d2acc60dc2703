// SPDX-License-Identifier: MIT
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	applog "scope/internal/log"
	"scope/internal/scope"
)

// Notification describes one overvoltage alert. Voltages are in mV, rounded
// to 0.01 mV.
type Notification struct {
	Session           uuid.UUID       `json:"session"`
	Cycle             uint64          `json:"cycle"`
	Captured          time.Time       `json:"captured"`
	Amplitude         decimal.Decimal `json:"amplitude_mv"`
	Ceiling           decimal.Decimal `json:"ceiling_mv"`
	Excess            decimal.Decimal `json:"excess_mv"`
	VoltsPerDivision  decimal.Decimal `json:"volts_per_division_mv"`
	DominantFrequency decimal.Decimal `json:"dominant_frequency_hz"`
}

// NewNotification builds a notification from an alerting frame. ok is false
// when the frame carries no alert.
func NewNotification(f scope.Frame) (Notification, bool) {
	if f.Alert == nil {
		return Notification{}, false
	}
	amp := decimal.NewFromFloat(f.Alert.Amplitude).Round(2)
	ceiling := decimal.NewFromFloat(f.Alert.Ceiling).Round(2)
	return Notification{
		Session:           f.Session,
		Cycle:             f.Alert.Cycle,
		Captured:          f.Captured,
		Amplitude:         amp,
		Ceiling:           ceiling,
		Excess:            amp.Sub(ceiling),
		VoltsPerDivision:  decimal.NewFromFloat(f.Settings.VoltsPerDivision()),
		DominantFrequency: decimal.NewFromFloat(f.Result.DominantFrequency).Round(2),
	}, true
}

// Notifier delivers alert notifications.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// LogNotifier writes alerts to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: applog.Component(logger, "alert_log")}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("session", note.Session.String()).
		Uint64("cycle", note.Cycle).
		Str("amplitude_mv", note.Amplitude.StringFixed(2)).
		Str("ceiling_mv", note.Ceiling.StringFixed(2)).
		Str("excess_mv", note.Excess.StringFixed(2)).
		Msg("Overvoltage")
	return nil
}

// WebhookNotifier POSTs each notification as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs a webhook notifier. A non-positive timeout
// defaults to 5s.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
		logger: applog.Component(logger, "alert_webhook"),
	}
}

type webhookPayload struct {
	Notification
	Text string `json:"text"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(webhookPayload{Notification: note, Text: renderMessage(note)})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Info().Uint64("cycle", note.Cycle).Msg("Alert sent (webhook)")
	return nil
}

func renderMessage(note Notification) string {
	var b strings.Builder
	b.WriteString("[Overvoltage]\n")
	fmt.Fprintf(&b, "Captured: %s UTC\n", note.Captured.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "Amplitude: %s mV (ceiling %s mV, +%s mV)\n",
		note.Amplitude.StringFixed(2), note.Ceiling.StringFixed(2), note.Excess.StringFixed(2))
	fmt.Fprintf(&b, "Scale: %s mV/div\n", note.VoltsPerDivision.String())
	fmt.Fprintf(&b, "Dominant: %s Hz\n", note.DominantFrequency.StringFixed(2))
	return b.String()
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
)
