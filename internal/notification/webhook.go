package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"demandindex-plus/internal/model"
)

// webhookPayload is the JSON body posted for each alert.
type webhookPayload struct {
	Level   AlertLevel       `json:"level"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Signal  model.SignalKind `json:"signal,omitempty"`
	Symbol  string           `json:"symbol"`
	Bar     int              `json:"bar"`
	TS      time.Time        `json:"ts"`
	SentAt  time.Time        `json:"sent_at"`
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: newHTTPClient()}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Signal:  alert.Signal,
		Symbol:  alert.Symbol,
		Bar:     alert.Index,
		TS:      alert.TS.UTC(),
		SentAt:  time.Now().UTC(),
	}
	if err := postJSON(ctx, w.client, w.url, payload); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	log.Printf("[webhook] %s %s bar %d delivered", alert.Symbol, alert.Signal, alert.Index)
	return nil
}
