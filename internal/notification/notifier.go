// Package notification provides alert delivery to external channels
// (Telegram, webhooks, NATS) for Demand Index signals.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"demandindex-plus/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel       `json:"level"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Signal  model.SignalKind `json:"signal,omitempty"`
	Symbol  string           `json:"symbol,omitempty"`
	Index   int              `json:"index"`
	TS      time.Time        `json:"ts"`
}

// FromEvent converts an indicator alert event into a notification. Extreme
// reversals are raised as warnings, crosses as info.
func FromEvent(ev model.AlertEvent) Alert {
	level := AlertInfo
	if ev.Signal == model.SignalReversalLong || ev.Signal == model.SignalReversalShort {
		level = AlertWarning
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s %s", ev.Name, ev.Symbol),
		Message: ev.Message,
		Signal:  ev.Signal,
		Symbol:  ev.Symbol,
		Index:   ev.Index,
		TS:      ev.TS,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s (bar %d)", alert.Level, alert.Title, alert.Message, alert.Index)
	return nil
}

// Multi fans an alert out to every backend. A failing backend does not stop
// delivery to the others; all failures are joined into the returned error.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a fan-out notifier. Nil entries are skipped.
func NewMulti(notifiers ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of backends.
func (m *Multi) Len() int { return len(m.notifiers) }

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishAlert delivers an indicator alert event through every backend.
func (m *Multi) PublishAlert(ctx context.Context, ev model.AlertEvent) error {
	return m.Send(ctx, FromEvent(ev))
}
