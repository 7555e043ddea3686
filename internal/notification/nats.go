package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// publisher is the subset of *nats.Conn used for alert delivery.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes alerts as JSON on a NATS subject.
type NATSNotifier struct {
	conn    publisher
	nc      *nats.Conn
	subject string
}

// NewNATSNotifier connects to url and publishes to subject.
func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("dindex-alerts"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	log.Printf("[nats] connected to %s, alerts on %q", url, subject)
	return &NATSNotifier{conn: nc, nc: nc, subject: subject}, nil
}

func (n *NATSNotifier) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("nats: marshal: %w", err)
	}
	if err := n.conn.Publish(n.subject, body); err != nil {
		return fmt.Errorf("nats: publish %s: %w", n.subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (n *NATSNotifier) Close() error {
	if n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}
