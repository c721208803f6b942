package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NatsSender publishes notifications to a NATS subject so downstream
// consumers (indexers, bots, dashboards) can react to auction events without
// talking to the engine directly.
type NatsSender struct {
	conn    *nats.Conn
	subject string
}

// natsEnvelope is the JSON message published per notification.
type natsEnvelope struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// NewNatsSender connects to the NATS server at url and returns a sender that
// publishes to the given subject.
func NewNatsSender(url, subject string) (*NatsSender, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return &NatsSender{conn: conn, subject: subject}, nil
}

// Send publishes the notification as a JSON envelope with a unique id.
func (n *NatsSender) Send(_ context.Context, title, message string) error {
	env := natsEnvelope{
		ID:      uuid.New().String(),
		Title:   title,
		Message: message,
		SentAt:  time.Now().UTC(),
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("nats: marshal envelope: %w", err)
	}
	if err := n.conn.Publish(n.subject, body); err != nil {
		return fmt.Errorf("nats: publish %s: %w", n.subject, err)
	}
	return nil
}

// Name returns the sender identifier.
func (n *NatsSender) Name() string {
	return "nats"
}

// Close drains and closes the NATS connection.
func (n *NatsSender) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
	}
}
