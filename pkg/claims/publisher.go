package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/chainpilot/pkg/store"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ClaimEvent is the broker payload for a recorded claim.
type ClaimEvent struct {
	ClaimID     int64     `json:"claim_id"`
	TelegramID  int64     `json:"telegram_id"`
	Amount      string    `json:"amount"`
	TokenSymbol string    `json:"token_symbol"`
	Network     string    `json:"network"`
	Provider    string    `json:"provider"`
	TxHash      string    `json:"tx_hash"`
	EligibleAt  time.Time `json:"eligible_at"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Publisher announces recorded claims to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt ClaimEvent) error
	Close() error
}

// AMQPConfig describes the RabbitMQ connection.
type AMQPConfig struct {
	URL   string
	Queue string
}

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes claim events as persistent JSON messages on a
// durable queue.
type AMQPPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    channel
	queue string
}

// NewAMQPPublisher dials the broker and declares the queue.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "chainpilot.claims"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish sends one event.
func (p *AMQPPublisher) Publish(ctx context.Context, evt ClaimEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode claim event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return errors.New("claim publisher closed")
	}
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.TxHash,
		Timestamp:    evt.RecordedAt,
		Type:         "claim.recorded",
		Body:         body,
	})
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

// EventFromClaim builds the broker payload for a saved claim.
func EventFromClaim(c store.Claim) ClaimEvent {
	return ClaimEvent{
		ClaimID:     c.ID,
		TelegramID:  c.TelegramID,
		Amount:      c.Amount,
		TokenSymbol: c.TokenSymbol,
		Network:     c.Network,
		Provider:    c.Provider,
		TxHash:      c.TxHash,
		EligibleAt:  c.EligibleAt,
		RecordedAt:  c.CreatedAt,
	}
}
