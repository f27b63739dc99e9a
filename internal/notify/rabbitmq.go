package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"pingpay/backend/internal/config"
)

// AMQPPublisher publishes notification events to a durable topic exchange.
// The bot layer consumes them and delivers to the recipient's channel.
type AMQPPublisher struct {
	mu         sync.Mutex
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange
func NewAMQPPublisher(cfg *config.NotificationConfig, logger *zap.Logger) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(cfg.AMQPURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial timeout so startup does not hang
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p := &AMQPPublisher{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger.Named("notify"),
	}
	if err := p.declareExchange(); err != nil {
		p.Close()
		return nil, err
	}

	p.logger.Info("Notification publisher connected",
		zap.String("exchange", cfg.Exchange),
		zap.String("routing_key", cfg.RoutingKey))

	return p, nil
}

// NotifyTransferConfirmed implements Notifier
func (p *AMQPPublisher) NotifyTransferConfirmed(ctx context.Context, event TransferConfirmedEvent) error {
	return p.Publish(ctx, p.routingKey, event)
}

// Publish sends a JSON message, reopening the channel once if it was closed
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}

	p.logger.Warn("Publish failed, reopening channel",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.Error(err))

	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	p.channel = ch
	if err := p.declareExchange(); err != nil {
		return err
	}

	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish after reopening channel: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) declareExchange() error {
	if err := p.channel.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	return nil
}

// Close closes the channel and connection
func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if clean == "" {
		return "", errors.New("AMQP URL is empty")
	}

	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("invalid AMQP URL: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
