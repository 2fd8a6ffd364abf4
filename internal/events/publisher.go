// Package events publishes diagnostic lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "opsdiag.events"

	RoutingKeyDiagnosticCompleted = "diagnostic.completed"
)

// DiagnosticCompleted is emitted once per finished run.
type DiagnosticCompleted struct {
	RunID                 int64             `json:"run_id,omitempty"`
	ReportName            string            `json:"report_name"`
	GeneratedAt           time.Time         `json:"generated_at"`
	Mode                  string            `json:"mode"`
	Classifier            string            `json:"classifier"`
	ItemsProcessed        int               `json:"items_processed"`
	PeriodDays            int               `json:"period_days"`
	EstimatedHoursPerWeek float64           `json:"estimated_hours_per_week"`
	SLASensitivePct       float64           `json:"sla_sensitive_pct"`
	CategoryCounts        map[string]int    `json:"category_counts"`
	Leverage              []string          `json:"leverage"`
	OutputFiles           map[string]string `json:"output_files"`
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp091.Connection
	channel  channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// Publish sends payload as persistent JSON with the given routing key.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now().UTC(),
			Type:         routingKey,
		},
	)
}

func (p *Publisher) PublishDiagnosticCompleted(ctx context.Context, ev DiagnosticCompleted) error {
	if err := p.Publish(ctx, RoutingKeyDiagnosticCompleted, ev); err != nil {
		return fmt.Errorf("publish %s: %w", RoutingKeyDiagnosticCompleted, err)
	}
	return nil
}
