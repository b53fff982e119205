// Package events publishes workout lifecycle messages to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

const RoutingWorkoutCompleted = "workout.completed"

type WorkoutCompleted struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Activity     string    `json:"activity"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	PointCount   int       `json:"point_count"`
	DistanceKm   float64   `json:"distance_km"`
	CaloriesKcal float64   `json:"calories_kcal"`
}

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
	now      func() time.Time
}

func Dial(url, exchange string) (*Publisher, error) {
	logrus.WithField("exchange", exchange).Info("Connecting to RabbitMQ...")
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p, err := NewPublisher(channel, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisher declares a durable topic exchange on channel.
func NewPublisher(channel Channel, exchange string) (*Publisher, error) {
	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &Publisher{channel: channel, exchange: exchange, now: time.Now}, nil
}

// PublishWorkoutCompleted is a no-op on a nil Publisher.
func (p *Publisher) PublishWorkoutCompleted(_ context.Context, evt WorkoutCompleted) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal workout event: %w", err)
	}

	err = p.channel.Publish(
		p.exchange,
		RoutingWorkoutCompleted,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    evt.SessionID,
			Body:         body,
			Timestamp:    p.now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish workout event: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"session_id":  evt.SessionID,
		"exchange":    p.exchange,
		"routing_key": RoutingWorkoutCompleted,
	}).Debug("Workout event published")
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		return err
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
