package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"activity/config"
)

var (
	rabbitConn       *amqp.Connection
	rabbitChannel    *amqp.Channel
	activityExchange = "activity_events"
)

// ActivityChangeEvent is republished on the exchange for every change
// notification observed on the activities table, so downstream consumers
// (moderation, digests) don't need their own realtime subscription.
type ActivityChangeEvent struct {
	Type       string    `json:"type"` // INSERT, UPDATE, DELETE
	ActivityID string    `json:"activity_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// InitRabbitMQ connects and declares the exchange. The bridge is optional:
// when no URL is configured the publish calls become no-ops.
func InitRabbitMQ() error {
	url := config.AppConfig.RabbitMQ.URL
	if url == "" {
		log.Println("RabbitMQ not configured, event bridge disabled")
		return nil
	}

	var err error
	rabbitConn, err = amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	rabbitChannel, err = rabbitConn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := rabbitChannel.ExchangeDeclare(
		activityExchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // args
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	log.Printf("RabbitMQ event bridge initialized with URL: %s", url)
	return nil
}

// PublishActivityChange publishes one change event. Routing key is
// activities.<type> so consumers can bind to inserts or deletes only.
func PublishActivityChange(ctx context.Context, event ActivityChangeEvent) error {
	if rabbitChannel == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	routingKey := fmt.Sprintf("activities.%s", event.Type)
	return rabbitChannel.PublishWithContext(ctx,
		activityExchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// CloseRabbitMQ tears the bridge down.
func CloseRabbitMQ() {
	if rabbitChannel != nil {
		_ = rabbitChannel.Close()
		rabbitChannel = nil
	}
	if rabbitConn != nil {
		_ = rabbitConn.Close()
		rabbitConn = nil
	}
}
