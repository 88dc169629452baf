// Package bus fans engine events out over NATS JetStream: execution state
// transitions, learning outcomes, and pattern registry changes. Everything
// here is best-effort telemetry; the engine never blocks on the bus.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/tapestry/internal/executor"
	"github.com/jordanhubbard/tapestry/internal/learning"
)

// Bus publishes engine events through NATS with JetStream
type Bus struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	subscriptions map[string]*nats.Subscription
	streamName    string
	url           string
}

// Config holds NATS configuration
type Config struct {
	URL        string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName string        // JetStream stream name (default: "TAPESTRY")
	Timeout    time.Duration // Connection timeout
}

// New connects to NATS and ensures the engine's JetStream stream exists
func New(cfg Config) (*Bus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "TAPESTRY"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Bus] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Bus] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b := &Bus{
		conn:          nc,
		js:            js,
		subscriptions: make(map[string]*nats.Subscription),
		streamName:    cfg.StreamName,
		url:           cfg.URL,
	}

	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("[Bus] Connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return b, nil
}

// ensureStream creates or updates the JetStream stream. LimitsPolicy so
// multiple consumers can read the same subjects for fan-out.
func (b *Bus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      b.streamName,
		Subjects:  []string{"tapestry.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	_, err := b.js.StreamInfo(b.streamName)
	if err != nil {
		if _, err = b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("[Bus] Created JetStream stream: %s", b.streamName)
		return nil
	}

	if _, err = b.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// PublishExecutionEvent publishes one execution state transition
func (b *Bus) PublishExecutionEvent(ev executor.Event) error {
	subject := fmt.Sprintf("tapestry.executions.%s", ev.State)
	return b.publish(subject, ev)
}

// PublishOutcome publishes a learning outcome. Satisfies the learning
// tracker's publisher boundary.
func (b *Bus) PublishOutcome(e learning.Event) error {
	return b.publish("tapestry.outcomes", e)
}

// PatternChange announces a registry write
type PatternChange struct {
	Name      string    `json:"name"`
	Action    string    `json:"action"` // "saved" or "mined"
	Timestamp time.Time `json:"timestamp"`
}

// PublishPatternChange announces a pattern save or mining event
func (b *Bus) PublishPatternChange(name, action string) error {
	return b.publish(fmt.Sprintf("tapestry.patterns.%s", action), PatternChange{
		Name:      name,
		Action:    action,
		Timestamp: time.Now(),
	})
}

// publish is the internal method to publish messages
func (b *Bus) publish(subject string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err = b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// SubscribeOutcomes delivers every published learning outcome to handler
// through a durable consumer.
func (b *Bus) SubscribeOutcomes(consumerName string, handler func(learning.Event)) error {
	return b.subscribe("tapestry.outcomes", consumerName, func(msg *nats.Msg) {
		var e learning.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			log.Printf("[Bus] Failed to unmarshal outcome: %v", err)
			msg.Nak()
			return
		}
		handler(e)
		msg.Ack()
	})
}

// SubscribeExecutionEvents delivers execution transitions for all states.
// Uses a core NATS subscription so every subscriber sees every event.
func (b *Bus) SubscribeExecutionEvents(handler func(executor.Event)) error {
	sub, err := b.conn.Subscribe("tapestry.executions.>", func(msg *nats.Msg) {
		var ev executor.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[Bus] Failed to unmarshal execution event: %v", err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to execution events: %w", err)
	}
	b.subscriptions["tapestry.executions.>"] = sub
	return nil
}

// subscribe is the internal method to set up durable subscriptions
func (b *Bus) subscribe(subject, consumerName string, handler nats.MsgHandler) error {
	sub, err := b.js.Subscribe(subject, handler,
		nats.Durable(consumerName),
		nats.AckExplicit(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.subscriptions[subject] = sub
	log.Printf("[Bus] Subscribed to %s with consumer %s", subject, consumerName)
	return nil
}

// Close closes all subscriptions and the NATS connection
func (b *Bus) Close() error {
	for subject, sub := range b.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[Bus] Warning: failed to unsubscribe from %s: %v", subject, err)
		}
	}
	b.conn.Close()
	log.Printf("[Bus] Closed NATS connection")
	return nil
}

// Health returns the health status of the NATS connection
func (b *Bus) Health() error {
	if b.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := b.js.StreamInfo(b.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", b.streamName, err)
	}
	return nil
}

// Stats returns statistics about the bus
func (b *Bus) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	stats["url"] = b.url
	stats["stream"] = b.streamName
	stats["connected"] = b.conn.IsConnected()
	stats["subscriptions"] = len(b.subscriptions)

	if info, err := b.js.StreamInfo(b.streamName); err == nil {
		stats["stream_messages"] = info.State.Msgs
		stats["stream_bytes"] = info.State.Bytes
		stats["stream_consumers"] = info.State.Consumers
	}
	return stats
}
