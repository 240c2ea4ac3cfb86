// Package events publishes auth lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/cosync/appkey-go/ports"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "appkey.auth"

// WatermillPublisher implements ports.EventPublisher on top of a Watermill
// publisher, so hosting applications can fan auth events out to whatever
// broker they already run.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher wraps a Watermill publisher. An empty topic selects
// DefaultTopic.
func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillPublisher{publisher: publisher, topic: topic}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// PublishAuthEvent publishes one auth lifecycle event.
func (p *WatermillPublisher) PublishAuthEvent(ctx context.Context, event ports.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal auth event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish auth event: %w", err)
	}
	return nil
}
