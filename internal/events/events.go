// Package events publishes session lifecycle transitions so that watchers can
// be pushed updates instead of polling the store.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Topic carries every session event.
const Topic = "agrivoice.sessions"

// Stage names used in events.
const (
	StageSubmitted   = "submitted"
	StageTranscribed = "transcribed"
	StageAdvised     = "advised"
	StageSynthesized = "synthesized"
	StageFailed      = "failed"
)

// Event is one persisted transition of a session.
type Event struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage"`
	At        time.Time `json:"at"`
}

// Bus is a watermill publisher/subscriber pair for session events.
type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger watermill.LoggerAdapter
	// newGroupSubscriber builds a competing-consumer subscriber; nil for in-process buses.
	newGroupSubscriber func(group string) (message.Subscriber, error)
	closers            []func() error
}

// NewGoChannel returns an in-process bus.
func NewGoChannel() *Bus {
	logger := NewZerologAdapter(log.Logger)
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
	return &Bus{pub: ch, sub: ch, logger: logger, closers: []func() error{ch.Close}}
}

// NewRedisStream returns a bus backed by Redis Streams. Subscribers fan out:
// every Subscribe call sees every event.
func NewRedisStream(ctx context.Context, addr string) (*Bus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	logger := NewZerologAdapter(log.Logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:       client,
		Unmarshaller: marshaler,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis subscriber")
	}
	b := &Bus{pub: pub, sub: sub, logger: logger}
	b.newGroupSubscriber = func(group string) (message.Subscriber, error) {
		s, err := rstream.NewSubscriber(rstream.SubscriberConfig{
			Client:        client,
			Unmarshaller:  marshaler,
			ConsumerGroup: group,
			Consumer:      watermill.NewShortUUID(),
		}, logger)
		if err == nil {
			b.closers = append(b.closers, s.Close)
		}
		return s, err
	}
	b.closers = []func() error{pub.Close, sub.Close, client.Close}
	return b, nil
}

// Publish sends e on Topic.
func (b *Bus) Publish(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("session_id", e.SessionID)
	if err := b.pub.Publish(Topic, msg); err != nil {
		return errors.Wrap(err, "publish event")
	}
	return nil
}

// Subscribe streams decoded events until ctx is done. Messages that fail to
// decode are acked and skipped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := b.sub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var e Event
			err := json.Unmarshal(msg.Payload, &e)
			msg.Ack()
			if err != nil {
				log.Warn().Err(err).Str("uuid", msg.UUID).Msg("events: dropping undecodable message")
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the underlying transports.
func (b *Bus) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
