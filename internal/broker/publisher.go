package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"slotmarket.org/internal/auction"
	"slotmarket.org/internal/obs"
)

// DefaultChannel is the federation pub/sub topic shared by all instances.
const DefaultChannel = "properties/auctions"

const publishTimeout = 5 * time.Second

// Envelope wraps an event with the id of the instance that minted it, so a
// subscriber can skip messages echoed back by the broker.
type Envelope struct {
	Origin string        `json:"origin"`
	Event  auction.Event `json:"event"`
}

// Publisher emits committed auction events to the federation channel.
type Publisher interface {
	Publish(ctx context.Context, ev auction.Event) error
}

// Redis publishes envelopes to a Redis pub/sub channel.
type Redis struct {
	rc      *redis.Client
	channel string
	origin  string
}

// NewRedis wraps an existing client. The client's lifecycle belongs to the
// caller; a single client is shared with the federation consumer.
func NewRedis(rc *redis.Client, channel, origin string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{rc: rc, channel: channel, origin: origin}
}

func (p *Redis) Publish(ctx context.Context, ev auction.Event) error {
	payload, err := json.Marshal(Envelope{Origin: p.origin, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.rc.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}

// Log is the console stub used when no broker is configured.
type Log struct{}

func (Log) Publish(ctx context.Context, ev auction.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	obs.LogRequest(map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"type":    "broker",
		"channel": DefaultChannel,
		"event":   json.RawMessage(payload),
	})
	return nil
}

// Dispatch publishes the event asynchronously. Publication is
// fire-and-forget: failures are logged and counted, never returned, and the
// mutation that produced the event is not rolled back.
func Dispatch(pub Publisher, ev auction.Event) {
	if pub == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := pub.Publish(ctx, ev); err != nil {
			obs.CountPublishFailure()
			obs.LogRequest(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "error",
				"msg":   "broker publish failed",
				"event": ev.ID,
				"error": err.Error(),
			})
		}
	}()
}
