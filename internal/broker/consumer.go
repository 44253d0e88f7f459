package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"slotmarket.org/internal/auction"
	"slotmarket.org/internal/obs"
	"slotmarket.org/internal/stream"
)

// OffersAppender receives folded offer events for the offers projection.
type OffersAppender interface {
	Append(ev auction.Event)
}

// Consumer folds auction events produced by other instances into the local
// ledger, offers index and SSE stream, producing a federated read surface.
// External events are trusted federation input; no authorization applies.
type Consumer struct {
	rc      *redis.Client
	channel string
	origin  string
	svc     auction.Service
	index   OffersAppender
	stream  *stream.Stream
}

// NewConsumer wires a consumer over a shared Redis client. Stream may be nil.
func NewConsumer(rc *redis.Client, channel, origin string, svc auction.Service, index OffersAppender, st *stream.Stream) *Consumer {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Consumer{rc: rc, channel: channel, origin: origin, svc: svc, index: index, stream: st}
}

// Run subscribes to the federation channel until the context ends,
// reconnecting with a delay when the pub/sub channel closes.
func (c *Consumer) Run(ctx context.Context) {
	for {
		sub := c.rc.Subscribe(ctx, c.channel)
		ch := sub.Channel()

	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				c.handle(ctx, msg.Payload)
			}
		}

		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "federation channel closed, reconnecting",
		})
		time.Sleep(time.Second)
	}
}

func (c *Consumer) handle(ctx context.Context, payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		c.logError("unable to parse federation payload", "", err)
		return
	}
	if env.Origin == c.origin {
		return // our own publication echoed back
	}
	applied, err := c.svc.Fold(ctx, env.Event)
	if err != nil {
		c.logError("fold external event failed", env.Event.ID, err)
		return
	}
	if !applied {
		return
	}
	if env.Event.Operation == auction.OpOffer && c.index != nil {
		c.index.Append(env.Event)
	}
	if c.stream != nil {
		c.stream.Publish(env.Event)
	}
	obs.CountAuctionEvent(string(env.Event.Operation), "federated")
}

func (c *Consumer) logError(msg, eventID string, err error) {
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "error",
		"msg":   msg,
		"error": err.Error(),
	}
	if eventID != "" {
		entry["event"] = eventID
	}
	obs.LogRequest(entry)
}
