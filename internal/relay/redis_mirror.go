package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultEventsChannel is the Redis channel broadcast frames are mirrored to.
	DefaultEventsChannel = "liverelay:events"
	publishTimeout       = 5 * time.Second
	mirrorBuffer         = 1024
)

// mirrorPayload is the message published to Redis.
type mirrorPayload struct {
	Type  string          `json:"type"`
	Frame json.RawMessage `json:"frame"`
	At    int64           `json:"at"`
}

// RedisMirror copies broadcast frames onto a Redis pub/sub channel.
// PublishEvent never blocks; frames are dropped when the buffer is full.
type RedisMirror struct {
	client  *redis.Client
	channel string
	queue   chan mirrorPayload
	logger  *zap.Logger
}

// NewRedisMirror creates a Redis mirror. Call Run to start publishing.
func NewRedisMirror(client *redis.Client, channel string, logger *zap.Logger) *RedisMirror {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisMirror{client: client, channel: channel, queue: make(chan mirrorPayload, mirrorBuffer), logger: logger}
}

// PublishEvent queues a frame for publishing.
func (r *RedisMirror) PublishEvent(eventType string, frame []byte) {
	select {
	case r.queue <- mirrorPayload{Type: eventType, Frame: frame, At: time.Now().Unix()}:
	default:
		r.logger.Warn("redis mirror buffer full, dropping frame", zap.String("type", eventType))
	}
}

// Run publishes queued frames until ctx is done.
func (r *RedisMirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-r.queue:
			body, err := json.Marshal(p)
			if err != nil {
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := r.client.Publish(pubCtx, r.channel, body).Err(); err != nil {
				r.logger.Warn("redis mirror publish failed", zap.String("type", p.Type), zap.Error(err))
			}
			cancel()
		}
	}
}

// Subscribe calls handler with every frame published on the mirror channel.
// Returns a cancel function to stop the subscription.
func (r *RedisMirror) Subscribe(ctx context.Context, handler func(frame []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p mirrorPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					continue
				}
				handler(p.Frame)
			}
		}
	}()
	return cancelCtx, nil
}
