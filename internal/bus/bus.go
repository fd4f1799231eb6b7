// Package bus bridges chat fan-out across instances through Redis pub/sub.
// Each accepted chat message is published on "room:<key>:events"; sibling
// instances inject it into their local copy of the room. A process running
// alone simply leaves the bus disabled.
package bus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"meshchatgo/internal/room"
)

const publishTimeout = 1500 * time.Millisecond

// envelope tags every bus frame with its origin instance so a publisher can
// ignore its own loopback delivery.
type envelope struct {
	Origin  string          `json:"origin"`
	Message json.RawMessage `json:"message"`
}

// ChatBus implements room.Publisher over Redis pub/sub.
type ChatBus struct {
	rdb    *redis.Client
	origin string
}

func New(rdb *redis.Client) *ChatBus {
	return &ChatBus{rdb: rdb, origin: uuid.NewString()}
}

func channelFor(roomKey string) string { return "room:" + roomKey + ":events" }

// Publish pushes one chat message to sibling instances. Fire-and-forget: the
// room never blocks on the bus, failures are only logged.
func (b *ChatBus) Publish(roomKey string, m room.Message) {
	payload, err := json.Marshal(envelope{Origin: b.origin, Message: m.Encode()})
	if err != nil {
		zap.L().Error("bus.marshal", zap.Error(err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := b.rdb.Publish(ctx, channelFor(roomKey), payload).Err(); err != nil {
			zap.L().Warn("bus.publish", zap.String("room", roomKey), zap.Error(err))
		}
	}()
}

// Run fans incoming bus messages out to local rooms until the context ends.
func (b *ChatBus) Run(ctx context.Context, registry *room.Registry) {
	pubsub := b.rdb.PSubscribe(ctx, "room:*:events")
	defer pubsub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			// channel format: "room:<key>:events"
			parts := strings.Split(m.Channel, ":")
			if len(parts) != 3 {
				continue
			}
			b.deliver(registry, parts[1], []byte(m.Payload))
		}
	}
}

func (b *ChatBus) deliver(registry *room.Registry, roomKey string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		zap.L().Warn("bus.decode", zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return // our own publish looped back
	}

	msg, err := room.Decode(env.Message)
	if err != nil || msg.Type != room.KindChat {
		return
	}
	if rm, ok := registry.Get(roomKey); ok {
		rm.InjectChat(msg)
	}
}
