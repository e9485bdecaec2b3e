// README: Redis pub/sub fan-out so every API instance's hub sees every room publish.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"roadside/internal/types"
)

const roomChannelPrefix = "chat:room:"

type Broker struct {
	rdb *redis.Client
	hub *Hub
	log logrus.FieldLogger
}

func NewBroker(rdb *redis.Client, hub *Hub, log logrus.FieldLogger) *Broker {
	return &Broker{rdb: rdb, hub: hub, log: log}
}

func (b *Broker) Publish(ctx context.Context, room types.ID, frame []byte) error {
	if err := b.rdb.Publish(ctx, roomChannelPrefix+room.String(), frame).Err(); err != nil {
		return fmt.Errorf("publish to room %s: %w", room, err)
	}
	return nil
}

// Run delivers every room publish to the local hub until ctx is done. A single
// pattern subscription keeps the order Redis assigned within each room.
func (b *Broker) Run(ctx context.Context) error {
	ps := b.rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe chat rooms: %w", err)
	}
	b.log.Info("chat broker subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room := types.ID(strings.TrimPrefix(msg.Channel, roomChannelPrefix))
			_ = b.hub.Publish(ctx, room, []byte(msg.Payload))
		}
	}
}
