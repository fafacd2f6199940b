package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/npezzotti/rtc-signal/internal/types"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "rtcsignal:notice:"

type BusMessage struct {
	UserId int64        `json:"user_id"`
	Notice types.Notice `json:"notice"`
}

// RedisBus carries follower notices between instances over redis pub/sub.
type RedisBus struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisBus connects to redis and verifies connectivity.
func NewRedisBus(ctx context.Context, addr string, logger *slog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBus{rdb: rdb, log: logger}, nil
}

func (b *RedisBus) Publish(ctx context.Context, userId int64, n types.Notice) error {
	raw, err := json.Marshal(BusMessage{UserId: userId, Notice: n})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel(userId), raw).Err()
}

// Subscribe listens on every user channel and invokes fn for each message
// until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(userId int64, n types.Notice)) {
	pubsub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			bm, err := decodeBusMessage(msg.Channel, msg.Payload)
			if err != nil {
				b.log.Warn("dropping bus message", "channel", msg.Channel, "error", err)
				continue
			}
			fn(bm.UserId, bm.Notice)
		}
	}
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

func channel(userId int64) string {
	return channelPrefix + strconv.FormatInt(userId, 10)
}

// decodeBusMessage also checks the payload against the channel it came from.
func decodeBusMessage(ch, payload string) (BusMessage, error) {
	var bm BusMessage
	if err := json.Unmarshal([]byte(payload), &bm); err != nil {
		return bm, err
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(ch, channelPrefix), 10, 64)
	if err != nil {
		return bm, fmt.Errorf("parse channel: %w", err)
	}
	if id != bm.UserId {
		return bm, fmt.Errorf("user %d published on channel of user %d", bm.UserId, id)
	}
	return bm, nil
}
