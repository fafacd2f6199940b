package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/npezzotti/rtc-signal/internal/stats"
	"github.com/npezzotti/rtc-signal/internal/types"
)

const (
	EventRoomCreated = "roomCreated"

	metricSubscribers = "NumEventSubscribers"
	metricDropped     = "NumDroppedNotices"

	subscriberBufferSize = 16
)

type FollowerLister interface {
	ListFollowerIds(ctx context.Context, followeeId int64) ([]int64, error)
}

// Publisher fans a notice out beyond this process. Every instance then hands it
// to Broker.Deliver.
type Publisher interface {
	Publish(ctx context.Context, userId int64, n types.Notice) error
}

type subscriber struct {
	events chan types.Notice
}

// Broker keeps at most one event stream per user and pushes notices to the
// followers of a room's host.
type Broker struct {
	log       *slog.Logger
	followers FollowerLister
	stats     stats.StatsProvider
	pub       Publisher

	mu   sync.Mutex
	subs map[int64]*subscriber
}

func NewBroker(logger *slog.Logger, followers FollowerLister, su stats.StatsProvider) *Broker {
	su.RegisterMetric(metricSubscribers)
	su.RegisterMetric(metricDropped)

	return &Broker{
		log:       logger,
		followers: followers,
		stats:     su,
		subs:      make(map[int64]*subscriber),
	}
}

// UsePublisher routes notices through p instead of delivering them locally.
func (b *Broker) UsePublisher(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pub = p
}

// Subscribe opens the event stream for userId. A previous stream for the same
// user is closed. The returned cancel func is safe to call more than once.
func (b *Broker) Subscribe(userId int64) (<-chan types.Notice, func()) {
	sub := &subscriber{events: make(chan types.Notice, subscriberBufferSize)}

	b.mu.Lock()
	if old, ok := b.subs[userId]; ok {
		close(old.events)
		b.log.Debug("event stream replaced", "user_id", userId)
	} else {
		b.stats.Incr(metricSubscribers)
	}
	b.subs[userId] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(userId, sub)
	}

	return sub.events, cancel
}

// remove must be called with b.mu held.
func (b *Broker) remove(userId int64, sub *subscriber) bool {
	cur, ok := b.subs[userId]
	if !ok || cur != sub {
		return false
	}
	delete(b.subs, userId)
	close(sub.events)
	b.stats.Decr(metricSubscribers)
	return true
}

// NotifyFollowers tells every follower of hostId that a room was created.
func (b *Broker) NotifyFollowers(ctx context.Context, hostId int64) error {
	ids, err := b.followers.ListFollowerIds(ctx, hostId)
	if err != nil {
		return fmt.Errorf("list followers: %w", err)
	}

	n := types.Notice{
		Event: EventRoomCreated,
		Data:  fmt.Sprintf("user %d created a room", hostId),
	}

	b.mu.Lock()
	pub := b.pub
	b.mu.Unlock()

	for _, id := range ids {
		if pub == nil {
			b.Deliver(id, n)
			continue
		}
		if err := pub.Publish(ctx, id, n); err != nil {
			b.log.Error("publish notice", "user_id", id, "error", err)
		}
	}

	b.log.Info("followers notified", "host_id", hostId, "followers", len(ids))
	return nil
}

// Deliver hands n to the local stream of userId, if there is one. A stream
// that cannot keep up is closed rather than waited on.
func (b *Broker) Deliver(userId int64, n types.Notice) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[userId]
	if !ok {
		return false
	}

	select {
	case sub.events <- n:
		return true
	default:
		b.log.Warn("event stream is full, dropping subscriber", "user_id", userId)
		b.stats.Incr(metricDropped)
		b.remove(userId, sub)
		return false
	}
}

func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every open stream.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		b.remove(id, sub)
	}
}
