package storage

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"dashboard/domain"
)

// DefaultChangesChannel is the Redis channel carrying owner change notices.
const DefaultChangesChannel = "dashboard:changes"

// Broker fans owner change notifications out to local subscribers. Each
// subscriber channel holds at most one pending signal; bursts collapse.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers interest in owner's changes. The returned func must be
// called to release the subscription.
func (b *Broker) Subscribe(owner string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	set, ok := b.subs[owner]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.subs[owner] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[owner], ch)
			if len(b.subs[owner]) == 0 {
				delete(b.subs, owner)
			}
			b.mu.Unlock()
		})
	}
}

// Notify signals every subscriber of owner without blocking.
func (b *Broker) Notify(owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[owner] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Publish lets the broker act as an in-process event sink.
func (b *Broker) Publish(_ context.Context, ev domain.ItemEvent) error {
	b.Notify(ev.Owner)
	return nil
}

func (b *Broker) subscribers(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[owner])
}

type changeNotice struct {
	Owner  string `json:"owner"`
	Type   string `json:"type"`
	ItemID string `json:"itemId,omitempty"`
}

// RedisNotifier publishes item events on a Redis channel and relays notices
// from every instance of the service into a local Broker.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	broker  *Broker
}

func NewRedisNotifier(client *redis.Client, channel string, broker *Broker) *RedisNotifier {
	if channel == "" {
		channel = DefaultChangesChannel
	}
	if broker == nil {
		broker = NewBroker()
	}
	return &RedisNotifier{client: client, channel: channel, broker: broker}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev domain.ItemEvent) error {
	data, err := sonic.Marshal(changeNotice{Owner: ev.Owner, Type: ev.Type, ItemID: ev.ItemID})
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, data).Err()
}

func (n *RedisNotifier) Subscribe(owner string) (<-chan struct{}, func()) {
	return n.broker.Subscribe(owner)
}

// Run relays channel messages to the broker until ctx is cancelled,
// resubscribing when the connection drops.
func (n *RedisNotifier) Run(ctx context.Context) {
	for {
		sub := n.client.Subscribe(ctx, n.channel)
		n.relay(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", n.channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (n *RedisNotifier) relay(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var notice changeNotice
			if err := sonic.UnmarshalString(msg.Payload, &notice); err != nil || notice.Owner == "" {
				log.WithField("payload", msg.Payload).Warn("unable to parse change notice")
				continue
			}
			n.broker.Notify(notice.Owner)
		}
	}
}
