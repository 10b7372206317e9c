package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	ceevent "github.com/cloudevents/sdk-go/v2/event"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "carrier-events:"

// RedisBus fans events out across instances over Redis Pub/Sub. Messages are
// structured-mode CloudEvents JSON.
type RedisBus struct {
	rdb *redis.Client
	log *zap.Logger

	mu   sync.Mutex
	subs map[chan Event]*redis.PubSub
}

// NewRedisBus connects to url (redis://...).
func NewRedisBus(url string, log *zap.Logger) (*RedisBus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisBusFromClient(redis.NewClient(opt), log), nil
}

func NewRedisBusFromClient(rdb *redis.Client, log *zap.Logger) *RedisBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{rdb: rdb, log: log, subs: map[chan Event]*redis.PubSub{}}
}

// Ping checks the connection.
func (b *RedisBus) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *RedisBus) Close() error { return b.rdb.Close() }

func (b *RedisBus) Subscribe(carrierID string) chan Event {
	ch := make(chan Event, 32)
	ctx := context.Background()
	var ps *redis.PubSub
	if carrierID == AllCarriers {
		ps = b.rdb.PSubscribe(ctx, channelPrefix+"*")
	} else {
		ps = b.rdb.Subscribe(ctx, b.chanName(carrierID))
	}
	// initial receive confirms the subscription
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Warn("redis subscribe failed", zap.String("carrier", carrierID), zap.Error(err))
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			evt, err := decodeMessage([]byte(msg.Payload))
			if err != nil {
				b.log.Debug("dropping malformed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the underlying subscription; the delivery goroutine then
// closes ch.
func (b *RedisBus) Unsubscribe(_ string, ch chan Event) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBus) Publish(ctx context.Context, evt Event) {
	data, err := encodeMessage(evt)
	if err != nil {
		b.log.Warn("encoding event", zap.String("type", evt.Type), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, b.chanName(evt.CarrierID), data).Err(); err != nil {
		b.log.Warn("publishing event", zap.String("type", evt.Type), zap.Error(err))
	}
}

func (b *RedisBus) chanName(carrierID string) string { return channelPrefix + carrierID }

func encodeMessage(evt Event) ([]byte, error) {
	ce, err := ToCloudEvent(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ce)
}

func decodeMessage(data []byte) (Event, error) {
	var ce ceevent.Event
	if err := json.Unmarshal(data, &ce); err != nil {
		return Event{}, err
	}
	return FromCloudEvent(ce)
}
