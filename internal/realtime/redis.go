package realtime

import (
	"context"
	"fmt"

	"dabubble/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

const (
	keyPrefix     = "dabubble:"
	subscribeGlob = keyPrefix + "*"
)

// Broadcaster takes encoded events relayed from other instances
type Broadcaster interface {
	Broadcast(topic string, payload []byte)
}

// envelope tags an event with the instance that published it
type envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// RedisPublisher shares events between instances over redis pub/sub
type RedisPublisher struct {
	logger *zap.SugaredLogger
	rdb    *redis.Client
	origin string
}

// NewRedisPublisher connects to the redis server at url and pings it
func NewRedisPublisher(ctx context.Context, logger *zap.SugaredLogger, url string) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	logger.Infof("Connected to redis at %s", opt.Addr)

	return &RedisPublisher{logger: logger, rdb: rdb, origin: xid.New().String()}, nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// Key returns the pub/sub channel the events of topic are published on
func Key(topic string) string {
	return keyPrefix + topic
}

func (p *RedisPublisher) Publish(ctx context.Context, e models.Event) error {
	payload, err := p.encode(e)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, Key(e.ChannelID), payload).Err(); err != nil {
		return fmt.Errorf("publishing %s to redis: %w", e.Type, err)
	}
	return nil
}

func (p *RedisPublisher) encode(e models.Event) ([]byte, error) {
	event, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Origin: p.origin, Event: event})
}

// Subscribe relays events published by other instances into b until ctx is done
func (p *RedisPublisher) Subscribe(ctx context.Context, b Broadcaster) error {
	pubsub := p.rdb.PSubscribe(ctx, subscribeGlob)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", subscribeGlob, err)
	}
	p.logger.Infof("Subscribed to redis pattern %s", subscribeGlob)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			p.relay([]byte(msg.Payload), b)
		}
	}
}

// relay hands a received payload to b unless this instance published it
func (p *RedisPublisher) relay(payload []byte, b Broadcaster) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		p.logger.Warnf("Decoding redis event: %v", err)
		return
	}
	if env.Origin == p.origin {
		return
	}
	var e models.Event
	if err := json.Unmarshal(env.Event, &e); err != nil {
		p.logger.Warnf("Decoding redis event: %v", err)
		return
	}
	b.Broadcast(e.ChannelID, env.Event)
}
