// Package bus relays room broadcasts between wirerelay processes over Redis pub/sub.
//
// Each process publishes the broadcasts its own sessions originate and delivers
// broadcasts from other processes to its local members. Messages carry the
// originating node ID so a process ignores its own publications.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/proto"
)

const defaultQueueSize = 1024

// Message is the wire format on the Redis channel.
type Message struct {
	Node    string          `json:"node"`
	Room    string          `json:"room"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

// Counter receives bus traffic counts.
type Counter interface {
	BusPublished()
	BusReceived()
}

// Options configures a RedisBus.
type Options struct {
	Addr          string
	DB            int
	ChannelPrefix string
	QueueSize     int
	Counter       Counter
}

// RedisBus implements core.Dispatcher on top of Redis pub/sub.
type RedisBus struct {
	rdb      *redis.Client
	node     string
	prefix   string
	registry *core.Registry
	counter  Counter
	log      *zerolog.Logger

	out   chan core.Envelope
	ready chan struct{}
}

// NewRedisBus connects to redis and verifies connectivity.
func NewRedisBus(ctx context.Context, opts Options, registry *core.Registry, logger *zerolog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &RedisBus{
		rdb:      rdb,
		node:     uuid.NewString(),
		prefix:   opts.ChannelPrefix,
		registry: registry,
		counter:  opts.Counter,
		log:      logger,
		out:      make(chan core.Envelope, opts.QueueSize),
		ready:    make(chan struct{}),
	}, nil
}

// Node returns this process's bus identity.
func (b *RedisBus) Node() string { return b.node }

// Ready is closed once the pattern subscription is active.
func (b *RedisBus) Ready() <-chan struct{} { return b.ready }

// Dispatch queues env for publication without blocking the caller.
func (b *RedisBus) Dispatch(env core.Envelope) {
	select {
	case b.out <- env:
	default:
		b.log.Warn().Str("room", env.Room).Msg("bus queue full, dropping broadcast")
	}
}

// Run publishes queued broadcasts and delivers foreign ones until ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.publishLoop(gctx) })
	g.Go(func() error { return b.subscribe(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *RedisBus) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-b.out:
			if err := b.publish(ctx, env); err != nil {
				b.log.Warn().Err(err).Str("room", env.Room).Msg("bus publish failed")
			}
		}
	}
}

func (b *RedisBus) publish(ctx context.Context, env core.Envelope) error {
	raw, err := proto.Encode(env.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	data, err := json.Marshal(Message{Node: b.node, Room: env.Room, Sender: env.Sender, Payload: raw})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel(env.Room), data).Err(); err != nil {
		return err
	}
	if b.counter != nil {
		b.counter.BusPublished()
	}
	return nil
}

// subscribe listens to all room channels and delivers foreign messages locally.
func (b *RedisBus) subscribe(ctx context.Context) error {
	pubsub := b.rdb.PSubscribe(ctx, b.channel("*"))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	close(b.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg.Payload)
		}
	}
}

func (b *RedisBus) handle(raw string) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		b.log.Warn().Err(err).Msg("bus message malformed")
		return
	}
	if m.Node == b.node || m.Room == "" {
		return
	}
	payload, err := proto.Decode(m.Payload)
	if err != nil {
		b.log.Warn().Err(err).Str("room", m.Room).Msg("bus payload malformed")
		return
	}

	res := b.registry.BroadcastLocal(core.Envelope{Room: m.Room, Sender: m.Sender, Payload: payload})
	if b.counter != nil {
		b.counter.BusReceived()
	}
	b.log.Debug().Str("room", m.Room).Str("node", m.Node).Int("delivered", res.Delivered).Msg("bus message delivered")
}

// Close shuts down the redis connection.
func (b *RedisBus) Close() error { return b.rdb.Close() }

// channel namespacing for room pub/sub
func (b *RedisBus) channel(room string) string { return b.prefix + room }

var _ core.Dispatcher = (*RedisBus)(nil)
