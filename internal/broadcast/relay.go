package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/roach88/marketcart/internal/cart"
)

// DefaultChannel is the Redis pub/sub channel used by Relay.
const DefaultChannel = EventCartUpdated

const (
	publishTimeout = 2 * time.Second
	outboxSize     = 64
)

// Reloader re-reads the cart from the durable store and publishes it
// locally as a remote-sourced event.
type Reloader interface {
	Sync(ctx context.Context) cart.Cart
}

// envelope is the wire format on the pub/sub channel.
type envelope struct {
	Origin string    `json:"origin"`
	Seq    int64     `json:"seq"`
	Cart   cart.Cart `json:"cart"`
}

// Relay connects runtimes in different processes that share one store.
//
// Local events are forwarded to the channel tagged with this process's
// origin id. Messages from other origins trigger Reloader.Sync; the carried
// snapshot is informational only. Remote-sourced events are never forwarded,
// so two relays cannot ping-pong.
//
// Forwarding never blocks delivery: payloads go through a bounded outbox
// drained by a publisher goroutine. When the outbox is full the notice is
// dropped; the next one makes receivers re-read the store anyway.
type Relay struct {
	client   *redis.Client
	channel  string
	origin   string
	bc       *Broadcaster
	reloader Reloader
	logger   *slog.Logger
	outbox   chan []byte

	readyOnce sync.Once
	ready     chan struct{}
}

// NewRelay creates a relay. It does nothing until Run is called.
func NewRelay(client *redis.Client, channel string, bc *Broadcaster, reloader Reloader, logger *slog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		client:   client,
		channel:  channel,
		origin:   uuid.Must(uuid.NewV7()).String(),
		bc:       bc,
		reloader: reloader,
		logger:   logger,
		outbox:   make(chan []byte, outboxSize),
		ready:    make(chan struct{}),
	}
}

// Origin returns the id this relay stamps on outgoing messages.
func (r *Relay) Origin() string {
	return r.origin
}

// Ready is closed once the relay is subscribed in both directions.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to the channel and relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe %s: %w", r.channel, err)
	}

	stop := r.Announce()
	defer stop()

	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("relay started", "channel", r.channel, "origin", r.origin)

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopping: context cancelled")
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

// Announce forwards local events to the channel without listening for
// remote ones, for processes that change the store and exit. The returned
// stop function publishes whatever is still queued before returning.
func (r *Relay) Announce() (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	unsubscribe := r.bc.Subscribe(r.forward)
	go func() {
		defer close(finished)
		r.publishLoop(done)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
			<-finished
		})
	}
}

func (r *Relay) forward(ev Event) {
	if ev.Source == SourceRemote {
		return
	}

	payload, err := json.Marshal(envelope{Origin: r.origin, Seq: ev.Seq, Cart: ev.Cart})
	if err != nil {
		r.logger.Error("relay encode failed", "seq", ev.Seq, "error", err)
		return
	}

	select {
	case r.outbox <- payload:
	default:
		r.logger.Warn("relay outbox full, dropping change notice", "seq", ev.Seq)
	}
}

// publishLoop publishes queued payloads until done is closed, then drains
// the outbox.
func (r *Relay) publishLoop(done <-chan struct{}) {
	for {
		select {
		case payload := <-r.outbox:
			r.publish(payload)
		case <-done:
			for {
				select {
				case payload := <-r.outbox:
					r.publish(payload)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay) publish(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("relay publish failed", "channel", r.channel, "error", err)
	}
}

func (r *Relay) handle(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("relay dropped malformed message", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}

	r.logger.Debug("relay received remote change", "origin", env.Origin, "seq", env.Seq)
	r.reloader.Sync(ctx)
}
