package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

const (
	roomChannelPrefix = "room:"
	joinChannelPrefix = "join:"
)

var (
	_ usecase.RoomPublisher   = (*RoomBroker)(nil)
	_ usecase.SessionRegistry = (*RoomBroker)(nil)
)

// LocalSessions is the per-instance end of the broker, normally the
// websocket hub.
type LocalSessions interface {
	Deliver(ev domain.RoomEvent)
	JoinAccount(ctx context.Context, accountID, room string) int
}

// RoomBroker relays room events and session joins between server instances
// over Redis pub/sub. Every instance, including the publisher, receives each
// message through Run and applies it to its local sessions.
type RoomBroker struct {
	client *redis.Client
	logger zerolog.Logger

	retryInitial time.Duration
	retryMax     time.Duration
}

// NewRoomBroker creates a new RoomBroker.
func NewRoomBroker(client *redis.Client, logger zerolog.Logger) *RoomBroker {
	return &RoomBroker{
		client:       client,
		logger:       logger.With().Str("component", "room_broker").Logger(),
		retryInitial: 500 * time.Millisecond,
		retryMax:     30 * time.Second,
	}
}

type roomEnvelope struct {
	Type        string              `json:"type"`
	Room        string              `json:"room"`
	Message     *domain.Message     `json:"message,omitempty"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

type joinEnvelope struct {
	AccountID string `json:"account_id"`
	Room      string `json:"room"`
}

// Publish implements usecase.RoomPublisher.
func (b *RoomBroker) Publish(ctx context.Context, event domain.RoomEvent) error {
	data, err := json.Marshal(roomEnvelope(event))
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}
	return b.client.Publish(ctx, roomChannelPrefix+event.Room, data).Err()
}

// JoinAccount implements usecase.SessionRegistry. Each instance joins its
// own sessions of accountID when the message arrives, so the return value
// is the number of instances notified rather than sessions joined.
func (b *RoomBroker) JoinAccount(ctx context.Context, accountID, room string) int {
	data, err := json.Marshal(joinEnvelope{AccountID: accountID, Room: room})
	if err != nil {
		return 0
	}
	n, err := b.client.Publish(ctx, joinChannelPrefix+accountID, data).Result()
	if err != nil {
		b.logger.Warn().Err(err).
			Str("account_id", accountID).
			Str("room", room).
			Msg("failed to broadcast session join")
		return 0
	}
	return int(n)
}

// Serve runs the relay until ctx is cancelled, resubscribing with
// exponential backoff whenever the subscription fails.
func (b *RoomBroker) Serve(ctx context.Context, local LocalSessions) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.retryInitial
	bo.MaxInterval = b.retryMax
	bo.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		err := b.run(ctx, local, bo.Reset)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		b.logger.Warn().Err(err).Dur("retry_in", wait).Msg("room subscription lost")
	})
}

// Run subscribes once and applies every relayed message to local until ctx
// is cancelled or the subscription fails.
func (b *RoomBroker) Run(ctx context.Context, local LocalSessions) error {
	return b.run(ctx, local, func() {})
}

func (b *RoomBroker) run(ctx context.Context, local LocalSessions, ready func()) error {
	sub := b.client.PSubscribe(ctx, roomChannelPrefix+"*", joinChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe rooms: %w", err)
	}
	ready()
	b.logger.Info().Msg("room broker subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if strings.HasPrefix(msg.Channel, joinChannelPrefix) {
				b.applyJoin(ctx, local, msg)
				continue
			}
			var env roomEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed room event")
				continue
			}
			local.Deliver(domain.RoomEvent(env))
		}
	}
}

func (b *RoomBroker) applyJoin(ctx context.Context, local LocalSessions, msg *redis.Message) {
	var env joinEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.AccountID == "" || env.Room == "" {
		b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed session join")
		return
	}
	if n := local.JoinAccount(ctx, env.AccountID, env.Room); n > 0 {
		b.logger.Debug().
			Str("account_id", env.AccountID).
			Str("room", env.Room).
			Int("sessions", n).
			Msg("local sessions joined room")
	}
}
