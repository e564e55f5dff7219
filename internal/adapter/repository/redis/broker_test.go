package redis

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/iho/goescrow/internal/domain"
)

// recordingSessions stands in for one instance's websocket hub.
type recordingSessions struct {
	events chan domain.RoomEvent
	joins  chan joinEnvelope
}

func newRecordingSessions() *recordingSessions {
	return &recordingSessions{
		events: make(chan domain.RoomEvent, 16),
		joins:  make(chan joinEnvelope, 16),
	}
}

func (r *recordingSessions) Deliver(ev domain.RoomEvent) {
	select {
	case r.events <- ev:
	default:
	}
}

func (r *recordingSessions) JoinAccount(_ context.Context, accountID, room string) int {
	select {
	case r.joins <- joinEnvelope{AccountID: accountID, Room: room}:
	default:
	}
	return 1
}

// publishUntil repeats publish until received reports a value; pub/sub drops
// messages sent before the subscription is live.
func publishUntil[T any](t *testing.T, publish func(), received <-chan T) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		publish()
		select {
		case got := <-received:
			return got
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("nothing was relayed")
		}
	}
}

func TestRoomBrokerRelaysEvents(t *testing.T) {
	client, _ := newTestRedisClient(t)

	broker := NewRoomBroker(client, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := newRecordingSessions()
	go func() { _ = broker.Run(ctx, local) }()

	event := domain.RoomEvent{
		Type:    domain.RoomEventNewMessage,
		Room:    domain.RoomName("tx-1"),
		Message: &domain.Message{ID: "m1", TransactionID: "tx-1", Seq: 2, SenderID: "acc-buyer", Content: "hi"},
	}
	got := publishUntil(t, func() { require.NoError(t, broker.Publish(ctx, event)) }, local.events)

	require.Equal(t, domain.RoomEventNewMessage, got.Type)
	require.Equal(t, "transaction_tx-1", got.Room)
	require.NotNil(t, got.Message)
	require.Equal(t, int64(2), got.Message.Seq)
	require.Equal(t, "hi", got.Message.Content)
}

func TestRoomBrokerJoinAccountReachesEveryInstance(t *testing.T) {
	client, _ := newTestRedisClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	origin := NewRoomBroker(client, zerolog.Nop())
	peer := NewRoomBroker(client, zerolog.Nop())
	originSessions := newRecordingSessions()
	peerSessions := newRecordingSessions()
	go func() { _ = origin.Run(ctx, originSessions) }()
	go func() { _ = peer.Run(ctx, peerSessions) }()

	room := domain.RoomName("tx-7")
	join := func() { origin.JoinAccount(ctx, "acc-seller", room) }

	for _, sessions := range []*recordingSessions{originSessions, peerSessions} {
		got := publishUntil(t, join, sessions.joins)
		require.Equal(t, joinEnvelope{AccountID: "acc-seller", Room: room}, got)
	}
	require.Empty(t, originSessions.events, "joins must not surface as room events")
}

func TestRoomBrokerJoinAccountWithoutServer(t *testing.T) {
	client, mr := newTestRedisClient(t)
	mr.Close()

	broker := NewRoomBroker(client, zerolog.Nop())
	require.Zero(t, broker.JoinAccount(context.Background(), "acc-buyer", domain.RoomName("tx-1")))
}

func TestRoomBrokerServeResubscribesAfterOutage(t *testing.T) {
	client, mr := newTestRedisClient(t)
	mr.Close()

	broker := NewRoomBroker(client, zerolog.Nop())
	broker.retryInitial = 10 * time.Millisecond
	broker.retryMax = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	local := newRecordingSessions()
	done := make(chan error, 1)
	go func() { done <- broker.Serve(ctx, local) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, mr.Restart())

	event := domain.RoomEvent{Type: domain.RoomEventTransactionUpdated, Room: domain.RoomName("tx-2")}
	got := publishUntil(t, func() { _ = broker.Publish(ctx, event) }, local.events)
	require.Equal(t, domain.RoomEventTransactionUpdated, got.Type)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("broker did not stop")
	}
}

func TestRoomBrokerStopsOnCancel(t *testing.T) {
	client, _ := newTestRedisClient(t)

	broker := NewRoomBroker(client, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- broker.Run(ctx, newRecordingSessions()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broker did not stop")
	}
}
