package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/infrastructure/metrics"
)

const (
	defaultSendBuffer   = 64
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	maxFrameSize        = 4096
)

// Authenticator turns a bearer token into a principal.
type Authenticator interface {
	Authenticate(token string) (*domain.User, error)
}

// RoomAuthorizer checks that an account may follow a transaction room.
type RoomAuthorizer interface {
	AuthorizeParticipant(ctx context.Context, transactionID, accountID string) error
}

// Config configures the Hub.
type Config struct {
	Authenticator Authenticator
	Authorizer    RoomAuthorizer
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
}

// Hub tracks socket sessions, their accounts and the transaction rooms they
// joined. It is the local RoomPublisher and SessionRegistry.
type Hub struct {
	authn    Authenticator
	authz    RoomAuthorizer
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	sendBuffer   int
	pingInterval time.Duration

	mu       sync.RWMutex
	sessions map[*Session]struct{}
	rooms    map[string]map[*Session]struct{}
	accounts map[string]map[*Session]struct{}
}

// NewHub creates a hub. Call ServeHTTP for each socket upgrade.
func NewHub(cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}

	h := &Hub{
		authn:        cfg.Authenticator,
		authz:        cfg.Authorizer,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With().Str("component", "ws").Logger(),
		sendBuffer:   cfg.SendBuffer,
		pingInterval: cfg.PingInterval,
		sessions:     make(map[*Session]struct{}),
		rooms:        make(map[string]map[*Session]struct{}),
		accounts:     make(map[string]map[*Session]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// ServeHTTP upgrades the request into a session. A token in the
// Authorization header or the "token" query parameter authenticates the
// session up front; otherwise it starts anonymous and must send an auth
// frame before joining rooms.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var user *domain.User
	if token := bearerToken(r); token != "" {
		u, err := h.authn.Authenticate(token)
		if err != nil {
			h.authFailure("invalid_token")
			http.Error(w, domain.PublicMessage(err), http.StatusUnauthorized)
			return
		}
		user = u
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := newSession(h, conn)
	h.register(s)
	if user != nil {
		h.authenticate(s, user)
	}

	go s.writePump()
	s.readPump(r.Context())
}

// Publish delivers ev to every local session joined to ev.Room. A session
// whose buffer is full is disconnected; it recovers through history.
func (h *Hub) Publish(_ context.Context, ev domain.RoomEvent) error {
	payload := encode(eventFrame(ev))

	var slow []*Session
	h.mu.RLock()
	for s := range h.rooms[ev.Room] {
		if !s.enqueue(payload) {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		if h.metrics != nil {
			h.metrics.FanoutFailures.Inc()
		}
		h.logger.Warn().Str("room", ev.Room).Str("account_id", s.accountID()).Msg("dropping slow session")
		s.close()
	}
	return nil
}

// Deliver is Publish for relays that have no context or error path.
func (h *Hub) Deliver(ev domain.RoomEvent) {
	_ = h.Publish(context.Background(), ev)
}

// JoinAccount joins every authenticated session of accountID to room and
// returns how many joined. Callers have already authorized the account.
func (h *Hub) JoinAccount(_ context.Context, accountID, room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined := 0
	for s := range h.accounts[accountID] {
		h.joinLocked(s, room)
		s.enqueue(encode(Frame{Type: FrameJoined, Room: room}))
		joined++
	}
	if joined > 0 {
		h.roomJoin("auto")
	}
	return joined
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// RoomSize returns the number of sessions joined to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Shutdown disconnects every session.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.close()
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ActiveSessions.Inc()
	}
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	for room := range s.rooms {
		h.leaveLocked(s, room)
	}
	if s.user != nil {
		h.dropAccountLocked(s)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveSessions.Dec()
	}
}

// authenticate binds s to user. Switching accounts drops every room of the
// previous account.
func (h *Hub) authenticate(s *Session, user *domain.User) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.user != nil {
		if s.user.ID == user.ID {
			s.user = user
			return
		}
		for room := range s.rooms {
			h.leaveLocked(s, room)
		}
		h.dropAccountLocked(s)
	}

	s.user = user
	set, ok := h.accounts[user.ID]
	if !ok {
		set = make(map[*Session]struct{})
		h.accounts[user.ID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) join(s *Session, room string) {
	h.mu.Lock()
	h.joinLocked(s, room)
	h.mu.Unlock()
}

func (h *Hub) leave(s *Session, room string) {
	h.mu.Lock()
	h.leaveLocked(s, room)
	h.mu.Unlock()
}

func (h *Hub) joinLocked(s *Session, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	s.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(s *Session, room string) {
	delete(s.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) dropAccountLocked(s *Session) {
	set := h.accounts[s.user.ID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.accounts, s.user.ID)
	}
}

func (h *Hub) authFailure(reason string) {
	if h.metrics != nil {
		h.metrics.AuthFailures.WithLabelValues(reason).Inc()
	}
}

func (h *Hub) roomJoin(result string) {
	if h.metrics != nil {
		h.metrics.RoomJoins.WithLabelValues(result).Inc()
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
