package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iho/goescrow/internal/domain"
)

// Session is one socket connection. user and rooms are guarded by the
// hub's mutex and only written from the session's read goroutine.
type Session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	user  *domain.User
	rooms map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(h *Hub, conn *websocket.Conn) *Session {
	return &Session{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, h.sendBuffer),
		rooms: make(map[string]struct{}),
		done:  make(chan struct{}),
	}
}

func (s *Session) accountID() string {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// enqueue reports false when the session is closed or its buffer is full.
func (s *Session) enqueue(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) reply(f Frame) {
	s.enqueue(encode(f))
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.hub.unregister(s)
		s.close()
	}()

	pongWait := s.hub.pingInterval * 2
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Debug().Err(err).Msg("socket closed")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in inboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			s.reply(Frame{Type: FrameError, Code: CodeInvalidFrame, Error: "malformed frame"})
			continue
		}
		s.handle(ctx, in)
	}
}

func (s *Session) handle(ctx context.Context, in inboundFrame) {
	switch in.Type {
	case FrameAuth:
		user, err := s.hub.authn.Authenticate(in.Token)
		if err != nil {
			s.hub.authFailure("invalid_token")
			s.reply(errorFrame("", err))
			return
		}
		s.hub.authenticate(s, user)
		s.reply(Frame{Type: FrameAuthenticated, AccountID: user.ID})

	case FrameJoin:
		if err := s.authorizeJoin(ctx, in.Room); err != nil {
			s.reply(errorFrame(in.Room, err))
			return
		}
		s.hub.join(s, in.Room)
		s.hub.roomJoin("ok")
		s.reply(Frame{Type: FrameJoined, Room: in.Room})

	case FrameLeave:
		s.hub.leave(s, in.Room)
		s.reply(Frame{Type: FrameLeft, Room: in.Room})

	case FramePing:
		s.reply(Frame{Type: FramePong})

	default:
		s.reply(Frame{Type: FrameError, Code: CodeInvalidFrame, Error: "unknown frame type"})
	}
}

// authorizeJoin re-checks participation on every join so a session cannot
// keep following a room its account no longer belongs to.
func (s *Session) authorizeJoin(ctx context.Context, room string) error {
	if s.user == nil {
		s.hub.roomJoin("anonymous")
		return domain.ErrUnauthenticated
	}
	transactionID, ok := domain.TransactionIDFromRoom(room)
	if !ok {
		s.hub.roomJoin("invalid")
		return domain.ErrNotFound
	}
	if err := s.hub.authz.AuthorizeParticipant(ctx, transactionID, s.user.ID); err != nil {
		s.hub.roomJoin("denied")
		if !errors.Is(err, domain.ErrUnauthorized) && !errors.Is(err, domain.ErrNotFound) {
			s.hub.logger.Error().Err(err).Str("room", room).Msg("room authorization failed")
		}
		return err
	}
	return nil
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.pingInterval)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
