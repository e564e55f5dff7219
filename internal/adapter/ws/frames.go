package ws

import (
	"encoding/json"

	"github.com/iho/goescrow/internal/adapter/http/dto"
	"github.com/iho/goescrow/internal/domain"
)

// Client frame types.
const (
	FrameAuth  = "auth"
	FrameJoin  = "join"
	FrameLeave = "leave"
	FramePing  = "ping"
)

// Server frame types. Room events reuse domain.RoomEvent* names.
const (
	FrameAuthenticated = "authenticated"
	FrameJoined        = "joined"
	FrameLeft          = "left"
	FramePong          = "pong"
	FrameError         = "error"
)

// CodeInvalidFrame is sent for frames the server cannot parse or route.
const CodeInvalidFrame = "INVALID_FRAME"

// inboundFrame is anything a client may send.
type inboundFrame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Room  string `json:"room,omitempty"`
}

// Frame is anything the server pushes.
type Frame struct {
	Type        string                   `json:"type"`
	Room        string                   `json:"room,omitempty"`
	AccountID   string                   `json:"account_id,omitempty"`
	Code        string                   `json:"code,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Message     *dto.MessageResponse     `json:"message,omitempty"`
	Transaction *dto.TransactionResponse `json:"transaction,omitempty"`
}

func eventFrame(ev domain.RoomEvent) Frame {
	f := Frame{Type: ev.Type, Room: ev.Room}
	if ev.Message != nil {
		f.Message = dto.MessageFromDomain(ev.Message)
	}
	if ev.Transaction != nil {
		f.Transaction = dto.TransactionFromDomain(ev.Transaction)
	}
	return f
}

func errorFrame(room string, err error) Frame {
	return Frame{
		Type:  FrameError,
		Room:  room,
		Code:  domain.ErrorCode(err),
		Error: domain.PublicMessage(err),
	}
}

func encode(f Frame) []byte {
	// Frame holds only strings, numbers and times.
	b, _ := json.Marshal(f)
	return b
}
