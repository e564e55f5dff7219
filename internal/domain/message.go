package domain

import (
	"strings"
	"time"
)

type MessageKind string

const (
	MessageKindUser   MessageKind = "user"
	MessageKindSystem MessageKind = "system"
)

const (
	MaxMessageLength = 4000
	MaxMessageImages = 10
)

// Message is one entry in a transaction's conversation. Seq is assigned by
// the server and is gapless per transaction.
type Message struct {
	ID            string
	TransactionID string
	Seq           int64
	SenderID      string
	ReceiverID    string
	Kind          MessageKind
	Content       string
	Images        []string
	ClientToken   string
	CreatedAt     time.Time
}

// Validate checks content limits for user-authored messages.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" && len(m.Images) == 0 {
		return ErrEmptyMessage
	}
	if len([]rune(m.Content)) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if len(m.Images) > MaxMessageImages {
		return ErrTooManyImages
	}
	return nil
}

// RoomName is the channel key shared by both participants of a transaction.
func RoomName(transactionID string) string {
	return "transaction_" + transactionID
}

// TransactionIDFromRoom is the inverse of RoomName.
func TransactionIDFromRoom(room string) (string, bool) {
	id, ok := strings.CutPrefix(room, "transaction_")
	return id, ok && id != ""
}

// Room event types pushed to joined sessions.
const (
	RoomEventNewMessage         = "new_message"
	RoomEventTransactionUpdated = "transaction_updated"
)

// RoomEvent is a server push addressed to one transaction room.
type RoomEvent struct {
	Type        string
	Room        string
	Message     *Message
	Transaction *Transaction
}

// Listing is the marketplace post being purchased, as seen by checkout.
type Listing struct {
	Ref       string
	SellerID  string
	Price     int64
	Currency  string
	Available bool
}

// Profile is display information from the user directory.
type Profile struct {
	AccountID   string
	DisplayName string
	AvatarURL   string
}
