// Package message holds the message entity and its data-access contract.
package message

import (
	"context"
	"errors"

	"github.com/halyard-chat/halyard/internal/wire"
)

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("message not found")

// Message is one channel entry. Text is opaque bytes; the server never
// interprets it.
type Message struct {
	ID            uint64
	Author        uint64
	Channel       uint64
	Text          []byte
	Timestamp     int64
	TimestampEdit *int64
}

// ToWire converts the message to its protocol representation.
func (m *Message) ToWire() wire.Message {
	return wire.Message{
		Author:        m.Author,
		Channel:       m.Channel,
		ID:            m.ID,
		Text:          m.Text,
		Timestamp:     m.Timestamp,
		TimestampEdit: m.TimestampEdit,
	}
}

// CreateParams groups the inputs for inserting a message.
type CreateParams struct {
	Author    uint64
	Channel   uint64
	Text      []byte
	Timestamp int64
}

// ListParams selects one page of a channel's history, oldest first. With
// Before set the page ends at that message; with After set it starts there;
// with neither it holds the latest messages. Both anchors are inclusive.
type ListParams struct {
	Channel uint64
	After   *uint64
	Before  *uint64
	Limit   uint64
}

// Repository defines the data-access contract for message operations.
type Repository interface {
	GetByID(ctx context.Context, id uint64) (*Message, error)
	Create(ctx context.Context, params CreateParams) (*Message, error)
	SetText(ctx context.Context, id uint64, text []byte, editedAt int64) error
	Delete(ctx context.Context, id uint64) error
	List(ctx context.Context, params ListParams) ([]Message, error)
}
