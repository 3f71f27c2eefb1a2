package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// SQLRepository implements Repository over the SQLite store.
type SQLRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLRepository creates a new SQLite-backed message repository.
func NewSQLRepository(db *sql.DB, logger zerolog.Logger) *SQLRepository {
	return &SQLRepository{db: db, log: logger}
}

// GetByID returns the message matching the given id.
func (r *SQLRepository) GetByID(ctx context.Context, id uint64) (*Message, error) {
	var m Message
	err := r.db.QueryRowContext(ctx,
		"SELECT id, author, channel, text, timestamp, timestamp_edit FROM messages WHERE id = ?", id,
	).Scan(&m.ID, &m.Author, &m.Channel, &m.Text, &m.Timestamp, &m.TimestampEdit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by id: %w", err)
	}
	return &m, nil
}

// Create inserts a message and returns it with its assigned id.
func (r *SQLRepository) Create(ctx context.Context, params CreateParams) (*Message, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO messages (author, channel, text, timestamp) VALUES (?, ?, ?, ?)",
		params.Author, params.Channel, params.Text, params.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read inserted message id: %w", err)
	}
	return &Message{
		ID:        uint64(id),
		Author:    params.Author,
		Channel:   params.Channel,
		Text:      params.Text,
		Timestamp: params.Timestamp,
	}, nil
}

// SetText replaces a message's text and records the edit time.
func (r *SQLRepository) SetText(ctx context.Context, id uint64, text []byte, editedAt int64) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE messages SET text = ?, timestamp_edit = ? WHERE id = ?",
		text, editedAt, id); err != nil {
		return fmt.Errorf("update message text: %w", err)
	}
	return nil
}

// Delete removes a message.
func (r *SQLRepository) Delete(ctx context.Context, id uint64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// List returns one page of a channel's history, oldest first. The before
// and latest branches select from the anchor backwards, then re-sort
// ascending so every page reads in chronological order.
func (r *SQLRepository) List(ctx context.Context, params ListParams) ([]Message, error) {
	var rows *sql.Rows
	var err error
	switch {
	case params.After != nil:
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, author, channel, text, timestamp, timestamp_edit FROM messages
			 WHERE channel = ? AND timestamp >= (SELECT timestamp FROM messages WHERE id = ?)
			 ORDER BY timestamp, id LIMIT ?`,
			params.Channel, *params.After, params.Limit)
	case params.Before != nil:
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, author, channel, text, timestamp, timestamp_edit FROM
			 (SELECT * FROM messages
			  WHERE channel = ? AND timestamp <= (SELECT timestamp FROM messages WHERE id = ?)
			  ORDER BY timestamp DESC, id DESC LIMIT ?)
			 ORDER BY timestamp, id`,
			params.Channel, *params.Before, params.Limit)
	default:
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, author, channel, text, timestamp, timestamp_edit FROM
			 (SELECT * FROM messages WHERE channel = ?
			  ORDER BY timestamp DESC, id DESC LIMIT ?)
			 ORDER BY timestamp, id`,
			params.Channel, params.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Author, &m.Channel, &m.Text, &m.Timestamp, &m.TimestampEdit); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
