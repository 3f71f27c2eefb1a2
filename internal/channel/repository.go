package channel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/halyard-chat/halyard/internal/sqlite"
)

// SQLRepository implements Repository over the SQLite store.
type SQLRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLRepository creates a new SQLite-backed channel repository.
func NewSQLRepository(db *sql.DB, logger zerolog.Logger) *SQLRepository {
	return &SQLRepository{db: db, log: logger}
}

// List returns every channel with its overrides, ordered by id.
func (r *SQLRepository) List(ctx context.Context) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name FROM channels ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	index := make(map[uint64]int)
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		index[c.ID] = len(channels)
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	overrides, err := r.db.QueryContext(ctx,
		`SELECT o.channel, o.role, o.allow, o.deny FROM overrides o
		 JOIN roles ro ON ro.id = o.role
		 ORDER BY o.channel, ro.pos, ro.id`)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer overrides.Close()

	for overrides.Next() {
		var channelID uint64
		var o Override
		if err := overrides.Scan(&channelID, &o.RoleID, &o.Allow, &o.Deny); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		if i, ok := index[channelID]; ok {
			channels[i].Overrides = append(channels[i].Overrides, o)
		}
	}
	if err := overrides.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}

	return channels, nil
}

// GetByID returns the channel matching the given id, with overrides ordered
// by role position.
func (r *SQLRepository) GetByID(ctx context.Context, id uint64) (*Channel, error) {
	return getChannel(ctx, r.db, id)
}

// Create inserts a channel and its override set.
func (r *SQLRepository) Create(ctx context.Context, name string, overrides []Override) (*Channel, error) {
	var created *Channel
	err := sqlite.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "INSERT INTO channels (name) VALUES (?)", name)
		if err != nil {
			return fmt.Errorf("insert channel: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read inserted channel id: %w", err)
		}
		if err := replaceOverrides(ctx, tx, uint64(id), overrides); err != nil {
			return err
		}
		created, err = getChannel(ctx, tx, uint64(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update renames a channel and, unless keepOverrides is set, replaces its
// override set.
func (r *SQLRepository) Update(ctx context.Context, id uint64, name string, overrides []Override, keepOverrides bool) (*Channel, error) {
	var updated *Channel
	err := sqlite.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := getChannel(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE channels SET name = ? WHERE id = ?", name, id); err != nil {
			return fmt.Errorf("update channel: %w", err)
		}
		if !keepOverrides {
			if err := replaceOverrides(ctx, tx, id, overrides); err != nil {
				return err
			}
		}
		var err error
		updated, err = getChannel(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a channel; its messages and overrides go with it. The
// removed channel is returned so callers can announce it.
func (r *SQLRepository) Delete(ctx context.Context, id uint64) (*Channel, error) {
	var deleted *Channel
	err := sqlite.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		old, err := getChannel(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM channels WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete channel: %w", err)
		}
		deleted = old
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getChannel(ctx context.Context, q querier, id uint64) (*Channel, error) {
	// Overrides stay non-nil so channel-scoped broadcasts always run the
	// READ filter, even for an empty override set.
	c := Channel{Overrides: []Override{}}
	err := q.QueryRowContext(ctx,
		"SELECT id, name FROM channels WHERE id = ?", id,
	).Scan(&c.ID, &c.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query channel by id: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT o.role, o.allow, o.deny FROM overrides o
		 JOIN roles ro ON ro.id = o.role
		 WHERE o.channel = ? ORDER BY ro.pos, ro.id`, id)
	if err != nil {
		return nil, fmt.Errorf("query overrides for channel: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.RoleID, &o.Allow, &o.Deny); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		c.Overrides = append(c.Overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}

	return &c, nil
}

// replaceOverrides swaps a channel's override set. Entries naming roles that
// do not exist are dropped.
func replaceOverrides(ctx context.Context, tx *sql.Tx, channelID uint64, overrides []Override) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM overrides WHERE channel = ?", channelID); err != nil {
		return fmt.Errorf("clear overrides: %w", err)
	}
	for _, o := range overrides {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO overrides (channel, role, allow, deny)
			 SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM roles WHERE id = ?)`,
			channelID, o.RoleID, o.Allow, o.Deny, o.RoleID); err != nil {
			return fmt.Errorf("insert override for role %d: %w", o.RoleID, err)
		}
	}
	return nil
}
