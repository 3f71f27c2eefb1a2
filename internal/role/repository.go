package role

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/halyard-chat/halyard/internal/sqlite"
)

// SQLRepository implements Repository over the SQLite store.
type SQLRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLRepository creates a new SQLite-backed role repository.
func NewSQLRepository(db *sql.DB, logger zerolog.Logger) *SQLRepository {
	return &SQLRepository{db: db, log: logger}
}

// List returns every role ordered by position.
func (r *SQLRepository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, allow, deny, name, pos, unassignable FROM roles ORDER BY pos, id")
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()
	return scanRoles(rows)
}

// GetByID returns the role matching the given id.
func (r *SQLRepository) GetByID(ctx context.Context, id uint64) (*Role, error) {
	return getRole(ctx, r.db, id)
}

// GetByIDs returns the roles matching the given ids, ordered by position.
// Unknown ids are silently absent from the result.
func (r *SQLRepository) GetByIDs(ctx context.Context, ids []uint64) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(
		"SELECT id, allow, deny, name, pos, unassignable FROM roles WHERE id IN (%s) ORDER BY pos, id",
		placeholders(len(ids)))
	rows, err := r.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query roles by ids: %w", err)
	}
	defer rows.Close()
	return scanRoles(rows)
}

// Create inserts a role at params.Pos, shifting existing roles at or above
// that position up by one. The position must fall in 1..max+1 and the total
// role count must stay within maxRoles.
func (r *SQLRepository) Create(ctx context.Context, params CreateParams, maxRoles int) (*Role, error) {
	var created *Role
	err := sqlite.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var count int
		var max uint64
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*), MAX(pos) FROM roles").Scan(&count, &max); err != nil {
			return fmt.Errorf("count roles: %w", err)
		}
		if count+1 > maxRoles {
			return ErrTooMany
		}
		if params.Pos == 0 || params.Pos > max+1 {
			return ErrInvalidPos
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE roles SET pos = pos + 1 WHERE pos >= ?", params.Pos); err != nil {
			return fmt.Errorf("shift roles up: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO roles (allow, deny, name, pos, unassignable) VALUES (?, ?, ?, ?, ?)",
			params.Allow, params.Deny, params.Name, params.Pos, params.Unassignable)
		if err != nil {
			return fmt.Errorf("insert role: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read inserted role id: %w", err)
		}
		created = &Role{
			ID:           uint64(id),
			Allow:        params.Allow,
			Deny:         params.Deny,
			Name:         params.Name,
			Pos:          params.Pos,
			Unassignable: params.Unassignable,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update replaces a role's fields, moving neighbours to keep positions dense
// when the role changes position. System roles keep their name and pos 0;
// no other role may enter pos 0.
func (r *SQLRepository) Update(ctx context.Context, updated Role) (*Role, error) {
	err := sqlite.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		old, err := getRole(ctx, tx, updated.ID)
		if err != nil {
			return err
		}
		var max uint64
		if err := tx.QueryRowContext(ctx, "SELECT MAX(pos) FROM roles").Scan(&max); err != nil {
			return fmt.Errorf("query max role pos: %w", err)
		}
		switch {
		case updated.Pos == 0 && old.Pos != 0,
			updated.Pos != 0 && old.Pos == 0,
			updated.Pos > max:
			return ErrInvalidPos
		case updated.Pos == 0 && updated.Name != old.Name:
			return ErrLockedName
		}
		if updated.Pos > old.Pos {
			if _, err := tx.ExecContext(ctx,
				"UPDATE roles SET pos = pos - 1 WHERE pos > ? AND pos <= ?",
				old.Pos, updated.Pos); err != nil {
				return fmt.Errorf("shift roles down: %w", err)
			}
		} else if updated.Pos < old.Pos {
			if _, err := tx.ExecContext(ctx,
				"UPDATE roles SET pos = pos + 1 WHERE pos >= ? AND pos < ?",
				updated.Pos, old.Pos); err != nil {
				return fmt.Errorf("shift roles up: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE roles SET allow = ?, deny = ?, name = ?, pos = ?, unassignable = ? WHERE id = ?",
			updated.Allow, updated.Deny, updated.Name, updated.Pos, updated.Unassignable,
			updated.ID); err != nil {
			return fmt.Errorf("update role: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes a non-system role together with its channel overrides and
// user assignments, closing the position gap. The removed role is returned
// so callers can announce it.
func (r *SQLRepository) Delete(ctx context.Context, id uint64) (*Role, error) {
	var deleted *Role
	err := sqlite.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		old, err := getRole(ctx, tx, id)
		if err != nil {
			return err
		}
		if old.Pos == 0 {
			return ErrInvalidPos
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM roles WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete role: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE roles SET pos = pos - 1 WHERE pos > ?", old.Pos); err != nil {
			return fmt.Errorf("shift roles down: %w", err)
		}
		deleted = old
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// PermissionPairs returns the (allow, deny) pairs for the implicit system
// role followed by the given explicit roles, ordered by position ascending.
func (r *SQLRepository) PermissionPairs(ctx context.Context, bot bool, explicit []uint64) ([]Pair, error) {
	system := HumansID
	if bot {
		system = BotsID
	}
	ids := make([]uint64, 0, len(explicit)+1)
	ids = append(ids, system)
	ids = append(ids, explicit...)

	query := fmt.Sprintf(
		"SELECT id, allow, deny FROM roles WHERE id IN (%s) ORDER BY pos, id",
		placeholders(len(ids)))
	rows, err := r.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query permission pairs: %w", err)
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.RoleID, &p.Allow, &p.Deny); err != nil {
			return nil, fmt.Errorf("scan permission pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission pairs: %w", err)
	}
	return pairs, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRole(ctx context.Context, q querier, id uint64) (*Role, error) {
	var ro Role
	err := q.QueryRowContext(ctx,
		"SELECT id, allow, deny, name, pos, unassignable FROM roles WHERE id = ?", id,
	).Scan(&ro.ID, &ro.Allow, &ro.Deny, &ro.Name, &ro.Pos, &ro.Unassignable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query role by id: %w", err)
	}
	return &ro, nil
}

func scanRoles(rows *sql.Rows) ([]Role, error) {
	var roles []Role
	for rows.Next() {
		var ro Role
		if err := rows.Scan(&ro.ID, &ro.Allow, &ro.Deny, &ro.Name, &ro.Pos, &ro.Unassignable); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, ro)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []uint64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
