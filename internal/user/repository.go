package user

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

// NewSQLRepository creates a new SQLite-backed user repository.
func NewSQLRepository(db *sql.DB, logger zerolog.Logger) *SQLRepository {
	return &SQLRepository{db: db, log: logger}
}

// List returns all users ordered by id, with their explicit role ids.
func (r *SQLRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, ban, bot, name FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	index := make(map[uint64]int)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Ban, &u.Bot, &u.Name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		index[u.ID] = len(users)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	assignments, err := r.db.QueryContext(ctx,
		`SELECT ur.user_id, ur.role_id FROM user_roles ur
		 JOIN roles ro ON ro.id = ur.role_id
		 ORDER BY ur.user_id, ro.pos`)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer assignments.Close()

	for assignments.Next() {
		var userID, roleID uint64
		if err := assignments.Scan(&userID, &roleID); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		if i, ok := index[userID]; ok {
			users[i].Roles = append(users[i].Roles, roleID)
		}
	}
	if err := assignments.Err(); err != nil {
		return nil, fmt.Errorf("iterate user roles: %w", err)
	}

	return users, nil
}

// GetByID returns the user matching the given id.
func (r *SQLRepository) GetByID(ctx context.Context, id uint64) (*User, error) {
	var u User
	err := r.db.QueryRowContext(ctx,
		"SELECT id, ban, bot, name FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Ban, &u.Bot, &u.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT ur.role_id FROM user_roles ur
		 JOIN roles ro ON ro.id = ur.role_id
		 WHERE ur.user_id = ? ORDER BY ro.pos`, id)
	if err != nil {
		return nil, fmt.Errorf("query roles for user: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID uint64
		if err := rows.Scan(&roleID); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		u.Roles = append(u.Roles, roleID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role ids: %w", err)
	}

	return &u, nil
}

// GetCredentialsByName returns the login-time view of the account with the
// given name. Names compare case-insensitively.
func (r *SQLRepository) GetCredentialsByName(ctx context.Context, name string) (*Credentials, error) {
	var c Credentials
	err := r.db.QueryRowContext(ctx,
		"SELECT id, ban, bot, password, token FROM users WHERE name = ?", name,
	).Scan(&c.ID, &c.Ban, &c.Bot, &c.PasswordHash, &c.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query credentials by name: %w", err)
	}
	return &c, nil
}

// GetPasswordHash returns the stored password hash for a user.
func (r *SQLRepository) GetPasswordHash(ctx context.Context, id uint64) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx,
		"SELECT password FROM users WHERE id = ?", id,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query password hash: %w", err)
	}
	return hash, nil
}

// Create inserts a new account row and returns its id.
func (r *SQLRepository) Create(ctx context.Context, params CreateParams) (uint64, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users (bot, last_ip, name, password, token) VALUES (?, ?, ?, ?, ?)",
		params.Bot, params.LastIP, params.Name, params.PasswordHash, params.Token,
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return 0, ErrNameTaken
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted user id: %w", err)
	}
	return uint64(id), nil
}

// SetName renames an account. ErrNameTaken is returned when another account
// already holds the name (case-insensitively).
func (r *SQLRepository) SetName(ctx context.Context, id uint64, name string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE users SET name = ? WHERE id = ?", name, id)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("update user name: %w", err)
	}
	return nil
}

// SetPassword replaces the stored password hash.
func (r *SQLRepository) SetPassword(ctx context.Context, id uint64, hash string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE users SET password = ? WHERE id = ?", hash, id); err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return nil
}

// SetToken replaces the stored bearer token.
func (r *SQLRepository) SetToken(ctx context.Context, id uint64, token string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE users SET token = ? WHERE id = ?", token, id); err != nil {
		return fmt.Errorf("update user token: %w", err)
	}
	return nil
}

// SetLastIP records the peer address of the latest successful login.
func (r *SQLRepository) SetLastIP(ctx context.Context, id uint64, ip string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE users SET last_ip = ? WHERE id = ?", ip, id); err != nil {
		return fmt.Errorf("update user last ip: %w", err)
	}
	return nil
}

// SetBan flips the ban flag.
func (r *SQLRepository) SetBan(ctx context.Context, id uint64, ban bool) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE users SET ban = ? WHERE id = ?", ban, id); err != nil {
		return fmt.Errorf("update user ban: %w", err)
	}
	return nil
}

// SetRoles replaces the user's explicit role assignments.
func (r *SQLRepository) SetRoles(ctx context.Context, id uint64, roles []uint64) error {
	return sqlite.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = ?", id); err != nil {
			return fmt.Errorf("clear user roles: %w", err)
		}
		for _, roleID := range roles {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)", id, roleID,
			); err != nil {
				return fmt.Errorf("assign role %d: %w", roleID, err)
			}
		}
		return nil
	})
}

// CountBannedByLastIP returns how many banned accounts last connected from
// the given address. Used by the admission check.
func (r *SQLRepository) CountBannedByLastIP(ctx context.Context, ip string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE ban = 1 AND last_ip = ?", ip,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count banned users by ip: %w", err)
	}
	return count, nil
}
