// Package client connects to a halyard server: certificate-pinned TLS dial,
// the login flow with token fallback, and a local store remembering each
// server's pin and bearer token.
package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/halyard-chat/halyard/internal/client/migrations"
	"github.com/halyard-chat/halyard/internal/sqlite"
)

// ErrUnknownServer is returned by Lookup for an address never connected to.
var ErrUnknownServer = errors.New("unknown server")

// Server is one remembered server: its certificate pin and, once logged in,
// the bearer token.
type Server struct {
	Addr  string
	Pin   string
	Token *string
}

// Store persists per-server pins and tokens in a local sqlite file.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenStore opens (creating and migrating if necessary) the store at path.
func OpenStore(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:  db,
		log: logger.With().Str("component", "client_store").Logger(),
	}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup returns the remembered record for addr.
func (s *Store) Lookup(ctx context.Context, addr string) (*Server, error) {
	srv := Server{Addr: addr}
	err := s.db.QueryRowContext(ctx,
		`SELECT pin, token FROM servers WHERE addr = ?`, addr,
	).Scan(&srv.Pin, &srv.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownServer
	}
	if err != nil {
		return nil, fmt.Errorf("look up server %s: %w", addr, err)
	}
	return &srv, nil
}

// SavePin remembers a server's certificate pin, replacing any prior record.
func (s *Store) SavePin(ctx context.Context, addr, pin string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (addr, pin) VALUES (?, ?)
		 ON CONFLICT (addr) DO UPDATE SET pin = excluded.pin, token = NULL`,
		addr, pin)
	if err != nil {
		return fmt.Errorf("save pin for %s: %w", addr, err)
	}
	return nil
}

// SaveToken stores the bearer token obtained from a successful login.
func (s *Store) SaveToken(ctx context.Context, addr, token string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE servers SET token = ? WHERE addr = ?`, token, addr)
	if err != nil {
		return fmt.Errorf("save token for %s: %w", addr, err)
	}
	return nil
}

// ClearToken drops a stale token so the next connect prompts for a password.
func (s *Store) ClearToken(ctx context.Context, addr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE servers SET token = NULL WHERE addr = ?`, addr)
	if err != nil {
		return fmt.Errorf("clear token for %s: %w", addr, err)
	}
	return nil
}
