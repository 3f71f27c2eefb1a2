package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/halyard-chat/halyard/internal/wire"
)

// Login failures surfaced to the front end.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBanned             = errors.New("banned from this server")
	ErrBotAccount         = errors.New("account is a bot account")
	ErrNameRejected       = errors.New("name rejected by server limits")
	ErrTooManyConnections = errors.New("too many connections from this address")

	// ErrSuspiciousServer means a token login reported a freshly created
	// account. A server that does not know the token it issued should not
	// be trusted.
	ErrSuspiciousServer = errors.New("token login created an account")

	ErrUnexpectedReply = errors.New("unexpected server reply")
)

// errMissingCredential covers the server's MISSING_FIELD reply; on a token
// attempt it is treated like a stale token.
var errMissingCredential = errors.New("login credential missing")

// Session is an authenticated connection. Send and Recv may be used from
// different goroutines, but each from at most one at a time.
type Session struct {
	conn net.Conn

	UserID  uint64
	Token   string
	Created bool
}

// Send writes one packet.
func (s *Session) Send(p wire.Packet) error {
	return wire.WritePacket(s.conn, p)
}

// Recv reads the next packet, blocking until one arrives.
func (s *Session) Recv() (wire.Packet, error) {
	return wire.ReadPacket(s.conn)
}

// Close announces the departure and closes the connection.
func (s *Session) Close() error {
	_ = wire.WritePacket(s.conn, wire.Close{})
	return s.conn.Close()
}

// Connector runs the connect-and-login flow against the local store. The
// prompts are only called when needed: PromptPin for a first contact,
// PromptPassword when there is no usable token.
type Connector struct {
	Store          *Store
	PromptPin      func() (string, error)
	PromptPassword func() (string, error)
	Log            zerolog.Logger
}

// Connect dials addr, verifies the pin, and logs in as name. A stored token
// is tried first; when the server rejects it the token is cleared and the
// password path runs. A fresh token from a password login is persisted.
func (c *Connector) Connect(ctx context.Context, addr, name string) (*Session, error) {
	addr = NormalizeAddr(addr)

	srv, err := c.Store.Lookup(ctx, addr)
	switch {
	case errors.Is(err, ErrUnknownServer):
		pin, promptErr := c.PromptPin()
		if promptErr != nil {
			return nil, promptErr
		}
		if err := c.Store.SavePin(ctx, addr, pin); err != nil {
			return nil, err
		}
		srv = &Server{Addr: addr, Pin: pin}
	case err != nil:
		return nil, err
	}

	conn, err := Dial(ctx, addr, srv.Pin)
	if err != nil {
		return nil, err
	}

	if srv.Token != nil {
		session, err := login(conn, &wire.Login{Name: name, Token: srv.Token})
		switch {
		case err == nil:
			if session.Created {
				_ = conn.Close()
				return nil, ErrSuspiciousServer
			}
			return session, nil
		case errors.Is(err, ErrInvalidCredentials), errors.Is(err, errMissingCredential):
			c.Log.Warn().Str("addr", addr).Msg("Stored token rejected, falling back to password")
			if err := c.Store.ClearToken(ctx, addr); err != nil {
				c.Log.Warn().Err(err).Msg("Failed to clear stale token")
			}
		default:
			_ = conn.Close()
			return nil, err
		}
	}

	password, err := c.PromptPassword()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	session, err := login(conn, &wire.Login{Name: name, Password: &password})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := c.Store.SaveToken(ctx, addr, session.Token); err != nil {
		c.Log.Warn().Err(err).Msg("Failed to persist token")
	}
	return session, nil
}

func login(conn net.Conn, p *wire.Login) (*Session, error) {
	if err := wire.WritePacket(conn, p); err != nil {
		return nil, fmt.Errorf("send login: %w", err)
	}
	reply, err := wire.ReadPacket(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("server closed the connection: %w", err)
		}
		return nil, fmt.Errorf("read login reply: %w", err)
	}
	switch r := reply.(type) {
	case *wire.LoginSuccess:
		return &Session{conn: conn, UserID: r.ID, Token: r.Token, Created: r.Created}, nil
	case wire.Err:
		return nil, loginError(uint8(r))
	default:
		return nil, fmt.Errorf("%w: %T to login", ErrUnexpectedReply, reply)
	}
}

func loginError(code uint8) error {
	switch code {
	case wire.ErrLoginInvalid:
		return ErrInvalidCredentials
	case wire.ErrMissingField:
		return errMissingCredential
	case wire.ErrLoginBanned:
		return ErrBanned
	case wire.ErrLoginBot:
		return ErrBotAccount
	case wire.ErrLimitReached:
		return ErrNameRejected
	case wire.ErrMaxConnPerIP:
		return ErrTooManyConnections
	default:
		return fmt.Errorf("%w: error code %d to login", ErrUnexpectedReply, code)
	}
}
