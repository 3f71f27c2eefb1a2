// Package server holds the connection-facing half of the engine: the
// session registry, the per-connection packet dispatcher, and the broadcast
// hub.
package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halyard-chat/halyard/internal/wire"
)

// sendQueueSize is the outbound frame buffer per session. A session that
// falls this far behind is closed rather than allowed to stall everyone.
const sendQueueSize = 256

// Session is one live connection. Writes go through the send queue and a
// single writer goroutine, so they are serialized per session.
type Session struct {
	ID uuid.UUID
	IP string

	conn net.Conn
	send chan []byte
	log  zerolog.Logger

	mu     sync.RWMutex
	userID uint64

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(conn net.Conn, ip string, logger zerolog.Logger) *Session {
	id := uuid.New()
	return &Session{
		ID:     id,
		IP:     ip,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		log:    logger.With().Str("conn_id", id.String()).Logger(),
		closed: make(chan struct{}),
	}
}

// UserID returns the authenticated user id, or 0 before login.
func (s *Session) UserID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Authenticate records a successful login. It refuses to overwrite an
// existing id.
func (s *Session) Authenticate(userID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != 0 {
		return false
	}
	s.userID = userID
	return true
}

// Send queues one wire packet for delivery. A full queue closes the session.
func (s *Session) Send(p wire.Packet) error {
	frame, err := encodeFrame(p)
	if err != nil {
		return err
	}
	s.enqueue(frame)
	return nil
}

func (s *Session) enqueue(frame []byte) {
	select {
	case <-s.closed:
	case s.send <- frame:
	default:
		s.log.Warn().Msg("Session send queue full, closing connection")
		s.Close()
	}
}

// Close shuts the connection down. Safe to call more than once and from any
// goroutine; the registry removal happens in the owning read loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// Closed reports whether the session has been shut down.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// writePump drains the send queue onto the connection. A broken pipe ends
// the session; any other write error is logged and the session kept.
func (s *Session) writePump() {
	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.send:
			if _, err := s.conn.Write(frame); err != nil {
				if isBrokenPipe(err) {
					s.log.Debug().Err(err).Msg("Peer gone, closing session")
					s.Close()
					return
				}
				s.log.Warn().Err(err).Msg("Failed to deliver packet")
			}
		}
	}
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

// encodeFrame serializes a packet with its length prefix in one buffer, so
// a frame hits the socket in a single write.
func encodeFrame(p wire.Packet) ([]byte, error) {
	body, err := wire.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("encode packet: %w", err)
	}
	frame := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(frame, uint16(len(body)))
	copy(frame[2:], body)
	return frame, nil
}
