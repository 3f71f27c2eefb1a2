package server

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog"
)

// Server accepts connections and hands each one to the Handler.
type Server struct {
	handler *Handler
	log     zerolog.Logger
}

// New creates a server around a connection handler.
func New(handler *Handler, logger zerolog.Logger) *Server {
	return &Server{
		handler: handler,
		log:     logger.With().Str("component", "server").Logger(),
	}
}

// Serve accepts connections from ln until the context is cancelled. Each
// connection gets its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("Listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handler.HandleConn(ctx, conn)
	}
}
