package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/halyard-chat/halyard/internal/wire"
)

// serveLogin answers the next login on the server end with reply.
func serveLogin(t *testing.T, srv net.Conn, reply wire.Packet) {
	t.Helper()
	go func() {
		_ = srv.SetDeadline(time.Now().Add(2 * time.Second))
		if _, err := wire.ReadPacket(srv); err != nil {
			return
		}
		_ = wire.WritePacket(srv, reply)
	}()
}

func loginPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	cli, srv := net.Pipe()
	t.Cleanup(func() {
		_ = cli.Close()
		_ = srv.Close()
	})
	_ = cli.SetDeadline(time.Now().Add(2 * time.Second))
	return cli, srv
}

func TestLoginSuccess(t *testing.T) {
	cli, srv := loginPipe(t)
	serveLogin(t, srv, &wire.LoginSuccess{Created: true, ID: 7, Token: "tok"})

	pw := "secret"
	session, err := login(cli, &wire.Login{Name: "alice", Password: &pw})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.UserID != 7 || session.Token != "tok" || !session.Created {
		t.Errorf("session = %+v, want id 7, token tok, created", session)
	}
}

func TestLoginErrorMapping(t *testing.T) {
	tests := []struct {
		code uint8
		want error
	}{
		{wire.ErrLoginInvalid, ErrInvalidCredentials},
		{wire.ErrMissingField, errMissingCredential},
		{wire.ErrLoginBanned, ErrBanned},
		{wire.ErrLoginBot, ErrBotAccount},
		{wire.ErrLimitReached, ErrNameRejected},
		{wire.ErrMaxConnPerIP, ErrTooManyConnections},
	}
	for _, tt := range tests {
		cli, srv := loginPipe(t)
		serveLogin(t, srv, wire.Err(tt.code))

		tok := "stale"
		_, err := login(cli, &wire.Login{Name: "alice", Token: &tok})
		if !errors.Is(err, tt.want) {
			t.Errorf("code %d: err = %v, want %v", tt.code, err, tt.want)
		}
	}
}

func TestLoginUnexpectedReply(t *testing.T) {
	cli, srv := loginPipe(t)
	serveLogin(t, srv, &wire.TypingReceive{Author: 1, Channel: 1})

	pw := "secret"
	_, err := login(cli, &wire.Login{Name: "alice", Password: &pw})
	if !errors.Is(err, ErrUnexpectedReply) {
		t.Errorf("err = %v, want ErrUnexpectedReply", err)
	}
}
