package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard-chat/halyard/internal/channel"
	"github.com/halyard-chat/halyard/internal/permission"
	"github.com/halyard-chat/halyard/internal/role"
	"github.com/halyard-chat/halyard/internal/user"
	"github.com/halyard-chat/halyard/internal/wire"
)

type hubEnv struct {
	users    *fakeUsers
	roles    *fakeRoles
	registry *Registry
	hub      *Hub
}

func newHubEnv(ownerID uint64) *hubEnv {
	users := newFakeUsers()
	roles := newFakeRoles()
	registry := NewRegistry(8)
	resolver := permission.NewResolver(roles, ownerID, zerolog.Nop())
	hub := NewHub(registry, resolver, users, zerolog.Nop())
	return &hubEnv{users: users, roles: roles, registry: registry, hub: hub}
}

// pumpSession admits a running session and returns the client end to read
// delivered frames from.
func (e *hubEnv) pumpSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	s, client := pipeSession(t, "10.0.0.1")
	e.registry.Admit(s)
	go s.writePump()
	return s, client
}

func expectPacket(t *testing.T, conn net.Conn) wire.Packet {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	p, err := wire.ReadPacket(conn)
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	return p
}

func expectNothing(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if p, err := wire.ReadPacket(conn); err == nil {
		t.Fatalf("unexpected broadcast %T (%v)", p, p)
	}
}

func (e *hubEnv) addUser(t *testing.T, name string, roles []uint64) uint64 {
	t.Helper()
	id, err := e.users.Create(context.Background(), user.CreateParams{Name: name})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if roles != nil {
		_ = e.users.SetRoles(context.Background(), id, roles)
	}
	return id
}

func TestBroadcastSkipsUnauthenticated(t *testing.T) {
	e := newHubEnv(0)
	id := e.addUser(t, "alice", nil)

	authed, authedConn := e.pumpSession(t)
	authed.Authenticate(id)
	_, anonConn := e.pumpSession(t)

	e.hub.Broadcast(context.Background(), &wire.TypingReceive{Author: id, Channel: 1}, nil)

	if _, ok := expectPacket(t, authedConn).(*wire.TypingReceive); !ok {
		t.Error("authenticated session did not receive the broadcast")
	}
	expectNothing(t, anonConn)
}

func TestBroadcastChannelScopedByRead(t *testing.T) {
	e := newHubEnv(0)
	reader := e.addUser(t, "alice", nil)
	blocked := e.addUser(t, "bob", nil)

	readerSession, readerConn := e.pumpSession(t)
	readerSession.Authenticate(reader)
	blockedSession, blockedConn := e.pumpSession(t)
	blockedSession.Authenticate(blocked)

	// alice holds a role that restores READ over the @humans deny.
	modID := uint64(3)
	e.roles.roles[modID] = role.Role{ID: modID, Allow: 1, Name: "mod", Pos: 1}
	_ = e.users.SetRoles(context.Background(), reader, []uint64{modID})

	overrides := []channel.Override{
		{RoleID: role.HumansID, Deny: 1},
		{RoleID: modID, Allow: 1},
	}
	e.hub.Broadcast(context.Background(), &wire.TypingReceive{Author: reader, Channel: 1}, overrides)

	if _, ok := expectPacket(t, readerConn).(*wire.TypingReceive); !ok {
		t.Error("permitted session did not receive the scoped broadcast")
	}
	expectNothing(t, blockedConn)
}

func TestBroadcastOwnerBypassesOverrides(t *testing.T) {
	owner := uint64(1)
	e := newHubEnv(owner)
	e.addUser(t, "alice", nil) // id 1

	s, conn := e.pumpSession(t)
	s.Authenticate(owner)

	overrides := []channel.Override{{RoleID: role.HumansID, Deny: 1}}
	e.hub.Broadcast(context.Background(), &wire.TypingReceive{Author: owner, Channel: 1}, overrides)

	if _, ok := expectPacket(t, conn).(*wire.TypingReceive); !ok {
		t.Error("owner did not receive the scoped broadcast")
	}
}

func TestBroadcastSharedVerdictAcrossSessions(t *testing.T) {
	e := newHubEnv(0)
	id := e.addUser(t, "alice", nil)

	first, firstConn := e.pumpSession(t)
	first.Authenticate(id)
	second, secondConn := e.pumpSession(t)
	second.Authenticate(id)

	e.hub.Broadcast(context.Background(), &wire.TypingReceive{Author: id, Channel: 1},
		[]channel.Override{})

	for _, conn := range []net.Conn{firstConn, secondConn} {
		if _, ok := expectPacket(t, conn).(*wire.TypingReceive); !ok {
			t.Error("session of the permitted user did not receive the broadcast")
		}
	}
}
