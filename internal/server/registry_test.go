package server

import (
	"net"
	"testing"

	"github.com/rs/zerolog"
)

func pipeSession(t *testing.T, ip string) (*Session, net.Conn) {
	t.Helper()
	client, srv := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = srv.Close()
	})
	return newSession(srv, ip, zerolog.Nop()), client
}

func TestRegistryAdmitEnforcesPerIPCap(t *testing.T) {
	r := NewRegistry(2)

	a, _ := pipeSession(t, "10.0.0.1")
	b, _ := pipeSession(t, "10.0.0.1")
	c, _ := pipeSession(t, "10.0.0.1")
	other, _ := pipeSession(t, "10.0.0.2")

	if !r.Admit(a) || !r.Admit(b) {
		t.Fatal("sessions under the cap rejected")
	}
	if r.Admit(c) {
		t.Fatal("session over the cap admitted")
	}
	if !r.Admit(other) {
		t.Fatal("session from a different ip rejected")
	}
}

func TestRegistryRejectionDoesNotCount(t *testing.T) {
	r := NewRegistry(1)

	a, _ := pipeSession(t, "10.0.0.1")
	b, _ := pipeSession(t, "10.0.0.1")
	c, _ := pipeSession(t, "10.0.0.1")

	r.Admit(a)
	// A rejected admit must not occupy a slot for the ip.
	r.Admit(b)
	r.Remove(a)
	if !r.Admit(c) {
		t.Fatal("slot freed by Remove not reusable, rejection must not have counted")
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := NewRegistry(1)
	a, _ := pipeSession(t, "10.0.0.1")

	r.Admit(a)
	r.Remove(a)
	r.Remove(a)

	b, _ := pipeSession(t, "10.0.0.1")
	if !r.Admit(b) {
		t.Fatal("double Remove corrupted the ip count")
	}
}

func TestRegistryCloseUser(t *testing.T) {
	r := NewRegistry(8)

	a, _ := pipeSession(t, "10.0.0.1")
	b, _ := pipeSession(t, "10.0.0.2")
	c, _ := pipeSession(t, "10.0.0.3")
	r.Admit(a)
	r.Admit(b)
	r.Admit(c)
	a.Authenticate(7)
	b.Authenticate(7)
	c.Authenticate(8)

	r.CloseUser(7)

	if !a.Closed() || !b.Closed() {
		t.Error("sessions of the banned user not closed")
	}
	if c.Closed() {
		t.Error("session of another user closed")
	}
	if r.Count() != 1 {
		t.Errorf("registry count = %d, want 1", r.Count())
	}
}

func TestSessionAuthenticateOnce(t *testing.T) {
	s, _ := pipeSession(t, "10.0.0.1")

	if !s.Authenticate(3) {
		t.Fatal("first Authenticate refused")
	}
	if s.Authenticate(4) {
		t.Fatal("second Authenticate overwrote the id")
	}
	if got := s.UserID(); got != 3 {
		t.Errorf("UserID() = %d, want 3", got)
	}
}
