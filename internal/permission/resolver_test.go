package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/halyard-chat/halyard/internal/channel"
	"github.com/halyard-chat/halyard/internal/role"
	"github.com/halyard-chat/halyard/internal/user"
)

// --- Fake pair source ---

type fakePairs struct {
	pairs  []role.Pair
	err    error
	called bool
}

func (f *fakePairs) PermissionPairs(_ context.Context, _ bool, _ []uint64) ([]role.Pair, error) {
	f.called = true
	return f.pairs, f.err
}

const ownerID = 99

// --- Tests ---

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		base  Mask
		allow uint8
		deny  uint8
		want  Mask
	}{
		{"grant on empty", 0, uint8(Read | Write), 0, Read | Write},
		{"deny removes", Read | Write, 0, uint8(Write), Read},
		{"deny wins within one grant", 0, uint8(Read), uint8(Read), 0},
		{"regrant after deny", Read, uint8(Write), 0, Read | Write},
		{"zero grant is identity", Read | Ban, 0, 0, Read | Ban},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Apply(tt.base, tt.allow, tt.deny); got != tt.want {
				t.Errorf("Apply(%d, %d, %d) = %d, want %d", tt.base, tt.allow, tt.deny, got, tt.want)
			}
		})
	}
}

func TestOwnerBypass(t *testing.T) {
	pairs := &fakePairs{err: errors.New("must not be called")}
	r := NewResolver(pairs, ownerID, zerolog.Nop())

	mask, err := r.Resolve(context.Background(), &user.User{ID: ownerID}, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if mask != All {
		t.Errorf("owner mask = %d, want All (%d)", mask, All)
	}
	if pairs.called {
		t.Error("owner resolution hit the pair source")
	}
}

func TestOrderedFold(t *testing.T) {
	// A lower role grants READ|WRITE, a higher one revokes WRITE.
	pairs := &fakePairs{pairs: []role.Pair{
		{RoleID: role.HumansID, Allow: uint8(Read | Write)},
		{RoleID: 3, Deny: uint8(Write)},
	}}
	r := NewResolver(pairs, ownerID, zerolog.Nop())

	mask, err := r.Resolve(context.Background(), &user.User{ID: 1, Roles: []uint64{3}}, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if mask != Read {
		t.Errorf("mask = %d, want %d", mask, Read)
	}
}

func TestOverrideForHeldRole(t *testing.T) {
	pairs := &fakePairs{pairs: []role.Pair{
		{RoleID: role.HumansID, Allow: uint8(Read | Write)},
		{RoleID: 3},
	}}
	r := NewResolver(pairs, ownerID, zerolog.Nop())

	overrides := []channel.Override{{RoleID: 3, Deny: uint8(Write)}}
	mask, err := r.Resolve(context.Background(), &user.User{ID: 1, Roles: []uint64{3}}, overrides)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if mask != Read {
		t.Errorf("mask = %d, want %d", mask, Read)
	}
}

func TestOverrideForForeignRoleIgnored(t *testing.T) {
	pairs := &fakePairs{pairs: []role.Pair{
		{RoleID: role.HumansID, Allow: uint8(Read | Write)},
	}}
	r := NewResolver(pairs, ownerID, zerolog.Nop())

	// Role 5 exists but the user does not hold it.
	overrides := []channel.Override{{RoleID: 5, Deny: uint8(Read | Write)}}
	mask, err := r.Resolve(context.Background(), &user.User{ID: 1}, overrides)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if mask != Read|Write {
		t.Errorf("mask = %d, want %d", mask, Read|Write)
	}
}

func TestSystemRoleOverridesAlwaysApply(t *testing.T) {
	// A bot user never holds @humans, yet @humans overrides still apply
	// because both reserved ids are always in scope.
	pairs := &fakePairs{pairs: []role.Pair{
		{RoleID: role.BotsID, Allow: uint8(Read | Write)},
	}}
	r := NewResolver(pairs, ownerID, zerolog.Nop())

	overrides := []channel.Override{{RoleID: role.HumansID, Deny: uint8(Write)}}
	mask, err := r.Resolve(context.Background(), &user.User{ID: 1, Bot: true}, overrides)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if mask != Read {
		t.Errorf("mask = %d, want %d", mask, Read)
	}
}

func TestOverridePrecedence(t *testing.T) {
	// Channel override re-grants what the base roles denied.
	pairs := &fakePairs{pairs: []role.Pair{
		{RoleID: role.HumansID, Allow: uint8(Read)},
		{RoleID: 3, Deny: uint8(Read)},
	}}
	r := NewResolver(pairs, ownerID, zerolog.Nop())

	overrides := []channel.Override{{RoleID: 3, Allow: uint8(Read)}}
	mask, err := r.Resolve(context.Background(), &user.User{ID: 1, Roles: []uint64{3}}, overrides)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if mask != Read {
		t.Errorf("mask = %d, want %d", mask, Read)
	}
}

func TestHas(t *testing.T) {
	pairs := &fakePairs{pairs: []role.Pair{
		{RoleID: role.HumansID, Allow: uint8(Read | Write)},
	}}
	r := NewResolver(pairs, ownerID, zerolog.Nop())
	u := &user.User{ID: 1}

	ok, err := r.Has(context.Background(), u, Write, nil)
	if err != nil {
		t.Fatalf("Has() error = %v", err)
	}
	if !ok {
		t.Error("Has(Write) = false, want true")
	}

	ok, err = r.Has(context.Background(), u, ManageChannels, nil)
	if err != nil {
		t.Fatalf("Has() error = %v", err)
	}
	if ok {
		t.Error("Has(ManageChannels) = true, want false")
	}
}

func TestResolveSourceError(t *testing.T) {
	pairs := &fakePairs{err: errors.New("store down")}
	r := NewResolver(pairs, ownerID, zerolog.Nop())

	if _, err := r.Resolve(context.Background(), &user.User{ID: 1}, nil); err == nil {
		t.Fatal("Resolve() error = nil, want error")
	}
}
