package permission

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/halyard-chat/halyard/internal/channel"
	"github.com/halyard-chat/halyard/internal/role"
	"github.com/halyard-chat/halyard/internal/user"
)

// PairSource loads the ordered (allow, deny) grants for a user's effective
// role set: the implicit system role followed by the explicit roles, ordered
// by position ascending.
type PairSource interface {
	PermissionPairs(ctx context.Context, bot bool, explicit []uint64) ([]role.Pair, error)
}

// Resolver computes effective permission masks. A single configured owner id
// bypasses every check.
type Resolver struct {
	pairs   PairSource
	ownerID uint64
	log     zerolog.Logger
}

// NewResolver creates a new permission resolver.
func NewResolver(pairs PairSource, ownerID uint64, logger zerolog.Logger) *Resolver {
	return &Resolver{pairs: pairs, ownerID: ownerID, log: logger}
}

// Resolve returns the user's effective mask, optionally scoped to a
// channel's overrides. Overrides must arrive ordered by role position; the
// store's channel reads guarantee that.
func (r *Resolver) Resolve(ctx context.Context, u *user.User, overrides []channel.Override) (Mask, error) {
	if u.ID == r.ownerID {
		return All, nil
	}

	pairs, err := r.pairs.PermissionPairs(ctx, u.Bot, u.Roles)
	if err != nil {
		return 0, fmt.Errorf("load permission pairs: %w", err)
	}

	var mask Mask
	held := make(map[uint64]struct{}, len(pairs))
	for _, p := range pairs {
		mask = Apply(mask, p.Allow, p.Deny)
		held[p.RoleID] = struct{}{}
	}

	for _, o := range overrides {
		if _, ok := held[o.RoleID]; !ok && o.RoleID != role.HumansID && o.RoleID != role.BotsID {
			continue
		}
		mask = Apply(mask, o.Allow, o.Deny)
	}

	return mask, nil
}

// Has reports whether the user holds every bit in perm, in the given
// override context.
func (r *Resolver) Has(ctx context.Context, u *user.User, perm Mask, overrides []channel.Override) (bool, error) {
	effective, err := r.Resolve(ctx, u, overrides)
	if err != nil {
		return false, err
	}
	return effective.Has(perm), nil
}
