// Package role holds the role entity and its data-access contract. Roles are
// ordered by pos; the two reserved system roles share pos 0.
package role

import (
	"context"
	"errors"

	"github.com/halyard-chat/halyard/internal/wire"
)

// Reserved system role ids. Every user implicitly holds exactly one of them.
const (
	HumansID uint64 = 1
	BotsID   uint64 = 2
)

// Sentinel errors for the role package.
var (
	ErrNotFound   = errors.New("role not found")
	ErrInvalidPos = errors.New("role position out of range")
	ErrLockedName = errors.New("system role name is immutable")
	ErrTooMany    = errors.New("role limit reached")
)

// Role is one permission-carrying rank. Non-system roles occupy the dense
// position range 1..N.
type Role struct {
	ID           uint64
	Allow        uint8
	Deny         uint8
	Name         string
	Pos          uint64
	Unassignable bool
}

// ToWire converts the role to its protocol representation.
func (r *Role) ToWire() wire.Role {
	return wire.Role{
		Allow:        r.Allow,
		Deny:         r.Deny,
		ID:           r.ID,
		Name:         r.Name,
		Pos:          r.Pos,
		Unassignable: r.Unassignable,
	}
}

// Pair is one (allow, deny) step of the ordered permission fold.
type Pair struct {
	RoleID uint64
	Allow  uint8
	Deny   uint8
}

// CreateParams groups the inputs for inserting a role.
type CreateParams struct {
	Allow        uint8
	Deny         uint8
	Name         string
	Pos          uint64
	Unassignable bool
}

// Repository defines the data-access contract for role operations. Position
// maintenance (shifting neighbours on create, update, delete) happens inside
// the repository so the dense 1..N ordering survives concurrent mutation.
type Repository interface {
	List(ctx context.Context) ([]Role, error)
	GetByID(ctx context.Context, id uint64) (*Role, error)
	GetByIDs(ctx context.Context, ids []uint64) ([]Role, error)
	Create(ctx context.Context, params CreateParams, maxRoles int) (*Role, error)
	Update(ctx context.Context, r Role) (*Role, error)
	Delete(ctx context.Context, id uint64) (*Role, error)
	PermissionPairs(ctx context.Context, bot bool, explicit []uint64) ([]Pair, error)
}
