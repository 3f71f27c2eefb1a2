// Package channel holds the channel entity and its data-access contract.
package channel

import (
	"context"
	"errors"

	"github.com/halyard-chat/halyard/internal/wire"
)

// ErrNotFound is returned when a channel id does not exist.
var ErrNotFound = errors.New("channel not found")

// Override is a per-role (allow, deny) pair scoped to one channel.
type Override struct {
	RoleID uint64
	Allow  uint8
	Deny   uint8
}

// Channel is one message stream. Overrides are ordered by role position
// ascending so permission evaluation can fold them directly.
type Channel struct {
	ID        uint64
	Name      string
	Overrides []Override
}

// ToWire converts the channel to its protocol representation.
func (c *Channel) ToWire() wire.Channel {
	overrides := make(map[uint64]wire.Override, len(c.Overrides))
	for _, o := range c.Overrides {
		overrides[o.RoleID] = wire.Override{Allow: o.Allow, Deny: o.Deny}
	}
	return wire.Channel{
		ID:        c.ID,
		Name:      c.Name,
		Overrides: overrides,
	}
}

// OverridesFromWire flattens a wire override map for storage. Order does not
// matter on the write path.
func OverridesFromWire(m map[uint64]wire.Override) []Override {
	overrides := make([]Override, 0, len(m))
	for roleID, o := range m {
		overrides = append(overrides, Override{RoleID: roleID, Allow: o.Allow, Deny: o.Deny})
	}
	return overrides
}

// Repository defines the data-access contract for channel operations.
// Overrides naming unknown roles are dropped on write; mutations return the
// stored channel so callers announce what actually persisted.
type Repository interface {
	List(ctx context.Context) ([]Channel, error)
	GetByID(ctx context.Context, id uint64) (*Channel, error)
	Create(ctx context.Context, name string, overrides []Override) (*Channel, error)
	Update(ctx context.Context, id uint64, name string, overrides []Override, keepOverrides bool) (*Channel, error)
	Delete(ctx context.Context, id uint64) (*Channel, error)
}
