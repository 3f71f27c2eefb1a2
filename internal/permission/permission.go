// Package permission computes effective permission masks from ordered role
// grants and channel overrides.
package permission

// Mask is an 8-bit permission set.
type Mask uint8

// The permission bits.
const (
	Read           Mask = 1
	Write          Mask = 2
	AssignRoles    Mask = 4
	Ban            Mask = 8
	ManageRoles    Mask = 16
	ManageChannels Mask = 32
	ManageMessages Mask = 64

	// All is every bit set; the owner resolves to it unconditionally.
	All Mask = 0xff
)

// Has reports whether every bit in perm is set.
func (m Mask) Has(perm Mask) bool {
	return m&perm == perm
}

// Apply folds one (allow, deny) grant into a mask. Deny wins over allow
// within the same grant.
func Apply(m Mask, allow, deny uint8) Mask {
	return (m | Mask(allow)) &^ Mask(deny)
}
