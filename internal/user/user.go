// Package user holds the account entity and its data-access contract.
package user

import (
	"context"
	"errors"

	"github.com/halyard-chat/halyard/internal/wire"
)

// Sentinel errors for the user package.
var (
	ErrNotFound  = errors.New("user not found")
	ErrNameTaken = errors.New("user name already taken")
)

// User is the credential-free view of an account. Roles lists explicit role
// ids only; membership in @humans or @bots is implied by Bot.
type User struct {
	ID    uint64
	Ban   bool
	Bot   bool
	Name  string
	Roles []uint64
}

// ToWire converts the user to its protocol representation.
func (u *User) ToWire() wire.User {
	roles := u.Roles
	if roles == nil {
		roles = []uint64{}
	}
	return wire.User{
		Roles: roles,
		Ban:   u.Ban,
		Bot:   u.Bot,
		ID:    u.ID,
		Name:  u.Name,
	}
}

// Credentials is the login-time view of an account row.
type Credentials struct {
	ID           uint64
	Ban          bool
	Bot          bool
	PasswordHash string
	Token        string
}

// CreateParams groups the inputs for creating an account on first login.
type CreateParams struct {
	Bot          bool
	LastIP       string
	Name         string
	PasswordHash string
	Token        string
}

// Repository defines the data-access contract for user operations.
type Repository interface {
	List(ctx context.Context) ([]User, error)
	GetByID(ctx context.Context, id uint64) (*User, error)
	GetCredentialsByName(ctx context.Context, name string) (*Credentials, error)
	GetPasswordHash(ctx context.Context, id uint64) (string, error)
	Create(ctx context.Context, params CreateParams) (uint64, error)
	SetName(ctx context.Context, id uint64, name string) error
	SetPassword(ctx context.Context, id uint64, hash string) error
	SetToken(ctx context.Context, id uint64, token string) error
	SetLastIP(ctx context.Context, id uint64, ip string) error
	SetBan(ctx context.Context, id uint64, ban bool) error
	SetRoles(ctx context.Context, id uint64, roles []uint64) error
	CountBannedByLastIP(ctx context.Context, ip string) (int, error)
}
