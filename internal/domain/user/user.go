package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrIDRequired   = errors.New("user: id is required")
	ErrNameRequired = errors.New("user: name is required")
	ErrInvalidRole  = errors.New("user: invalid role")
	ErrNotFound     = errors.New("user: not found")
)

type ID string

type Role string

const (
	RoleTenant   Role = "tenant"
	RoleLandlord Role = "landlord"
	RoleAdmin    Role = "admin"
)

// User is the slice of the account record the messaging core needs.
type User struct {
	ID        ID
	Email     string
	Name      string
	AvatarURL string
	Roles     []Role
	CreatedAt time.Time
}

// Profile is what one participant may see about the other.
type Profile struct {
	ID        ID
	Name      string
	AvatarURL string
}

// Directory is the identity collaborator's read side.
type Directory interface {
	ByID(ctx context.Context, id ID) (*User, error)
}

type CreateParams struct {
	ID        ID
	Email     string
	Name      string
	AvatarURL string
	Roles     []Role
	CreatedAt time.Time
}

func NewUser(params CreateParams) (*User, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrIDRequired
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	roles := make([]Role, 0, len(params.Roles))
	for _, r := range params.Roles {
		role, err := ParseRole(string(r))
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		roles = []Role{RoleTenant}
	}
	now := params.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	return &User{
		ID:        ID(id),
		Email:     strings.ToLower(strings.TrimSpace(params.Email)),
		Name:      name,
		AvatarURL: strings.TrimSpace(params.AvatarURL),
		Roles:     roles,
		CreatedAt: now.UTC(),
	}, nil
}

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleTenant, "guest":
		return RoleTenant, nil
	case RoleLandlord, "host":
		return RoleLandlord, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}
