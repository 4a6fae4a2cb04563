package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/errors"
)

// User is the slice of directory data the subsystem needs. Profile CRUD and
// password management live elsewhere; this package only reads.
type User struct {
	ID              uuid.UUID
	Username        string
	Email           string
	Phone           string
	DisplayName     string
	Roles           []string
	TwoFactorExempt bool
}

// Directory resolves users by id for challenge delivery and policy checks.
type Directory interface {
	FindUser(ctx context.Context, userID uuid.UUID) (User, error)
}

// InMemDirectory is a map-backed directory for tests and single-node setups.
type InMemDirectory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

func NewInMemDirectory() *InMemDirectory {
	return &InMemDirectory{
		users: make(map[uuid.UUID]User),
	}
}

func (d *InMemDirectory) AddUser(user User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

func (d *InMemDirectory) FindUser(ctx context.Context, userID uuid.UUID) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[userID]
	if !ok {
		return User{}, errors.NotFound("user", userID.String())
	}
	return user, nil
}
