package core

import (
	"fmt"

	"github.com/happytimeshere/kirby/pkg/models"
)

// UserDirectory resolves user ids to live accounts. It is the subset of
// storage.UserRegistry the lock manager needs.
type UserDirectory interface {
	FindUser(id models.UserID) (*models.User, bool)
}

// UserResolver determines the caller of an operation. A missing or unknown
// caller is reported as ErrNotAuthenticated so the caller can decide
// whether that is fatal.
type UserResolver interface {
	CurrentUser() (models.User, error)
}

type staticUserResolver struct {
	users UserDirectory
	id    models.UserID
}

// NewStaticUserResolver resolves the current user to id, looked up in users.
func NewStaticUserResolver(users UserDirectory, id models.UserID) UserResolver {
	return &staticUserResolver{users: users, id: id}
}

func (r *staticUserResolver) CurrentUser() (models.User, error) {
	if r.id == "" {
		return models.User{}, ErrNotAuthenticated
	}
	u, ok := r.users.FindUser(r.id)
	if !ok {
		return models.User{}, fmt.Errorf("%w: unknown user %q", ErrNotAuthenticated, r.id)
	}
	return *u, nil
}
