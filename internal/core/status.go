package core

import (
	"github.com/happytimeshere/kirby/pkg/models"
	"go.uber.org/zap"
)

// LockState is a resource's lock as seen by one caller. The zero value
// means unlocked.
type LockState struct {
	Locked    bool
	User      models.UserID
	Email     string
	Since     int64
	Breakable bool
}

// Projection converts the state to the Get result.
func (s LockState) Projection() models.LockStatus {
	if !s.Locked {
		return models.LockStatus{}
	}
	return models.LockStatus{
		Locked:    true,
		User:      s.User,
		Email:     s.Email,
		Time:      s.Since,
		CanUnlock: s.Breakable,
	}
}

// Status reports whether id is locked by someone other than caller. A lock
// whose owner no longer resolves to a user counts as unlocked.
func (m *lockManager) Status(id string, caller models.UserID) LockState {
	st, ok := m.file.Resources[id]
	if !ok || st.Lock == nil || st.Lock.User == caller {
		return LockState{}
	}

	var email string
	if m.users != nil {
		owner, found := m.users.FindUser(st.Lock.User)
		if !found {
			m.log.Debug("lock owner not found, treating as unlocked",
				zap.String("resource", id), zap.String("owner", string(st.Lock.User)))
			return LockState{}
		}
		email = owner.Email
	}

	return LockState{
		Locked:    true,
		User:      st.Lock.User,
		Email:     email,
		Since:     st.Lock.Time,
		Breakable: m.breakable(st.Lock.Time),
	}
}

// Get returns the query projection of Status.
func (m *lockManager) Get(id string, caller models.UserID) models.LockStatus {
	return m.Status(id, caller).Projection()
}
