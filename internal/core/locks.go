package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/happytimeshere/kirby/pkg/models"
	"go.uber.org/zap"
)

// DefaultLockDuration is how long a lock is held before another user may
// break it.
const DefaultLockDuration = 120 * time.Second

// LockStore is the persistence capability for one directory's lock file.
// Defining it here keeps core independent of the storage package.
type LockStore interface {
	Read() (*models.LockFile, error)
	Write(file *models.LockFile, expectedVersion int64) (int64, error)
	Remove(expectedVersion int64) error
}

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// BreakPolicy decides who may break a lock.
type BreakPolicy struct {
	// AllowSelfBreak lets the lock owner break their own lock instead of
	// releasing it. The owner's id then lands in the unlock set.
	AllowSelfBreak bool
	// RequireStale refuses to break a lock that is not yet breakable.
	RequireStale bool
}

// LockManager holds the lock state of one directory's lock file and
// applies lock transitions to it. Every mutation persists the whole file.
type LockManager interface {
	Status(id string, caller models.UserID) LockState
	Get(id string, caller models.UserID) models.LockStatus
	Acquire(id string, caller models.UserID) error
	Release(id string, caller models.UserID) error
	Break(id string, caller models.UserID) error
	Acknowledge(id string, caller models.UserID) error
	WasBrokenFor(id string, caller models.UserID) bool
	IsLockedByOther(id string, caller models.UserID) bool
	State(id string) (models.ResourceLockState, bool)
	Resources() []string
	Reload()
}

// Option configures a LockManager.
type Option func(*lockManager)

// WithDuration sets the staleness threshold. Non-positive values are ignored.
func WithDuration(d time.Duration) Option {
	return func(m *lockManager) {
		if d > 0 {
			m.duration = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *lockManager) { m.now = now }
}

// WithPolicy sets the break policy.
func WithPolicy(p BreakPolicy) Option {
	return func(m *lockManager) { m.policy = p }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *lockManager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithEventLogger records lock transitions to the event log.
func WithEventLogger(e EventLogger) Option {
	return func(m *lockManager) { m.events = e }
}

type lockManager struct {
	store    LockStore
	users    UserDirectory
	duration time.Duration
	policy   BreakPolicy
	now      func() time.Time
	log      *zap.Logger
	events   EventLogger

	file *models.LockFile
}

// NewLockManager creates a LockManager over store and loads the current
// lock file. users resolves lock owners; owners it cannot find are treated
// as holding no lock. A nil users counts every owner as live.
func NewLockManager(store LockStore, users UserDirectory, opts ...Option) LockManager {
	m := &lockManager{
		store:    store,
		users:    users,
		duration: DefaultLockDuration,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.read()
	return m
}

// Reload discards the in-memory snapshot and reads the lock file again.
func (m *lockManager) Reload() {
	m.read()
}

// Resources returns the ids tracked in the snapshot, sorted.
func (m *lockManager) Resources() []string {
	return m.file.IDs()
}

// State returns a copy of the raw persisted state of a resource.
func (m *lockManager) State(id string) (models.ResourceLockState, bool) {
	st, ok := m.file.Resources[id]
	if !ok {
		return models.ResourceLockState{}, false
	}
	var cp models.ResourceLockState
	if st.Lock != nil {
		l := *st.Lock
		cp.Lock = &l
	}
	cp.Unlock = append([]models.UserID(nil), st.Unlock...)
	return cp, true
}

func (m *lockManager) IsLockedByOther(id string, caller models.UserID) bool {
	return m.Status(id, caller).Locked
}

func (m *lockManager) WasBrokenFor(id string, caller models.UserID) bool {
	st, ok := m.file.Resources[id]
	return ok && st.HasUnlock(caller)
}

// Acquire locks id for caller. Re-acquiring one's own lock refreshes its
// time.
func (m *lockManager) Acquire(id string, caller models.UserID) error {
	if caller == "" {
		return ErrNotAuthenticated
	}

	if holder := m.Status(id, caller); holder.Locked {
		m.logEvent("lock.denied", map[string]any{"resource": id, "user": string(caller), "holder": string(holder.User)})
		return &PermissionError{Resource: id, Reason: fmt.Sprintf("%s is already locked", id)}
	}

	st := m.file.Resources[id]
	refreshed := st.Lock != nil && st.Lock.User == caller
	st.Lock = &models.LockEntry{User: caller, Time: m.now().Unix()}
	m.file.Resources[id] = st

	if err := m.write(id); err != nil {
		return fmt.Errorf("acquiring lock on %s: %w", id, err)
	}

	eventType := "lock.acquired"
	if refreshed {
		eventType = "lock.refreshed"
	}
	m.logEvent(eventType, map[string]any{"resource": id, "user": string(caller)})
	return nil
}

// Release removes caller's own lock on id. Releasing an unlocked resource
// is a no-op; releasing someone else's lock is refused.
func (m *lockManager) Release(id string, caller models.UserID) error {
	if caller == "" {
		return ErrNotAuthenticated
	}

	st, ok := m.file.Resources[id]
	if !ok || st.Lock == nil {
		return nil
	}
	if st.Lock.User != caller {
		m.logEvent("lock.denied", map[string]any{"resource": id, "user": string(caller), "holder": string(st.Lock.User)})
		return &PermissionError{Resource: id, Reason: fmt.Sprintf("%s is locked by another user", id)}
	}

	st.Lock = nil
	m.file.Resources[id] = st

	if err := m.write(id); err != nil {
		return fmt.Errorf("releasing lock on %s: %w", id, err)
	}
	m.logEvent("lock.released", map[string]any{"resource": id, "user": string(caller)})
	return nil
}

// Break forcibly removes the lock on id and leaves a notice for its owner
// in the unlock set. Breaking an unlocked resource is a no-op.
func (m *lockManager) Break(id string, caller models.UserID) error {
	if caller == "" {
		return ErrNotAuthenticated
	}

	st, ok := m.file.Resources[id]
	if !ok || st.Lock == nil {
		return nil
	}

	owner := st.Lock.User
	if owner == caller && !m.policy.AllowSelfBreak {
		return &PermissionError{Resource: id, Reason: fmt.Sprintf("%s is locked by you, release it instead", id)}
	}
	if m.policy.RequireStale && !m.breakable(st.Lock.Time) {
		m.logEvent("lock.denied", map[string]any{"resource": id, "user": string(caller), "holder": string(owner)})
		return &PermissionError{Resource: id, Reason: fmt.Sprintf("%s is not stale yet", id)}
	}

	if !st.HasUnlock(owner) {
		st.Unlock = append(st.Unlock, owner)
	}
	st.Lock = nil
	m.file.Resources[id] = st

	if err := m.write(id); err != nil {
		return fmt.Errorf("breaking lock on %s: %w", id, err)
	}
	m.logEvent("lock.broken", map[string]any{"resource": id, "user": string(caller), "owner": string(owner)})
	return nil
}

// Acknowledge removes caller from the unlock set of id.
func (m *lockManager) Acknowledge(id string, caller models.UserID) error {
	if caller == "" {
		return ErrNotAuthenticated
	}

	st, ok := m.file.Resources[id]
	if !ok || !st.HasUnlock(caller) {
		return nil
	}

	remaining := st.Unlock[:0:0]
	for _, u := range st.Unlock {
		if u != caller {
			remaining = append(remaining, u)
		}
	}
	st.Unlock = remaining
	m.file.Resources[id] = st

	if err := m.write(id); err != nil {
		return fmt.Errorf("resolving unlock notice on %s: %w", id, err)
	}
	m.logEvent("lock.resolved", map[string]any{"resource": id, "user": string(caller)})
	return nil
}

func (m *lockManager) breakable(since int64) bool {
	return since+int64(m.duration/time.Second) <= m.now().Unix()
}

// read loads the lock file. Any failure leaves an empty snapshot.
func (m *lockManager) read() {
	file, err := m.store.Read()
	if err != nil {
		m.log.Debug("lock file unreadable, starting empty", zap.Error(err))
		file = models.NewLockFile()
	}
	if file.Resources == nil {
		file.Resources = make(map[string]models.ResourceLockState)
	}
	m.file = file
}

// write prunes empty entries and persists the whole snapshot, removing the
// file when nothing is left. id names the resource whose change is being
// written.
func (m *lockManager) write(id string) error {
	for rid, st := range m.file.Resources {
		if st.IsEmpty() {
			delete(m.file.Resources, rid)
			continue
		}
		if len(st.Unlock) == 0 && st.Unlock != nil {
			st.Unlock = nil
			m.file.Resources[rid] = st
		}
	}

	if len(m.file.Resources) == 0 {
		if err := m.store.Remove(m.file.Version); err != nil {
			return m.writeFailed(id, err)
		}
		m.file.Version = 0
		return nil
	}

	version, err := m.store.Write(m.file, m.file.Version)
	if err != nil {
		return m.writeFailed(id, err)
	}
	m.file.Version = version
	return nil
}

func (m *lockManager) writeFailed(id string, err error) error {
	m.log.Warn("persisting lock file failed", zap.String("resource", id), zap.Error(err))
	if errors.Is(err, ErrVersionConflict) {
		m.logEvent("lock.conflict", map[string]any{"resource": id, "version": m.file.Version})
	}
	return fmt.Errorf("%w: %w", ErrWriteFailed, err)
}

// logEvent emits an event if an EventLogger is configured.
func (m *lockManager) logEvent(eventType string, data map[string]any) {
	if m.events != nil {
		_ = m.events.LogEvent(eventType, data)
	}
}
