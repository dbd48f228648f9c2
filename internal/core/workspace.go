package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/happytimeshere/kirby/pkg/models"
)

// StoreOpener returns the lock store for a content directory.
type StoreOpener func(dir string) LockStore

// Workspace ties a content root to its per-directory lock files. It is the
// entry point the CLI and the MCP server use to reach lock managers.
type Workspace interface {
	// Root returns the absolute content root.
	Root() string
	// Resolve maps a content path to its resource.
	Resolve(path string) (models.Resource, error)
	// Authenticate resolves id to a registered user.
	Authenticate(id models.UserID) (models.User, error)
	// ManagerFor opens the lock manager for the resource's directory.
	ManagerFor(res models.Resource) LockManager
	// ManagerForDir opens the lock manager of a directory below the root.
	ManagerForDir(dir string) (LockManager, error)
	// Mutate runs op on a fresh manager for res, reloading and retrying
	// while the write loses a version race.
	Mutate(res models.Resource, op func(LockManager) error) error
}

type workspace struct {
	root    string
	open    StoreOpener
	users   UserDirectory
	retries int
	opts    []Option
}

// NewWorkspace creates a Workspace rooted at root. retries bounds how many
// times Mutate reloads after a version conflict. opts are applied to every
// manager it opens.
func NewWorkspace(root string, open StoreOpener, users UserDirectory, retries int, opts ...Option) (Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving content root: %w", err)
	}
	if retries < 0 {
		retries = 0
	}
	return &workspace{
		root:    abs,
		open:    open,
		users:   users,
		retries: retries,
		opts:    opts,
	}, nil
}

func (w *workspace) Root() string {
	return w.root
}

func (w *workspace) Resolve(path string) (models.Resource, error) {
	return ResolveResource(w.root, path)
}

func (w *workspace) Authenticate(id models.UserID) (models.User, error) {
	if w.users == nil {
		if id == "" {
			return models.User{}, ErrNotAuthenticated
		}
		return models.User{ID: id}, nil
	}
	return NewStaticUserResolver(w.users, id).CurrentUser()
}

func (w *workspace) ManagerFor(res models.Resource) LockManager {
	return NewLockManager(w.open(res.Dir), w.users, w.opts...)
}

func (w *workspace) ManagerForDir(dir string) (LockManager, error) {
	abs := dir
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.root, dir)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("resolving %s: path is outside the content root %s", dir, w.root)
	}
	return NewLockManager(w.open(abs), w.users, w.opts...), nil
}

func (w *workspace) Mutate(res models.Resource, op func(LockManager) error) error {
	return Retry(w.ManagerFor(res), w.retries, op)
}

// Retry runs op against m. While op fails with ErrVersionConflict, m is
// reloaded and op runs again, at most retries more times.
func Retry(m LockManager, retries int, op func(LockManager) error) error {
	err := op(m)
	for i := 0; i < retries && errors.Is(err, ErrVersionConflict); i++ {
		m.Reload()
		err = op(m)
	}
	return err
}
