package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/happytimeshere/kirby/pkg/models"
	"gopkg.in/yaml.v3"
)

// DefaultUsersFileName is the registry file name used when none is configured.
const DefaultUsersFileName = "users.yaml"

// UserRegistry defines the interface for the account registry that lock
// owners are resolved against.
type UserRegistry interface {
	AddUser(user models.User) error
	RemoveUser(id models.UserID) error
	FindUser(id models.UserID) (*models.User, bool)
	ListUsers() []models.User
	Load() error
	Save() error
}

type fileUserRegistry struct {
	path string
	data models.UserRegistryFile
}

// NewUserRegistry creates a UserRegistry backed by the YAML file at path.
func NewUserRegistry(path string) UserRegistry {
	return &fileUserRegistry{
		path: path,
		data: models.UserRegistryFile{Version: "1.0"},
	}
}

func (r *fileUserRegistry) AddUser(user models.User) error {
	user.ID = models.UserID(strings.TrimSpace(string(user.ID)))
	if user.ID == "" {
		return fmt.Errorf("adding user: ID must not be empty")
	}
	if user.Email == "" {
		return fmt.Errorf("adding user %s: email must not be empty", user.ID)
	}
	if _, ok := r.FindUser(user.ID); ok {
		return fmt.Errorf("adding user: %s already exists", user.ID)
	}
	r.data.Users = append(r.data.Users, user)
	return nil
}

func (r *fileUserRegistry) RemoveUser(id models.UserID) error {
	for i, u := range r.data.Users {
		if u.ID == id {
			r.data.Users = append(r.data.Users[:i], r.data.Users[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("removing user: %s not found", id)
}

// FindUser returns a copy of the user with the given id.
func (r *fileUserRegistry) FindUser(id models.UserID) (*models.User, bool) {
	for _, u := range r.data.Users {
		if u.ID == id {
			cp := u
			return &cp, true
		}
	}
	return nil, false
}

// ListUsers returns all users sorted by id.
func (r *fileUserRegistry) ListUsers() []models.User {
	users := make([]models.User, len(r.data.Users))
	copy(users, r.data.Users)
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID < users[j].ID
	})
	return users
}

// Load reads the registry from disk. A missing file is an empty registry.
func (r *fileUserRegistry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("loading user registry: %w", err)
	}
	if err := yaml.Unmarshal(data, &r.data); err != nil {
		return fmt.Errorf("parsing user registry %s: %w", r.path, err)
	}
	if r.data.Version == "" {
		r.data.Version = "1.0"
	}
	return nil
}

// Save writes the registry to disk.
func (r *fileUserRegistry) Save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("saving user registry: creating directory: %w", err)
	}
	data, err := yaml.Marshal(&r.data)
	if err != nil {
		return fmt.Errorf("saving user registry: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("saving user registry: %w", err)
	}
	return nil
}
