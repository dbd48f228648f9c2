package models

// User is a resolvable account that can hold content locks.
type User struct {
	ID    UserID `yaml:"id" json:"id"`
	Email string `yaml:"email" json:"email"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
}

// UserRegistryFile is the top-level structure of users.yaml.
type UserRegistryFile struct {
	Version string `yaml:"version"`
	Users   []User `yaml:"users"`
}
