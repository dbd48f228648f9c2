package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrVersionConflict is returned by a lock store when the file on disk has
// been written by someone else since the caller read it.
var ErrVersionConflict = errors.New("lock file was modified concurrently")

// VersionKey is the reserved top-level key holding the lock file version.
// Resource ids always start with "/" so they cannot collide with it.
const VersionKey = "_version"

// UserID identifies a user account.
type UserID string

// LockEntry records which user holds a resource and since when (unix seconds).
type LockEntry struct {
	User UserID `yaml:"user" json:"user"`
	Time int64  `yaml:"time" json:"time"`
}

// ResourceLockState is the persisted state of a single resource.
type ResourceLockState struct {
	Lock   *LockEntry `yaml:"lock,omitempty" json:"lock,omitempty"`
	Unlock []UserID   `yaml:"unlock,omitempty" json:"unlock,omitempty"`
}

// IsEmpty reports whether the state carries neither a lock nor an unlock notice.
func (s ResourceLockState) IsEmpty() bool {
	return s.Lock == nil && len(s.Unlock) == 0
}

// HasUnlock reports whether id is in the unlock set.
func (s ResourceLockState) HasUnlock(id UserID) bool {
	for _, u := range s.Unlock {
		if u == id {
			return true
		}
	}
	return false
}

// LockFile is the content of one directory's lock file.
type LockFile struct {
	Version   int64
	Resources map[string]ResourceLockState
}

// NewLockFile returns an empty lock file at version 0.
func NewLockFile() *LockFile {
	return &LockFile{Resources: make(map[string]ResourceLockState)}
}

// IDs returns the tracked resource ids in sorted order.
func (f *LockFile) IDs() []string {
	ids := make([]string, 0, len(f.Resources))
	for id := range f.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the file.
func (f *LockFile) Clone() *LockFile {
	cp := &LockFile{
		Version:   f.Version,
		Resources: make(map[string]ResourceLockState, len(f.Resources)),
	}
	for id, st := range f.Resources {
		var c ResourceLockState
		if st.Lock != nil {
			l := *st.Lock
			c.Lock = &l
		}
		if st.Unlock != nil {
			c.Unlock = append([]UserID(nil), st.Unlock...)
		}
		cp.Resources[id] = c
	}
	return cp
}

// MarshalYAML writes the version key followed by one mapping entry per
// resource, sorted by id so the output is stable.
func (f LockFile) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	if f.Version > 0 {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: VersionKey},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(f.Version, 10)},
		)
	}
	for _, id := range f.IDs() {
		var value yaml.Node
		if err := value.Encode(f.Resources[id]); err != nil {
			return nil, fmt.Errorf("encoding %s: %w", id, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: id},
			&value,
		)
	}
	return node, nil
}

// UnmarshalYAML reads the layout written by MarshalYAML.
func (f *LockFile) UnmarshalYAML(value *yaml.Node) error {
	f.Resources = make(map[string]ResourceLockState)
	f.Version = 0

	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("lock file: expected a mapping, got %s", kindName(value.Kind))
	}

	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if key.Value == VersionKey {
			if err := val.Decode(&f.Version); err != nil {
				return fmt.Errorf("lock file: decoding %s: %w", VersionKey, err)
			}
			continue
		}
		var st ResourceLockState
		if err := val.Decode(&st); err != nil {
			return fmt.Errorf("lock file: decoding %s: %w", key.Value, err)
		}
		f.Resources[key.Value] = st
	}
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

// LockStatus is the query projection returned by Get. When Locked is false
// it serializes as {"locked": false} only.
type LockStatus struct {
	Locked    bool   `json:"locked"`
	User      UserID `json:"user"`
	Email     string `json:"email"`
	Time      int64  `json:"time"`
	CanUnlock bool   `json:"canUnlock"`
}

// MarshalJSON drops every field but "locked" for an unlocked status.
func (s LockStatus) MarshalJSON() ([]byte, error) {
	if !s.Locked {
		return []byte(`{"locked":false}`), nil
	}
	type full LockStatus
	return json.Marshal(full(s))
}

// Resource binds a content item's lock id to the directory whose lock file
// tracks it.
type Resource struct {
	ID  string `json:"id"`
	Dir string `json:"dir"`
}
