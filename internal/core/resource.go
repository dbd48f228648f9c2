package core

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/happytimeshere/kirby/pkg/models"
)

// ResolveResource maps a content item path to its lock id and to the
// directory whose lock file tracks it. itemPath may be absolute or relative
// to contentRoot. The id is the slash-separated path below the root with a
// leading "/"; the directory is the item's parent, so siblings share one
// lock file.
func ResolveResource(contentRoot, itemPath string) (models.Resource, error) {
	root, err := filepath.Abs(contentRoot)
	if err != nil {
		return models.Resource{}, fmt.Errorf("resolving content root: %w", err)
	}

	abs := itemPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, itemPath)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return models.Resource{}, fmt.Errorf("resolving %s: %w", itemPath, err)
	}
	if rel == "." {
		return models.Resource{}, fmt.Errorf("resolving %s: the content root itself cannot be locked", itemPath)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return models.Resource{}, fmt.Errorf("resolving %s: path is outside the content root %s", itemPath, root)
	}

	return models.Resource{
		ID:  "/" + filepath.ToSlash(rel),
		Dir: filepath.Dir(abs),
	}, nil
}
