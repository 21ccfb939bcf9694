// Package registry loads handler manifests into immutable snapshots. A
// snapshot is safe for unlimited concurrent readers; reload produces a new
// snapshot and never mutates an existing one.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/jingkaihe/routelet/pkg/handlers"
	"github.com/jingkaihe/routelet/pkg/logger"
)

// LoadError reports one rejected manifest, keyed by file path and field.
// Load fails closed: an invalid handler is excluded and reported, never
// aborting the rest of the load.
type LoadError struct {
	Path  string
	Field string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %s: %v", e.Path, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Combine aggregates load errors into a single error, or nil if empty
func Combine(errs []LoadError) error {
	var result *multierror.Error
	for i := range errs {
		result = multierror.Append(result, &errs[i])
	}
	return result.ErrorOrNil()
}

// Snapshot is an immutable view of the loaded handlers
type Snapshot struct {
	byID map[string]*handlers.Descriptor
	ids  []string // sorted for deterministic iteration
}

// Get returns the handler with the given id
func (s *Snapshot) Get(id string) (*handlers.Descriptor, bool) {
	d, ok := s.byID[id]
	return d, ok
}

// All returns every handler sorted by id
func (s *Snapshot) All() []*handlers.Descriptor {
	out := make([]*handlers.Descriptor, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.byID[id])
	}
	return out
}

// IDs returns every handler id in sorted order
func (s *Snapshot) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of registered handlers
func (s *Snapshot) Len() int {
	return len(s.ids)
}

// Load discovers handler directories under the given manifest dirs and
// returns a snapshot of every valid handler plus one LoadError per rejected
// manifest. Earlier dirs take precedence on duplicate ids.
func Load(ctx context.Context, dirs ...string) (*Snapshot, []LoadError) {
	log := logger.G(ctx)

	byID := make(map[string]*handlers.Descriptor)
	var loadErrs []LoadError

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.WithField("dir", dir).Debug("manifest directory not found, skipping")
			continue
		}

		for _, entry := range entries {
			entryPath := filepath.Join(dir, entry.Name())

			info, err := os.Stat(entryPath)
			if err != nil || !info.IsDir() {
				continue
			}

			manifestPath := filepath.Join(entryPath, handlers.ManifestFileName)
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}

			desc, err := handlers.LoadManifest(manifestPath)
			if err != nil {
				loadErrs = append(loadErrs, LoadError{Path: manifestPath, Err: err})
				continue
			}

			if err := desc.Validate(); err != nil {
				le := LoadError{Path: manifestPath, Err: err}
				var verr *handlers.ValidationError
				if errors.As(err, &verr) {
					le.Field = verr.Field
				}
				loadErrs = append(loadErrs, le)
				continue
			}

			if existing, dup := byID[desc.ID]; dup {
				loadErrs = append(loadErrs, LoadError{
					Path:  manifestPath,
					Field: "name",
					Err:   errors.Errorf("duplicate handler id %q (already loaded from %s)", desc.ID, existing.Path),
				})
				continue
			}

			byID[desc.ID] = desc
			log.WithFields(map[string]interface{}{
				"handler": desc.ID,
				"kind":    desc.Kind,
			}).Debug("registered handler")
		}
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	log.WithFields(map[string]interface{}{
		"handlers": len(ids),
		"errors":   len(loadErrs),
	}).Info("loaded handler registry")

	return &Snapshot{byID: byID, ids: ids}, loadErrs
}

// NewSnapshot builds a snapshot from already-validated descriptors. Intended
// for tests and embedders that construct handlers programmatically; duplicate
// or invalid descriptors are rejected.
func NewSnapshot(descs ...*handlers.Descriptor) (*Snapshot, error) {
	byID := make(map[string]*handlers.Descriptor, len(descs))
	ids := make([]string, 0, len(descs))

	for _, desc := range descs {
		if err := desc.Validate(); err != nil {
			return nil, errors.Wrapf(err, "invalid handler %q", desc.ID)
		}
		if _, dup := byID[desc.ID]; dup {
			return nil, errors.Errorf("duplicate handler id %q", desc.ID)
		}
		byID[desc.ID] = desc
		ids = append(ids, desc.ID)
	}

	sort.Strings(ids)
	return &Snapshot{byID: byID, ids: ids}, nil
}
