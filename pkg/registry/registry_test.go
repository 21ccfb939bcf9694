package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/routelet/pkg/handlers"
	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	handlerDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(handlerDir, 0o755))
	path := filepath.Join(handlerDir, handlers.ManifestFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validAgent = `---
name: grpc-expert
kind: agent
description: Designs gRPC services
triggers:
  - kind: keyword
    pattern: gRPC
    weight: 6
---

Body.
`

const validSkill = `---
name: react-guardian
kind: skill
description: Keeps React components tidy
triggers:
  - kind: file_pattern
    pattern: "**/*.tsx"
    weight: 3
---

Body.
`

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	writeManifest(t, tmpDir, "grpc-expert", validAgent)
	writeManifest(t, tmpDir, "react-guardian", validSkill)

	snap, loadErrs := Load(context.Background(), tmpDir)
	assert.Empty(t, loadErrs)
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, []string{"grpc-expert", "react-guardian"}, snap.IDs())

	desc, ok := snap.Get("grpc-expert")
	require.True(t, ok)
	assert.Equal(t, dispatchtypes.KindAgent, desc.Kind)

	_, ok = snap.Get("nope")
	assert.False(t, ok)
}

func TestLoadFailsClosed(t *testing.T) {
	tmpDir := t.TempDir()
	writeManifest(t, tmpDir, "grpc-expert", validAgent)

	// handler with no triggers is rejected, the rest of the load survives
	badPath := writeManifest(t, tmpDir, "broken", `---
name: broken
kind: agent
description: no triggers at all
---

Body.
`)

	snap, loadErrs := Load(context.Background(), tmpDir)
	assert.Equal(t, 1, snap.Len())

	require.Len(t, loadErrs, 1)
	assert.Equal(t, badPath, loadErrs[0].Path)
	assert.Equal(t, "triggers", loadErrs[0].Field)

	err := Combine(loadErrs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triggers")
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeManifest(t, first, "grpc-expert", validAgent)
	writeManifest(t, second, "grpc-expert-copy", validAgent) // same name in frontmatter

	snap, loadErrs := Load(context.Background(), first, second)
	assert.Equal(t, 1, snap.Len())
	require.Len(t, loadErrs, 1)
	assert.Equal(t, "name", loadErrs[0].Field)

	// earlier dir won
	desc, ok := snap.Get("grpc-expert")
	require.True(t, ok)
	assert.Contains(t, desc.Path, first)
}

func TestLoadMissingDir(t *testing.T) {
	snap, loadErrs := Load(context.Background(), "/nonexistent/handlers")
	assert.Empty(t, loadErrs)
	assert.Equal(t, 0, snap.Len())
}

func TestLoadMalformedFrontmatter(t *testing.T) {
	tmpDir := t.TempDir()
	writeManifest(t, tmpDir, "garbage", "# no frontmatter\n")

	snap, loadErrs := Load(context.Background(), tmpDir)
	assert.Equal(t, 0, snap.Len())
	assert.Len(t, loadErrs, 1)
}

func TestNewSnapshot(t *testing.T) {
	a := &handlers.Descriptor{
		ID:                 "bravo",
		Kind:               dispatchtypes.KindAgent,
		DefaultComputeTier: dispatchtypes.TierFast,
		Triggers:           []dispatchtypes.TriggerRule{{Kind: dispatchtypes.TriggerKeyword, Pattern: "b", Weight: 1}},
	}
	b := &handlers.Descriptor{
		ID:                 "alpha",
		Kind:               dispatchtypes.KindSkill,
		DefaultComputeTier: dispatchtypes.TierFast,
		Triggers:           []dispatchtypes.TriggerRule{{Kind: dispatchtypes.TriggerKeyword, Pattern: "a", Weight: 1}},
	}

	snap, err := NewSnapshot(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo"}, snap.IDs())

	all := snap.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].ID)

	t.Run("duplicate ids rejected", func(t *testing.T) {
		_, err := NewSnapshot(a, a)
		assert.Error(t, err)
	})

	t.Run("invalid descriptor rejected", func(t *testing.T) {
		_, err := NewSnapshot(&handlers.Descriptor{ID: "x"})
		assert.Error(t, err)
	})
}
