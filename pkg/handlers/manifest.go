package handlers

import (
	"bytes"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
	"gopkg.in/yaml.v3"

	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

// ManifestFileName is the manifest file expected inside each handler directory
const ManifestFileName = "HANDLER.md"

// manifestMeta mirrors the YAML frontmatter of a HANDLER.md file
type manifestMeta struct {
	Name                string                      `yaml:"name"`
	Kind                string                      `yaml:"kind"`
	Description         string                      `yaml:"description"`
	ComputeTier         string                      `yaml:"compute_tier"`
	ActivationThreshold float64                     `yaml:"activation_threshold"`
	CapabilityTags      []string                    `yaml:"capability_tags"`
	Triggers            []dispatchtypes.TriggerRule `yaml:"triggers"`
}

// LoadManifest reads and parses a single HANDLER.md file. The returned
// descriptor is not yet validated; call Validate separately so the caller
// can attribute the failure to a field.
func LoadManifest(path string) (*Descriptor, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read manifest")
	}

	desc, err := ParseManifest(content)
	if err != nil {
		return nil, err
	}
	desc.Path = path
	return desc, nil
}

// ParseManifest parses manifest content into a descriptor
func ParseManifest(content []byte) (*Descriptor, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()

	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest markdown")
	}

	metaData := meta.Get(pctx)
	if metaData == nil {
		return nil, errors.New("missing frontmatter")
	}

	// Round-trip the untyped frontmatter map through YAML to decode the
	// nested trigger list into typed rules.
	raw, err := yaml.Marshal(metaData)
	if err != nil {
		return nil, errors.Wrap(err, "failed to re-encode frontmatter")
	}

	var mm manifestMeta
	if err := yaml.Unmarshal(raw, &mm); err != nil {
		return nil, errors.Wrap(err, "failed to decode frontmatter")
	}

	kind := dispatchtypes.Kind(strings.ToLower(strings.TrimSpace(mm.Kind)))
	tier := dispatchtypes.ComputeTier(strings.ToLower(strings.TrimSpace(mm.ComputeTier)))
	if tier == "" {
		tier = dispatchtypes.TierFast
	}

	return &Descriptor{
		ID:                  strings.TrimSpace(mm.Name),
		Kind:                kind,
		Doc:                 mm.Description,
		Triggers:            mm.Triggers,
		CapabilityTags:      mm.CapabilityTags,
		DefaultComputeTier:  tier,
		Exclusive:           kind == dispatchtypes.KindAgent,
		ActivationThreshold: mm.ActivationThreshold,
		Body:                extractBodyContent(string(content)),
	}, nil
}

// extractBodyContent removes the YAML frontmatter and returns the body
func extractBodyContent(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	frontmatterEnd := -1

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatterEnd = i
			break
		}
	}

	if frontmatterEnd == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[frontmatterEnd+1:], "\n"), "\n")
}
