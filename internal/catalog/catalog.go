// Package catalog exposes the curated, versioned reaction sets used by the
// pipeline: media definitions, base-input exchanges, biomass component ids and
// the objective reaction per Gram classification.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Gram is the Gram-stain classification of the organism.
type Gram string

const (
	// GramNone selects the generic biomass objective.
	GramNone Gram = "none"
	// GramPositive selects the Gram-positive biomass objective.
	GramPositive Gram = "positive"
	// GramNegative selects the Gram-negative biomass objective.
	GramNegative Gram = "negative"
)

// ParseGram maps user input onto a Gram value. Unknown values resolve to
// GramNone with ok=false.
func ParseGram(s string) (Gram, bool) {
	switch Gram(strings.ToLower(strings.TrimSpace(s))) {
	case GramPositive:
		return GramPositive, true
	case GramNegative:
		return GramNegative, true
	case GramNone, "":
		return GramNone, true
	default:
		return GramNone, false
	}
}

// Media mode names accepted by Medium.
const (
	MediaRich         = "rich"
	MediaMinimal      = "minimal"
	MediaDefault      = "default"
	MediaDefaultAlias = "default_media"
)

// Biomass holds the biomass exchange id and component reaction ids per Gram
// classification.
type Biomass struct {
	Exchange   string            `yaml:"exchange"`
	Components map[Gram][]string `yaml:"components"`
}

// Catalog is the decoded curated data set.
type Catalog struct {
	Version    int                 `yaml:"version"`
	Objectives map[Gram]string     `yaml:"objectives"`
	Media      map[string][]string `yaml:"media"`
	BaseInputs []string            `yaml:"base_inputs"`
	Biomass    Biomass             `yaml:"biomass"`
}

// Embedded curated sets shipped with the binary.
//
//go:embed catalog.yaml
var embedded []byte

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
	defaultErr  error
)

// Default returns the embedded catalog. The result is shared and must be
// treated as read-only.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = Load(bytes.NewReader(embedded))
	})
	return defaultCat, defaultErr
}

// Load decodes and validates a catalog document.
func Load(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("catalog: unsupported version %d", c.Version)
	}
	for _, g := range []Gram{GramNone, GramPositive, GramNegative} {
		if c.Objectives[g] == "" {
			return fmt.Errorf("catalog: missing objective for gram %q", g)
		}
	}
	for _, mode := range []string{MediaRich, MediaMinimal, MediaDefault} {
		if len(c.Media[mode]) == 0 {
			return fmt.Errorf("catalog: missing medium %q", mode)
		}
	}
	return nil
}

// Objective returns the objective reaction id for a Gram classification.
func (c *Catalog) Objective(g Gram) string {
	if id, ok := c.Objectives[g]; ok {
		return id
	}
	return c.Objectives[GramNone]
}

// BiomassIDs returns the biomass component reaction ids tagged for g.
func (c *Catalog) BiomassIDs(g Gram) []string {
	ids, ok := c.Biomass.Components[g]
	if !ok {
		ids = c.Biomass.Components[GramNone]
	}
	return append([]string(nil), ids...)
}

// Medium resolves a media selector: a named mode or a comma-separated list of
// extracellular metabolite ids. The second value reports whether a named mode
// was used.
func (c *Catalog) Medium(selector string) ([]string, bool) {
	mode := strings.TrimSpace(selector)
	if mode == MediaDefaultAlias {
		mode = MediaDefault
	}
	if ids, ok := c.Media[mode]; ok {
		return append([]string(nil), ids...), true
	}
	var ids []string
	for _, part := range strings.Split(selector, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids, false
}
