package core

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"reconstructor/internal/aligner"
	"reconstructor/internal/catalog"
	"reconstructor/internal/evidence"
)

// InputType selects how the draft network is obtained.
type InputType int

const (
	// InputProteins is a protein FASTA aligned with DIAMOND.
	InputProteins InputType = 1
	// InputHits is a precomputed tabular alignment report.
	InputHits InputType = 2
	// InputModel is an existing model extended by gap-filling.
	InputModel InputType = 3
)

func (t InputType) String() string {
	switch t {
	case InputProteins:
		return "proteins"
	case InputHits:
		return "hits"
	case InputModel:
		return "model"
	default:
		return fmt.Sprintf("InputType(%d)", int(t))
	}
}

// Placeholder values meaning "not set" on the command line.
const (
	DefaultValue  = "default"
	NoInput       = "none"
	outputExt     = ".json"
	hitsSuffix    = ".KEGGprot.out"
	defaultMinFrc = 0.01
	defaultMaxFrc = 0.5
)

// Config is one reconstruction request. Input and Output are artifact keys
// in the blob store.
type Config struct {
	Input         string
	Type          InputType
	Media         string
	Tasks         []string
	Organism      string
	MinFraction   float64
	MaxFraction   float64
	Gram          catalog.Gram
	Output        string
	Name          string
	Processors    int
	Gapfill       bool
	OpenExchanges bool
	DiamondPath   string
	DiamondDB     string
}

// DefaultConfig mirrors the command line defaults.
func DefaultConfig() Config {
	return Config{
		Type:          InputProteins,
		Media:         catalog.MediaRich,
		Organism:      evidence.DefaultOrganism,
		MinFraction:   defaultMinFrc,
		MaxFraction:   defaultMaxFrc,
		Gram:          catalog.GramNone,
		Output:        DefaultValue,
		Name:          DefaultValue,
		Processors:    1,
		Gapfill:       true,
		OpenExchanges: true,
	}
}

// ConfigError describes a setting that was replaced by a usable value.
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s=%s: %s", e.Field, e.Value, e.Message)
}

// Normalize clamps out-of-range settings in place and returns one warning
// per adjustment. NaN fractions count as out of range. It never fails.
func (c *Config) Normalize(availableCPU int) []ConfigError {
	var warns []ConfigError
	if !(c.MinFraction > 0 && c.MinFraction <= 1) {
		warns = append(warns, ConfigError{"min_frac", fmt.Sprint(c.MinFraction), fmt.Sprintf("out of range (0,1], using %g", defaultMinFrc)})
		c.MinFraction = defaultMinFrc
	}
	if !(c.MaxFraction > 0 && c.MaxFraction <= 1) {
		warns = append(warns, ConfigError{"max_frac", fmt.Sprint(c.MaxFraction), fmt.Sprintf("out of range (0,1], using %g", defaultMaxFrc)})
		c.MaxFraction = defaultMaxFrc
	}
	if c.MaxFraction < c.MinFraction {
		half := c.MaxFraction * 0.5
		warns = append(warns, ConfigError{"min_frac", fmt.Sprint(c.MinFraction), fmt.Sprintf("exceeds max_frac, using %g", half)})
		c.MinFraction = half
	}
	if g, ok := catalog.ParseGram(string(c.Gram)); ok {
		c.Gram = g
	} else {
		warns = append(warns, ConfigError{"gram", string(c.Gram), "unsupported, using none"})
		c.Gram = catalog.GramNone
	}
	if availableCPU > 0 {
		if n, changed := aligner.ClampThreads(c.Processors, availableCPU); changed {
			warns = append(warns, ConfigError{"cpu", fmt.Sprint(c.Processors), fmt.Sprintf("using %d of %d available", n, availableCPU)})
			c.Processors = n
		}
	}
	if strings.TrimSpace(c.Media) == "" {
		c.Media = catalog.MediaRich
	}
	if c.Organism == "" {
		c.Organism = evidence.DefaultOrganism
	}
	if c.Name == "" {
		c.Name = DefaultValue
	}
	if c.Output == "" {
		c.Output = DefaultValue
	}
	return warns
}

// ErrNoInput reports a request without an input artifact.
var ErrNoInput = errors.New("core: input is required")

// Validate reports settings that cannot be recovered from.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Input) == "" {
		return ErrNoInput
	}
	switch c.Type {
	case InputProteins, InputModel:
		if c.Input == NoInput {
			return fmt.Errorf("core: input type %d requires an input file", int(c.Type))
		}
	case InputHits:
	default:
		return fmt.Errorf("core: unsupported input type %d", int(c.Type))
	}
	return nil
}

// OutputKey returns the artifact key the model is written to. An explicit
// Output wins; otherwise the key is derived from the input name.
func (c Config) OutputKey() string {
	if c.Output != "" && c.Output != DefaultValue {
		return c.Output
	}
	stem := c.stem()
	named := c.Name != "" && c.Name != DefaultValue
	switch c.Type {
	case InputHits:
		switch {
		case named && c.Input == NoInput:
			return c.Name + outputExt
		case named:
			return stem + "." + c.Name + outputExt
		case c.Organism != "" && c.Organism != evidence.DefaultOrganism:
			return c.Organism + outputExt
		default:
			return stem + outputExt
		}
	case InputModel:
		if named {
			return stem + "." + c.Name + ".extended" + outputExt
		}
		return stem + ".extended" + outputExt
	default:
		if named {
			return stem + "." + c.Name + outputExt
		}
		return stem + outputExt
	}
}

// HitsKey is where alignment output for a protein input is stored.
func (c Config) HitsKey() string {
	return c.stem() + hitsSuffix
}

func (c Config) stem() string {
	return strings.TrimSuffix(c.Input, path.Ext(c.Input))
}

// modelName is the id given to evidence-derived drafts.
func (c Config) modelName() string {
	if c.Name != "" && c.Name != DefaultValue {
		return c.Name
	}
	return evidence.DefaultModelID
}
