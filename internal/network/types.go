// Package network holds the in-memory metabolic network model: metabolites,
// reactions, gene-association rules and the scoped mutation journal used when
// a large reaction bag is temporarily extended during gap-filling.
package network

import (
	"sort"
	"strings"
)

const (
	// DefaultBound is the flux magnitude used for open reaction bounds.
	DefaultBound = 1000.0
	// ExchangePrefix is prepended to a metabolite id to name its exchange reaction.
	ExchangePrefix = "EX_"
	// ruleSeparator joins gene ids inside an OR-only gene-association rule.
	ruleSeparator = " or "
)

// Compartment identifies where a metabolite lives.
type Compartment string

const (
	// Cytosol is the intracellular compartment.
	Cytosol Compartment = "cytosol"
	// Extracellular is the compartment outside the system boundary.
	Extracellular Compartment = "extracellular"
)

// CompartmentFromSuffix infers a compartment from the naming convention used by
// the universal reaction bag (`cpd00027_e`, `cpd00027_c`). Unknown suffixes
// yield an empty compartment ("other").
func CompartmentFromSuffix(id string) Compartment {
	idx := strings.LastIndex(id, "_")
	if idx == -1 {
		return ""
	}
	switch id[idx+1:] {
	case "e", "e0":
		return Extracellular
	case "c", "c0":
		return Cytosol
	default:
		return ""
	}
}

// Metabolite is a chemical species in exactly one compartment.
type Metabolite struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Formula     string            `json:"formula,omitempty"`
	Compartment Compartment       `json:"compartment,omitempty"`
	Charge      *int              `json:"charge,omitempty"`
	Annotation  map[string]string `json:"annotation,omitempty"`
}

// Clone returns a copy that shares no mutable state with m.
func (m Metabolite) Clone() Metabolite {
	cp := m
	if m.Charge != nil {
		charge := *m.Charge
		cp.Charge = &charge
	}
	cp.Annotation = cloneAnnotation(m.Annotation)
	return cp
}

// Reaction is a stoichiometric transformation with flux bounds.
// Negative coefficients are consumed, positive are produced.
type Reaction struct {
	ID          string             `json:"id"`
	Name        string             `json:"name,omitempty"`
	Metabolites map[string]float64 `json:"metabolites"`
	LowerBound  float64            `json:"lower_bound"`
	UpperBound  float64            `json:"upper_bound"`
	GeneRule    string             `json:"gene_reaction_rule,omitempty"`
	Annotation  map[string]string  `json:"annotation,omitempty"`
}

// Clone returns a copy that shares no mutable state with r.
func (r Reaction) Clone() Reaction {
	cp := r
	cp.Metabolites = make(map[string]float64, len(r.Metabolites))
	for id, coef := range r.Metabolites {
		cp.Metabolites[id] = coef
	}
	cp.Annotation = cloneAnnotation(r.Annotation)
	return cp
}

// MetaboliteIDs returns the reaction's metabolite ids in ascending order.
func (r Reaction) MetaboliteIDs() []string {
	ids := make([]string, 0, len(r.Metabolites))
	for id := range r.Metabolites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reversible reports whether the reaction may carry flux in both directions.
func (r Reaction) Reversible() bool {
	return r.LowerBound < 0 && r.UpperBound > 0
}

// Genes splits the OR-only gene-association rule into gene ids.
func (r Reaction) Genes() []string {
	return ParseRule(r.GeneRule)
}

// OrRule joins gene ids into an OR-only gene-association rule.
func OrRule(genes []string) string {
	return strings.Join(genes, ruleSeparator)
}

// ParseRule splits an OR-only rule into its gene ids, dropping blanks and
// surrounding parentheses.
func ParseRule(rule string) []string {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil
	}
	parts := strings.Split(rule, ruleSeparator)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), "()")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Gene is a gene referenced by at least one reaction rule.
type Gene struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Annotation map[string]string `json:"annotation,omitempty"`
}

// Constraint bounds the flux of one reaction on top of its own bounds.
type Constraint struct {
	Name     string  `json:"name"`
	Reaction string  `json:"reaction"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
}

// ReactionKind is the structural classification of a reaction.
type ReactionKind string

const (
	// KindExchange is a single-metabolite boundary reaction.
	KindExchange ReactionKind = "exchange"
	// KindTransport moves metabolites between compartments.
	KindTransport ReactionKind = "transport"
	// KindMetabolic is an intracellular transformation.
	KindMetabolic ReactionKind = "metabolic"
)

func cloneAnnotation(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
