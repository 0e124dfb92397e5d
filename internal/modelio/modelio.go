// Package modelio reads and writes networks in the COBRA JSON interchange
// format.
package modelio

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"reconstructor/internal/network"
)

// FormatVersion is written into every encoded document.
const FormatVersion = "1"

type document struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Version      string            `json:"version,omitempty"`
	Compartments map[string]string `json:"compartments,omitempty"`
	Metabolites  []metaboliteDoc   `json:"metabolites"`
	Reactions    []reactionDoc     `json:"reactions"`
	Genes        []geneDoc         `json:"genes"`
}

type metaboliteDoc struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Compartment string     `json:"compartment,omitempty"`
	Formula     string     `json:"formula,omitempty"`
	Charge      *float64   `json:"charge,omitempty"`
	Annotation  annotation `json:"annotation,omitempty"`
}

type reactionDoc struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name,omitempty"`
	Metabolites          map[string]float64 `json:"metabolites"`
	LowerBound           float64            `json:"lower_bound"`
	UpperBound           float64            `json:"upper_bound"`
	GeneReactionRule     string             `json:"gene_reaction_rule"`
	ObjectiveCoefficient float64            `json:"objective_coefficient,omitempty"`
	Annotation           annotation         `json:"annotation,omitempty"`
}

type geneDoc struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Annotation annotation `json:"annotation,omitempty"`
}

// annotation accepts both string and list-of-string values; lists are joined
// with ";".
type annotation map[string]string

func (a *annotation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(annotation, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		var list []string
		if err := json.Unmarshal(v, &list); err != nil {
			return fmt.Errorf("annotation %q: %w", k, err)
		}
		out[k] = strings.Join(list, ";")
	}
	*a = out
	return nil
}

var compartmentAliases = map[string]network.Compartment{
	"c":             network.Cytosol,
	"c0":            network.Cytosol,
	"cytosol":       network.Cytosol,
	"e":             network.Extracellular,
	"e0":            network.Extracellular,
	"extracellular": network.Extracellular,
}

var compartmentIDs = map[network.Compartment]string{
	network.Cytosol:       "c",
	network.Extracellular: "e",
}

// Read decodes a COBRA JSON model.
func Read(r io.Reader) (*network.Network, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("modelio: decode: %w", err)
	}
	n := network.New(doc.ID)
	n.Name = doc.Name
	for _, m := range doc.Metabolites {
		if m.ID == "" {
			return nil, fmt.Errorf("modelio: metabolite without id")
		}
		met := network.Metabolite{
			ID:          m.ID,
			Name:        m.Name,
			Formula:     m.Formula,
			Compartment: compartmentOf(m.Compartment, doc.Compartments),
			Annotation:  m.Annotation,
		}
		if m.Charge != nil {
			charge := int(*m.Charge)
			met.Charge = &charge
		}
		n.AddMetabolites(met)
	}
	objective := ""
	for _, r := range doc.Reactions {
		if r.ID == "" {
			return nil, fmt.Errorf("modelio: reaction without id")
		}
		if n.HasReaction(r.ID) {
			return nil, fmt.Errorf("modelio: duplicate reaction %s", r.ID)
		}
		n.AddReactions(network.Reaction{
			ID:          r.ID,
			Name:        r.Name,
			Metabolites: r.Metabolites,
			LowerBound:  r.LowerBound,
			UpperBound:  r.UpperBound,
			GeneRule:    r.GeneReactionRule,
			Annotation:  r.Annotation,
		})
		switch c := r.ObjectiveCoefficient; {
		case c == 0:
		case c < 0 || math.IsNaN(c):
			return nil, &ObjectiveError{Reactions: []string{r.ID}, Message: fmt.Sprintf("coefficient %g, only maximization is supported", c)}
		case objective != "":
			return nil, &ObjectiveError{Reactions: []string{objective, r.ID}, Message: "more than one objective reaction"}
		default:
			objective = r.ID
		}
	}
	if objective != "" {
		n.SetObjective(objective)
	}
	for _, g := range doc.Genes {
		if g.Name != "" {
			n.SetGeneName(g.ID, g.Name)
		}
		for k, v := range g.Annotation {
			n.SetGeneAnnotation(g.ID, k, v)
		}
	}
	return n, nil
}

// ObjectiveError reports an objective the network model cannot represent:
// it holds a single maximized reaction.
type ObjectiveError struct {
	Reactions []string
	Message   string
}

func (e *ObjectiveError) Error() string {
	return fmt.Sprintf("modelio: objective %s: %s", strings.Join(e.Reactions, ","), e.Message)
}

// Write encodes n as an indented COBRA JSON model. Entities are ordered by id.
func Write(w io.Writer, n *network.Network) error {
	doc := document{
		ID:           n.ID,
		Name:         n.Name,
		Version:      FormatVersion,
		Compartments: map[string]string{"c": string(network.Cytosol), "e": string(network.Extracellular)},
		Metabolites:  []metaboliteDoc{},
		Reactions:    []reactionDoc{},
		Genes:        []geneDoc{},
	}
	for _, m := range n.Metabolites() {
		md := metaboliteDoc{
			ID:          m.ID,
			Name:        m.Name,
			Compartment: compartmentID(m.Compartment),
			Formula:     m.Formula,
			Annotation:  m.Annotation,
		}
		if m.Charge != nil {
			charge := float64(*m.Charge)
			md.Charge = &charge
		}
		doc.Metabolites = append(doc.Metabolites, md)
	}
	for _, r := range n.Reactions() {
		rd := reactionDoc{
			ID:               r.ID,
			Name:             r.Name,
			Metabolites:      r.Metabolites,
			LowerBound:       r.LowerBound,
			UpperBound:       r.UpperBound,
			GeneReactionRule: r.GeneRule,
			Annotation:       r.Annotation,
		}
		if r.ID == n.Objective() {
			rd.ObjectiveCoefficient = 1
		}
		doc.Reactions = append(doc.Reactions, rd)
	}
	for _, g := range n.Genes() {
		doc.Genes = append(doc.Genes, geneDoc{ID: g.ID, Name: g.Name, Annotation: g.Annotation})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("modelio: encode: %w", err)
	}
	return nil
}

func compartmentOf(id string, names map[string]string) network.Compartment {
	if c, ok := compartmentAliases[strings.ToLower(id)]; ok {
		return c
	}
	if name, ok := names[id]; ok {
		if c, ok := compartmentAliases[strings.ToLower(name)]; ok {
			return c
		}
	}
	return network.Compartment(id)
}

func compartmentID(c network.Compartment) string {
	if id, ok := compartmentIDs[c]; ok {
		return id
	}
	return string(c)
}
