// Package evidence turns sequence-similarity hits into a draft network by way
// of the gene to reaction reference table.
package evidence

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"reconstructor/internal/network"
)

const (
	// CompartmentSuffix turns a reaction base id into a cytosolic reaction id.
	CompartmentSuffix = "_c"
	// DefaultModelID names drafts built without an explicit name.
	DefaultModelID = "new_model"
	// DefaultOrganism disables organism gene expansion.
	DefaultOrganism = "default"
)

// Mapping associates a full reaction id with the genes supporting it.
type Mapping map[string][]string

// ReactionIDs returns the mapped reaction ids in ascending order.
func (m Mapping) ReactionIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReadHits collects the subject gene ids (second whitespace-delimited column)
// of a tabular alignment report. Blank and single-column lines are skipped.
func ReadHits(r io.Reader) (map[string]struct{}, error) {
	hits := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		hits[fields[1]] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read hits: line %d: %w", line+1, err)
	}
	return hits, nil
}

// Namespace returns the organism prefix of a gene id (text before the first
// colon), or the whole id when it has no prefix.
func Namespace(gene string) string {
	if idx := strings.Index(gene, ":"); idx >= 0 {
		return gene[:idx]
	}
	return gene
}

// MapHits maps every hit gene onto its reaction ids. When organism is set (and
// not "default") every reference gene of that organism is added to the hit
// set first; the second return value counts genes added that way. Genes
// absent from the reference table are skipped. Gene lists are sorted.
func MapHits(hits map[string]struct{}, geneToReactions map[string][]string, organism string) (Mapping, int) {
	genes := make(map[string]struct{}, len(hits))
	for g := range hits {
		genes[g] = struct{}{}
	}
	added := 0
	if organism != "" && organism != DefaultOrganism {
		for g := range geneToReactions {
			if Namespace(g) != organism {
				continue
			}
			if _, ok := genes[g]; !ok {
				genes[g] = struct{}{}
				added++
			}
		}
	}

	mapping := make(Mapping)
	for g := range genes {
		for _, base := range geneToReactions[g] {
			id := base + CompartmentSuffix
			mapping[id] = append(mapping[id], g)
		}
	}
	for id := range mapping {
		sort.Strings(mapping[id])
	}
	return mapping, added
}

// BuildDraft copies every mapped reaction present in universal into a new
// network and attaches the OR-joined gene rule. Unknown reaction ids are
// dropped. The network id is DefaultModelID unless name is set and not
// "default".
func BuildDraft(mapping Mapping, universal *network.Network, name string) *network.Network {
	id := DefaultModelID
	if name != "" && name != "default" {
		id = name
	}
	draft := network.New(id)
	for _, rxn := range mapping.ReactionIDs() {
		if len(draft.CopyReactions(universal, rxn)) == 0 {
			continue
		}
		draft.SetGeneRule(rxn, network.OrRule(mapping[rxn]))
	}
	return draft
}

// AddNames sets title-cased display names on genes found in the name table
// and returns how many were named.
func AddNames(model *network.Network, geneNames map[string]string) int {
	title := cases.Title(language.Und)
	named := 0
	for _, g := range model.Genes() {
		name, ok := geneNames[g.ID]
		if !ok {
			continue
		}
		if model.SetGeneName(g.ID, title.String(name)) {
			named++
		}
	}
	return named
}
