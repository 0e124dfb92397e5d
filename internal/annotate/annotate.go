// Package annotate tags network entities with ontology terms and reports
// summary statistics about a finished reconstruction.
package annotate

import (
	"context"
	"math"
	"strings"

	"reconstructor/internal/network"
	"reconstructor/internal/solver"
)

// Systems Biology Ontology terms assigned by Annotate.
const (
	SBOGene            = "SBO:0000243"
	SBOMetabolite      = "SBO:0000247"
	SBOExchange        = "SBO:0000627"
	SBOTransport       = "SBO:0000185"
	SBOMetabolic       = "SBO:0000176"
	SBOBiomass         = "SBO:0000629"
	SBOBiomassExchange = "SBO:0000632"
	keySBO             = "sbo"
	keyKEGGGenes       = "kegg.genes"
	keySEEDCompound    = "seed.compound"
	keySEEDReaction    = "seed.reaction"
	seedCompoundMarker = "cpd"
	seedReactionMarker = "rxn"
)

// Biomass selects the reactions receiving biomass terms. When Objective is
// set (existing-model inputs) only that reaction is tagged; otherwise the
// exchange and every present component are.
type Biomass struct {
	Exchange   string
	Components []string
	Objective  string
}

// Summary counts what Annotate touched.
type Summary struct {
	Genes       int
	Metabolites int
	Reactions   int
	Biomass     int
}

// Annotate overwrites ontology annotations on every gene, metabolite and
// reaction of model. Repeated calls yield identical annotations.
func Annotate(model *network.Network, b Biomass) Summary {
	var s Summary
	for _, g := range model.Genes() {
		model.SetGeneAnnotation(g.ID, keySBO, SBOGene)
		model.SetGeneAnnotation(g.ID, keyKEGGGenes, g.ID)
		s.Genes++
	}
	for _, id := range model.MetaboliteIDs() {
		model.SetMetaboliteAnnotation(id, keySBO, SBOMetabolite)
		if strings.Contains(id, seedCompoundMarker) {
			model.SetMetaboliteAnnotation(id, keySEEDCompound, baseID(id))
		}
		s.Metabolites++
	}
	for _, r := range model.Reactions() {
		if strings.Contains(r.ID, seedReactionMarker) {
			model.SetReactionAnnotation(r.ID, keySEEDReaction, baseID(r.ID))
		}
		model.SetReactionAnnotation(r.ID, keySBO, kindTerm(model.Classify(r)))
		s.Reactions++
	}

	if b.Objective != "" {
		if model.SetReactionAnnotation(b.Objective, keySBO, SBOBiomass) {
			s.Biomass++
		}
		return s
	}
	if b.Exchange != "" && model.SetReactionAnnotation(b.Exchange, keySBO, SBOBiomassExchange) {
		s.Biomass++
	}
	for _, id := range b.Components {
		if model.SetReactionAnnotation(id, keySBO, SBOBiomass) {
			s.Biomass++
		}
	}
	return s
}

func kindTerm(kind network.ReactionKind) string {
	switch kind {
	case network.KindExchange:
		return SBOExchange
	case network.KindTransport:
		return SBOTransport
	default:
		return SBOMetabolic
	}
}

func baseID(id string) string {
	if idx := strings.Index(id, "_"); idx >= 0 {
		return id[:idx]
	}
	return id
}

// Report summarizes a reconstruction against its pre-gap-filling snapshot.
type Report struct {
	Genes            int     `json:"genes"`
	DraftReactions   int     `json:"draft_reactions"`
	DraftMetabolites int     `json:"draft_metabolites"`
	NewReactions     int     `json:"new_reactions"`
	NewMetabolites   int     `json:"new_metabolites"`
	Reactions        int     `json:"reactions"`
	Metabolites      int     `json:"metabolites"`
	ObjectiveFlux    float64 `json:"objective_flux"`
}

// Check counts the model against the draft snapshot and maximizes its
// objective. The model is not modified. On solver failure the counts are
// still returned alongside the error.
func Check(ctx context.Context, s solver.Solver, preReactions, preMetabolites []string, model *network.Network) (Report, error) {
	r := Report{
		Genes:            model.GeneCount(),
		DraftReactions:   len(preReactions),
		DraftMetabolites: len(preMetabolites),
		NewReactions:     countNew(model.ReactionIDs(), preReactions),
		NewMetabolites:   countNew(model.MetaboliteIDs(), preMetabolites),
		Reactions:        model.ReactionCount(),
		Metabolites:      model.MetaboliteCount(),
	}
	sol, err := solver.Optimize(ctx, s, model)
	if err != nil {
		return r, err
	}
	r.ObjectiveFlux = Round3(sol.Objective)
	return r, nil
}

// Round3 rounds to three decimals.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func countNew(ids, pre []string) int {
	seen := make(map[string]struct{}, len(pre))
	for _, id := range pre {
		seen[id] = struct{}{}
	}
	n := 0
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			n++
		}
	}
	return n
}
