// Package assemble merges gap-filling results into a growing network and
// manages its boundary: exchange synthesis, base inputs, media and the final
// exchange configuration.
package assemble

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"reconstructor/internal/gapfill"
	"reconstructor/internal/network"
)

const (
	// BaseInputLower and BaseInputUpper force an exchange to import.
	BaseInputLower = -network.DefaultBound
	BaseInputUpper = -0.01
	// MediumUptakeUpper is the upper bound of an exchange opened by a medium.
	MediumUptakeUpper = 10000.0
	// legacyExchangeName marks exchange names produced by older model writers.
	legacyExchangeName = "Exchange reaction for"
)

// ErrObjectiveMissing reports an objective reaction found in neither network.
var ErrObjectiveMissing = errors.New("assemble: objective reaction not found")

// MergeResult lists what Merge changed.
type MergeResult struct {
	Added     []string
	Exchanges []string
}

// Merge copies the selected universal reactions into model. The objective phase
// also copies the objective reaction itself. The model objective is set to
// maximize objective, and every extracellular metabolite without an exchange
// gets one open in both directions. Ids missing from universal are skipped.
func Merge(model, universal *network.Network, newIDs map[string]struct{}, objective string, phase gapfill.Phase) (MergeResult, error) {
	var res MergeResult
	if phase == gapfill.PhaseObjective {
		res.Added = append(res.Added, model.CopyReactions(universal, objective)...)
	}
	ids := make([]string, 0, len(newIDs))
	for id := range newIDs {
		if id != objective {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	res.Added = append(res.Added, model.CopyReactions(universal, ids...)...)

	if !model.SetObjective(objective) {
		return res, fmt.Errorf("%w: %s", ErrObjectiveMissing, objective)
	}
	res.Exchanges = AddMissingExchanges(model)
	return res, nil
}

// AddMissingExchanges synthesizes `EX_<id>` with bounds [-1000, 1000] for each
// extracellular metabolite lacking one and returns the new reaction ids.
func AddMissingExchanges(model *network.Network) []string {
	var added []string
	for _, m := range model.Metabolites() {
		if m.Compartment != network.Extracellular {
			continue
		}
		if r, ok := model.AddExchange(m.ID, -network.DefaultBound, network.DefaultBound); ok {
			added = append(added, r.ID)
		}
	}
	return added
}

// SetBaseInputs ensures each listed exchange exists in model, copying it from
// universal when absent, and forces it to uptake-only bounds. Exchanges found
// in neither network are returned as missing.
func SetBaseInputs(model, universal *network.Network, inputs []string) (added, missing []string) {
	for _, id := range inputs {
		if !model.HasReaction(id) {
			added = append(added, model.CopyReactions(universal, id)...)
		}
		if !model.SetBounds(id, BaseInputLower, BaseInputUpper) {
			missing = append(missing, id)
		}
	}
	return added, missing
}

// ApplyMedium closes uptake through every exchange of universal and reopens
// the exchanges of the medium's metabolites. An empty medium leaves the bag
// untouched. It returns the number of medium exchanges opened.
func ApplyMedium(universal *network.Network, metabolites []string) int {
	if len(metabolites) == 0 {
		return 0
	}
	medium := make(map[string]struct{}, len(metabolites))
	for _, met := range metabolites {
		medium[network.ExchangePrefix+met] = struct{}{}
	}
	opened := 0
	for _, id := range universal.ReactionIDs() {
		if !strings.HasPrefix(id, network.ExchangePrefix) {
			continue
		}
		if _, ok := medium[id]; ok {
			universal.SetBounds(id, -network.DefaultBound, MediumUptakeUpper)
			opened++
			continue
		}
		universal.SetBounds(id, 0, network.DefaultBound)
	}
	return opened
}

// Exchanges returns the ids of single-metabolite reactions whose metabolite is
// extracellular.
func Exchanges(model *network.Network) []string {
	var ids []string
	for _, r := range model.Exchanges() {
		for met := range r.Metabolites {
			m, ok := model.Metabolite(met)
			if ok && m.Compartment == network.Extracellular {
				ids = append(ids, r.ID)
			}
		}
	}
	return ids
}

// SetExchangeBounds opens every exchange fully or shuts it.
func SetExchangeBounds(model *network.Network, open bool) int {
	lower, upper := 0.0, 0.0
	if open {
		lower, upper = -network.DefaultBound, network.DefaultBound
	}
	ids := Exchanges(model)
	for _, id := range ids {
		model.SetBounds(id, lower, upper)
	}
	return len(ids)
}

// NormalizeExchangeNames renames legacy "Exchange reaction for ..." reactions
// to "<metabolite name> exchange".
func NormalizeExchangeNames(model *network.Network) int {
	renamed := 0
	for _, r := range model.Reactions() {
		if !strings.Contains(r.Name, legacyExchangeName) {
			continue
		}
		ids := r.MetaboliteIDs()
		if len(ids) == 0 {
			continue
		}
		m, _ := model.Metabolite(ids[0])
		name := m.Name
		if name == "" {
			name = ids[0]
		}
		if model.SetReactionName(r.ID, name+" exchange") {
			renamed++
		}
	}
	return renamed
}
