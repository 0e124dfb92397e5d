package network

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Network is a named collection of reactions, their metabolites and genes, an
// optional objective reaction and the linear constraints layered on top of
// reaction bounds. Records are owned by the network; every accessor returns a
// copy and every copy between networks constructs a new record.
type Network struct {
	ID   string
	Name string

	reactions   map[string]Reaction
	metabolites map[string]Metabolite
	genes       map[string]Gene
	metRefs     map[string]int
	geneRefs    map[string]int
	objective   string
	constraints []Constraint

	scopes    []*Scope
	replaying bool
}

// New constructs an empty network.
func New(id string) *Network {
	return &Network{
		ID:          id,
		reactions:   make(map[string]Reaction),
		metabolites: make(map[string]Metabolite),
		genes:       make(map[string]Gene),
		metRefs:     make(map[string]int),
		geneRefs:    make(map[string]int),
	}
}

// Clone returns a deep copy of the network without any open scopes.
func (n *Network) Clone() *Network {
	out := New(n.ID)
	out.Name = n.Name
	for id, m := range n.metabolites {
		out.metabolites[id] = m.Clone()
	}
	for id, g := range n.genes {
		g.Annotation = cloneAnnotation(g.Annotation)
		out.genes[id] = g
	}
	for _, id := range n.ReactionIDs() {
		out.attach(n.reactions[id].Clone())
	}
	out.objective = n.objective
	out.constraints = append([]Constraint(nil), n.constraints...)
	return out
}

// Reaction returns a copy of the reaction with the given id.
func (n *Network) Reaction(id string) (Reaction, bool) {
	r, ok := n.reactions[id]
	if !ok {
		return Reaction{}, false
	}
	return r.Clone(), true
}

// HasReaction reports whether id is a reaction of the network.
func (n *Network) HasReaction(id string) bool {
	_, ok := n.reactions[id]
	return ok
}

// ReactionIDs lists reaction ids in ascending order.
func (n *Network) ReactionIDs() []string {
	return sortedKeys(n.reactions)
}

// Reactions returns copies of all reactions ordered by id.
func (n *Network) Reactions() []Reaction {
	ids := n.ReactionIDs()
	out := make([]Reaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, n.reactions[id].Clone())
	}
	return out
}

// ReactionCount returns the number of reactions.
func (n *Network) ReactionCount() int { return len(n.reactions) }

// Metabolite returns a copy of the metabolite with the given id.
func (n *Network) Metabolite(id string) (Metabolite, bool) {
	m, ok := n.metabolites[id]
	if !ok {
		return Metabolite{}, false
	}
	return m.Clone(), true
}

// HasMetabolite reports whether id is a metabolite of the network.
func (n *Network) HasMetabolite(id string) bool {
	_, ok := n.metabolites[id]
	return ok
}

// MetaboliteIDs lists metabolite ids in ascending order.
func (n *Network) MetaboliteIDs() []string {
	return sortedKeys(n.metabolites)
}

// Metabolites returns copies of all metabolites ordered by id.
func (n *Network) Metabolites() []Metabolite {
	ids := n.MetaboliteIDs()
	out := make([]Metabolite, 0, len(ids))
	for _, id := range ids {
		out = append(out, n.metabolites[id].Clone())
	}
	return out
}

// MetaboliteCount returns the number of metabolites.
func (n *Network) MetaboliteCount() int { return len(n.metabolites) }

// Genes returns every gene referenced by a reaction rule, ordered by id.
func (n *Network) Genes() []Gene {
	ids := make([]string, 0, len(n.geneRefs))
	for id, refs := range n.geneRefs {
		if refs > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]Gene, 0, len(ids))
	for _, id := range ids {
		g, ok := n.genes[id]
		if !ok {
			g = Gene{ID: id}
		}
		g.Annotation = cloneAnnotation(g.Annotation)
		out = append(out, g)
	}
	return out
}

// GeneCount returns the number of genes referenced by reaction rules.
func (n *Network) GeneCount() int {
	count := 0
	for _, refs := range n.geneRefs {
		if refs > 0 {
			count++
		}
	}
	return count
}

// Objective returns the id of the reaction whose flux is maximized, or "".
func (n *Network) Objective() string { return n.objective }

// Constraints returns a copy of the constraint list in insertion order.
func (n *Network) Constraints() []Constraint {
	return append([]Constraint(nil), n.constraints...)
}

// Classify returns the structural kind of r using this network's metabolite
// compartments.
func (n *Network) Classify(r Reaction) ReactionKind {
	if len(r.Metabolites) == 1 {
		return KindExchange
	}
	compartments := make(map[Compartment]struct{}, 2)
	for id := range r.Metabolites {
		c := CompartmentFromSuffix(id)
		if m, ok := n.metabolites[id]; ok && m.Compartment != "" {
			c = m.Compartment
		}
		compartments[c] = struct{}{}
	}
	if len(compartments) > 1 {
		return KindTransport
	}
	return KindMetabolic
}

// Exchanges returns every single-metabolite reaction ordered by id.
func (n *Network) Exchanges() []Reaction {
	var out []Reaction
	for _, id := range n.ReactionIDs() {
		r := n.reactions[id]
		if len(r.Metabolites) == 1 {
			out = append(out, r.Clone())
		}
	}
	return out
}

// AddMetabolites inserts metabolites not already present. Existing records are
// left untouched. It returns the number inserted.
func (n *Network) AddMetabolites(mets ...Metabolite) int {
	added := 0
	for _, m := range mets {
		if m.ID == "" {
			continue
		}
		if _, exists := n.metabolites[m.ID]; exists {
			continue
		}
		n.metabolites[m.ID] = m.Clone()
		id := m.ID
		n.record(func() { delete(n.metabolites, id) })
		added++
	}
	return added
}

// AddReactions inserts reactions whose ids are not yet present, creating
// placeholder metabolites for stoichiometry entries the network lacks.
// Duplicate ids are skipped. It returns the ids inserted, in argument order.
func (n *Network) AddReactions(rxns ...Reaction) []string {
	var added []string
	for _, r := range rxns {
		if r.ID == "" || n.HasReaction(r.ID) {
			continue
		}
		created := n.attach(r.Clone())
		id := r.ID
		n.record(func() {
			n.detach(id)
			for _, met := range created {
				delete(n.metabolites, met)
			}
		})
		added = append(added, id)
	}
	return added
}

// CopyReactions copies the named reactions, with their metabolite records,
// from src into n. Ids missing from src or already present in n are skipped.
func (n *Network) CopyReactions(src *Network, ids ...string) []string {
	var copied []string
	for _, id := range ids {
		r, ok := src.reactions[id]
		if !ok || n.HasReaction(id) {
			continue
		}
		for _, met := range r.MetaboliteIDs() {
			if m, ok := src.metabolites[met]; ok {
				n.AddMetabolites(m)
			}
		}
		for _, gene := range r.Genes() {
			if g, ok := src.genes[gene]; ok {
				n.putGene(g)
			}
		}
		copied = append(copied, n.AddReactions(r)...)
	}
	return copied
}

// RemoveReactions deletes the named reactions and prunes metabolites and gene
// records no longer referenced. Missing ids are skipped.
func (n *Network) RemoveReactions(ids ...string) int {
	removed := 0
	for _, id := range ids {
		if !n.HasReaction(id) {
			continue
		}
		r := n.detach(id)
		var mets []Metabolite
		for _, met := range r.MetaboliteIDs() {
			if n.metRefs[met] > 0 {
				continue
			}
			if m, ok := n.metabolites[met]; ok {
				mets = append(mets, m)
				delete(n.metabolites, met)
			}
		}
		var genes []Gene
		for _, gene := range r.Genes() {
			if n.geneRefs[gene] > 0 {
				continue
			}
			if g, ok := n.genes[gene]; ok {
				genes = append(genes, g)
				delete(n.genes, gene)
			}
		}
		n.record(func() {
			for _, m := range mets {
				n.metabolites[m.ID] = m
			}
			for _, g := range genes {
				n.genes[g.ID] = g
			}
			n.attach(r)
		})
		removed++
	}
	return removed
}

// SetBounds replaces both flux bounds of a reaction.
func (n *Network) SetBounds(id string, lower, upper float64) bool {
	r, ok := n.reactions[id]
	if !ok {
		return false
	}
	prevLower, prevUpper := r.LowerBound, r.UpperBound
	r.LowerBound, r.UpperBound = lower, upper
	n.reactions[id] = r
	n.record(func() {
		r := n.reactions[id]
		r.LowerBound, r.UpperBound = prevLower, prevUpper
		n.reactions[id] = r
	})
	return true
}

// SetLowerBound replaces the lower flux bound of a reaction, keeping its upper
// bound.
func (n *Network) SetLowerBound(id string, lower float64) bool {
	r, ok := n.reactions[id]
	if !ok {
		return false
	}
	return n.SetBounds(id, lower, r.UpperBound)
}

// SetObjective makes id the reaction whose flux is maximized. An empty id
// clears the objective; an unknown id is rejected.
func (n *Network) SetObjective(id string) bool {
	if id != "" && !n.HasReaction(id) {
		return false
	}
	prev := n.objective
	n.objective = id
	n.record(func() { n.objective = prev })
	return true
}

// AddConstraint appends a flux constraint on an existing reaction.
func (n *Network) AddConstraint(c Constraint) bool {
	if !n.HasReaction(c.Reaction) {
		return false
	}
	n.constraints = append(n.constraints, c)
	n.record(func() { n.constraints = n.constraints[:len(n.constraints)-1] })
	return true
}

// SetGeneRule replaces the gene-association rule of a reaction.
func (n *Network) SetGeneRule(id, rule string) bool {
	r, ok := n.reactions[id]
	if !ok {
		return false
	}
	prev := r.GeneRule
	n.replaceRule(id, rule)
	n.record(func() { n.replaceRule(id, prev) })
	return true
}

// SetReactionName replaces the display name of a reaction.
func (n *Network) SetReactionName(id, name string) bool {
	r, ok := n.reactions[id]
	if !ok {
		return false
	}
	prev := r.Name
	r.Name = name
	n.reactions[id] = r
	n.record(func() {
		r := n.reactions[id]
		r.Name = prev
		n.reactions[id] = r
	})
	return true
}

// SetReactionAnnotation sets one annotation key on a reaction, overwriting any
// previous value.
func (n *Network) SetReactionAnnotation(id, key, value string) bool {
	r, ok := n.reactions[id]
	if !ok {
		return false
	}
	prev := r.Annotation
	r.Annotation = cloneAnnotation(prev)
	if r.Annotation == nil {
		r.Annotation = make(map[string]string, 1)
	}
	r.Annotation[key] = value
	n.reactions[id] = r
	n.record(func() {
		r := n.reactions[id]
		r.Annotation = prev
		n.reactions[id] = r
	})
	return true
}

// SetMetaboliteAnnotation sets one annotation key on a metabolite.
func (n *Network) SetMetaboliteAnnotation(id, key, value string) bool {
	m, ok := n.metabolites[id]
	if !ok {
		return false
	}
	prev := m.Annotation
	m.Annotation = cloneAnnotation(prev)
	if m.Annotation == nil {
		m.Annotation = make(map[string]string, 1)
	}
	m.Annotation[key] = value
	n.metabolites[id] = m
	n.record(func() {
		m := n.metabolites[id]
		m.Annotation = prev
		n.metabolites[id] = m
	})
	return true
}

// SetGeneName sets the display name of a referenced gene.
func (n *Network) SetGeneName(id, name string) bool {
	g, ok := n.gene(id)
	if !ok {
		return false
	}
	g.Name = name
	n.putGene(g)
	return true
}

// SetGeneAnnotation sets one annotation key on a referenced gene.
func (n *Network) SetGeneAnnotation(id, key, value string) bool {
	g, ok := n.gene(id)
	if !ok {
		return false
	}
	g.Annotation = cloneAnnotation(g.Annotation)
	if g.Annotation == nil {
		g.Annotation = make(map[string]string, 1)
	}
	g.Annotation[key] = value
	n.putGene(g)
	return true
}

// AddExchange synthesizes the boundary reaction `EX_<metID>` consuming one unit
// of the metabolite. It returns false when the metabolite is unknown or the
// exchange already exists.
func (n *Network) AddExchange(metID string, lower, upper float64) (Reaction, bool) {
	m, ok := n.metabolites[metID]
	if !ok {
		return Reaction{}, false
	}
	id := ExchangePrefix + metID
	if n.HasReaction(id) {
		return Reaction{}, false
	}
	name := m.Name
	if name == "" {
		name = metID
	}
	r := Reaction{
		ID:          id,
		Name:        name + " exchange",
		Metabolites: map[string]float64{metID: -1},
		LowerBound:  lower,
		UpperBound:  upper,
	}
	n.AddReactions(r)
	return r.Clone(), true
}

// Fingerprint digests reaction membership and content, metabolites, gene
// records, the objective and the constraint list. Two networks with equal
// fingerprints are value-for-value identical.
func (n *Network) Fingerprint() string {
	h := sha256.New()
	for _, id := range n.ReactionIDs() {
		r := n.reactions[id]
		fmt.Fprintf(h, "R|%s|%s|%g|%g|%s|", r.ID, r.Name, r.LowerBound, r.UpperBound, r.GeneRule)
		for _, met := range r.MetaboliteIDs() {
			fmt.Fprintf(h, "%s=%g,", met, r.Metabolites[met])
		}
		writeAnnotation(h, r.Annotation)
	}
	for _, id := range n.MetaboliteIDs() {
		m := n.metabolites[id]
		charge := "-"
		if m.Charge != nil {
			charge = fmt.Sprint(*m.Charge)
		}
		fmt.Fprintf(h, "M|%s|%s|%s|%s|%s|", m.ID, m.Name, m.Formula, m.Compartment, charge)
		writeAnnotation(h, m.Annotation)
	}
	for _, id := range sortedKeys(n.genes) {
		g := n.genes[id]
		fmt.Fprintf(h, "G|%s|%s|", g.ID, g.Name)
		writeAnnotation(h, g.Annotation)
	}
	fmt.Fprintf(h, "O|%s|", n.objective)
	for _, c := range n.constraints {
		fmt.Fprintf(h, "C|%s|%s|%g|%g|", c.Name, c.Reaction, c.Lower, c.Upper)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (n *Network) attach(r Reaction) []string {
	var created []string
	for met := range r.Metabolites {
		if _, ok := n.metabolites[met]; !ok {
			n.metabolites[met] = Metabolite{ID: met, Compartment: CompartmentFromSuffix(met)}
			created = append(created, met)
		}
		n.metRefs[met]++
	}
	for _, gene := range r.Genes() {
		n.geneRefs[gene]++
	}
	n.reactions[r.ID] = r
	return created
}

func (n *Network) detach(id string) Reaction {
	r := n.reactions[id]
	delete(n.reactions, id)
	for met := range r.Metabolites {
		n.metRefs[met]--
		if n.metRefs[met] <= 0 {
			delete(n.metRefs, met)
		}
	}
	n.releaseGenes(r.Genes())
	return r
}

func (n *Network) replaceRule(id, rule string) {
	r := n.reactions[id]
	n.releaseGenes(r.Genes())
	r.GeneRule = rule
	for _, gene := range r.Genes() {
		n.geneRefs[gene]++
	}
	n.reactions[id] = r
}

func (n *Network) releaseGenes(genes []string) {
	for _, gene := range genes {
		n.geneRefs[gene]--
		if n.geneRefs[gene] <= 0 {
			delete(n.geneRefs, gene)
		}
	}
}

func (n *Network) gene(id string) (Gene, bool) {
	if n.geneRefs[id] <= 0 {
		return Gene{}, false
	}
	g, ok := n.genes[id]
	if !ok {
		g = Gene{ID: id}
	}
	return g, true
}

func (n *Network) putGene(g Gene) {
	prev, existed := n.genes[g.ID]
	g.Annotation = cloneAnnotation(g.Annotation)
	n.genes[g.ID] = g
	id := g.ID
	n.record(func() {
		if existed {
			n.genes[id] = prev
			return
		}
		delete(n.genes, id)
	})
}

func writeAnnotation(w io.Writer, ann map[string]string) {
	keys := sortedKeys(ann)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(ann[k])
		b.WriteByte(';')
	}
	b.WriteByte('\n')
	_, _ = io.WriteString(w, b.String())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
