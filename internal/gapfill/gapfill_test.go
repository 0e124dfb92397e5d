package gapfill

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"testing"
	"time"

	"reconstructor/internal/network"
	"reconstructor/internal/solver"
)

// universalChain is a 2-reaction linear pathway feeding a 1-reaction objective
// with a known optimum of 10.
func universalChain() *network.Network {
	n := network.New("universal")
	n.AddReactions(
		network.Reaction{ID: "R1", Metabolites: map[string]float64{"a_c": 1}, LowerBound: 0, UpperBound: 10},
		network.Reaction{ID: "R2", Metabolites: map[string]float64{"a_c": -1, "b_c": 1}, LowerBound: 0, UpperBound: network.DefaultBound},
		network.Reaction{ID: "BIO", Metabolites: map[string]float64{"b_c": -1}, LowerBound: 0, UpperBound: network.DefaultBound},
		network.Reaction{ID: "R9", Metabolites: map[string]float64{"z_c": -1, "y_c": 1}, LowerBound: -network.DefaultBound, UpperBound: network.DefaultBound},
	)
	return n
}

func request(phase Phase) Request {
	return Request{Objective: "BIO", MinFraction: 0.01, MaxFraction: 0.5, Phase: phase}
}

type recordingSolver struct {
	inner    solver.Solver
	problems []solver.Problem
	failAt   int
	err      error
}

func (r *recordingSolver) Solve(ctx context.Context, p solver.Problem) (solver.Solution, error) {
	r.problems = append(r.problems, p)
	if r.err != nil && len(r.problems) == r.failAt {
		return solver.Solution{}, r.err
	}
	return r.inner.Solve(ctx, p)
}

func column(t *testing.T, p solver.Problem, id string) int {
	t.Helper()
	j := slices.Index(p.Columns, id)
	if j < 0 {
		t.Fatalf("column %s not in problem", id)
	}
	return j
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func has(set map[string]struct{}, id string) bool {
	_, ok := set[id]
	return ok
}

func TestPhaseOneEmptyDraftActivatesPathway(t *testing.T) {
	res, err := FindReactions(context.Background(), solver.NewSparse(), network.New("draft"), universalChain(), request(PhaseObjective))
	if err != nil {
		t.Fatalf("find reactions: %v", err)
	}
	if !has(res.Reactions, "R1") || !has(res.Reactions, "R2") || has(res.Reactions, "R9") {
		t.Fatalf("expected the R1/R2 pathway only, got %v", res.IDs())
	}
	if !near(res.Optimum, 10, 1e-7) || !near(res.Lower, 0.1, 1e-9) || !near(res.Upper, 5, 1e-9) {
		t.Fatalf("unexpected optimum %g or pin [%g, %g]", res.Optimum, res.Lower, res.Upper)
	}
	if res.Flux < res.Lower-1e-9 || res.Flux > res.Upper+1e-9 {
		t.Fatalf("objective flux %g outside the pin [%g, %g]", res.Flux, res.Lower, res.Upper)
	}
}

func TestPhaseBoundDirection(t *testing.T) {
	for name, s := range map[string]solver.Solver{"sparse": solver.NewSparse(), "simplex": solver.NewSimplex()} {
		phase1, err := FindReactions(context.Background(), s, network.New("draft"), universalChain(), request(PhaseObjective))
		if err != nil {
			t.Fatalf("%s: phase 1: %v", name, err)
		}
		phase2, err := FindReactions(context.Background(), s, network.New("draft"), universalChain(), request(PhaseMedium))
		if err != nil {
			t.Fatalf("%s: phase 2: %v", name, err)
		}
		if !near(phase1.Lower, 10*0.01, 1e-9) || !near(phase1.Upper, 10*0.5, 1e-9) {
			t.Fatalf("%s: phase 1 pin [%g, %g]", name, phase1.Lower, phase1.Upper)
		}
		if !near(phase2.Lower, 10*0.5, 1e-9) || !near(phase2.Upper, 10, 1e-9) {
			t.Fatalf("%s: phase 2 pin [%g, %g]", name, phase2.Lower, phase2.Upper)
		}
		if !near(phase2.Flux, 5, 1e-7) {
			t.Fatalf("%s: parsimony should settle at the lower pin, got %g", name, phase2.Flux)
		}
	}
}

func TestUniversalRestoredAfterSuccess(t *testing.T) {
	universal := universalChain()
	before := universal.Fingerprint()

	draft := network.New("draft")
	draft.AddReactions(network.Reaction{ID: "R1", Metabolites: map[string]float64{"a_c": 1}, LowerBound: 0, UpperBound: 7, GeneRule: "g1"})
	draft.AddReactions(network.Reaction{ID: "R_own", Metabolites: map[string]float64{"q_c": 1}, LowerBound: 0, UpperBound: 1})
	req := request(PhaseObjective)
	req.Tasks = []string{"R2", "missing"}

	if _, err := FindReactions(context.Background(), solver.NewSparse(), draft, universal, req); err != nil {
		t.Fatalf("find reactions: %v", err)
	}
	if universal.Fingerprint() != before || universal.Depth() != 0 {
		t.Fatalf("universal not restored (depth %d)", universal.Depth())
	}
}

func TestUniversalRestoredAfterFailure(t *testing.T) {
	universal := universalChain()
	before := universal.Fingerprint()
	rec := &recordingSolver{inner: solver.NewSparse(), failAt: 2, err: solver.ErrInfeasible}

	_, err := FindReactions(context.Background(), rec, network.New("draft"), universal, request(PhaseMedium))
	var infeasible *InfeasibleError
	if !errors.As(err, &infeasible) {
		t.Fatalf("expected *InfeasibleError, got %v", err)
	}
	if infeasible.Step != StepParsimony || infeasible.Phase != PhaseMedium {
		t.Fatalf("unexpected failure location %s/%s", infeasible.Phase, infeasible.Step)
	}
	if !errors.Is(err, solver.ErrInfeasible) {
		t.Fatalf("expected wrapped solver.ErrInfeasible, got %v", err)
	}
	if universal.Fingerprint() != before {
		t.Fatalf("universal not restored after failure")
	}
}

func TestModelReactionsAreAuthoritativeAndUnweighted(t *testing.T) {
	draft := network.New("draft")
	draft.AddReactions(network.Reaction{ID: "R1", Metabolites: map[string]float64{"a_c": 1}, LowerBound: 0, UpperBound: 4})
	rec := &recordingSolver{inner: solver.NewSparse()}
	req := request(PhaseObjective)
	req.Tasks = []string{"R2"}

	res, err := FindReactions(context.Background(), rec, draft, universalChain(), req)
	if err != nil {
		t.Fatalf("find reactions: %v", err)
	}
	if !near(res.Optimum, 4, 1e-7) {
		t.Fatalf("draft copy of R1 should replace the universal one, optimum %g", res.Optimum)
	}
	if has(res.Reactions, "R1") || !has(res.Reactions, "R2") {
		t.Fatalf("unexpected activated set %v", res.IDs())
	}

	if len(rec.problems) != 2 {
		t.Fatalf("expected 2 solves, got %d", len(rec.problems))
	}
	first := rec.problems[0]
	if got := first.Lower[column(t, first, "R2")]; got != 0.01 {
		t.Fatalf("task lower bound: got %g", got)
	}

	pars := rec.problems[1]
	if pars.Sense != solver.Minimize {
		t.Fatalf("parsimony solve should minimize, got %s", pars.Sense)
	}
	r1 := column(t, pars, "R1")
	if pars.Forward[r1] != 0 || pars.Reverse[r1] != 0 {
		t.Fatalf("model reaction R1 should be unweighted")
	}
	r2 := column(t, pars, "R2")
	if pars.Forward[r2] != 1 || pars.Reverse[r2] != 1 {
		t.Fatalf("universal reaction R2 should carry weight 1 both ways")
	}
	if pars.Forward[column(t, pars, "BIO")] != 1 {
		t.Fatalf("objective copy should be weighted for drafts")
	}
	if len(pars.Ranges) != 1 {
		t.Fatalf("expected the phase pin as the only range, got %d", len(pars.Ranges))
	}
}

func TestWholeModelKeepsObjectiveInOriginalSet(t *testing.T) {
	draft := network.New("draft")
	draft.AddReactions(network.Reaction{ID: "BIO", Metabolites: map[string]float64{"b_c": -1}, LowerBound: 0, UpperBound: network.DefaultBound})
	rec := &recordingSolver{inner: solver.NewSparse()}
	req := request(PhaseObjective)
	req.WholeModel = true

	res, err := FindReactions(context.Background(), rec, draft, universalChain(), req)
	if err != nil {
		t.Fatalf("find reactions: %v", err)
	}
	if has(res.Reactions, "BIO") {
		t.Fatalf("objective of a whole model must not count as activated")
	}
	pars := rec.problems[1]
	if pars.Forward[column(t, pars, "BIO")] != 0 {
		t.Fatalf("objective of a whole model must be unweighted")
	}
}

func TestUnreachableObjective(t *testing.T) {
	universal := universalChain()
	universal.SetBounds("R1", 0, 0)
	_, err := FindReactions(context.Background(), solver.NewSparse(), network.New("draft"), universal, request(PhaseObjective))
	var infeasible *InfeasibleError
	if !errors.As(err, &infeasible) || infeasible.Step != StepObjective {
		t.Fatalf("expected objective-step failure, got %v", err)
	}
	if !errors.Is(err, ErrNoObjectiveFlux) {
		t.Fatalf("expected ErrNoObjectiveFlux, got %v", err)
	}
}

func TestMissingObjective(t *testing.T) {
	req := request(PhaseObjective)
	req.Objective = "nope"
	_, err := FindReactions(context.Background(), solver.NewSparse(), network.New("draft"), universalChain(), req)
	if !errors.Is(err, ErrObjectiveMissing) {
		t.Fatalf("expected ErrObjectiveMissing, got %v", err)
	}
}

func TestRequestValidation(t *testing.T) {
	bad := map[string]Request{
		"no objective":  {Objective: "", MinFraction: 0.1, MaxFraction: 0.5, Phase: PhaseObjective},
		"zero min":      {Objective: "BIO", MinFraction: 0, MaxFraction: 0.5, Phase: PhaseObjective},
		"min above max": {Objective: "BIO", MinFraction: 0.6, MaxFraction: 0.5, Phase: PhaseObjective},
		"max above one": {Objective: "BIO", MinFraction: 0.1, MaxFraction: 1.5, Phase: PhaseObjective},
		"NaN min":       {Objective: "BIO", MinFraction: math.NaN(), MaxFraction: 0.5, Phase: PhaseObjective},
		"NaN max":       {Objective: "BIO", MinFraction: 0.1, MaxFraction: math.NaN(), Phase: PhaseObjective},
		"phase":         {Objective: "BIO", MinFraction: 0.1, MaxFraction: 0.5, Phase: 3},
	}
	for name, req := range bad {
		universal := universalChain()
		before := universal.Fingerprint()
		if _, err := FindReactions(context.Background(), solver.NewSparse(), network.New("d"), universal, req); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if universal.Fingerprint() != before {
			t.Fatalf("%s: rejected request mutated the universal bag", name)
		}
	}
}

func TestActivityThresholdBoundary(t *testing.T) {
	fluxes := map[string]float64{
		"at":       1e-6,
		"negAt":    -1e-6,
		"above":    1e-6 + 1e-12,
		"negAbove": -(1e-6 + 1e-12),
		"zero":     0,
		"orig":     5,
	}
	active := ActiveReactions(fluxes, map[string]struct{}{"orig": {}})
	want := map[string]struct{}{"above": {}, "negAbove": {}}
	if !maps.Equal(active, want) {
		t.Fatalf("active set %v, want %v", active, want)
	}
	if IsActive(ActivityTolerance) || !IsActive(ActivityTolerance+1e-12) {
		t.Fatalf("tolerance itself must be inactive and anything above it active")
	}
}

func TestResultIDsSorted(t *testing.T) {
	res := Result{Reactions: map[string]struct{}{"b": {}, "a": {}, "c": {}}}
	if got := res.IDs(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("ids not sorted: %v", got)
	}
}

// linearUniversal chains steps reactions from an uptake exchange to BIO and
// adds an unrelated reversible branch per step.
func linearUniversal(steps int) *network.Network {
	n := network.New("universal")
	met := func(i int) string { return fmt.Sprintf("m%d_c", i) }
	n.AddReactions(network.Reaction{ID: "EX_m0_c", Metabolites: map[string]float64{met(0): -1}, LowerBound: -10, UpperBound: network.DefaultBound})
	for i := range steps {
		n.AddReactions(
			network.Reaction{ID: fmt.Sprintf("R%04d", i), Metabolites: map[string]float64{met(i): -1, met(i + 1): 1}, UpperBound: network.DefaultBound},
			network.Reaction{ID: fmt.Sprintf("S%04d", i), Metabolites: map[string]float64{met(i): -1, fmt.Sprintf("s%d_c", i): 1}, LowerBound: -network.DefaultBound, UpperBound: network.DefaultBound},
		)
	}
	n.AddReactions(network.Reaction{ID: "BIO", Metabolites: map[string]float64{met(steps): -1}, UpperBound: network.DefaultBound})
	return n
}

func TestFindReactionsScalesToLargeUniversalBags(t *testing.T) {
	const steps = 1000
	universal := linearUniversal(steps)
	start := time.Now()
	res, err := FindReactions(context.Background(), solver.NewSparse(), network.New("draft"), universal, request(PhaseObjective))
	if err != nil {
		t.Fatalf("find reactions: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Second {
		t.Fatalf("gap-filling a %d-step chain took %s", steps, elapsed)
	}
	// The exchange, every chain step and BIO carry flux; the dead-end
	// branches stay idle.
	if len(res.Reactions) != steps+2 {
		t.Fatalf("expected %d active reactions, got %d", steps+2, len(res.Reactions))
	}
	if has(res.Reactions, "S0000") {
		t.Fatalf("dead-end branch activated")
	}
	if !near(res.Optimum, 10, 1e-6) {
		t.Fatalf("expected optimum 10, got %g", res.Optimum)
	}
}
