// Package gapfill finds the parsimonious set of universal reactions a network
// needs so that its objective reaction can carry a required share of its
// achievable flux.
package gapfill

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"reconstructor/internal/network"
	"reconstructor/internal/solver"
)

// ActivityTolerance is the flux magnitude a reaction must exceed to count as
// active.
const ActivityTolerance = 1e-6

// Phase selects how the objective is pinned before the parsimony solve.
type Phase int

const (
	// PhaseObjective pins the objective to [v*·min, v*·max].
	PhaseObjective Phase = 1
	// PhaseMedium pins the objective to [v*·max, v*].
	PhaseMedium Phase = 2
)

func (p Phase) String() string {
	switch p {
	case PhaseObjective:
		return "objective"
	case PhaseMedium:
		return "medium"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Request parameterizes one gap-filling invocation.
type Request struct {
	Objective   string
	Tasks       []string
	MinFraction float64
	MaxFraction float64
	Phase       Phase
	// WholeModel keeps the objective among the model's own reactions, as used
	// when the draft is an existing model rather than evidence-derived.
	WholeModel bool
}

func (r Request) validate() error {
	if r.Objective == "" {
		return ErrObjectiveMissing
	}
	if r.Phase != PhaseObjective && r.Phase != PhaseMedium {
		return fmt.Errorf("gapfill: unsupported phase %d", int(r.Phase))
	}
	if !fraction(r.MinFraction) || !fraction(r.MaxFraction) || r.MaxFraction < r.MinFraction {
		return fmt.Errorf("gapfill: fractions must satisfy 0 < min (%g) <= max (%g) <= 1", r.MinFraction, r.MaxFraction)
	}
	return nil
}

// fraction reports whether f lies in (0, 1]; NaN does not.
func fraction(f float64) bool { return f > 0 && f <= 1 }

// Bounds returns the interval the objective flux is pinned to for optimum v.
func (r Request) Bounds(optimum float64) (lower, upper float64) {
	if r.Phase == PhaseMedium {
		return optimum * r.MaxFraction, optimum
	}
	return optimum * r.MinFraction, optimum * r.MaxFraction
}

// Result is the outcome of FindReactions.
type Result struct {
	// Reactions holds the newly activated universal reaction ids.
	Reactions map[string]struct{}
	// Optimum is the maximal objective flux v* of the extended bag.
	Optimum float64
	// Lower and Upper are the pinned objective interval.
	Lower float64
	Upper float64
	// Flux is the objective flux in the parsimonious solution.
	Flux float64
}

// IDs returns the activated reaction ids in ascending order.
func (r Result) IDs() []string {
	ids := make([]string, 0, len(r.Reactions))
	for id := range r.Reactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsActive reports whether a flux counts as carrying the reaction.
func IsActive(flux float64) bool {
	return math.Abs(flux) > ActivityTolerance
}

// ActiveReactions returns the ids whose flux is active and which are not in
// exclude.
func ActiveReactions(fluxes map[string]float64, exclude map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for id, flux := range fluxes {
		if _, skip := exclude[id]; skip {
			continue
		}
		if IsActive(flux) {
			out[id] = struct{}{}
		}
	}
	return out
}

// FindReactions extends universal with the model's reactions inside a scope,
// maximizes the objective to obtain v*, pins the objective according to the
// phase and minimizes total flux through reactions the model lacks. Every
// mutation of universal is reverted before returning, on success or failure.
func FindReactions(ctx context.Context, s solver.Solver, model, universal *network.Network, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	scope := universal.Scope()
	defer scope.Restore()

	orig := make(map[string]struct{}, model.ReactionCount())
	var origIDs []string
	for _, id := range model.ReactionIDs() {
		if id == req.Objective && !req.WholeModel {
			continue
		}
		orig[id] = struct{}{}
		origIDs = append(origIDs, id)
	}
	universal.RemoveReactions(origIDs...)
	universal.CopyReactions(model, origIDs...)

	if !universal.SetObjective(req.Objective) {
		return Result{}, fmt.Errorf("%w: %s", ErrObjectiveMissing, req.Objective)
	}
	for _, task := range req.Tasks {
		universal.SetLowerBound(task, req.MinFraction)
	}

	sol, err := solver.Optimize(ctx, s, universal)
	if err != nil {
		return Result{}, &InfeasibleError{Phase: req.Phase, Step: StepObjective, Err: err}
	}
	optimum := sol.Objective
	if optimum <= ActivityTolerance {
		return Result{}, &InfeasibleError{Phase: req.Phase, Step: StepObjective, Err: ErrNoObjectiveFlux}
	}
	lower, upper := req.Bounds(optimum)
	universal.AddConstraint(network.Constraint{
		Name:     "gapfill_" + req.Phase.String(),
		Reaction: req.Objective,
		Lower:    lower,
		Upper:    upper,
	})

	p := solver.FromNetwork(universal)
	p.Sense = solver.Minimize
	for j, id := range p.Columns {
		w := 1.0
		if _, ok := orig[id]; ok {
			w = 0
		}
		p.Forward[j], p.Reverse[j] = w, w
	}
	sol, err = s.Solve(ctx, p)
	if err != nil {
		return Result{}, &InfeasibleError{Phase: req.Phase, Step: StepParsimony, Err: err}
	}

	return Result{
		Reactions: ActiveReactions(sol.Fluxes, orig),
		Optimum:   optimum,
		Lower:     lower,
		Upper:     upper,
		Flux:      sol.Fluxes[req.Objective],
	}, nil
}

// Step names the solve that failed inside FindReactions.
type Step string

const (
	// StepObjective is the maximization yielding v*.
	StepObjective Step = "objective"
	// StepParsimony is the weighted flux minimization.
	StepParsimony Step = "parsimony"
)

var (
	// ErrObjectiveMissing reports an objective id absent from both networks.
	ErrObjectiveMissing = errors.New("gapfill: objective reaction not found")
	// ErrNoObjectiveFlux reports that even the full bag cannot carry objective flux.
	ErrNoObjectiveFlux = errors.New("gapfill: objective cannot carry flux")
)

// InfeasibleError reports a gap-filling solve that produced no usable flux
// distribution.
type InfeasibleError struct {
	Phase Phase
	Step  Step
	Err   error
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("gapfill %s phase: %s solve failed: %v", e.Phase, e.Step, e.Err)
}

func (e *InfeasibleError) Unwrap() error { return e.Err }
