// Package solver defines the linear-programming capability used for flux
// balance analysis. Sparse is the production backend; Simplex delegates to
// gonum's dense simplex and serves as a reference on small problems.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"reconstructor/internal/network"
)

var (
	// ErrInfeasible reports that no flux distribution satisfies the problem.
	ErrInfeasible = errors.New("solver: problem is infeasible")
	// ErrUnbounded reports that the objective can grow without limit.
	ErrUnbounded = errors.New("solver: problem is unbounded")
	// ErrNoObjective reports a network without an objective reaction.
	ErrNoObjective = errors.New("solver: network has no objective")
)

// Sense selects the optimization direction.
type Sense int

const (
	// Maximize the objective expression.
	Maximize Sense = iota
	// Minimize the objective expression.
	Minimize
)

func (s Sense) String() string {
	if s == Minimize {
		return "minimize"
	}
	return "maximize"
}

// Entry is one coefficient of a mass-balance row.
type Entry struct {
	Col  int
	Coef float64
}

// Range bounds the net flux of one column on top of its own bounds.
type Range struct {
	Name  string
	Col   int
	Lower float64
	Upper float64
}

// Problem is a flux-balance linear program: every row of Rows must balance to
// zero, every column flux v lies in [Lower, Upper] and inside every Range on
// it. Each column is split into a forward part f and a reverse part r with
// v = f - r; the objective is sum(Forward[j]*f[j] + Reverse[j]*r[j]).
type Problem struct {
	Columns []string
	Lower   []float64
	Upper   []float64
	Rows    [][]Entry
	Ranges  []Range
	Sense   Sense
	Forward []float64
	Reverse []float64
}

// Validate checks the problem's slices agree in length, reference valid
// columns and carry no NaN. A lower bound of +Inf or an upper bound of -Inf
// is rejected as well.
func (p Problem) Validate() error {
	n := len(p.Columns)
	if len(p.Lower) != n || len(p.Upper) != n || len(p.Forward) != n || len(p.Reverse) != n {
		return fmt.Errorf("solver: problem has %d columns but mismatched bound or weight vectors", n)
	}
	for j, col := range p.Columns {
		if !validBounds(p.Lower[j], p.Upper[j]) {
			return fmt.Errorf("solver: column %s has invalid bounds [%g, %g]", col, p.Lower[j], p.Upper[j])
		}
		if !finite(p.Forward[j]) || !finite(p.Reverse[j]) {
			return fmt.Errorf("solver: column %s has a non-finite objective weight", col)
		}
	}
	for i, row := range p.Rows {
		for _, e := range row {
			if e.Col < 0 || e.Col >= n {
				return fmt.Errorf("solver: row %d references column %d", i, e.Col)
			}
			if !finite(e.Coef) {
				return fmt.Errorf("solver: row %d has a non-finite coefficient for column %d", i, e.Col)
			}
		}
	}
	for _, r := range p.Ranges {
		if r.Col < 0 || r.Col >= n {
			return fmt.Errorf("solver: range %q references column %d", r.Name, r.Col)
		}
		if !validBounds(r.Lower, r.Upper) {
			return fmt.Errorf("solver: range %q has invalid bounds [%g, %g]", r.Name, r.Lower, r.Upper)
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func validBounds(lower, upper float64) bool {
	return !math.IsNaN(lower) && !math.IsNaN(upper) && !math.IsInf(lower, 1) && !math.IsInf(upper, -1)
}

// Solution carries the optimal objective value and the net flux of every
// column keyed by column name.
type Solution struct {
	Objective float64
	Fluxes    map[string]float64
}

// Solver solves flux-balance problems.
type Solver interface {
	Solve(ctx context.Context, p Problem) (Solution, error)
}

// FromNetwork translates a network into a problem maximizing its objective
// reaction. Mass-balance rows follow metabolite order; constraints on absent
// reactions are ignored.
func FromNetwork(n *network.Network) Problem {
	rxns := n.Reactions()
	p := Problem{
		Columns: make([]string, len(rxns)),
		Lower:   make([]float64, len(rxns)),
		Upper:   make([]float64, len(rxns)),
		Forward: make([]float64, len(rxns)),
		Reverse: make([]float64, len(rxns)),
		Sense:   Maximize,
	}
	index := make(map[string]int, len(rxns))
	rowOf := make(map[string]int)
	for _, met := range n.MetaboliteIDs() {
		rowOf[met] = len(p.Rows)
		p.Rows = append(p.Rows, nil)
	}
	for j, r := range rxns {
		index[r.ID] = j
		p.Columns[j] = r.ID
		p.Lower[j] = r.LowerBound
		p.Upper[j] = r.UpperBound
		for _, met := range r.MetaboliteIDs() {
			i := rowOf[met]
			p.Rows[i] = append(p.Rows[i], Entry{Col: j, Coef: r.Metabolites[met]})
		}
	}
	if j, ok := index[n.Objective()]; ok {
		p.Forward[j] = 1
		p.Reverse[j] = -1
	}
	for _, c := range n.Constraints() {
		if j, ok := index[c.Reaction]; ok {
			p.Ranges = append(p.Ranges, Range{Name: c.Name, Col: j, Lower: c.Lower, Upper: c.Upper})
		}
	}
	return p
}

// Optimize maximizes the network's objective reaction.
func Optimize(ctx context.Context, s Solver, n *network.Network) (Solution, error) {
	if n.Objective() == "" {
		return Solution{}, ErrNoObjective
	}
	return s.Solve(ctx, FromNetwork(n))
}
