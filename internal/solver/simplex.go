package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// DefaultTolerance is the simplex pivot tolerance.
const DefaultTolerance = 1e-10

// Simplex solves problems with gonum's dense simplex. The tableau is dense,
// so it is meant for small networks and for cross-checking Sparse.
type Simplex struct {
	Tolerance float64
}

// NewSimplex returns a Simplex using DefaultTolerance.
func NewSimplex() *Simplex { return &Simplex{Tolerance: DefaultTolerance} }

var _ Solver = (*Simplex)(nil)

// Solve implements Solver.
func (s *Simplex) Solve(ctx context.Context, p Problem) (Solution, error) {
	if err := ctx.Err(); err != nil {
		return Solution{}, err
	}
	if err := p.Validate(); err != nil {
		return Solution{}, err
	}
	sf, err := standardize(p)
	if err != nil {
		return Solution{}, err
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	// Variables in no row sit at a bound; only used ones become columns.
	y := make([]float64, len(sf.vars))
	colOf := make([]int, len(sf.vars))
	nv, spans := 0, 0
	for k, v := range sf.vars {
		colOf[k] = -1
		bounded := !math.IsInf(v.span, 1)
		if len(sf.colRows[k]) == 0 {
			switch {
			case v.cost >= 0:
			case bounded:
				y[k] = v.span
			default:
				return Solution{}, fmt.Errorf("%w: column %s", ErrUnbounded, p.Columns[v.col])
			}
			continue
		}
		colOf[k] = nv
		nv++
		if bounded {
			spans++
		}
	}
	if nv == 0 {
		return sf.solution(p, y), nil
	}

	// gonum requires full row rank, which stoichiometric rows rarely have, so
	// every balance row is written as a pair of inequalities with their own
	// slacks and every finite span as a further row.
	m := sf.rows()
	rows := 2*m + spans
	A := mat.NewDense(rows, nv+rows, nil)
	b := make([]float64, rows)
	c := make([]float64, nv+rows)
	for i, rhs := range sf.rhs {
		b[2*i], b[2*i+1] = rhs, -rhs
	}
	spanRow := 2 * m
	for k, v := range sf.vars {
		col := colOf[k]
		if col < 0 {
			continue
		}
		c[col] = v.cost
		for t, i := range sf.colRows[k] {
			A.Set(2*i, col, sf.colVals[k][t])
			A.Set(2*i+1, col, -sf.colVals[k][t])
		}
		if !math.IsInf(v.span, 1) {
			A.Set(spanRow, col, 1)
			b[spanRow] = v.span
			spanRow++
		}
	}
	for r := range rows {
		A.Set(r, nv+r, 1)
		if b[r] >= 0 {
			continue
		}
		b[r] = -b[r]
		for col := range nv + rows {
			if v := A.At(r, col); v != 0 {
				A.Set(r, col, -v)
			}
		}
	}

	_, opt, err := lp.Simplex(c, A, b, tol, nil)
	if err != nil {
		return Solution{}, mapSimplexError(err)
	}
	for k, v := range sf.vars {
		if col := colOf[k]; col >= 0 {
			y[k] = math.Min(math.Max(opt[col], 0), v.span)
		}
	}
	return sf.solution(p, y), nil
}

func mapSimplexError(err error) error {
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return fmt.Errorf("%w: %v", ErrInfeasible, err)
	case errors.Is(err, lp.ErrUnbounded):
		return fmt.Errorf("%w: %v", ErrUnbounded, err)
	default:
		return fmt.Errorf("solver: simplex: %w", err)
	}
}
