package solver

import (
	"fmt"
	"math"
	"slices"
)

// boundTol is the absolute slack accepted when presolve compares a forced
// flux or a row residual against zero or a bound.
const boundTol = 1e-9

// variable is one non-negative part of a column: the column's net flux is
// base plus sign*y, with 0 <= y <= span.
type variable struct {
	col  int
	sign float64
	span float64
	cost float64
}

// standardForm is a Problem rewritten for a bounded simplex. Ranges are
// folded into column bounds, columns fixed by their bounds or by a mass
// balance with a single free column are substituted out, and the remaining
// rows are equalities over the shifted variables.
type standardForm struct {
	vars    []variable
	colRows [][]int
	colVals [][]float64
	rhs     []float64

	base  []float64
	parts [][2]int
	split []bool
}

// standardize builds the standard form of p. It reports ErrInfeasible when
// bounds or presolve already prove the problem has no solution.
func standardize(p Problem) (*standardForm, error) {
	n := len(p.Columns)
	lb, ub := slices.Clone(p.Lower), slices.Clone(p.Upper)
	for _, r := range p.Ranges {
		lb[r.Col] = math.Max(lb[r.Col], r.Lower)
		ub[r.Col] = math.Min(ub[r.Col], r.Upper)
	}
	for j := range n {
		if lb[j] <= ub[j] {
			continue
		}
		if lb[j]-ub[j] > boundTol {
			return nil, fmt.Errorf("%w: column %s has lower bound %g above upper bound %g", ErrInfeasible, p.Columns[j], lb[j], ub[j])
		}
		ub[j] = lb[j]
	}

	weight := 1.0
	if p.Sense == Maximize {
		weight = -1
	}
	// A column whose forward and reverse costs do not reward running both
	// parts at once takes its cheapest split for any fixed net flux.
	convex := func(j int) bool { return weight*(p.Forward[j]+p.Reverse[j]) >= 0 }

	rows := make([][]Entry, len(p.Rows))
	rowsOf := make([][]int, n)
	for i, row := range p.Rows {
		rows[i] = mergeEntries(row)
		for _, e := range rows[i] {
			rowsOf[e.Col] = append(rowsOf[e.Col], i)
		}
	}

	fixed := make([]bool, n)
	value := make([]float64, n)
	for j := range n {
		if lb[j] == ub[j] {
			fixed[j], value[j] = true, lb[j]
		}
	}
	free := make([]int, len(rows))
	var queue []int
	for i, row := range rows {
		for _, e := range row {
			if !fixed[e.Col] {
				free[i]++
			}
		}
		if free[i] == 1 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if free[i] != 1 {
			continue
		}
		col, coef, rest := -1, 0.0, 0.0
		for _, e := range rows[i] {
			if fixed[e.Col] {
				rest += e.Coef * value[e.Col]
			} else {
				col, coef = e.Col, e.Coef
			}
		}
		if !convex(col) {
			continue
		}
		v := -rest / coef
		if v < lb[col]-boundTol || v > ub[col]+boundTol {
			return nil, fmt.Errorf("%w: mass balance row %d forces column %s to %g outside [%g, %g]",
				ErrInfeasible, i, p.Columns[col], v, lb[col], ub[col])
		}
		fixed[col], value[col] = true, math.Min(math.Max(v, lb[col]), ub[col])
		for _, k := range rowsOf[col] {
			free[k]--
			if free[k] == 1 {
				queue = append(queue, k)
			}
		}
	}

	sf := &standardForm{
		base:  make([]float64, n),
		parts: make([][2]int, n),
		split: make([]bool, n),
	}
	for j := range n {
		sf.parts[j] = [2]int{-1, -1}
		if fixed[j] {
			sf.base[j] = value[j]
			continue
		}
		cf, cr := weight*p.Forward[j], weight*p.Reverse[j]
		switch {
		case lb[j] >= 0:
			sf.addLinear(j, lb[j], ub[j], cf)
		case ub[j] <= 0:
			sf.addLinear(j, lb[j], ub[j], -cr)
		case cf+cr == 0:
			sf.addLinear(j, lb[j], ub[j], cf)
		default:
			sf.split[j] = true
			sf.parts[j] = [2]int{sf.addVar(j, 1, ub[j], cf), sf.addVar(j, -1, -lb[j], cr)}
		}
	}

	sf.colRows = make([][]int, len(sf.vars))
	sf.colVals = make([][]float64, len(sf.vars))
	for i, row := range rows {
		rhs, scale, live := 0.0, 1.0, false
		for _, e := range row {
			rhs -= e.Coef * sf.base[e.Col]
			scale += math.Abs(e.Coef * sf.base[e.Col])
			if !fixed[e.Col] {
				live = true
			}
		}
		if !live {
			if math.Abs(rhs) > boundTol*scale {
				return nil, fmt.Errorf("%w: mass balance row %d has residual %g", ErrInfeasible, i, -rhs)
			}
			continue
		}
		r := len(sf.rhs)
		sf.rhs = append(sf.rhs, rhs)
		for _, e := range row {
			for _, k := range sf.parts[e.Col] {
				if k >= 0 {
					sf.colRows[k] = append(sf.colRows[k], r)
					sf.colVals[k] = append(sf.colVals[k], e.Coef*sf.vars[k].sign)
				}
			}
		}
	}
	return sf, nil
}

func (sf *standardForm) addVar(col int, sign, span, cost float64) int {
	sf.vars = append(sf.vars, variable{col: col, sign: sign, span: span, cost: cost})
	return len(sf.vars) - 1
}

// addLinear represents a column whose cost is c times its net flux with as
// few variables as its bounds allow.
func (sf *standardForm) addLinear(j int, lower, upper, c float64) {
	switch {
	case !math.IsInf(lower, -1):
		sf.base[j] = lower
		sf.parts[j][0] = sf.addVar(j, 1, upper-lower, c)
	case !math.IsInf(upper, 1):
		sf.base[j] = upper
		sf.parts[j][0] = sf.addVar(j, -1, math.Inf(1), -c)
	default:
		sf.parts[j] = [2]int{sf.addVar(j, 1, math.Inf(1), c), sf.addVar(j, -1, math.Inf(1), -c)}
	}
}

// rows returns the number of equality rows.
func (sf *standardForm) rows() int { return len(sf.rhs) }

// solution maps variable values back to column fluxes and evaluates the
// problem's own objective.
func (sf *standardForm) solution(p Problem, y []float64) Solution {
	sol := Solution{Fluxes: make(map[string]float64, len(p.Columns))}
	for j, id := range p.Columns {
		v := sf.base[j]
		for _, k := range sf.parts[j] {
			if k >= 0 {
				v += sf.vars[k].sign * y[k]
			}
		}
		sol.Fluxes[id] = v
		if sf.split[j] {
			sol.Objective += p.Forward[j]*y[sf.parts[j][0]] + p.Reverse[j]*y[sf.parts[j][1]]
			continue
		}
		sol.Objective += p.Forward[j]*math.Max(v, 0) + p.Reverse[j]*math.Max(-v, 0)
	}
	return sol
}

// mergeEntries sums duplicate columns of a row and drops zero coefficients.
func mergeEntries(row []Entry) []Entry {
	out := make([]Entry, 0, len(row))
	at := make(map[int]int, len(row))
	for _, e := range row {
		if k, ok := at[e.Col]; ok {
			out[k].Coef += e.Coef
			continue
		}
		at[e.Col] = len(out)
		out = append(out, e)
	}
	return slices.DeleteFunc(out, func(e Entry) bool { return e.Coef == 0 })
}
