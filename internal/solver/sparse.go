package solver

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
)

const (
	// DefaultRefactorEvery is the number of basis updates between
	// refactorizations of the product-form inverse.
	DefaultRefactorEvery = 100

	pivotTol   = 1e-9
	dropTol    = 1e-13
	primalTol  = 1e-7
	stallLimit = 200
)

// errLostFeasibility reports a refactorization that left the basis outside
// its bounds; the solve restarts with a shorter update chain.
var errLostFeasibility = errors.New("solver: basis lost feasibility after refactorization")

// Sparse is a bounded-variable revised simplex. Columns stay sparse, variable
// bounds are handled without extra rows, and the basis inverse is kept in
// product form and refactored with a triangular-first ordering. Its cost per
// iteration follows the number of stoichiometric nonzeros, so it scales to
// universal reaction bags with tens of thousands of columns.
type Sparse struct {
	// Tolerance is the reduced-cost optimality tolerance.
	Tolerance float64
	// RefactorEvery bounds the eta file between refactorizations.
	RefactorEvery int
	// MaxIterations caps pivots per phase; zero derives a cap from the
	// problem size.
	MaxIterations int
}

// NewSparse returns a Sparse solver with default tolerances.
func NewSparse() *Sparse {
	return &Sparse{Tolerance: DefaultTolerance, RefactorEvery: DefaultRefactorEvery}
}

var _ Solver = (*Sparse)(nil)

// Solve implements Solver.
func (s *Sparse) Solve(ctx context.Context, p Problem) (Solution, error) {
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
	every := s.RefactorEvery
	if every <= 0 {
		every = DefaultRefactorEvery
	}
	for attempt := 0; ; attempt++ {
		r := newRevised(sf, tol, every, s.MaxIterations)
		y, err := r.solve(ctx)
		if err == nil {
			return sf.solution(p, y), nil
		}
		if !errors.Is(err, errLostFeasibility) || attempt == 2 {
			return Solution{}, err
		}
		every = max(every/4, 4)
	}
}

type varState uint8

const (
	atLower varState = iota
	atUpper
	basic
)

// eta is one elementary column of the product-form inverse.
type eta struct {
	pos int
	piv float64
	idx []int
	val []float64
}

// revised holds the simplex state. Variables 0..n-1 are structural; n+i is
// the artificial of row i, a unit column signed like rhs[i].
type revised struct {
	m, n    int
	colRows [][]int
	colVals [][]float64
	rhs     []float64
	upper   []float64
	cost    []float64
	goal    []float64
	state   []varState

	head    []int
	xB      []float64
	etas    []eta
	updates int

	every, maxIter int
	optTol         float64
	feasTol        float64
	bland          bool
}

func newRevised(sf *standardForm, tol float64, every, maxIter int) *revised {
	m, n := sf.rows(), len(sf.vars)
	r := &revised{
		m:       m,
		n:       n,
		colRows: make([][]int, n+m),
		colVals: make([][]float64, n+m),
		rhs:     sf.rhs,
		upper:   make([]float64, n+m),
		cost:    make([]float64, n+m),
		goal:    make([]float64, n),
		state:   make([]varState, n+m),
		head:    make([]int, m),
		xB:      make([]float64, m),
		every:   every,
		optTol:  tol,
	}
	if maxIter <= 0 {
		maxIter = 50*(n+m) + 10000
	}
	r.maxIter = maxIter
	scale := 1.0
	for _, b := range sf.rhs {
		scale = math.Max(scale, math.Abs(b))
	}
	r.feasTol = primalTol * scale
	for k, v := range sf.vars {
		r.colRows[k], r.colVals[k] = sf.colRows[k], sf.colVals[k]
		r.upper[k] = v.span
		r.goal[k] = v.cost
	}
	for i, b := range sf.rhs {
		sign := 1.0
		if b < 0 {
			sign = -1
		}
		k := n + i
		r.colRows[k], r.colVals[k] = []int{i}, []float64{sign}
		r.upper[k] = math.Inf(1)
		r.state[k] = basic
		r.head[i] = k
		r.xB[i] = math.Abs(b)
		if sign < 0 {
			r.etas = append(r.etas, eta{pos: i, piv: -1})
		}
	}
	return r
}

// solve runs phase one on the artificial sum and phase two on the problem's
// costs, returning the structural variable values.
func (r *revised) solve(ctx context.Context) ([]float64, error) {
	for i := range r.m {
		r.cost[r.n+i] = 1
	}
	if err := r.iterate(ctx); err != nil {
		if errors.Is(err, ErrUnbounded) {
			return nil, fmt.Errorf("solver: sparse simplex: unbounded phase one: %w", errLostFeasibility)
		}
		return nil, err
	}
	infeasibility := 0.0
	for i, k := range r.head {
		if k >= r.n {
			infeasibility += r.xB[i]
		}
	}
	if infeasibility > r.feasTol {
		return nil, fmt.Errorf("%w: mass balance violated by %g", ErrInfeasible, infeasibility)
	}

	for i := range r.m {
		r.cost[r.n+i] = 0
		r.upper[r.n+i] = 0
		if r.state[r.n+i] == atUpper {
			r.state[r.n+i] = atLower
		}
	}
	copy(r.cost, r.goal)
	if err := r.iterate(ctx); err != nil {
		return nil, err
	}

	y := make([]float64, r.n)
	for k := range r.n {
		if r.state[k] == atUpper {
			y[k] = r.upper[k]
		}
	}
	for i, k := range r.head {
		if k < r.n {
			y[k] = math.Min(math.Max(r.xB[i], 0), r.upper[k])
		}
	}
	return y, nil
}

// iterate pivots until no nonbasic variable has an improving reduced cost
// under a freshly refactored basis.
func (r *revised) iterate(ctx context.Context) error {
	w := make([]float64, r.m)
	pi := make([]float64, r.m)
	stall := 0
	for iter := 0; ; iter++ {
		if iter%128 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if iter > r.maxIter {
			return fmt.Errorf("solver: sparse simplex: no convergence after %d iterations", r.maxIter)
		}
		if r.updates >= r.every {
			if err := r.refactor(); err != nil {
				return err
			}
		}

		for i, k := range r.head {
			pi[i] = r.cost[k]
		}
		r.btran(pi)
		q := r.price(pi)
		if q < 0 {
			if r.updates == 0 {
				return nil
			}
			if err := r.refactor(); err != nil {
				return err
			}
			continue
		}

		r.ftran(q, w)
		dir := 1.0
		if r.state[q] == atUpper {
			dir = -1
		}
		step, leave, leaveUpper := r.ratio(q, dir, w)
		if leave < 0 && math.IsInf(step, 1) {
			return ErrUnbounded
		}

		if step > 0 {
			for i, wi := range w {
				if wi != 0 {
					r.xB[i] -= dir * step * wi
				}
			}
		}
		if step > dropTol {
			stall, r.bland = 0, false
		} else if stall++; stall > stallLimit {
			r.bland = true
		}

		if leave < 0 {
			if r.state[q] == atLower {
				r.state[q] = atUpper
			} else {
				r.state[q] = atLower
			}
			continue
		}
		entering := step
		if dir < 0 {
			entering = r.upper[q] - step
		}
		out := r.head[leave]
		r.state[out] = atLower
		if leaveUpper {
			r.state[out] = atUpper
		}
		r.head[leave] = q
		r.state[q] = basic
		r.xB[leave] = entering
		r.etas = append(r.etas, denseEta(leave, w))
		r.updates++
	}
}

// price returns the entering variable, or -1 at optimality. Dantzig's rule
// picks the largest reduced cost; Bland's rule takes the first eligible
// index while the basis is stalling.
func (r *revised) price(pi []float64) int {
	best, bestScore := -1, 0.0
	for k := range r.n + r.m {
		st := r.state[k]
		if st == basic || r.upper[k] == 0 {
			continue
		}
		d := r.cost[k]
		for t, i := range r.colRows[k] {
			d -= pi[i] * r.colVals[k][t]
		}
		score := 0.0
		switch {
		case st == atLower && d < -r.optTol:
			score = -d
		case st == atUpper && d > r.optTol:
			score = d
		default:
			continue
		}
		if r.bland {
			return k
		}
		if score > bestScore {
			best, bestScore = k, score
		}
	}
	return best
}

// ratio finds how far the entering variable q can move in direction dir. It
// returns the step, the leaving position (-1 for a bound flip of q) and
// whether the leaving variable stops at its upper bound.
func (r *revised) ratio(q int, dir float64, w []float64) (float64, int, bool) {
	step, leave, leaveUpper := r.upper[q], -1, false
	for i, wi := range w {
		if math.Abs(wi) <= pivotTol {
			continue
		}
		k := r.head[i]
		delta := -dir * wi
		var t float64
		toUpper := false
		if delta < 0 {
			t = r.xB[i] / -delta
		} else {
			if math.IsInf(r.upper[k], 1) {
				continue
			}
			t = (r.upper[k] - r.xB[i]) / delta
			toUpper = true
		}
		t = max(t, 0)
		switch {
		case t < step-dropTol:
		case t <= step+dropTol && leave >= 0 && r.preferLeaving(i, leave, w):
		default:
			continue
		}
		step, leave, leaveUpper = t, i, toUpper
	}
	return step, leave, leaveUpper
}

func (r *revised) preferLeaving(i, current int, w []float64) bool {
	if r.bland {
		return r.head[i] < r.head[current]
	}
	return math.Abs(w[i]) > math.Abs(w[current])
}

// ftran computes w = B⁻¹·a_k.
func (r *revised) ftran(k int, w []float64) {
	clear(w)
	for t, i := range r.colRows[k] {
		w[i] = r.colVals[k][t]
	}
	r.applyEtas(w)
}

func (r *revised) applyEtas(x []float64) {
	for e := range r.etas {
		et := &r.etas[e]
		xp := x[et.pos]
		if xp == 0 {
			continue
		}
		xp /= et.piv
		x[et.pos] = xp
		for t, i := range et.idx {
			x[i] -= et.val[t] * xp
		}
	}
}

// btran computes yᵀ·B⁻¹ in place.
func (r *revised) btran(y []float64) {
	for e := len(r.etas) - 1; e >= 0; e-- {
		et := &r.etas[e]
		s := y[et.pos]
		for t, i := range et.idx {
			s -= et.val[t] * y[i]
		}
		y[et.pos] = s / et.piv
	}
}

func denseEta(pos int, w []float64) eta {
	e := eta{pos: pos, piv: w[pos]}
	for i, v := range w {
		if i != pos && math.Abs(v) > dropTol {
			e.idx = append(e.idx, i)
			e.val = append(e.val, v)
		}
	}
	return e
}

// refactor rebuilds the eta file from the current basis. Artificial columns
// are placed first, structural columns follow in row-singleton order so the
// triangular part of the basis adds no fill; the rest is pivoted on the
// largest remaining entry. A dependent structural column leaves the basis and
// its row is covered by the row's artificial. Basic values are recomputed
// from scratch.
func (r *revised) refactor() error {
	m := r.m
	r.etas = r.etas[:0:0]
	r.updates = 0
	taken := make([]bool, m)
	etaAt := make([]int, m)
	for i := range etaAt {
		etaAt[i] = -1
	}
	head := make([]int, m)
	pivot := func(pos, k int, e eta) {
		head[pos] = k
		taken[pos] = true
		if e.piv != 1 || len(e.idx) > 0 {
			etaAt[pos] = len(r.etas)
			r.etas = append(r.etas, e)
		}
	}

	var structural []int
	for _, k := range r.head {
		if k >= r.n {
			i := k - r.n
			pivot(i, k, eta{pos: i, piv: r.colVals[k][0]})
			continue
		}
		structural = append(structural, k)
	}

	rowCount := make([]int, m)
	rowCols := make([][]int, m)
	for s, k := range structural {
		for _, i := range r.colRows[k] {
			if !taken[i] {
				rowCount[i]++
				rowCols[i] = append(rowCols[i], s)
			}
		}
	}
	var queue []int
	for i, c := range rowCount {
		if c == 1 {
			queue = append(queue, i)
		}
	}
	order := make([]int, len(structural))
	for s := range order {
		order[s] = s
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return len(r.colRows[structural[a]]) - len(r.colRows[structural[b]])
	})
	next := 0

	done := make([]bool, len(structural))
	x := make([]float64, m)
	mark := make([]bool, m)
	queued := make([]bool, m)
	var nz []int
	for remaining := len(structural); remaining > 0; remaining-- {
		s, p := -1, -1
		for len(queue) > 0 && s < 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			if taken[i] || rowCount[i] != 1 {
				continue
			}
			for _, c := range rowCols[i] {
				if !done[c] {
					s, p = c, i
					break
				}
			}
		}
		if s < 0 {
			for done[order[next]] {
				next++
			}
			s = order[next]
		}
		k := structural[s]
		done[s] = true
		for _, i := range r.colRows[k] {
			if !taken[i] {
				if rowCount[i]--; rowCount[i] == 1 {
					queue = append(queue, i)
				}
			}
		}

		nz = r.ftranSparse(k, x, etaAt, mark, queued, nz[:0])
		if p >= 0 && math.Abs(x[p]) <= pivotTol {
			p = -1
		}
		if p < 0 {
			best := pivotTol
			for _, i := range nz {
				if !taken[i] && math.Abs(x[i]) > best {
					best, p = math.Abs(x[i]), i
				}
			}
		}
		if p >= 0 {
			e := eta{pos: p, piv: x[p]}
			for _, i := range nz {
				if i != p && math.Abs(x[i]) > dropTol {
					e.idx = append(e.idx, i)
					e.val = append(e.val, x[i])
				}
			}
			pivot(p, k, e)
		} else {
			r.state[k] = atLower
		}
		for _, i := range nz {
			x[i], mark[i] = 0, false
		}
	}
	for i := range m {
		if !taken[i] {
			k := r.n + i
			r.state[k] = basic
			pivot(i, k, eta{pos: i, piv: r.colVals[k][0]})
		}
	}
	r.head = head

	copy(r.xB, r.rhs)
	for k, st := range r.state {
		if st != atUpper {
			continue
		}
		for t, i := range r.colRows[k] {
			r.xB[i] -= r.upper[k] * r.colVals[k][t]
		}
	}
	r.applyEtas(r.xB)
	for i, k := range r.head {
		if r.xB[i] < -r.feasTol || r.xB[i] > r.upper[k]+r.feasTol {
			return errLostFeasibility
		}
	}
	return nil
}

// ftranSparse applies the refactorization etas to column k, visiting only
// the etas reachable from the column's nonzeros in file order. Each position
// holds at most one eta while refactoring, so etaAt indexes them by
// position. It returns the touched positions.
func (r *revised) ftranSparse(k int, x []float64, etaAt []int, mark, queued []bool, nz []int) []int {
	var h intHeap
	touch := func(i, after int) {
		if !mark[i] {
			mark[i] = true
			nz = append(nz, i)
		}
		if e := etaAt[i]; e > after && !queued[i] {
			queued[i] = true
			heap.Push(&h, e)
		}
	}
	for t, i := range r.colRows[k] {
		x[i] = r.colVals[k][t]
		touch(i, -1)
	}
	for h.Len() > 0 {
		e := heap.Pop(&h).(int)
		et := &r.etas[e]
		queued[et.pos] = false
		xp := x[et.pos]
		if xp == 0 {
			continue
		}
		xp /= et.piv
		x[et.pos] = xp
		for t, i := range et.idx {
			x[i] -= et.val[t] * xp
			touch(i, e)
		}
	}
	return nz
}

type intHeap []int

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	v := old[len(old)-1]
	*h = old[:len(old)-1]
	return v
}
