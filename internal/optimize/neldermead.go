// Package optimize provides a derivative-free Nelder-Mead simplex minimizer.
//
// Objectives must be total: infeasible points should return a large penalty
// value instead of failing, which keeps the simplex moving back toward the
// feasible region.
package optimize

import "sort"

// Defaults applied when Options fields are zero.
const (
	DefaultMaxIter = 600
	DefaultTol     = 1e-8
)

// Simplex move coefficients.
const (
	reflectCoef  = 1.0
	expandCoef   = 2.0
	contractCoef = 0.5
	shrinkCoef   = 0.5

	initialStepFraction = 0.1
	initialStepAbsolute = 0.1
)

// Objective is a real-valued function of a vector.
type Objective func(x []float64) float64

// Options controls termination.
type Options struct {
	MaxIter int
	Tol     float64
}

func (o Options) withDefaults() Options {
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	if o.Tol <= 0 {
		o.Tol = DefaultTol
	}
	return o
}

// Result is the best vertex found.
type Result struct {
	X          []float64
	F          float64
	Iterations int
	Converged  bool
}

type vertex struct {
	x []float64
	f float64
}

// NelderMead minimizes f starting from x0. It stops when the spread between
// the best and worst simplex values drops below Tol or after MaxIter
// iterations, and always returns the best vertex seen.
func NelderMead(f Objective, x0 []float64, opts Options) Result {
	opts = opts.withDefaults()
	n := len(x0)
	if n == 0 {
		return Result{X: []float64{}, F: f([]float64{}), Converged: true}
	}

	simplex := make([]vertex, n+1)
	simplex[0] = vertex{x: clone(x0)}
	for i := 0; i < n; i++ {
		v := clone(x0)
		if v[i] != 0 {
			v[i] += abs(v[i]) * initialStepFraction
		} else {
			v[i] += initialStepAbsolute
		}
		simplex[i+1] = vertex{x: v}
	}
	for i := range simplex {
		simplex[i].f = f(simplex[i].x)
	}

	centroid := make([]float64, n)
	iter := 0
	converged := false
	for ; iter < opts.MaxIter; iter++ {
		sort.SliceStable(simplex, func(a, b int) bool { return simplex[a].f < simplex[b].f })

		if simplex[n].f-simplex[0].f < opts.Tol {
			converged = true
			break
		}

		for j := range centroid {
			centroid[j] = 0
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				centroid[j] += simplex[i].x[j] / float64(n)
			}
		}

		worst := simplex[n]
		xr := towards(centroid, worst.x, -reflectCoef)
		fr := f(xr)

		switch {
		case fr < simplex[0].f:
			xe := towards(centroid, xr, expandCoef)
			if fe := f(xe); fe < fr {
				simplex[n] = vertex{x: xe, f: fe}
			} else {
				simplex[n] = vertex{x: xr, f: fr}
			}
		case fr < simplex[n-1].f:
			simplex[n] = vertex{x: xr, f: fr}
		default:
			xc := towards(centroid, worst.x, contractCoef)
			if fc := f(xc); fc < worst.f {
				simplex[n] = vertex{x: xc, f: fc}
			} else {
				best := simplex[0].x
				for i := 1; i <= n; i++ {
					simplex[i].x = towards(best, simplex[i].x, shrinkCoef)
					simplex[i].f = f(simplex[i].x)
				}
			}
		}
	}

	if !converged {
		sort.SliceStable(simplex, func(a, b int) bool { return simplex[a].f < simplex[b].f })
	}
	return Result{
		X:          clone(simplex[0].x),
		F:          simplex[0].f,
		Iterations: iter,
		Converged:  converged,
	}
}

// towards returns origin + coef*(target-origin).
func towards(origin, target []float64, coef float64) []float64 {
	out := make([]float64, len(origin))
	for j := range origin {
		out[j] = origin[j] + coef*(target[j]-origin[j])
	}
	return out
}

func clone(x []float64) []float64 {
	return append([]float64(nil), x...)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
