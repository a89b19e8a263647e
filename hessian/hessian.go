// Package hessian implements nodewise Hessian recovery: for each vertex, a
// local patch of neighbours is gathered and a quadratic polynomial is fit to
// the scalar field by least squares; the second derivatives of that fit are
// the recovered Hessian. This is the core building block add_field uses to
// turn a scalar field into a curvature-based metric contribution.
package hessian

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/amcg/metricfield/diagnostics"
	"github.com/amcg/metricfield/meshadapter"
	"github.com/amcg/metricfield/nodepar"
	"github.com/amcg/metricfield/tensor"
)

const (
	minPatch2D          = 6
	minPatch3D          = 9
	boundaryMultiplier  = 2
	conditionThreshold  = 1e14
)

// Recover computes one (not necessarily SPD) Hessian tensor per node of
// psi, which must already be expressed in the adapter's internal node
// ordering (the caller is responsible for any New2Old permutation). A node
// whose normal-equation matrix is numerically singular is left with the
// zero Hessian and, when diag is non-nil, recorded as a
// diagnostics.NumericSingularity.
func Recover(adapter meshadapter.MeshAdapter, psi []float64, diag *diagnostics.Store) ([]tensor.Tensor, error) {
	n := adapter.NumNodes()
	d := adapter.Dimension()
	if len(psi) != n {
		return nil, errors.Errorf("hessian: field length %d does not match node count %d", len(psi), n)
	}
	if d != 2 && d != 3 {
		return nil, errors.Errorf("hessian: unsupported dimension %d", d)
	}

	minRequired := minPatch2D
	if d == 3 {
		minRequired = minPatch3D
	}

	hessians := make([]tensor.Tensor, n)
	singularFlags := make([]bool, n)

	err := nodepar.For(n, func(start, end int) error {
		for i := start; i < end; i++ {
			required := minRequired
			if adapter.OnBoundary(i) {
				required *= boundaryMultiplier
			}
			patch := adapter.ExpandPatch(i, required)

			var h tensor.Tensor
			var singular bool
			if d == 2 {
				h, singular = recover2D(adapter, psi, patch)
			} else {
				h, singular = recover3D(adapter, psi, patch)
			}
			hessians[i] = h
			singularFlags[i] = singular
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "hessian: recovery kernel")
	}

	if diag != nil {
		for _, singular := range singularFlags {
			if singular {
				if err := diag.Record(diagnostics.NumericSingularity); err != nil {
					return nil, errors.Wrap(err, "hessian: recording diagnostic")
				}
			}
		}
	}

	return hessians, nil
}

// recover2D fits psi ~ a0*y^2 + a1*x^2 + a2*x*y + a3*y + a4*x + a5 over
// patch and extracts H = [[2a1, a2], [a2, 2a0]].
func recover2D(adapter meshadapter.MeshAdapter, psi []float64, patch []int) (tensor.Tensor, bool) {
	const size = 6
	A := mat.NewDense(size, size, nil)
	b := mat.NewVecDense(size, nil)

	for _, node := range patch {
		c := adapter.Coords(node)
		x, y := c[0], c[1]
		m := [size]float64{y * y, x * x, x * y, y, x, 1}
		accumulate(A, b, m[:], psi[node])
	}

	a, singular := solveNormalEquations(size, A, b)
	if singular {
		return tensor.FromBuffer(2, make([]float64, 4)), true
	}
	return tensor.FromBuffer(2, []float64{
		2 * a[1], a[2],
		a[2], 2 * a[0],
	}), false
}

// recover3D fits
// psi ~ a0 + a1*x + a2*y + a3*z + a4*x^2 + a5*x*y + a6*x*z + a7*y^2 + a8*y*z + a9*z^2
// over patch and extracts the 3x3 Hessian.
func recover3D(adapter meshadapter.MeshAdapter, psi []float64, patch []int) (tensor.Tensor, bool) {
	const size = 10
	A := mat.NewDense(size, size, nil)
	b := mat.NewVecDense(size, nil)

	for _, node := range patch {
		c := adapter.Coords(node)
		x, y, z := c[0], c[1], c[2]
		m := [size]float64{1, x, y, z, x * x, x * y, x * z, y * y, y * z, z * z}
		accumulate(A, b, m[:], psi[node])
	}

	a, singular := solveNormalEquations(size, A, b)
	if singular {
		return tensor.FromBuffer(3, make([]float64, 9)), true
	}
	return tensor.FromBuffer(3, []float64{
		2 * a[4], a[5], a[6],
		a[5], 2 * a[7], a[8],
		a[6], a[8], 2 * a[9],
	}), false
}

func accumulate(A *mat.Dense, b *mat.VecDense, m []float64, psi float64) {
	size := len(m)
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			A.Set(r, c, A.At(r, c)+m[r]*m[c])
		}
		b.SetVec(r, b.AtVec(r)+psi*m[r])
	}
}

// solveNormalEquations solves A*a = b via LU decomposition with partial
// pivoting, reporting singular=true when the reciprocal condition number
// indicates the system is not well posed.
func solveNormalEquations(size int, A *mat.Dense, b *mat.VecDense) (a []float64, singular bool) {
	var lu mat.LU
	lu.Factorize(A)

	cond := lu.Cond()
	if math.IsInf(cond, 1) || math.IsNaN(cond) || cond > conditionThreshold {
		return nil, true
	}

	var x mat.VecDense
	if err := lu.SolveVecTo(&x, false, b); err != nil {
		return nil, true
	}

	a = make([]float64, size)
	for i := range a {
		a[i] = x.AtVec(i)
	}
	return a, false
}
