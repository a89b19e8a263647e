// Package tensor implements the symmetric positive-definite tensor algebra
// used to represent a per-node anisotropic metric: construction, uniform
// scaling, and the intersection ("constrain") operator that combines two
// metrics into the one whose unit ball is contained in both of the inputs'.
package tensor

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EpsAbs is the floor applied to a repaired eigenvalue so a tensor can never
// degenerate to singular after a constrain operation.
const EpsAbs = 1e-30

// IntersectMode selects which of the two input eigenvalues Constrain keeps
// along each simultaneous eigendirection.
type IntersectMode int

const (
	// UseMin keeps the larger of the two eigenvalues per direction, i.e. the
	// shorter (finer) of the two target edge lengths.
	UseMin IntersectMode = iota
	// UseMax keeps the smaller of the two eigenvalues per direction, i.e. the
	// longer (coarser) of the two target edge lengths.
	UseMax
)

// Tensor is a symmetric positive-definite d x d matrix, d in {2,3}, stored
// row-major.
type Tensor struct {
	d int
	m []float64
}

// FromBuffer builds a Tensor from a raw d*d row-major buffer, symmetrising it.
func FromBuffer(d int, buf []float64) Tensor {
	var t Tensor
	t.Set(d, buf)
	return t
}

// Isotropic returns the identity scaled by s, a uniform-resolution metric.
func Isotropic(d int, s float64) Tensor {
	buf := make([]float64, d*d)
	for i := 0; i < d; i++ {
		buf[i*d+i] = s
	}
	return FromBuffer(d, buf)
}

// Diagonal builds a diagonal Tensor from d eigenvalues.
func Diagonal(diag []float64) Tensor {
	d := len(diag)
	buf := make([]float64, d*d)
	for i, v := range diag {
		buf[i*d+i] = v
	}
	return FromBuffer(d, buf)
}

// Set replaces the tensor in place with the symmetrised version of buf.
func (t *Tensor) Set(d int, buf []float64) {
	if len(buf) != d*d {
		panic("tensor: buffer length does not match dimension")
	}
	t.d = d
	t.m = make([]float64, d*d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			t.m[i*d+j] = 0.5 * (buf[i*d+j] + buf[j*d+i])
		}
	}
}

// Get returns a row-major copy of the d x d tensor.
func (t Tensor) Get() []float64 {
	out := make([]float64, len(t.m))
	copy(out, t.m)
	return out
}

// Dim returns the tensor's dimension, 2 or 3.
func (t Tensor) Dim() int { return t.d }

// Scale multiplies every entry by s.
func (t *Tensor) Scale(s float64) {
	for i := range t.m {
		t.m[i] *= s
	}
}

// EigenDecompose returns the eigenvalues (sorted descending) and the
// corresponding orthonormal eigenvectors of the tensor.
func (t Tensor) EigenDecompose() (values []float64, vectors [][]float64) {
	sym := mat.NewSymDense(t.d, append([]float64(nil), t.m...))

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		// Symmetric eigendecomposition failing is only possible for
		// non-finite input, which upstream callers are responsible for
		// never producing; fall back to the identity direction set.
		values = make([]float64, t.d)
		vectors = make([][]float64, t.d)
		for i := range vectors {
			v := make([]float64, t.d)
			v[i] = 1
			vectors[i] = v
		}
		return values, vectors
	}

	rawValues := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	idx := make([]int, t.d)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return rawValues[idx[a]] > rawValues[idx[b]] })

	values = make([]float64, t.d)
	vectors = make([][]float64, t.d)
	for newPos, oldPos := range idx {
		values[newPos] = rawValues[oldPos]
		vec := make([]float64, t.d)
		for r := 0; r < t.d; r++ {
			vec[r] = vecs.At(r, oldPos)
		}
		vectors[newPos] = vec
	}
	return values, vectors
}

// repairedSPD returns a copy of t with every eigenvalue replaced by its
// absolute value, clamped up to EpsAbs, along with whether any entry needed
// repair. This is the NonSPDRepair step applied to the "other" operand of
// Constrain before combination.
func (t Tensor) repairedSPD() (Tensor, bool) {
	values, vectors := t.EigenDecompose()
	repaired := false
	for i, v := range values {
		av := math.Abs(v)
		if av < EpsAbs {
			av = EpsAbs
		}
		if av != v {
			repaired = true
		}
		values[i] = av
	}
	return fromEigen(t.d, values, vectors), repaired
}

// Constrain intersects t with other, returning the tensor whose unit ball is
// contained in both of the inputs' (mode == UseMin), or the one containing
// both (mode == UseMax). It also reports whether other required an SPD
// repair (an eigenvalue replaced by its absolute value and clamped up to
// EpsAbs) before combination, so callers can feed that into a diagnostics
// ledger.
func (t Tensor) Constrain(other Tensor, mode IntersectMode) (Tensor, bool) {
	if t.d != other.d {
		panic("tensor: dimension mismatch in Constrain")
	}
	d := t.d

	repairedOther, repaired := other.repairedSPD()

	// Diagonalise self: self = V1 * diag(lambda1) * V1^T.
	lambda1, v1 := t.EigenDecompose()
	V1 := matFromColumns(d, v1)
	invSqrtLambda1 := make([]float64, d)
	for i, l := range lambda1 {
		invSqrtLambda1[i] = 1 / math.Sqrt(l)
	}

	// F whitens self: F^T * self * F == I.
	var F mat.Dense
	F.Mul(V1, mat.NewDiagDense(d, invSqrtLambda1))

	// Transform other into self's whitened basis, then diagonalise the
	// transform; its eigenvalues are the generalised eigenvalues of the
	// pencil (other, self).
	otherDense := denseFromTensor(repairedOther)
	var whitenedOther mat.Dense
	whitenedOther.Mul(F.T(), otherDense)
	var whitenedOtherSym mat.Dense
	whitenedOtherSym.Mul(&whitenedOther, &F)
	transformed := tensorFromDense(&whitenedOtherSym, d)

	lambda2, v2 := transformed.EigenDecompose()
	V2 := matFromColumns(d, v2)

	var P mat.Dense
	P.Mul(&F, V2)

	var Pinv mat.Dense
	if err := Pinv.Inverse(&P); err != nil {
		panic(errors.Wrap(err, "tensor: simultaneous basis is singular"))
	}

	combined := make([]float64, d)
	for i, l2 := range lambda2 {
		if mode == UseMin {
			combined[i] = math.Max(1, l2)
		} else {
			combined[i] = math.Min(1, l2)
		}
	}

	var scaled mat.Dense
	scaled.Mul(Pinv.T(), mat.NewDiagDense(d, combined))
	var result mat.Dense
	result.Mul(&scaled, &Pinv)

	return tensorFromDense(&result, d), repaired
}

func fromEigen(d int, values []float64, vectors [][]float64) Tensor {
	V := matFromColumns(d, vectors)
	var VT mat.Dense
	VT.Mul(V, mat.NewDiagDense(d, values))
	var result mat.Dense
	result.Mul(&VT, V.T())
	return tensorFromDense(&result, d)
}

func matFromColumns(d int, vectors [][]float64) *mat.Dense {
	m := mat.NewDense(d, d, nil)
	for col, vec := range vectors {
		for row := 0; row < d; row++ {
			m.Set(row, col, vec[row])
		}
	}
	return m
}

func denseFromTensor(t Tensor) *mat.Dense {
	return mat.NewDense(t.d, t.d, t.Get())
}

func tensorFromDense(m mat.Matrix, d int) Tensor {
	buf := make([]float64, d*d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			buf[i*d+j] = m.At(i, j)
		}
	}
	return FromBuffer(d, buf)
}
