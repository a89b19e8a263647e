// Package metricfield implements the metric-field construction pipeline: it
// initialises a per-node SPD tensor from the mesh bounding box, absorbs
// curvature contributions from scalar fields via Hessian recovery and
// intersection, applies edge-length and element-count constraints, and
// predicts the resulting element count. It is a library; mesh I/O, the
// adaptation operators, and MPI halo exchange are all external
// collaborators reached only through meshadapter.MeshAdapter.
package metricfield

import (
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/amcg/metricfield/diagnostics"
	"github.com/amcg/metricfield/geom"
	"github.com/amcg/metricfield/hessian"
	"github.com/amcg/metricfield/meshadapter"
	"github.com/amcg/metricfield/nodepar"
	"github.com/amcg/metricfield/tensor"
)

// MetricField owns an ordered array of per-node SPD tensors and borrows a
// MeshAdapter for its lifetime.
type MetricField struct {
	adapter meshadapter.MeshAdapter
	d       int
	metrics []tensor.Tensor
	diag    *diagnostics.Store
}

// New builds a MetricField over adapter, initialising every node's tensor to
// the coarsest metric consistent with the mesh's axis-aligned bounding box:
// a diagonal tensor with entries 1/(extent_k)^2 per dimension k. Any later
// intersection therefore always tightens the metric.
func New(adapter meshadapter.MeshAdapter) (*MetricField, error) {
	d := adapter.Dimension()
	if d != 2 && d != 3 {
		return nil, errors.Errorf("metricfield: unsupported dimension %d", d)
	}

	diag, err := diagnostics.NewStore()
	if err != nil {
		return nil, errors.Wrap(err, "metricfield: opening diagnostics store")
	}

	n := adapter.NumNodes()
	mf := &MetricField{
		adapter: adapter,
		d:       d,
		metrics: make([]tensor.Tensor, n),
		diag:    diag,
	}
	if n == 0 {
		return mf, nil
	}

	lo, hi := boundingBox(adapter, n, d)
	diagEntries := make([]float64, d)
	for k := 0; k < d; k++ {
		extent := hi[k] - lo[k]
		diagEntries[k] = 1 / (extent * extent)
	}

	err = nodepar.For(n, func(start, end int) error {
		for i := start; i < end; i++ {
			// Each node needs its own backing array: tensor.Diagonal
			// allocates a fresh one per call, so this must not be hoisted
			// above the loop and shared by value.
			mf.metrics[i] = tensor.Diagonal(diagEntries)
		}
		return nil
	})
	if err != nil {
		diag.Close()
		return nil, errors.Wrap(err, "metricfield: initialising metric")
	}

	return mf, nil
}

// Close releases resources (the diagnostics ledger) owned by the field.
func (mf *MetricField) Close() error {
	return mf.diag.Close()
}

// Diagnostics returns the accumulated NumericSingularity / NonSPDRepair
// counters.
func (mf *MetricField) Diagnostics() (diagnostics.Summary, error) {
	return mf.diag.Summary()
}

// AddField absorbs the curvature of psi, a field given in the caller's
// original node ordering, into the metric. sigma <= 0 selects absolute-error
// mode (eta = 1/targetError); sigma > 0 selects relative-error mode
// (eta = 1/max(targetError*|psi(i)|, sigma)).
func (mf *MetricField) AddField(psi []float64, targetError, sigma float64) error {
	if targetError <= 0 {
		return errors.Wrap(ErrInvalidParameter, "target_error must be positive")
	}
	n := mf.adapter.NumNodes()
	if len(psi) != n {
		return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("field length %d, want %d", len(psi), n))
	}
	if n == 0 {
		return nil
	}

	permuted := make([]float64, n)
	if err := nodepar.For(n, func(start, end int) error {
		for i := start; i < end; i++ {
			permuted[i] = psi[mf.adapter.New2Old(i)]
		}
		return nil
	}); err != nil {
		return errors.Wrap(err, "metricfield: permuting field")
	}

	hessians, err := hessian.Recover(mf.adapter, permuted, mf.diag)
	if err != nil {
		return errors.Wrap(err, "metricfield: recovering hessian")
	}

	relative := sigma > 0
	err = nodepar.For(n, func(start, end int) error {
		for i := start; i < end; i++ {
			var eta float64
			if relative {
				eta = 1 / math.Max(targetError*math.Abs(permuted[i]), sigma)
			} else {
				eta = 1 / targetError
			}

			h := hessians[i]
			h.Scale(eta)

			combined, repaired := mf.metrics[i].Constrain(h, tensor.UseMin)
			mf.metrics[i] = combined
			if repaired {
				if err := mf.diag.Record(diagnostics.NonSPDRepair); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "metricfield: intersecting metric")
	}
	return nil
}

// ApplyMaxEdgeLength forbids edges longer than l.
func (mf *MetricField) ApplyMaxEdgeLength(l float64) error {
	if l <= 0 {
		return errors.Wrap(ErrInvalidParameter, "max edge length must be positive")
	}
	return mf.applyConstraint(edgeLengthTensor(mf.d, l), tensor.UseMin)
}

// ApplyMinEdgeLength forbids edges shorter than l.
func (mf *MetricField) ApplyMinEdgeLength(l float64) error {
	if l <= 0 {
		return errors.Wrap(ErrInvalidParameter, "min edge length must be positive")
	}
	return mf.applyConstraint(edgeLengthTensor(mf.d, l), tensor.UseMax)
}

// ApplyMaxAspectRatio is reserved and not yet implemented.
func (mf *MetricField) ApplyMaxAspectRatio(r float64) error {
	return ErrNotImplemented
}

// ApplyMaxNElements scales the metric down only if the predicted element
// count currently exceeds n.
func (mf *MetricField) ApplyMaxNElements(n float64) error {
	if n < 0 {
		return errors.Wrap(ErrInvalidParameter, "target element count must be non-negative")
	}
	if mf.PredictNElements() > n {
		return mf.ApplyNElements(n)
	}
	return nil
}

// ApplyMinNElements scales the metric up only if the predicted element count
// currently falls short of n.
func (mf *MetricField) ApplyMinNElements(n float64) error {
	if n < 0 {
		return errors.Wrap(ErrInvalidParameter, "target element count must be non-negative")
	}
	if mf.PredictNElements() < n {
		return mf.ApplyNElements(n)
	}
	return nil
}

// ApplyNElements uniformly rescales every tensor so that the predicted
// element count asymptotically matches n; it can grow or shrink the metric.
func (mf *MetricField) ApplyNElements(n float64) error {
	if n < 0 {
		return errors.Wrap(ErrInvalidParameter, "target element count must be non-negative")
	}
	predicted := mf.PredictNElements()
	if predicted <= 0 {
		return nil
	}

	scale := math.Pow(n/predicted, 2.0/float64(mf.d))
	return nodepar.For(len(mf.metrics), func(start, end int) error {
		for i := start; i < end; i++ {
			mf.metrics[i].Scale(scale)
		}
		return nil
	})
}

// PredictNElements integrates sqrt(det(M)) over the mesh's current elements
// and divides by the ideal simplex volume in metric space.
func (mf *MetricField) PredictNElements() float64 {
	numElements := mf.adapter.NumElements()
	if numElements < 1 {
		return 0
	}

	var mu sync.Mutex
	var total float64
	_ = nodepar.For(numElements, func(start, end int) error {
		var sum float64
		for e := start; e < end; e++ {
			sum += mf.elementMetricContribution(e)
		}
		mu.Lock()
		total += sum
		mu.Unlock()
		return nil
	})

	if mf.d == 2 {
		return total / (math.Sqrt(3) / 4)
	}
	return total / (1 / math.Sqrt(72))
}

// GetMetric bulk-copies the internal tensor array into out, a caller buffer
// of size NumNodes() * d * d.
func (mf *MetricField) GetMetric(out []float64) error {
	n := len(mf.metrics)
	want := n * mf.d * mf.d
	if len(out) != want {
		return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("out has length %d, want %d", len(out), want))
	}
	return nodepar.For(n, func(start, end int) error {
		for i := start; i < end; i++ {
			copy(out[i*mf.d*mf.d:(i+1)*mf.d*mf.d], mf.metrics[i].Get())
		}
		return nil
	})
}

func (mf *MetricField) applyConstraint(constraint tensor.Tensor, mode tensor.IntersectMode) error {
	return nodepar.For(len(mf.metrics), func(start, end int) error {
		for i := start; i < end; i++ {
			combined, repaired := mf.metrics[i].Constrain(constraint, mode)
			mf.metrics[i] = combined
			if repaired {
				if err := mf.diag.Record(diagnostics.NonSPDRepair); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (mf *MetricField) elementMetricContribution(e int) float64 {
	nodes := mf.adapter.Element(e)
	d := mf.d

	mean := make([]float64, d*d)
	for _, nd := range nodes {
		buf := mf.metrics[nd].Get()
		for i := range mean {
			mean[i] += buf[i]
		}
	}
	for i := range mean {
		mean[i] /= float64(len(nodes))
	}

	det := determinant(mean, d)
	if det < 0 {
		det = 0
	}

	measure := mf.elementMeasure(nodes)
	return measure * math.Sqrt(det)
}

func (mf *MetricField) elementMeasure(nodes []int) float64 {
	switch mf.d {
	case 2:
		return geom.Area(coords2(mf.adapter, nodes[0]), coords2(mf.adapter, nodes[1]), coords2(mf.adapter, nodes[2]))
	default:
		return geom.Volume(coords3(mf.adapter, nodes[0]), coords3(mf.adapter, nodes[1]), coords3(mf.adapter, nodes[2]), coords3(mf.adapter, nodes[3]))
	}
}

func determinant(m []float64, d int) float64 {
	if d == 2 {
		return m[0]*m[3] - m[1]*m[2]
	}
	m00, m01, m02 := m[0], m[1], m[2]
	m11, m12 := m[4], m[5]
	m22 := m[8]
	return (m11*m22-m12*m12)*m00 - (m01*m22-m02*m12)*m01 + (m01*m12-m02*m11)*m02
}

func edgeLengthTensor(d int, l float64) tensor.Tensor {
	diag := make([]float64, d)
	for k := range diag {
		diag[k] = 1 / (l * l)
	}
	return tensor.Diagonal(diag)
}

func coords2(adapter meshadapter.MeshAdapter, i int) [2]float64 {
	c := adapter.Coords(i)
	return [2]float64{c[0], c[1]}
}

func coords3(adapter meshadapter.MeshAdapter, i int) [3]float64 {
	c := adapter.Coords(i)
	return [3]float64{c[0], c[1], c[2]}
}

func boundingBox(adapter meshadapter.MeshAdapter, n, d int) (lo, hi []float64) {
	first := adapter.Coords(0)
	lo = append([]float64(nil), first[:d]...)
	hi = append([]float64(nil), first[:d]...)

	var mu sync.Mutex
	_ = nodepar.For(n, func(start, end int) error {
		localLo := append([]float64(nil), adapter.Coords(start)[:d]...)
		localHi := append([]float64(nil), adapter.Coords(start)[:d]...)
		for i := start + 1; i < end; i++ {
			c := adapter.Coords(i)
			for k := 0; k < d; k++ {
				if c[k] < localLo[k] {
					localLo[k] = c[k]
				}
				if c[k] > localHi[k] {
					localHi[k] = c[k]
				}
			}
		}

		mu.Lock()
		for k := 0; k < d; k++ {
			if localLo[k] < lo[k] {
				lo[k] = localLo[k]
			}
			if localHi[k] > hi[k] {
				hi[k] = localHi[k]
			}
		}
		mu.Unlock()
		return nil
	})
	return lo, hi
}
