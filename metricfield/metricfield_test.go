package metricfield

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"github.com/amcg/metricfield/meshfixture"
	"github.com/amcg/metricfield/tensor"
)

func TestAddFieldQuadratic2D(t *testing.T) {
	t.Parallel()
	g := meshfixture.NewGrid2D(11, [2]float64{0, 0}, [2]float64{1, 1})
	mf, err := New(g)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mf.Close()

	psi := make([]float64, g.NumNodes())
	for i := range psi {
		c := g.Coords(i)
		psi[i] = c[0]*c[0] + c[1]*c[1]
	}

	if err := mf.AddField(psi, 0.01, 0); err != nil {
		t.Fatalf("AddField: %v", err)
	}

	summary, err := mf.Diagnostics()
	if err != nil {
		t.Fatalf("Diagnostics: %v", err)
	}
	if summary.NumericSingularities != 0 {
		t.Fatalf("unexpected numeric singularities: %d", summary.NumericSingularities)
	}

	out := make([]float64, g.NumNodes()*2*2)
	if err := mf.GetMetric(out); err != nil {
		t.Fatalf("GetMetric: %v", err)
	}
}

func TestApplyNElementsRoundTrip3D(t *testing.T) {
	t.Parallel()
	g := meshfixture.NewGrid3D(7, [3]float64{0, 0, 0}, [3]float64{1, 1, 1})
	mf, err := New(g)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mf.Close()

	psi := make([]float64, g.NumNodes())
	for i := range psi {
		c := g.Coords(i)
		psi[i] = c[0]*c[0]*c[0] + c[1]*c[1]*c[1] + c[2]*c[2]*c[2]
	}
	if err := mf.AddField(psi, 0.05, 0); err != nil {
		t.Fatalf("AddField: %v", err)
	}

	const target = 5000.0
	if err := mf.ApplyNElements(target); err != nil {
		t.Fatalf("ApplyNElements: %v", err)
	}

	predicted := mf.PredictNElements()
	relErr := math.Abs(predicted-target) / target
	if relErr > 0.05 {
		t.Fatalf("PredictNElements = %v, want within 5%% of %v (relative error %v)", predicted, target, relErr)
	}
}

func TestAddFieldConstantIsNoOp(t *testing.T) {
	t.Parallel()
	g := meshfixture.NewGrid2D(9, [2]float64{0, 0}, [2]float64{1, 1})
	mf, err := New(g)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mf.Close()

	before := make([]float64, g.NumNodes()*2*2)
	if err := mf.GetMetric(before); err != nil {
		t.Fatalf("GetMetric: %v", err)
	}

	psi := make([]float64, g.NumNodes())
	for i := range psi {
		psi[i] = 3.5
	}
	if err := mf.AddField(psi, 0.01, 0); err != nil {
		t.Fatalf("AddField: %v", err)
	}

	after := make([]float64, g.NumNodes()*2*2)
	if err := mf.GetMetric(after); err != nil {
		t.Fatalf("GetMetric: %v", err)
	}

	for i := range before {
		if math.Abs(before[i]-after[i]) > 1e-6 {
			t.Fatalf("constant field changed the metric at entry %d: before %v, after %v", i, before[i], after[i])
		}
	}

	summary, err := mf.Diagnostics()
	if err != nil {
		t.Fatalf("Diagnostics: %v", err)
	}
	if summary.NonSPDRepairs == 0 {
		t.Fatalf("expected the zero-Hessian contribution to trigger SPD repair accounting")
	}
}

func TestApplyMaxEdgeLengthFloorsEigenvalues(t *testing.T) {
	t.Parallel()
	g := meshfixture.NewGrid2D(6, [2]float64{0, 0}, [2]float64{1, 1})
	mf, err := New(g)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mf.Close()

	const l = 0.1
	if err := mf.ApplyMaxEdgeLength(l); err != nil {
		t.Fatalf("ApplyMaxEdgeLength: %v", err)
	}

	out := make([]float64, g.NumNodes()*2*2)
	if err := mf.GetMetric(out); err != nil {
		t.Fatalf("GetMetric: %v", err)
	}

	floor := 1 / (l * l)
	for i := 0; i < g.NumNodes(); i++ {
		buf := out[i*4 : i*4+4]
		ten := tensor.FromBuffer(2, buf)
		values, _ := ten.EigenDecompose()
		for _, v := range values {
			if v < floor-1e-6 {
				t.Fatalf("node %d: eigenvalue %v below max-edge-length floor %v", i, v, floor)
			}
		}
	}
}

func TestAddFieldRejectsNonPositiveTargetError(t *testing.T) {
	t.Parallel()
	g := meshfixture.NewGrid2D(5, [2]float64{0, 0}, [2]float64{1, 1})
	mf, err := New(g)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mf.Close()

	before := make([]float64, g.NumNodes()*2*2)
	if err := mf.GetMetric(before); err != nil {
		t.Fatalf("GetMetric: %v", err)
	}

	psi := make([]float64, g.NumNodes())
	for i := range psi {
		c := g.Coords(i)
		psi[i] = c[0] * c[0]
	}
	if err := mf.AddField(psi, 0, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("AddField with target_error=0: got %v, want ErrInvalidParameter", err)
	}

	after := make([]float64, g.NumNodes()*2*2)
	if err := mf.GetMetric(after); err != nil {
		t.Fatalf("GetMetric: %v", err)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("rejected AddField mutated the metric at entry %d", i)
		}
	}
}

func TestAddFieldRelativeModeMonotonicInSigma(t *testing.T) {
	t.Parallel()
	buildField := func(g *meshfixture.Grid) []float64 {
		psi := make([]float64, g.NumNodes())
		for i := range psi {
			c := g.Coords(i)
			psi[i] = math.Sin(4 * c[0])
		}
		return psi
	}

	gLowSigma := meshfixture.NewGrid2D(9, [2]float64{0, 0}, [2]float64{1, 1})
	mfLowSigma, err := New(gLowSigma)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mfLowSigma.Close()
	if err := mfLowSigma.AddField(buildField(gLowSigma), 0.02, 1e-6); err != nil {
		t.Fatalf("AddField (low sigma): %v", err)
	}

	gHighSigma := meshfixture.NewGrid2D(9, [2]float64{0, 0}, [2]float64{1, 1})
	mfHighSigma, err := New(gHighSigma)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mfHighSigma.Close()
	if err := mfHighSigma.AddField(buildField(gHighSigma), 0.02, 10); err != nil {
		t.Fatalf("AddField (high sigma): %v", err)
	}

	lowOut := make([]float64, gLowSigma.NumNodes()*4)
	if err := mfLowSigma.GetMetric(lowOut); err != nil {
		t.Fatalf("GetMetric: %v", err)
	}
	highOut := make([]float64, gHighSigma.NumNodes()*4)
	if err := mfHighSigma.GetMetric(highOut); err != nil {
		t.Fatalf("GetMetric: %v", err)
	}

	for i := 0; i < gLowSigma.NumNodes(); i++ {
		lowVals, _ := tensor.FromBuffer(2, lowOut[i*4:i*4+4]).EigenDecompose()
		highVals, _ := tensor.FromBuffer(2, highOut[i*4:i*4+4]).EigenDecompose()
		if highVals[0] > lowVals[0]+1e-6 {
			t.Fatalf("node %d: a larger relative-error floor produced a tighter metric (%v > %v)", i, highVals[0], lowVals[0])
		}
	}
}

func TestApplyMaxAspectRatioNotImplemented(t *testing.T) {
	t.Parallel()
	g := meshfixture.NewGrid2D(4, [2]float64{0, 0}, [2]float64{1, 1})
	mf, err := New(g)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mf.Close()

	if err := mf.ApplyMaxAspectRatio(3); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("ApplyMaxAspectRatio: got %v, want ErrNotImplemented", err)
	}
}

func TestPredictNElementsPositiveOnMinimalMesh(t *testing.T) {
	t.Parallel()
	g := meshfixture.NewGrid2D(2, [2]float64{0, 0}, [2]float64{1, 1})
	// The smallest grid meshfixture.Grid allows (2x2 nodes, two triangles)
	// still has elements, so the prediction must be strictly positive.
	mf, err := New(g)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mf.Close()
	if mf.PredictNElements() <= 0 {
		t.Fatalf("PredictNElements = %v, want > 0 for a non-empty mesh", mf.PredictNElements())
	}
}
