package main

import (
	"flag"
	"fmt"
	"log"
	"math"

	"github.com/pkg/errors"

	"github.com/amcg/metricfield/meshfixture"
	"github.com/amcg/metricfield/metricfield"
)

var (
	dim         = flag.Int("dim", 2, "mesh dimension, 2 or 3")
	n           = flag.Int("n", 21, "per-axis node count of the structured reference mesh")
	targetError = flag.Float64("target-error", 0.01, "target interpolation error passed to AddField")
	maxEdge     = flag.Float64("max-edge-length", 0, "if positive, an upper bound on metric edge length")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	mf, psi, err := buildMesh()
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer mf.Close()

	if err := mf.AddField(psi, *targetError, 0); err != nil {
		return errors.Wrap(err, "")
	}

	if *maxEdge > 0 {
		if err := mf.ApplyMaxEdgeLength(*maxEdge); err != nil {
			return errors.Wrap(err, "")
		}
	}

	summary, err := mf.Diagnostics()
	if err != nil {
		return errors.Wrap(err, "")
	}

	fmt.Printf("predicted_elements,%f\n", mf.PredictNElements())
	fmt.Printf("numeric_singularities,%d\n", summary.NumericSingularities)
	fmt.Printf("non_spd_repairs,%d\n", summary.NonSPDRepairs)
	return nil
}

func buildMesh() (*metricfield.MetricField, []float64, error) {
	switch *dim {
	case 2:
		g := meshfixture.NewGrid2D(*n, [2]float64{0, 0}, [2]float64{1, 1})
		mf, err := metricfield.New(g)
		if err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		psi := make([]float64, g.NumNodes())
		for i := range psi {
			c := g.Coords(i)
			psi[i] = math.Sin(4*c[0]) * math.Cos(4*c[1])
		}
		return mf, psi, nil
	case 3:
		g := meshfixture.NewGrid3D(*n, [3]float64{0, 0, 0}, [3]float64{1, 1, 1})
		mf, err := metricfield.New(g)
		if err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		psi := make([]float64, g.NumNodes())
		for i := range psi {
			c := g.Coords(i)
			psi[i] = c[0]*c[0] + c[1]*c[1] + c[2]*c[2]
		}
		return mf, psi, nil
	default:
		return nil, nil, errors.Errorf("unsupported -dim %d, want 2 or 3", *dim)
	}
}
