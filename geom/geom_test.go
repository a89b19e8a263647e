package geom

import (
	"fmt"
	"math"
	"testing"
)

func TestArea(t *testing.T) {
	t.Parallel()
	tests := []struct {
		x0, x1, x2 [2]float64
		want       float64
	}{
		{x0: [2]float64{0, 0}, x1: [2]float64{1, 0}, x2: [2]float64{0, 1}, want: 0.5},
		{x0: [2]float64{0, 0}, x1: [2]float64{2, 0}, x2: [2]float64{0, 2}, want: 2},
		// Orientation reversed should still give an unsigned area.
		{x0: [2]float64{0, 0}, x1: [2]float64{0, 1}, x2: [2]float64{1, 0}, want: 0.5},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			got := Area(test.x0, test.x1, test.x2)
			if math.Abs(got-test.want) > 1e-12 {
				t.Fatalf("Area = %f, want %f", got, test.want)
			}
		})
	}
}

func TestVolume(t *testing.T) {
	t.Parallel()
	// Unit-axis tetrahedron has volume 1/6.
	x0 := [3]float64{0, 0, 0}
	x1 := [3]float64{1, 0, 0}
	x2 := [3]float64{0, 1, 0}
	x3 := [3]float64{0, 0, 1}
	got := Volume(x0, x1, x2, x3)
	want := 1.0 / 6.0
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("Volume = %f, want %f", got, want)
	}
}
