// Package geom provides pure simplex-measure functions (triangle area,
// tetrahedron volume) used by the element-count predictor. It carries no
// state and depends only on the coordinates passed in.
package geom

import "math"

// Area returns the unsigned area of the triangle (x0, x1, x2).
func Area(x0, x1, x2 [2]float64) float64 {
	// Cross product of the two edge vectors.
	ux, uy := x1[0]-x0[0], x1[1]-x0[1]
	vx, vy := x2[0]-x0[0], x2[1]-x0[1]
	return 0.5 * math.Abs(ux*vy-uy*vx)
}

// Volume returns the unsigned volume of the tetrahedron (x0, x1, x2, x3).
func Volume(x0, x1, x2, x3 [3]float64) float64 {
	// Scalar triple product of the three edge vectors from x0.
	a := [3]float64{x1[0] - x0[0], x1[1] - x0[1], x1[2] - x0[2]}
	b := [3]float64{x2[0] - x0[0], x2[1] - x0[1], x2[2] - x0[2]}
	c := [3]float64{x3[0] - x0[0], x3[1] - x0[1], x3[2] - x0[2]}

	cross := [3]float64{
		b[1]*c[2] - b[2]*c[1],
		b[2]*c[0] - b[0]*c[2],
		b[0]*c[1] - b[1]*c[0],
	}
	triple := a[0]*cross[0] + a[1]*cross[1] + a[2]*cross[2]
	return math.Abs(triple) / 6
}
