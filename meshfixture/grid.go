// Package meshfixture provides structured-grid meshadapter.MeshAdapter
// implementations used by tests and the demo driver in this repository. It
// is not part of the library's public contract: the metric-field pipeline
// only ever depends on the meshadapter.MeshAdapter interface, never on a
// concrete mesh container, matching spec.md's "mesh container" exclusion.
package meshfixture

import (
	"github.com/amcg/metricfield/meshutil"
)

// Grid is a structured simplicial mesh over an axis-aligned box, used as a
// deterministic MeshAdapter fixture. Node ids follow row-major order over
// the grid indices.
type Grid struct {
	dim       int
	n         [3]int // active entries up to dim
	lo, hi    [3]float64
	coords    [][]float64
	elements  [][]int
	adjacency [][]int
	boundary  []bool
	perm      []int // New2Old permutation; identity if nil
}

// NewGrid2D builds a grid of n x n nodes over the box from lo to hi, each of
// its (n-1) x (n-1) cells split into 2 triangles.
func NewGrid2D(n int, lo, hi [2]float64) *Grid {
	if n < 2 {
		panic("meshfixture: NewGrid2D requires n >= 2")
	}
	g := &Grid{dim: 2, n: [3]int{n, n, 1}}
	g.lo[0], g.lo[1] = lo[0], lo[1]
	g.hi[0], g.hi[1] = hi[0], hi[1]

	g.coords = make([][]float64, n*n)
	g.boundary = make([]bool, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			id := g.nodeID2D(i, j)
			x := lerp(lo[0], hi[0], i, n)
			y := lerp(lo[1], hi[1], j, n)
			g.coords[id] = []float64{x, y}
			g.boundary[id] = i == 0 || i == n-1 || j == 0 || j == n-1
		}
	}

	for i := 0; i < n-1; i++ {
		for j := 0; j < n-1; j++ {
			v00 := g.nodeID2D(i, j)
			v10 := g.nodeID2D(i+1, j)
			v01 := g.nodeID2D(i, j+1)
			v11 := g.nodeID2D(i+1, j+1)
			g.elements = append(g.elements, []int{v00, v10, v11})
			g.elements = append(g.elements, []int{v00, v11, v01})
		}
	}

	g.buildAdjacency()
	return g
}

// NewGrid3D builds a grid of n x n x n nodes over the box from lo to hi,
// using a Kuhn triangulation of each of its (n-1)^3 cubic cells into 6
// tetrahedra.
func NewGrid3D(n int, lo, hi [3]float64) *Grid {
	if n < 2 {
		panic("meshfixture: NewGrid3D requires n >= 2")
	}
	g := &Grid{dim: 3, n: [3]int{n, n, n}}
	g.lo, g.hi = lo, hi

	total := n * n * n
	g.coords = make([][]float64, total)
	g.boundary = make([]bool, total)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				id := g.nodeID3D(i, j, k)
				x := lerp(lo[0], hi[0], i, n)
				y := lerp(lo[1], hi[1], j, n)
				z := lerp(lo[2], hi[2], k, n)
				g.coords[id] = []float64{x, y, z}
				g.boundary[id] = i == 0 || i == n-1 || j == 0 || j == n-1 || k == 0 || k == n-1
			}
		}
	}

	perms := [][3]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2},
		{1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	axis := [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	for i := 0; i < n-1; i++ {
		for j := 0; j < n-1; j++ {
			for k := 0; k < n-1; k++ {
				base := [3]int{i, j, k}
				for _, p := range perms {
					v := base
					ids := make([]int, 0, 4)
					ids = append(ids, g.nodeID3D(v[0], v[1], v[2]))
					for _, axIdx := range p {
						v[0] += axis[axIdx][0]
						v[1] += axis[axIdx][1]
						v[2] += axis[axIdx][2]
						ids = append(ids, g.nodeID3D(v[0], v[1], v[2]))
					}
					g.elements = append(g.elements, ids)
				}
			}
		}
	}

	g.buildAdjacency()
	return g
}

// SetPermutation installs a New2Old permutation; perm[i] is the caller
// ordering index that corresponds to internal node i. Passing nil restores
// the identity permutation.
func (g *Grid) SetPermutation(perm []int) {
	g.perm = perm
}

func (g *Grid) nodeID2D(i, j int) int { return i*g.n[1] + j }
func (g *Grid) nodeID3D(i, j, k int) int {
	return (i*g.n[1]+j)*g.n[2] + k
}

func (g *Grid) buildAdjacency() {
	g.adjacency = make([][]int, len(g.coords))
	seen := make([]map[int]bool, len(g.coords))
	for _, elem := range g.elements {
		for _, a := range elem {
			if seen[a] == nil {
				seen[a] = make(map[int]bool)
			}
			for _, b := range elem {
				if a == b || seen[a][b] {
					continue
				}
				seen[a][b] = true
				g.adjacency[a] = append(g.adjacency[a], b)
			}
		}
	}
}

func lerp(lo, hi float64, idx, n int) float64 {
	return lo + (hi-lo)*float64(idx)/float64(n-1)
}

// NumNodes implements meshadapter.MeshAdapter.
func (g *Grid) NumNodes() int { return len(g.coords) }

// NumElements implements meshadapter.MeshAdapter.
func (g *Grid) NumElements() int { return len(g.elements) }

// Dimension implements meshadapter.MeshAdapter.
func (g *Grid) Dimension() int { return g.dim }

// Coords implements meshadapter.MeshAdapter.
func (g *Grid) Coords(i int) []float64 { return g.coords[i] }

// Element implements meshadapter.MeshAdapter.
func (g *Grid) Element(e int) []int { return g.elements[e] }

// ExpandPatch implements meshadapter.MeshAdapter.
func (g *Grid) ExpandPatch(i, k int) []int {
	return meshutil.ExpandPatch(func(n int) []int { return g.adjacency[n] }, i, k)
}

// OnBoundary implements meshadapter.MeshAdapter.
func (g *Grid) OnBoundary(i int) bool { return g.boundary[i] }

// New2Old implements meshadapter.MeshAdapter.
func (g *Grid) New2Old(i int) int {
	if g.perm == nil {
		return i
	}
	return g.perm[i]
}
