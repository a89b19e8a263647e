// Package meshutil provides traversal helpers that a meshadapter.MeshAdapter
// implementation can use to satisfy ExpandPatch. It owns no mesh state of
// its own; callers supply adjacency via a closure.
package meshutil

// ExpandPatch gathers a set of node ids containing start by breadth-first
// expansion through neighbors, until the set reaches at least minSize
// members or the reachable component is exhausted. The traversal order
// (queue plus visited set) mirrors a standard graph BFS; start is always
// included in the result.
func ExpandPatch(neighbors func(node int) []int, start, minSize int) []int {
	visited := map[int]bool{start: true}
	order := []int{start}
	queue := []int{start}

	for len(queue) > 0 && len(order) < minSize {
		node := queue[0]
		queue = queue[1:]

		for _, n := range neighbors(node) {
			if visited[n] {
				continue
			}
			visited[n] = true
			order = append(order, n)
			queue = append(queue, n)
		}
	}

	return order
}
