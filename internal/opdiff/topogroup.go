package opdiff

import "iter"

type groupNode[T comparable] struct {
	children  map[T]bool
	parents   []T
	populated bool
}

// TopoGrouped reorders nodes, which must be sorted children first, so that
// each line of descent is emitted as one contiguous run where the graph
// allows it. A node is still emitted only after all of its children.
//
// Nodes are consumed lazily. Edges to nodes that do not appear later in
// nodes are ignored, which also breaks cycles.
func TopoGrouped[T comparable](nodes []T, parents func(T) []T) iter.Seq[T] {
	return func(yield func(T) bool) {
		position := make(map[T]int, len(nodes))
		for i := len(nodes) - 1; i >= 0; i-- {
			position[nodes[i]] = i
		}

		graph := make(map[T]*groupNode[T])
		get := func(id T) *groupNode[T] {
			n, ok := graph[id]
			if !ok {
				n = &groupNode[T]{children: make(map[T]bool)}
				graph[id] = n
			}
			return n
		}

		var emittable []T
		var newHeads []T
		next := 0
		populateOne := func() bool {
			for next < len(nodes) {
				pos := next
				id := nodes[pos]
				next++
				if position[id] != pos {
					continue
				}
				var ps []T
				seen := make(map[T]bool)
				for _, p := range parents(id) {
					if pp, ok := position[p]; ok && pp > pos && !seen[p] {
						seen[p] = true
						ps = append(ps, p)
					}
				}
				for _, p := range ps {
					get(p).children[id] = true
				}
				n, known := graph[id]
				if !known {
					n = get(id)
					// Not reachable from anything emitted so far; start a new
					// run once the current one is exhausted.
					newHeads = append(newHeads, id)
				}
				n.parents = ps
				n.populated = true
				return true
			}
			return false
		}

		for {
			if len(emittable) > 0 {
				top := len(emittable) - 1
				id := emittable[top]
				n, ok := graph[id]
				if !ok || len(n.children) > 0 {
					// Emitted already, or blocked on a child populated since.
					emittable = emittable[:top]
					continue
				}
				if !n.populated {
					if !populateOne() {
						emittable = emittable[:top]
					}
					continue
				}
				emittable = emittable[:top]
				delete(graph, id)
				// The last parent is visited first.
				for _, p := range n.parents {
					pn := graph[p]
					delete(pn.children, id)
					if len(pn.children) == 0 {
						emittable = append(emittable, p)
					}
				}
				if !yield(id) {
					return
				}
				continue
			}
			if len(newHeads) > 0 {
				emittable = append(emittable, newHeads[0])
				newHeads = newHeads[1:]
				continue
			}
			if !populateOne() {
				return
			}
		}
	}
}
