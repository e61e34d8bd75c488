package dag

// Neighbors returns the nodes adjacent to n. For ancestry walks these are the
// node's parents, in stored order.
type Neighbors[T comparable] func(n T) ([]T, error)

// TopoOrder returns every node reachable from starts, each node appearing
// after all of its neighbors. With parent neighbors this is parents-first.
// Ties follow the order of starts and of each neighbor list.
func TopoOrder[T comparable](starts []T, neighbors Neighbors[T]) ([]T, error) {
	type frame struct {
		node     T
		children []T
		next     int
	}

	var order []T
	done := make(map[T]bool)
	onStack := make(map[T]bool)

	for _, start := range starts {
		if done[start] {
			continue
		}
		nbrs, err := neighbors(start)
		if err != nil {
			return nil, err
		}
		stack := []*frame{{node: start, children: nbrs}}
		onStack[start] = true

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.next < len(top.children) {
				n := top.children[top.next]
				top.next++
				if done[n] || onStack[n] {
					continue
				}
				nbrs, err := neighbors(n)
				if err != nil {
					return nil, err
				}
				onStack[n] = true
				stack = append(stack, &frame{node: n, children: nbrs})
				continue
			}
			stack = stack[:len(stack)-1]
			delete(onStack, top.node)
			done[top.node] = true
			order = append(order, top.node)
		}
	}
	return order, nil
}

// TopoOrderReverse is TopoOrder reversed: every node appears before its
// neighbors. With parent neighbors this is children-first.
func TopoOrderReverse[T comparable](starts []T, neighbors Neighbors[T]) ([]T, error) {
	order, err := TopoOrder(starts, neighbors)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// Reachable returns the set of nodes reachable from starts, starts included.
func Reachable[T comparable](starts []T, neighbors Neighbors[T]) (map[T]bool, error) {
	seen := make(map[T]bool)
	queue := append([]T(nil), starts...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		nbrs, err := neighbors(n)
		if err != nil {
			return nil, err
		}
		queue = append(queue, nbrs...)
	}
	return seen, nil
}

// ClosestCommonNode expands both sets one step at a time and returns the
// first node reached from both sides. ok is false when the sets share no
// reachable node.
func ClosestCommonNode[T comparable](set1, set2 []T, neighbors Neighbors[T]) (node T, ok bool, err error) {
	visited1 := make(map[T]bool)
	visited2 := make(map[T]bool)
	pending1 := append([]T(nil), set1...)
	pending2 := append([]T(nil), set2...)

	for len(pending1) > 0 || len(pending2) > 0 {
		var next1 []T
		for _, n := range pending1 {
			if visited2[n] {
				return n, true, nil
			}
			if visited1[n] {
				continue
			}
			visited1[n] = true
			nbrs, err := neighbors(n)
			if err != nil {
				return node, false, err
			}
			next1 = append(next1, nbrs...)
		}
		pending1 = next1

		var next2 []T
		for _, n := range pending2 {
			if visited1[n] {
				return n, true, nil
			}
			if visited2[n] {
				continue
			}
			visited2[n] = true
			nbrs, err := neighbors(n)
			if err != nil {
				return node, false, err
			}
			next2 = append(next2, nbrs...)
		}
		pending2 = next2
	}
	return node, false, nil
}
