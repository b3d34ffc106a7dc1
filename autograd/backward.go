package autograd

// frame is one level of the depth-first walk: the node being expanded and the
// next child to look at.
type frame struct {
	id   int32
	next uint8
}

// topo returns arena indices reachable from root, every child before its
// parent, each exactly once.
//
// The walk uses an explicit stack but visits nodes in the same order as the
// recursive version would (mark, visit children left to right, then emit), so
// long chains cannot exhaust the goroutine stack.
func (g *Graph) topo(root int32) []int32 {
	visited := make([]bool, root+1)
	order := make([]int32, 0, 64)
	stack := []frame{{id: root}}
	visited[root] = true

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n := &g.nodes[top.id]
		if top.next < n.arity {
			child := n.children[top.next]
			top.next++
			if !visited[child] {
				visited[child] = true
				stack = append(stack, frame{id: child})
			}
			continue
		}
		order = append(order, top.id)
		stack = stack[:len(stack)-1]
	}
	return order
}

// TopoSort returns every Value v depends on (v included), ordered so that each
// operand comes before the values it feeds. Nodes reached along several paths
// appear once.
func TopoSort(v Value) []Value {
	v.node()
	ids := v.g.topo(v.id)
	out := make([]Value, len(ids))
	for i, id := range ids {
		out[i] = Value{g: v.g, id: id, gen: v.g.nodes[id].gen}
	}
	return out
}

// Backward performs reverse-mode autodiff from v to all of its ancestors.
//
//  1. Build the topological order so each node comes after its children.
//  2. Seed v.grad = 1 (d v / d v).
//  3. Walk the order in reverse; by the time a node is reached its own grad is
//     final, so it can push local * grad into each child.
//
// Gradients accumulate: every node is assumed to start at zero.
func (v Value) Backward() {
	v.node()
	g := v.g
	order := g.topo(v.id)

	g.nodes[v.id].grad = 1
	for i := len(order) - 1; i >= 0; i-- {
		n := &g.nodes[order[i]]
		for j := uint8(0); j < n.arity; j++ {
			g.nodes[n.children[j]].grad += n.local[j] * n.grad
		}
	}
}
