// Package autograd is a tiny scalar reverse-mode automatic differentiation engine.
//
// Think of every Value as a "number with memory": arithmetic on Values records
// how each result was produced, and Backward later walks that record in reverse
// to compute how much the final output changes when any input changes.
//
// Nodes live in an arena owned by a Graph and are addressed by their index.
// A Value is only a handle (graph, index, generation), so copying a Value never
// copies a node: reusing a Value in two places of an expression produces a
// diamond in the graph, not a duplicate.
//
// A Graph is not safe for concurrent use. Independent graphs may be used from
// different goroutines.
package autograd

import "fmt"

// node is one arena slot.
//
// - value is the forward result.
// - grad is d(terminal)/d(value), accumulated during Backward.
// - children/local hold up to two operands and the partial derivative of value
//   with respect to each of them, fixed when the node is created.
type node struct {
	value    float64
	grad     float64
	local    [2]float64
	children [2]int32
	arity    uint8
	gen      uint32
}

// Graph is the arena every Value of one computation lives in.
type Graph struct {
	nodes []node
	gen   uint32
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{gen: 1}
}

// Value is a handle to a node in a Graph. The zero Value is invalid.
type Value struct {
	g   *Graph
	id  int32
	gen uint32
}

// NewValue creates a leaf node (a plain number with no children).
func (g *Graph) NewValue(data float64) Value {
	return g.push(node{value: data})
}

// Len reports how many nodes the arena currently holds.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Mark returns a position in the arena that Release can later rewind to.
func (g *Graph) Mark() int {
	return len(g.nodes)
}

// Release drops every node created after mark. Values created before the mark
// (typically parameters) stay valid; handles to released nodes become stale
// and panic on their next use.
func (g *Graph) Release(mark int) {
	if mark < 0 || mark > len(g.nodes) {
		panic(fmt.Sprintf("autograd: release mark %d out of range [0, %d]", mark, len(g.nodes)))
	}
	clear(g.nodes[mark:])
	g.nodes = g.nodes[:mark]
	g.gen++
}

func (g *Graph) push(n node) Value {
	if len(g.nodes) == maxNodes {
		panic("autograd: graph is full")
	}
	n.gen = g.gen
	id := int32(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return Value{g: g, id: id, gen: g.gen}
}

const maxNodes = 1<<31 - 1

// node resolves v to its arena slot, rejecting handles whose node was released.
func (v Value) node() *node {
	if v.g == nil {
		panic("autograd: use of zero Value")
	}
	if int(v.id) >= len(v.g.nodes) || v.g.nodes[v.id].gen != v.gen {
		panic(fmt.Sprintf("autograd: stale value %d (graph released past it)", v.id))
	}
	return &v.g.nodes[v.id]
}

// Graph returns the graph v lives in.
func (v Value) Graph() *Graph {
	return v.g
}

// ID is the arena index of v, which is also its identity.
func (v Value) ID() int {
	return int(v.id)
}

// Data returns the forward value.
func (v Value) Data() float64 {
	return v.node().value
}

// Grad returns the accumulated gradient.
func (v Value) Grad() float64 {
	return v.node().grad
}

// IsLeaf reports whether v has no children.
func (v Value) IsLeaf() bool {
	return v.node().arity == 0
}

// Children returns the operands v was computed from, in order.
func (v Value) Children() []Value {
	n := v.node()
	out := make([]Value, n.arity)
	for i := range out {
		c := n.children[i]
		out[i] = Value{g: v.g, id: c, gen: v.g.nodes[c].gen}
	}
	return out
}

// LocalGrads returns d(v)/d(child) for each child, in the order of Children.
func (v Value) LocalGrads() []float64 {
	n := v.node()
	return append([]float64(nil), n.local[:n.arity]...)
}

// Step performs one gradient descent update on a parameter:
// value -= lr * grad, then grad is reset to zero for the next cycle.
func (v Value) Step(lr float64) {
	n := v.node()
	n.value -= lr * n.grad
	n.grad = 0
}

// ZeroGrad resets the gradient without touching the value.
func (v Value) ZeroGrad() {
	v.node().grad = 0
}

// AccumulateGrad adds g to the gradient. It is the reduction entry point for
// gradients computed on replica graphs; Backward never needs it.
func (v Value) AccumulateGrad(g float64) {
	v.node().grad += g
}

func (v Value) String() string {
	if v.g == nil {
		return "Value(<nil>)"
	}
	n := v.node()
	return fmt.Sprintf("Value(data=%g, grad=%g)", n.value, n.grad)
}
