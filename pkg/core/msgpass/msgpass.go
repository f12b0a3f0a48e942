// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package msgpass implements the message-passing primitives used by the graph aggregation layers.
//
// The connectivity of a graph is static: it is given by the caller once, as an EdgeList, and
// materialized in each computation graph as Edges. Edges implements Connectivity, the small
// set of operations the layers are written against:
//
//   - AggregateMean and AggregateMax: pool the features of the source nodes of the incoming edges
//     of each node (DGL's `copy_u_mean` and `copy_u_max`).
//   - CombineEdges: combine per-node values of the source (u) and destination (v) of each edge
//     (DGL's `u_add_v` and `u_dot_v`).
//   - EdgeSoftmax: softmax of per-edge scores, normalized over the incoming edges of each destination node.
//   - WeightedAggregate: sum of source node values weighted by per-edge weights (DGL's `u_mul_e_sum`).
//
// All per-node values are shaped `[num_nodes, ...]` and all per-edge values `[num_edges, ...]`:
// the leading axis is always the node (or edge) axis.
package msgpass

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// EdgeOp selects how CombineEdges merges source and destination values.
type EdgeOp int

const (
	// EdgeAdd returns `u + v` for each edge.
	EdgeAdd EdgeOp = iota

	// EdgeDot returns the dot product of `u` and `v` over their last axis, keeping it with dimension 1.
	EdgeDot
)

// Connectivity is the set of message-passing operations over a static graph.
//
// Implementations must not copy or change the connectivity: the same object is referenced by
// every graph-aware layer of a model.
type Connectivity interface {
	// NumNodes in the graph, the expected dimension of the leading axis of per-node values.
	NumNodes() int

	// NumEdges in the graph, the dimension of the leading axis of per-edge values.
	NumEdges() int

	// AggregateMean returns for each node the mean of x over the sources of its incoming edges.
	// Nodes without incoming edges get zeros.
	AggregateMean(x *Node) *Node

	// AggregateMax returns for each node the element-wise maximum of x over the sources of its incoming edges.
	// Nodes without incoming edges get zeros.
	AggregateMax(x *Node) *Node

	// CombineEdges returns a per-edge value combining u[src] and v[dst].
	CombineEdges(u, v *Node, op EdgeOp) *Node

	// EdgeSoftmax normalizes per-edge scores with a softmax over the incoming edges of each destination node.
	EdgeSoftmax(scores *Node) *Node

	// WeightedAggregate returns for each node the sum of values[src]*weights over its incoming edges.
	// weights must be shaped as values[src] or be broadcastable to it by dimensions of size 1.
	WeightedAggregate(values, weights *Node) *Node

	// InDegrees returns the number of incoming edges of each node, shaped `[num_nodes, 1]` with the given dtype.
	InDegrees(dtype dtypes.DType) *Node
}

// Edges is the materialization of a graph connectivity in a computation graph.
// It implements Connectivity.
type Edges struct {
	src, dst *Node
	numNodes int
}

// Assert Edges implements Connectivity.
var _ Connectivity = (*Edges)(nil)

// NewEdges creates the connectivity from source and target node indices, both shaped `[num_edges]` or
// `[num_edges, 1]`, with some integer dtype.
//
// Prefer EdgeList.Nodes, which validates the indices before building the graph. This is useful
// when the indices are given as computation graph inputs.
func NewEdges(src, dst *Node, numNodes int) *Edges {
	if !src.DType().IsInt() || !dst.DType().IsInt() {
		Panicf("msgpass.NewEdges(): edge indices must be of an integer dtype, got src=%s, dst=%s", src.Shape(), dst.Shape())
	}
	if (src.Rank() != 1 && src.Rank() != 2) || !src.Shape().Equal(dst.Shape()) ||
		(src.Rank() == 2 && src.Shape().Dim(1) != 1) {
		Panicf("msgpass.NewEdges(): src and dst must have the same shape, either [num_edges] or [num_edges, 1], got src=%s, dst=%s",
			src.Shape(), dst.Shape())
	}
	if numNodes <= 0 {
		Panicf("msgpass.NewEdges(): numNodes must be > 0, got %d", numNodes)
	}
	if src.Rank() == 1 {
		src = InsertAxes(src, -1)
		dst = InsertAxes(dst, -1)
	}
	return &Edges{src: src, dst: dst, numNodes: numNodes}
}

// Graph where the edges were materialized.
func (e *Edges) Graph() *Graph { return e.src.Graph() }

// Src returns the source node indices, shaped `[num_edges, 1]`.
func (e *Edges) Src() *Node { return e.src }

// Dst returns the destination node indices, shaped `[num_edges, 1]`.
func (e *Edges) Dst() *Node { return e.dst }

// NumNodes implements Connectivity.
func (e *Edges) NumNodes() int { return e.numNodes }

// NumEdges implements Connectivity.
func (e *Edges) NumEdges() int { return e.src.Shape().Dim(0) }

func (e *Edges) checkNodeValues(name string, x *Node) {
	if x.Rank() < 1 || x.Shape().Dim(0) != e.numNodes {
		Panicf("msgpass: %s must be shaped [num_nodes=%d, ...], got %s", name, e.numNodes, x.Shape())
	}
}

func (e *Edges) checkEdgeValues(name string, x *Node) {
	if x.Rank() < 1 || x.Shape().Dim(0) != e.NumEdges() {
		Panicf("msgpass: %s must be shaped [num_edges=%d, ...], got %s", name, e.NumEdges(), x.Shape())
	}
}

// nodeShape returns the shape of a per-node value with the trailing dimensions of the per-edge value x.
func (e *Edges) nodeShape(x *Node) shapes.Shape {
	dims := make([]int, x.Rank())
	copy(dims, x.Shape().Dimensions)
	dims[0] = e.numNodes
	return shapes.Make(x.DType(), dims...)
}

// sumToDst adds up per-edge values into their destination nodes.
func (e *Edges) sumToDst(edgeValues *Node) *Node {
	return Scatter(e.dst, edgeValues, e.nodeShape(edgeValues), false, false)
}

// maxToDst takes the max of per-edge values into their destination nodes.
// Nodes without incoming edges are left with -inf.
func (e *Edges) maxToDst(edgeValues *Node) *Node {
	g := edgeValues.Graph()
	shape := e.nodeShape(edgeValues)
	lowest := BroadcastToDims(Infinity(g, edgeValues.DType(), -1), shape.Dimensions...)
	return ScatterMax(lowest, e.dst, edgeValues, false, false)
}

// InDegrees implements Connectivity.
func (e *Edges) InDegrees(dtype dtypes.DType) *Node {
	ones := Ones(e.Graph(), shapes.Make(dtype, e.NumEdges(), 1))
	return Scatter(e.dst, ones, shapes.Make(dtype, e.numNodes, 1), false, false)
}

// hasIncoming returns a boolean mask shaped `[num_nodes]`, true for nodes with at least one incoming edge.
func (e *Edges) hasIncoming() *Node {
	degrees := Reshape(e.InDegrees(dtypes.Float32), e.numNodes)
	return GreaterThan(degrees, ScalarZero(e.Graph(), dtypes.Float32))
}

// AggregateMean implements Connectivity.
func (e *Edges) AggregateMean(x *Node) *Node {
	e.checkNodeValues("AggregateMean(x)", x)
	summed := e.sumToDst(Gather(x, e.src))
	counts := MaxScalar(e.InDegrees(x.DType()), 1) // Avoid division by 0.
	counts = Reshape(counts, append([]int{e.numNodes}, onesDims(x.Rank()-1)...)...)
	return Div(summed, BroadcastToDims(counts, summed.Shape().Dimensions...))
}

// AggregateMax implements Connectivity.
//
// The max reduction leaves -inf for nodes without incoming edges: those are replaced by zeros.
func (e *Edges) AggregateMax(x *Node) *Node {
	e.checkNodeValues("AggregateMax(x)", x)
	pooled := e.maxToDst(Gather(x, e.src))
	return Where(e.hasIncoming(), pooled, ZerosLike(pooled))
}

// CombineEdges implements Connectivity.
func (e *Edges) CombineEdges(u, v *Node, op EdgeOp) *Node {
	e.checkNodeValues("CombineEdges(u)", u)
	e.checkNodeValues("CombineEdges(v)", v)
	if !u.Shape().Equal(v.Shape()) {
		Panicf("msgpass.CombineEdges(): u and v must have the same shape, got u=%s, v=%s", u.Shape(), v.Shape())
	}
	uEdges := Gather(u, e.src)
	vEdges := Gather(v, e.dst)
	switch op {
	case EdgeAdd:
		return Add(uEdges, vEdges)
	case EdgeDot:
		return ReduceAndKeep(Mul(uEdges, vEdges), ReduceSum, -1)
	default:
		Panicf("msgpass.CombineEdges(): unknown EdgeOp %d", op)
	}
	return nil
}

// EdgeSoftmax implements Connectivity.
//
// It subtracts the per-destination maximum before exponentiating, so large scores don't overflow.
func (e *Edges) EdgeSoftmax(scores *Node) *Node {
	e.checkEdgeValues("EdgeSoftmax(scores)", scores)
	maxPerDst := StopGradient(e.maxToDst(scores))
	shifted := Sub(scores, Gather(maxPerDst, e.dst))
	expScores := Exp(shifted)
	sumPerDst := e.sumToDst(expScores)
	return Div(expScores, Gather(sumPerDst, e.dst))
}

// WeightedAggregate implements Connectivity.
func (e *Edges) WeightedAggregate(values, weights *Node) *Node {
	e.checkNodeValues("WeightedAggregate(values)", values)
	e.checkEdgeValues("WeightedAggregate(weights)", weights)
	messages := Gather(values, e.src)
	if weights.Rank() != messages.Rank() {
		Panicf("msgpass.WeightedAggregate(): weights rank must match values rank, got values=%s, weights=%s",
			values.Shape(), weights.Shape())
	}
	if !weights.Shape().Equal(messages.Shape()) {
		weights = BroadcastToDims(weights, messages.Shape().Dimensions...)
	}
	return e.sumToDst(Mul(messages, weights))
}

func onesDims(n int) []int {
	dims := make([]int, n)
	for ii := range dims {
		dims[ii] = 1
	}
	return dims
}
