// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package msgpass

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/pkg/errors"
)

// EdgeList is the immutable host-side description of a directed graph: edge k goes from Src[k] to Dst[k].
//
// Create it with NewEdgeList, and materialize it in a computation graph with EdgeList.Nodes.
type EdgeList struct {
	numNodes int
	src, dst []int32
}

// NewEdgeList validates and creates an EdgeList. The slices are copied.
func NewEdgeList(numNodes int, src, dst []int32) (*EdgeList, error) {
	if numNodes <= 0 {
		return nil, errors.Errorf("msgpass.NewEdgeList(): numNodes must be > 0, got %d", numNodes)
	}
	if len(src) != len(dst) {
		return nil, errors.Errorf("msgpass.NewEdgeList(): src and dst must have the same length, got %d and %d",
			len(src), len(dst))
	}
	if len(src) == 0 {
		// Zero-sized index tensors are not supported by every backend.
		return nil, errors.Errorf("msgpass.NewEdgeList(): the graph must have at least one edge, got %d nodes and no edges",
			numNodes)
	}
	for ii := range src {
		if src[ii] < 0 || int(src[ii]) >= numNodes || dst[ii] < 0 || int(dst[ii]) >= numNodes {
			return nil, errors.Errorf("msgpass.NewEdgeList(): edge #%d (%d->%d) out of range for %d nodes",
				ii, src[ii], dst[ii], numNodes)
		}
	}
	return &EdgeList{
		numNodes: numNodes,
		src:      append([]int32(nil), src...),
		dst:      append([]int32(nil), dst...),
	}, nil
}

// MustNewEdgeList is like NewEdgeList, but panics on error.
func MustNewEdgeList(numNodes int, src, dst []int32) *EdgeList {
	el, err := NewEdgeList(numNodes, src, dst)
	if err != nil {
		panic(err)
	}
	return el
}

// NumNodes in the graph.
func (el *EdgeList) NumNodes() int { return el.numNodes }

// NumEdges in the graph.
func (el *EdgeList) NumEdges() int { return len(el.src) }

// Edge returns the source and destination of edge k.
func (el *EdgeList) Edge(k int) (src, dst int32) { return el.src[k], el.dst[k] }

// InDegrees returns the number of incoming edges of each node.
func (el *EdgeList) InDegrees() []int {
	degrees := make([]int, el.numNodes)
	for _, d := range el.dst {
		degrees[d]++
	}
	return degrees
}

// Batch returns the disjoint union of n copies of the graph: copy k has its node ids shifted by k*NumNodes.
//
// This is the connectivity used when a batch holds n instances of the same graph, with their node features
// stacked along the node axis.
func (el *EdgeList) Batch(n int) *EdgeList {
	if n <= 0 {
		panic(errors.Errorf("msgpass.EdgeList.Batch(): n must be > 0, got %d", n))
	}
	if n == 1 {
		return el
	}
	numEdges := len(el.src)
	batched := &EdgeList{
		numNodes: el.numNodes * n,
		src:      make([]int32, 0, numEdges*n),
		dst:      make([]int32, 0, numEdges*n),
	}
	for k := range n {
		offset := int32(k * el.numNodes)
		for ii := range numEdges {
			batched.src = append(batched.src, el.src[ii]+offset)
			batched.dst = append(batched.dst, el.dst[ii]+offset)
		}
	}
	return batched
}

// Nodes materializes the connectivity as constants in the computation graph g.
func (el *EdgeList) Nodes(g *Graph) *Edges {
	return NewEdges(Const(g, el.src), Const(g, el.dst), el.numNodes)
}

// String implements fmt.Stringer.
func (el *EdgeList) String() string {
	return fmt.Sprintf("EdgeList(%d nodes, %d edges)", el.numNodes, len(el.src))
}
