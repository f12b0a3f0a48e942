// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package aggregation implements graph neighborhood aggregation layers.
//
// Every layer is a module.GraphModule that concatenates to the node features x an aggregation
// of the features of the sources of the incoming edges of each node: `concat(x, aggregated)`.
// The output feature axis (the last) is therefore twice the input's.
//
// Layers are also available by name in KnownAggregations, for configuration-driven model assembly.
package aggregation

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gnnblocks/pkg/core/msgpass"
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"k8s.io/klog/v2"
)

// Config holds the parameters used by the constructors in KnownAggregations.
// Fields not used by a layer are ignored.
type Config struct {
	Dim         int
	NumHeads    int
	DropoutRate float64
}

var (
	// KnownAggregations maps aggregation names to their constructors.
	KnownAggregations = map[string]func(cfg Config) (module.GraphModule, error){
		"MeanAggr": func(Config) (module.GraphModule, error) {
			return NewMean(), nil
		},
		"MaxAggr": func(Config) (module.GraphModule, error) {
			return NewMax(), nil
		},
		"AttnGATAggr": func(cfg Config) (module.GraphModule, error) {
			return NewAttnGAT(cfg.Dim, cfg.NumHeads)
		},
		"AttnTrfAggr": func(cfg Config) (module.GraphModule, error) {
			return NewAttnTrf(cfg.Dim, cfg.NumHeads, cfg.DropoutRate)
		},
	}
)

// New creates the aggregation layer registered under name in KnownAggregations.
func New(name string, cfg Config) (module.GraphModule, error) {
	newFn, found := KnownAggregations[name]
	if !found {
		return nil, module.Configf("unknown aggregation %q, valid values are %q", name, xslices.SortedKeys(KnownAggregations))
	}
	klog.V(1).Infof("aggregation.New(%q, %+v)", name, cfg)
	return newFn(cfg)
}

// MeanAggr concatenates to each node the mean of the features of its in-neighbors.
// Nodes without incoming edges get zeros.
type MeanAggr struct{}

// NewMean returns a mean aggregation layer. It has no parameters.
func NewMean() *MeanAggr { return &MeanAggr{} }

// ApplyWithGraph implements module.GraphModule.
func (*MeanAggr) ApplyWithGraph(_ *context.Context, conn msgpass.Connectivity, x *Node) *Node {
	return Concatenate([]*Node{x, conn.AggregateMean(x)}, -1)
}

// MaxAggr concatenates to each node the element-wise maximum of the features of its in-neighbors.
// Nodes without incoming edges get zeros.
type MaxAggr struct{}

// NewMax returns a max aggregation layer. It has no parameters.
func NewMax() *MaxAggr { return &MaxAggr{} }

// ApplyWithGraph implements module.GraphModule.
func (*MaxAggr) ApplyWithGraph(_ *context.Context, conn msgpass.Connectivity, x *Node) *Node {
	aggregated := conn.AggregateMax(x)
	// Connectivity implementations may leave -inf for nodes without neighbors: those become 0.
	aggregated = Where(IsFinite(aggregated), aggregated, ZerosLike(aggregated))
	return Concatenate([]*Node{x, aggregated}, -1)
}

// checkFeatures panics if the feature axis of x is not dim.
func checkFeatures(name string, x *Node, dim int) {
	if x.Rank() < 2 || x.Shape().Dim(-1) != dim {
		Panicf("aggregation.%s: input must be shaped [num_nodes, ..., dim=%d], got %s", name, dim, x.Shape())
	}
}

// splitLastAxis reshapes the last axis of x to the two given dimensions.
func splitLastAxis(x *Node, dim0, dim1 int) *Node {
	dims := x.Shape().Dimensions
	newDims := make([]int, 0, len(dims)+1)
	newDims = append(newDims, dims[:len(dims)-1]...)
	newDims = append(newDims, dim0, dim1)
	return Reshape(x, newDims...)
}

// mergeLastAxes reshapes the last two axes of x into one.
func mergeLastAxes(x *Node) *Node {
	dims := x.Shape().Dimensions
	newDims := make([]int, 0, len(dims)-1)
	newDims = append(newDims, dims[:len(dims)-2]...)
	newDims = append(newDims, dims[len(dims)-2]*dims[len(dims)-1])
	return Reshape(x, newDims...)
}
