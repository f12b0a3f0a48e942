// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aggregation

import (
	"math"

	"github.com/gomlx/gnnblocks/pkg/core/msgpass"
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"k8s.io/klog/v2"
)

// GATNegativeSlope of the LeakyReLU applied to the additive attention scores.
const GATNegativeSlope = 0.2

// AttnGAT aggregates with multi-head additive (GAT) attention.
//
// For each edge u->v and head h the score is `LeakyReLU(Dense_u(x)[u, h] + Dense_v(x)[v, h])`, normalized
// with a softmax over the incoming edges of v. Head h aggregates the features of the sources weighted by
// its attention probabilities.
//
// The features of a node are split among the heads by viewing them as shaped `[headDim, numHeads]`:
// head h owns the features h, h+numHeads, h+2*numHeads, etc.
type AttnGAT struct {
	dim, numHeads, headDim int
}

// Assert AttnGAT is a GraphModule.
var _ module.GraphModule = (*AttnGAT)(nil)

// NewAttnGAT returns a GAT attention aggregation layer, or a configuration error if dim is not
// divisible by numHeads.
func NewAttnGAT(dim, numHeads int) (*AttnGAT, error) {
	if err := module.CheckHeads(dim, numHeads); err != nil {
		return nil, err
	}
	klog.V(1).Infof("aggregation.NewAttnGAT(dim=%d, numHeads=%d)", dim, numHeads)
	return &AttnGAT{dim: dim, numHeads: numHeads, headDim: dim / numHeads}, nil
}

// ApplyWithGraph implements module.GraphModule.
func (l *AttnGAT) ApplyWithGraph(ctx *context.Context, conn msgpass.Connectivity, x *Node) *Node {
	checkFeatures("AttnGAT", x, l.dim)
	scoresU := layers.Dense(ctx.In("attn_linear_u"), x, true, l.numHeads)
	scoresV := layers.Dense(ctx.In("attn_linear_v"), x, false, l.numHeads)
	scores := conn.CombineEdges(scoresU, scoresV, msgpass.EdgeAdd)
	scores = activations.LeakyReluWithAlpha(scores, GATNegativeSlope)
	probs := conn.EdgeSoftmax(scores) // [num_edges, ..., numHeads]

	values := splitLastAxis(x, l.headDim, l.numHeads)
	aggregated := conn.WeightedAggregate(values, InsertAxes(probs, -2))
	aggregated = mergeLastAxes(aggregated)
	return Concatenate([]*Node{x, aggregated}, -1)
}

// AttnTrf aggregates with multi-head scaled dot-product (transformer) attention restricted to the edges.
//
// A fused linear layer projects x to queries, keys and values for each head. The score of the edge u->v is
// `key_u · query_v / sqrt(headDim)`, normalized with a softmax over the incoming edges of v, and used to
// weight the values of the sources. The aggregated heads go through an output linear layer and dropout.
type AttnTrf struct {
	dim, numHeads, headDim int
	dropoutRate            float64
}

// Assert AttnTrf is a GraphModule.
var _ module.GraphModule = (*AttnTrf)(nil)

// NewAttnTrf returns a transformer attention aggregation layer, or a configuration error if dim is not
// divisible by numHeads.
func NewAttnTrf(dim, numHeads int, dropoutRate float64) (*AttnTrf, error) {
	if err := module.CheckHeads(dim, numHeads); err != nil {
		return nil, err
	}
	if err := module.CheckDropoutRate(dropoutRate); err != nil {
		return nil, err
	}
	klog.V(1).Infof("aggregation.NewAttnTrf(dim=%d, numHeads=%d, dropout=%g)", dim, numHeads, dropoutRate)
	return &AttnTrf{dim: dim, numHeads: numHeads, headDim: dim / numHeads, dropoutRate: dropoutRate}, nil
}

// ApplyWithGraph implements module.GraphModule.
func (l *AttnTrf) ApplyWithGraph(ctx *context.Context, conn msgpass.Connectivity, x *Node) *Node {
	checkFeatures("AttnTrf", x, l.dim)
	qkv := layers.Dense(ctx.In("attn_qkv_linear"), x, true, 3*l.dim)
	qkv = splitLastAxis(qkv, l.numHeads, 3*l.headDim)
	parts := Split(qkv, -1, 3)
	queries, keys, values := parts[0], parts[1], parts[2]

	scores := conn.CombineEdges(keys, queries, msgpass.EdgeDot) // [num_edges, ..., numHeads, 1]
	scores = MulScalar(scores, 1.0/math.Sqrt(float64(l.headDim)))
	probs := conn.EdgeSoftmax(scores)

	aggregated := conn.WeightedAggregate(values, probs)
	aggregated = mergeLastAxes(aggregated)
	aggregated = layers.Dense(ctx.In("output_linear"), aggregated, true, l.dim)
	aggregated = layers.DropoutStatic(ctx.In("dropout"), aggregated, l.dropoutRate)
	return Concatenate([]*Node{x, aggregated}, -1)
}
