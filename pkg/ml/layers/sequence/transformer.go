// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sequence

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"k8s.io/klog/v2"
)

// Transformer encodes sequences shaped `[batch, seq_len, dim]` with learned positional embeddings
// followed by a stack of pre-normalization transformer encoder blocks:
//
//	x = x + Dropout(SelfAttention(LayerNorm(x)))
//	x = x + Dropout(FF(LayerNorm(x)))
//
// where FF is `Dense(dim -> dim) -> GELU -> Dropout -> Dense(dim -> dim)`.
//
// Attention is causal (a step only attends to itself and previous steps) unless bidirectional.
type Transformer struct {
	numLayers, dim, numHeads, seqLen int
	bidirectional                    bool
	dropoutRate                      float64
}

// Assert Transformer is a FeatureModule.
var _ module.FeatureModule = (*Transformer)(nil)

// NewTransformer returns a Transformer encoder, or a configuration error, in particular if dim is not
// divisible by numHeads.
func NewTransformer(numLayers, dim, numHeads, seqLen int, bidirectional bool, dropoutRate float64) (*Transformer, error) {
	if err := module.CheckHeads(dim, numHeads); err != nil {
		return nil, err
	}
	if numLayers <= 0 {
		return nil, module.Configf("sequence.NewTransformer(): numLayers must be > 0, got %d", numLayers)
	}
	if seqLen <= 0 {
		return nil, module.Configf("sequence.NewTransformer(): seqLen must be > 0, got %d", seqLen)
	}
	if err := module.CheckDropoutRate(dropoutRate); err != nil {
		return nil, err
	}
	klog.V(1).Infof("sequence.NewTransformer(numLayers=%d, dim=%d, numHeads=%d, seqLen=%d, bidirectional=%v, dropout=%g)",
		numLayers, dim, numHeads, seqLen, bidirectional, dropoutRate)
	return &Transformer{
		numLayers:     numLayers,
		dim:           dim,
		numHeads:      numHeads,
		seqLen:        seqLen,
		bidirectional: bidirectional,
		dropoutRate:   dropoutRate,
	}, nil
}

// Apply implements module.FeatureModule.
func (tr *Transformer) Apply(ctx *context.Context, x *Node) *Node {
	checkSequence("Transformer", x, tr.dim)
	if x.Shape().Dim(1) != tr.seqLen {
		Panicf("sequence.Transformer: configured for sequences of length %d, got x.shape=%s", tr.seqLen, x.Shape())
	}
	g := x.Graph()
	posEmbeddings := ctx.In("positional_embeddings").
		VariableWithShape("embeddings", shapes.Make(x.DType(), tr.seqLen, tr.dim)).
		ValueGraph(g)
	x = Add(x, BroadcastToDims(ExpandAxes(posEmbeddings, 0), x.Shape().Dimensions...))
	for layerIdx := range tr.numLayers {
		x = tr.block(ctx.Inf("block_%d", layerIdx), x)
	}
	return x
}

func (tr *Transformer) block(ctx *context.Context, x *Node) *Node {
	residual := x
	x = layers.LayerNormalization(ctx.In("norm_1"), x, -1).Done()
	attn := layers.MultiHeadAttention(ctx.In("self_attention"), x, x, x, tr.numHeads, tr.dim/tr.numHeads).
		Dropout(tr.dropoutRate)
	if !tr.bidirectional {
		attn = attn.UseCausalMask()
	}
	x = attn.Done()
	x = Add(residual, layers.DropoutStatic(ctx.In("dropout_1"), x, tr.dropoutRate))

	residual = x
	x = layers.LayerNormalization(ctx.In("norm_2"), x, -1).Done()
	x = layers.Dense(ctx.In("linear_1"), x, true, tr.dim)
	x = activations.Gelu(x)
	x = layers.DropoutStatic(ctx.In("dropout"), x, tr.dropoutRate)
	x = layers.Dense(ctx.In("linear_2"), x, true, tr.dim)
	return Add(residual, layers.DropoutStatic(ctx.In("dropout_2"), x, tr.dropoutRate))
}
