// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package feedforward implements the two-layer per-node projection used between aggregation layers.
package feedforward

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"k8s.io/klog/v2"
)

// FeedForward projects `dim*numInputs` features to `dim`, then `dim` to `dim`:
//
//	Dense(dim*numInputs -> dim) -> Dropout -> GELU -> Dense(dim -> dim) -> Dropout
//
// numInputs > 1 is used to project back the concatenated output of an aggregation layer.
// Dropout is only active during training.
type FeedForward struct {
	dim, numInputs int
	dropoutRate    float64
}

// Assert FeedForward is a FeatureModule.
var _ module.FeatureModule = (*FeedForward)(nil)

// New returns a FeedForward module, or a configuration error.
func New(dim, numInputs int, dropoutRate float64) (*FeedForward, error) {
	if dim <= 0 {
		return nil, module.Configf("feedforward: dim must be > 0, got %d", dim)
	}
	if numInputs <= 0 {
		return nil, module.Configf("feedforward: numInputs must be > 0, got %d", numInputs)
	}
	if err := module.CheckDropoutRate(dropoutRate); err != nil {
		return nil, err
	}
	klog.V(1).Infof("feedforward.New(dim=%d, numInputs=%d, dropout=%g)", dim, numInputs, dropoutRate)
	return &FeedForward{dim: dim, numInputs: numInputs, dropoutRate: dropoutRate}, nil
}

// InputDim is the expected dimension of the last axis of the input.
func (ff *FeedForward) InputDim() int { return ff.dim * ff.numInputs }

// Dim is the output dimension.
func (ff *FeedForward) Dim() int { return ff.dim }

// Apply implements module.FeatureModule.
func (ff *FeedForward) Apply(ctx *context.Context, x *Node) *Node {
	if x.Rank() < 1 || x.Shape().Dim(-1) != ff.InputDim() {
		Panicf("feedforward: input feature axis must have dimension %d (dim=%d * numInputs=%d), got x.shape=%s",
			ff.InputDim(), ff.dim, ff.numInputs, x.Shape())
	}
	x = layers.Dense(ctx.In("linear_1"), x, true, ff.dim)
	x = layers.DropoutStatic(ctx.In("dropout_1"), x, ff.dropoutRate)
	x = activations.Gelu(x)
	x = layers.Dense(ctx.In("linear_2"), x, true, ff.dim)
	x = layers.DropoutStatic(ctx.In("dropout_2"), x, ff.dropoutRate)
	return x
}

