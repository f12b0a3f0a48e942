// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plr implements PLR (Periodic, Linear, ReLU) embeddings of numeric features.
//
// Each scalar feature x is expanded to an EmbeddingDim vector:
//
//	v = 2π · c · x                    // c: learned frequencies, initialized from N(0, FrequenciesScale²)
//	e = ReLU(Linear([cos(v), sin(v)]))
//
// See "On Embeddings for Numerical Features in Tabular Deep Learning", https://arxiv.org/abs/2203.05556
package plr

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// Config of the PLR embeddings.
type Config struct {
	// NumFeatures is the number of numeric features embedded, the dimension of the last axis of the input.
	NumFeatures int

	// FrequenciesDim is the number of frequencies per feature.
	FrequenciesDim int

	// FrequenciesScale is the standard deviation of the initial frequencies.
	FrequenciesScale float64

	// EmbeddingDim is the dimension of the embedding of each feature.
	EmbeddingDim int

	// SharedLinear uses the same linear projection for every feature.
	SharedLinear bool

	// SharedFrequencies uses the same frequencies for every feature.
	SharedFrequencies bool
}

// PLR embeds numeric features. It is a module.FeatureModule mapping `[..., NumFeatures]` to
// `[..., NumFeatures, EmbeddingDim]`.
type PLR struct {
	cfg Config
}

// Assert PLR is a FeatureModule.
var _ module.FeatureModule = (*PLR)(nil)

// New returns a PLR embedding layer, or a configuration error.
func New(cfg Config) (*PLR, error) {
	if cfg.NumFeatures <= 0 || cfg.FrequenciesDim <= 0 || cfg.EmbeddingDim <= 0 {
		return nil, module.Configf("plr: NumFeatures, FrequenciesDim and EmbeddingDim must be > 0, got %+v", cfg)
	}
	if cfg.FrequenciesScale <= 0 {
		return nil, module.Configf("plr: FrequenciesScale must be > 0, got %g", cfg.FrequenciesScale)
	}
	return &PLR{cfg: cfg}, nil
}

// EmbeddingDim is the size of the embedding of each feature.
func (p *PLR) EmbeddingDim() int { return p.cfg.EmbeddingDim }

// NumFeatures is the number of features embedded.
func (p *PLR) NumFeatures() int { return p.cfg.NumFeatures }

// Apply implements module.FeatureModule.
func (p *PLR) Apply(ctx *context.Context, x *Node) *Node {
	cfg := p.cfg
	if x.Rank() < 1 || x.Shape().Dim(-1) != cfg.NumFeatures {
		Panicf("plr: input must be shaped [..., NumFeatures=%d], got %s", cfg.NumFeatures, x.Shape())
	}
	g := x.Graph()
	dtype := x.DType()
	outerDims := x.Shape().Dimensions[:x.Rank()-1]
	outerSize := 1
	for _, dim := range outerDims {
		outerSize *= dim
	}
	x = Reshape(x, outerSize, cfg.NumFeatures, 1)

	// Periodic.
	numFreqFeatures := cfg.NumFeatures
	if cfg.SharedFrequencies {
		numFreqFeatures = 1
	}
	scale := cfg.FrequenciesScale
	frequencies := ctx.In("periodic").WithInitializer(func(g *Graph, shape shapes.Shape) *Node {
		return MulScalar(ctx.RandomNormal(g, shape), scale)
	}).VariableWithShape("frequencies", shapes.Make(dtype, numFreqFeatures, cfg.FrequenciesDim)).ValueGraph(g)
	periodicDims := []int{outerSize, cfg.NumFeatures, cfg.FrequenciesDim}
	v := Mul(
		BroadcastToDims(MulScalar(x, 2*math.Pi), periodicDims...),
		BroadcastToDims(ExpandAxes(frequencies, 0), periodicDims...))
	v = Concatenate([]*Node{Cos(v), Sin(v)}, -1) // [outer, F, 2k]

	// Linear.
	if cfg.SharedLinear {
		v = layers.Dense(ctx.In("linear"), v, true, cfg.EmbeddingDim)
	} else {
		linearCtx := ctx.In("linear")
		weights := linearCtx.VariableWithShape("weights",
			shapes.Make(dtype, cfg.NumFeatures, 2*cfg.FrequenciesDim, cfg.EmbeddingDim)).ValueGraph(g)
		biases := linearCtx.VariableWithShape("biases",
			shapes.Make(dtype, cfg.NumFeatures, cfg.EmbeddingDim)).ValueGraph(g)
		v = Einsum("bfk,fke->bfe", v, weights)
		v = Add(v, ExpandAxes(biases, 0))
	}

	// ReLU.
	v = activations.Relu(v)

	outputDims := make([]int, 0, len(outerDims)+2)
	outputDims = append(outputDims, outerDims...)
	outputDims = append(outputDims, cfg.NumFeatures, cfg.EmbeddingDim)
	return Reshape(v, outputDims...)
}
