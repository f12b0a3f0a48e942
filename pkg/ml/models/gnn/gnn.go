// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gnn assembles a graph neural network from the building blocks, resolving each component
// by name from the registries of the aggregation, sequence and normalization packages.
//
// The model is:
//
//	features.Preparator -> Dense(hidden) -> GeLU
//	-> [SeqNumLayers x Residual(norm, sequence encoder) -> last time step]   // optional
//	-> NumLayers x Residual(norm, aggregation, FeedForward)
//	-> norm -> Dense(OutputDim)
//
// It is used as a module.GraphModule: it takes the connectivity of the graph besides the node features.
package gnn

import (
	"fmt"
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gnnblocks/pkg/core/msgpass"
	"github.com/gomlx/gnnblocks/pkg/ml/features"
	"github.com/gomlx/gnnblocks/pkg/ml/layers/aggregation"
	"github.com/gomlx/gnnblocks/pkg/ml/layers/feedforward"
	"github.com/gomlx/gnnblocks/pkg/ml/layers/normalization"
	"github.com/gomlx/gnnblocks/pkg/ml/layers/sequence"
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config of the model.
type Config struct {
	// Features configures the preparation of the raw node features.
	Features features.Config

	// HiddenDim is the dimension of the node representations inside the model.
	HiddenDim int

	// OutputDim is the dimension of the model output, per node.
	OutputDim int

	// NumLayers of graph blocks.
	NumLayers int

	// Aggregation is the name of the neighborhood aggregation, see aggregation.KnownAggregations.
	Aggregation string

	// NumHeads used by the attention aggregations and the Transformer sequence encoder.
	NumHeads int

	// Normalization is the name of the normalization used at the start of each block, see
	// normalization.KnownNormalizations.
	Normalization string

	// DropoutRate used everywhere.
	DropoutRate float64

	// SequenceEncoder is the name of the sequence encoder, see sequence.KnownEncoders.
	// If empty, the input is not a sequence.
	SequenceEncoder string

	// SeqNumLayers is the number of residual sequence blocks. Each block has its own encoder.
	SeqNumLayers int

	// SeqLen is the length of the input sequences.
	SeqLen int

	// SeqEncoderLayers is the number of layers within each sequence encoder.
	SeqEncoderLayers int

	// RNNType is "LSTM" or "GRU", used by the "RNN" sequence encoder.
	RNNType string

	// Bidirectional Transformer sequence encoder.
	Bidirectional bool
}

// Model is a graph neural network assembled from Config. It is a module.GraphModule.
type Model struct {
	cfg         Config
	preparator  *features.Preparator
	seqBlocks   []*module.Residual
	graphBlocks []*module.Residual
	finalNorm   module.FeatureModule
}

// Assert Model is a GraphModule.
var _ module.GraphModule = (*Model)(nil)

// New creates the model, or returns a configuration error if any of its components is misconfigured.
func New(cfg Config) (*Model, error) {
	if cfg.HiddenDim <= 0 || cfg.OutputDim <= 0 {
		return nil, module.Configf("gnn: HiddenDim and OutputDim must be > 0, got %d and %d", cfg.HiddenDim, cfg.OutputDim)
	}
	if cfg.NumLayers < 0 || cfg.SeqNumLayers < 0 {
		return nil, module.Configf("gnn: NumLayers and SeqNumLayers must be >= 0, got %d and %d", cfg.NumLayers, cfg.SeqNumLayers)
	}
	if err := module.CheckDropoutRate(cfg.DropoutRate); err != nil {
		return nil, err
	}
	m := &Model{cfg: cfg}
	var err error
	m.preparator, err = features.New(cfg.Features)
	if err != nil {
		return nil, errors.WithMessage(err, "gnn: features")
	}
	if m.finalNorm, err = normalization.New(cfg.Normalization); err != nil {
		return nil, err
	}

	if cfg.SequenceEncoder != "" {
		if cfg.SeqNumLayers == 0 {
			return nil, module.Configf("gnn: SequenceEncoder %q given, but SeqNumLayers is 0", cfg.SequenceEncoder)
		}
		seqCfg := sequence.Config{
			RNNType:       cfg.RNNType,
			NumLayers:     cfg.SeqEncoderLayers,
			Dim:           cfg.HiddenDim,
			NumHeads:      cfg.NumHeads,
			SeqLen:        cfg.SeqLen,
			Bidirectional: cfg.Bidirectional,
			DropoutRate:   cfg.DropoutRate,
		}
		if seqCfg.NumLayers == 0 {
			seqCfg.NumLayers = 1
		}
		for ii := range cfg.SeqNumLayers {
			encoder, err := sequence.New(cfg.SequenceEncoder, seqCfg)
			if err != nil {
				return nil, errors.WithMessagef(err, "gnn: sequence block #%d", ii)
			}
			block, err := module.NewResidual(m.finalNorm, encoder)
			if err != nil {
				return nil, errors.WithMessagef(err, "gnn: sequence block #%d", ii)
			}
			m.seqBlocks = append(m.seqBlocks, block)
		}
	}

	aggrCfg := aggregation.Config{Dim: cfg.HiddenDim, NumHeads: cfg.NumHeads, DropoutRate: cfg.DropoutRate}
	for ii := range cfg.NumLayers {
		aggr, err := aggregation.New(cfg.Aggregation, aggrCfg)
		if err != nil {
			return nil, errors.WithMessagef(err, "gnn: graph block #%d", ii)
		}
		ff, err := feedforward.New(cfg.HiddenDim, 2, cfg.DropoutRate)
		if err != nil {
			return nil, errors.WithMessagef(err, "gnn: graph block #%d", ii)
		}
		block, err := module.NewResidual(m.finalNorm, aggr, ff)
		if err != nil {
			return nil, errors.WithMessagef(err, "gnn: graph block #%d", ii)
		}
		m.graphBlocks = append(m.graphBlocks, block)
	}
	klog.V(1).Infof("gnn.New(): %s", m)
	return m, nil
}

// Config returns the configuration used to build the model.
func (m *Model) Config() Config { return m.cfg }

// Preparator used to prepare the raw node features.
func (m *Model) Preparator() *features.Preparator { return m.preparator }

// IsSequence returns whether the model takes sequences of node features, shaped `[num_nodes, seq_len, features_dim]`.
func (m *Model) IsSequence() bool { return len(m.seqBlocks) > 0 }

// String implements fmt.Stringer.
func (m *Model) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "GNN(features %d->%d, hidden=%d, output=%d",
		m.preparator.FeaturesDim(), m.preparator.OutputDim(), m.cfg.HiddenDim, m.cfg.OutputDim)
	if m.IsSequence() {
		_, _ = fmt.Fprintf(&sb, ", %d x %s[len=%d]", len(m.seqBlocks), m.cfg.SequenceEncoder, m.cfg.SeqLen)
	}
	_, _ = fmt.Fprintf(&sb, ", %d x %s, norm=%s)", len(m.graphBlocks), m.cfg.Aggregation, m.cfg.Normalization)
	return sb.String()
}

// ApplyWithGraph implements module.GraphModule. It takes the raw node features x shaped
// `[num_nodes, features_dim]`, or `[num_nodes, seq_len, features_dim]` for sequence models,
// and returns `[num_nodes, OutputDim]`.
func (m *Model) ApplyWithGraph(ctx *context.Context, conn msgpass.Connectivity, x *Node) *Node {
	wantRank := 2
	if m.IsSequence() {
		wantRank = 3
	}
	if x.Rank() != wantRank {
		Panicf("gnn: model expects node features of rank %d, got x.shape=%s", wantRank, x.Shape())
	}
	if conn != nil && conn.NumNodes() != x.Shape().Dim(0) {
		Panicf("gnn: connectivity has %d nodes, but x.shape=%s", conn.NumNodes(), x.Shape())
	}

	x = m.preparator.Apply(ctx.In("features"), x)
	x = layers.Dense(ctx.In("input_linear"), x, true, m.cfg.HiddenDim)
	x = layers.DropoutStatic(ctx, x, m.cfg.DropoutRate)
	x = activations.Gelu(x)

	if m.IsSequence() {
		for ii, block := range m.seqBlocks {
			x = block.ApplyWithGraph(ctx.Inf("seq_block_%d", ii), nil, x)
		}
		// Keep only the last time step.
		x = Squeeze(Slice(x, AxisRange(), AxisElem(-1)), 1)
	}

	for ii, block := range m.graphBlocks {
		x = block.ApplyWithGraph(ctx.Inf("graph_block_%d", ii), conn, x)
	}
	x = m.finalNorm.Apply(ctx.In("final_norm"), x)
	return layers.Dense(ctx.In("output_linear"), x, true, m.cfg.OutputDim)
}
