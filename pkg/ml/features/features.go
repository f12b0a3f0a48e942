// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package features implements the Preparator, which maps raw per-node features to the input
// representation of the graph models.
//
// The raw features are shaped `[num_nodes(*batch), features_dim]`, or `[num_nodes(*batch), seq_len, features_dim]`
// for sequence models. The Preparator, in order:
//
//  1. Optionally replaces the numeric feature columns by their PLR embeddings (see package plr). The output
//     layout is `[embedded numeric columns | remaining columns]`.
//  2. Optionally does the same for the past targets columns, located in the layout produced by step 1.
//  3. Optionally appends learnable per-node embeddings.
package features

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gnnblocks/pkg/ml/layers/plr"
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Embedder embeds each of the features of its input: `[..., F] -> [..., F, EmbeddingDim()]`.
// *plr.PLR is the default implementation.
type Embedder interface {
	module.FeatureModule
	EmbeddingDim() int
}

// Assert plr.PLR is an Embedder.
var _ Embedder = (*plr.PLR)(nil)

// NodeEmbeddingsConfig configures the learnable per-node embeddings.
type NodeEmbeddingsConfig struct {
	// NumNodes in the graph.
	NumNodes int

	// Dim of the embedding of each node.
	Dim int

	// Precomputed embeddings (e.g. DeepWalk) used to initialize the learnable embeddings, shaped [NumNodes][Dim].
	// Optional.
	Precomputed [][]float32
}

// Config of the Preparator.
type Config struct {
	// FeaturesDim is the dimension of the raw features, the last axis of the input.
	FeaturesDim int

	// NumFeaturesMask selects the numeric feature columns. It must have FeaturesDim entries.
	NumFeaturesMask []bool

	// NumFeaturesPLR enables the PLR embeddings of the numeric features, if not nil.
	// Its NumFeatures is set from NumFeaturesMask.
	NumFeaturesPLR *plr.Config

	// PastTargetsMask selects the past targets columns. It must have FeaturesDim entries, and
	// it cannot overlap with NumFeaturesMask if both PLR embeddings are enabled.
	PastTargetsMask []bool

	// PastTargetsPLR enables the PLR embeddings of the past targets, if not nil.
	// Its NumFeatures is set from PastTargetsMask.
	PastTargetsPLR *plr.Config

	// NodeEmbeddings enables the learnable per-node embeddings, if not nil.
	NodeEmbeddings *NodeEmbeddingsConfig

	// NewEmbedder creates the embedders of the numeric features and past targets.
	// It defaults to plr.New.
	NewEmbedder func(cfg plr.Config) (Embedder, error)
}

// embedStage replaces a set of columns by their embeddings.
type embedStage struct {
	scope    string
	columns  []int // Embedded columns.
	rest     []int // Remaining columns, in order.
	embedder Embedder
}

// Preparator prepares the raw node features. It is a module.FeatureModule.
type Preparator struct {
	featuresDim, outputDim int
	stages                 []embedStage
	nodeEmbeddings         *NodeEmbeddingsConfig
	precomputed            *tensors.Tensor
}

// Assert Preparator is a FeatureModule.
var _ module.FeatureModule = (*Preparator)(nil)

// New creates a Preparator, or returns a configuration error.
func New(cfg Config) (*Preparator, error) {
	if cfg.FeaturesDim <= 0 {
		return nil, module.Configf("features: FeaturesDim must be > 0, got %d", cfg.FeaturesDim)
	}
	newEmbedder := cfg.NewEmbedder
	if newEmbedder == nil {
		newEmbedder = func(plrCfg plr.Config) (Embedder, error) { return plr.New(plrCfg) }
	}
	p := &Preparator{featuresDim: cfg.FeaturesDim, outputDim: cfg.FeaturesDim}

	// layout maps the current position of each column to its original column, -1 for embedded values.
	layout := make([]int, cfg.FeaturesDim)
	for ii := range layout {
		layout[ii] = ii
	}

	var numMask []bool
	if cfg.NumFeaturesPLR != nil {
		var err error
		numMask, err = checkMask("NumFeaturesMask", cfg.NumFeaturesMask, cfg.FeaturesDim)
		if err != nil {
			return nil, err
		}
		stage, err := p.newStage("num_features_plr", numMask, layout, *cfg.NumFeaturesPLR, newEmbedder)
		if err != nil {
			return nil, errors.WithMessage(err, "features: numeric features embeddings")
		}
		layout = stage.newLayout(layout)
	}

	if cfg.PastTargetsPLR != nil {
		targetsMask, err := checkMask("PastTargetsMask", cfg.PastTargetsMask, cfg.FeaturesDim)
		if err != nil {
			return nil, err
		}
		for ii := range numMask {
			if numMask[ii] && targetsMask[ii] {
				return nil, module.Configf("features: column %d is selected both by NumFeaturesMask and PastTargetsMask", ii)
			}
		}
		// Locate the past targets in the current layout.
		currentMask := make([]bool, len(layout))
		for pos, original := range layout {
			currentMask[pos] = original >= 0 && targetsMask[original]
		}
		stage, err := p.newStage("past_targets_plr", currentMask, layout, *cfg.PastTargetsPLR, newEmbedder)
		if err != nil {
			return nil, errors.WithMessage(err, "features: past targets embeddings")
		}
		layout = stage.newLayout(layout)
	}

	if cfg.NodeEmbeddings != nil {
		if err := p.setNodeEmbeddings(cfg.NodeEmbeddings); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("features.New(): featuresDim=%d, outputDim=%d, %d embedding stages, node embeddings=%v",
		p.featuresDim, p.outputDim, len(p.stages), p.nodeEmbeddings != nil)
	return p, nil
}

// checkMask validates the mask length and that it selects at least one column.
func checkMask(name string, mask []bool, featuresDim int) ([]bool, error) {
	if len(mask) != featuresDim {
		return nil, module.Configf("features: %s must have FeaturesDim=%d entries, got %d", name, featuresDim, len(mask))
	}
	for _, selected := range mask {
		if selected {
			return mask, nil
		}
	}
	return nil, module.Configf("features: %s selects no column, but its PLR embeddings are enabled", name)
}

// newStage creates an embedding stage for the columns selected by mask in the current layout,
// and updates the output dimension.
func (p *Preparator) newStage(scope string, mask []bool, layout []int, plrCfg plr.Config,
	newEmbedder func(plr.Config) (Embedder, error)) (*embedStage, error) {
	stage := embedStage{scope: scope}
	for pos, selected := range mask {
		if selected {
			stage.columns = append(stage.columns, pos)
		} else {
			stage.rest = append(stage.rest, pos)
		}
	}
	plrCfg.NumFeatures = len(stage.columns)
	embedder, err := newEmbedder(plrCfg)
	if err != nil {
		return nil, err
	}
	stage.embedder = embedder
	numColumns := len(stage.columns)
	p.outputDim += numColumns*embedder.EmbeddingDim() - numColumns
	p.stages = append(p.stages, stage)
	return &p.stages[len(p.stages)-1], nil
}

// newLayout returns the layout after the stage is applied.
func (stage *embedStage) newLayout(layout []int) []int {
	numEmbedded := len(stage.columns) * stage.embedder.EmbeddingDim()
	newLayout := make([]int, 0, numEmbedded+len(stage.rest))
	for range numEmbedded {
		newLayout = append(newLayout, -1)
	}
	for _, pos := range stage.rest {
		newLayout = append(newLayout, layout[pos])
	}
	return newLayout
}

func (p *Preparator) setNodeEmbeddings(cfg *NodeEmbeddingsConfig) error {
	if cfg.NumNodes <= 0 || cfg.Dim <= 0 {
		return module.Configf("features: node embeddings NumNodes and Dim must be > 0, got %d and %d", cfg.NumNodes, cfg.Dim)
	}
	if cfg.Precomputed != nil {
		if len(cfg.Precomputed) != cfg.NumNodes {
			return module.Configf("features: precomputed node embeddings have %d rows, but there are %d nodes",
				len(cfg.Precomputed), cfg.NumNodes)
		}
		for ii, row := range cfg.Precomputed {
			if len(row) != cfg.Dim {
				return module.Configf("features: node embeddings dimension (%d) doesn't match the dimension of the "+
					"precomputed embeddings (%d, for node %d)", cfg.Dim, len(row), ii)
			}
		}
		p.precomputed = tensors.FromValue(cfg.Precomputed)
	}
	// Precomputed values are already copied to p.precomputed.
	p.nodeEmbeddings = &NodeEmbeddingsConfig{NumNodes: cfg.NumNodes, Dim: cfg.Dim}
	p.outputDim += cfg.Dim
	return nil
}

// FeaturesDim is the expected dimension of the last axis of the input.
func (p *Preparator) FeaturesDim() int { return p.featuresDim }

// OutputDim is the dimension of the last axis of the output.
func (p *Preparator) OutputDim() int { return p.outputDim }

// Apply implements module.FeatureModule.
func (p *Preparator) Apply(ctx *context.Context, x *Node) *Node {
	if (x.Rank() != 2 && x.Rank() != 3) || x.Shape().Dim(-1) != p.featuresDim {
		Panicf("features.Preparator: input must be shaped [num_nodes, features_dim=%d] or "+
			"[num_nodes, seq_len, features_dim=%d], got %s", p.featuresDim, p.featuresDim, x.Shape())
	}
	for _, stage := range p.stages {
		x = stage.apply(ctx.In(stage.scope), x)
	}
	if p.nodeEmbeddings != nil {
		x = Concatenate([]*Node{x, p.nodeEmbeddingsFor(ctx.In("node_embeddings"), x)}, -1)
	}
	return x
}

func (stage *embedStage) apply(ctx *context.Context, x *Node) *Node {
	embedded := stage.embedder.Apply(ctx, selectColumns(x, stage.columns)) // [..., k, e]
	dims := embedded.Shape().Dimensions
	flatDims := append([]int(nil), dims[:len(dims)-2]...)
	flatDims = append(flatDims, dims[len(dims)-2]*dims[len(dims)-1])
	embedded = Reshape(embedded, flatDims...)
	if len(stage.rest) == 0 {
		return embedded
	}
	return Concatenate([]*Node{embedded, selectColumns(x, stage.rest)}, -1)
}

// nodeEmbeddingsFor returns the node embeddings repeated for every graph instance in x,
// and broadcast over the sequence axis if x has one.
func (p *Preparator) nodeEmbeddingsFor(ctx *context.Context, x *Node) *Node {
	g := x.Graph()
	numNodes, dim := p.nodeEmbeddings.NumNodes, p.nodeEmbeddings.Dim
	var embeddings *Node
	if p.precomputed != nil {
		embeddings = ctx.VariableWithValue("embeddings", p.precomputed).ValueGraph(g)
		embeddings = ConvertDType(embeddings, x.DType())
	} else {
		embeddings = ctx.VariableWithShape("embeddings", shapes.Make(x.DType(), numNodes, dim)).ValueGraph(g)
	}
	totalNodes := x.Shape().Dim(0)
	if totalNodes%numNodes != 0 {
		Panicf("features.Preparator: the node axis of x (%d) must be a multiple of the number of nodes (%d), got x.shape=%s",
			totalNodes, numNodes, x.Shape())
	}
	graphBatchSize := totalNodes / numNodes
	if graphBatchSize > 1 {
		embeddings = BroadcastToDims(ExpandAxes(embeddings, 0), graphBatchSize, numNodes, dim)
		embeddings = Reshape(embeddings, totalNodes, dim)
	}
	if x.Rank() == 3 {
		embeddings = BroadcastToDims(ExpandAxes(embeddings, 1), totalNodes, x.Shape().Dim(1), dim)
	}
	return embeddings
}

// selectColumns returns x[..., columns].
func selectColumns(x *Node, columns []int) *Node {
	rank := x.Rank()
	toFront := make([]int, rank)
	toBack := make([]int, rank)
	toFront[0] = rank - 1
	for axis := 1; axis < rank; axis++ {
		toFront[axis] = axis - 1
	}
	for axis := 0; axis < rank-1; axis++ {
		toBack[axis] = axis + 1
	}
	toBack[rank-1] = 0

	indices := make([][]int32, len(columns))
	for ii, column := range columns {
		indices[ii] = []int32{int32(column)}
	}
	selected := Gather(TransposeAllDims(x, toFront...), Const(x.Graph(), indices))
	return TransposeAllDims(selected, toBack...)
}
