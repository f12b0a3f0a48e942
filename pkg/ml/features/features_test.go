// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package features

import (
	"testing"

	"github.com/gomlx/gnnblocks/pkg/ml/layers/plr"
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// repeatEmbedder "embeds" each feature by repeating it dim times.
type repeatEmbedder struct{ dim int }

func (r repeatEmbedder) EmbeddingDim() int { return r.dim }

func (r repeatEmbedder) Apply(_ *context.Context, x *Node) *Node {
	dims := append(append([]int(nil), x.Shape().Dimensions...), r.dim)
	return BroadcastToDims(ExpandAxes(x, -1), dims...)
}

func newRepeatEmbedder(cfg plr.Config) (Embedder, error) { return repeatEmbedder{cfg.EmbeddingDim}, nil }

func plrConfig(embeddingDim int) *plr.Config {
	return &plr.Config{FrequenciesDim: 4, FrequenciesScale: 0.1, EmbeddingDim: embeddingDim}
}

func TestOutputDim(t *testing.T) {
	p, err := New(Config{FeaturesDim: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, p.OutputDim())

	p, err = New(Config{
		FeaturesDim:     5,
		NumFeaturesMask: []bool{true, false, true, true, false},
		NumFeaturesPLR:  plrConfig(4),
	})
	require.NoError(t, err)
	assert.Equal(t, 5-3+3*4, p.OutputDim())

	p, err = New(Config{
		FeaturesDim:     5,
		NumFeaturesMask: []bool{true, false, true, true, false},
		NumFeaturesPLR:  plrConfig(4),
		PastTargetsMask: []bool{false, true, false, false, false},
		PastTargetsPLR:  plrConfig(2),
		NodeEmbeddings:  &NodeEmbeddingsConfig{NumNodes: 3, Dim: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, 5+7-3+3*4-1+1*2, p.OutputDim())
}

func TestConfigErrors(t *testing.T) {
	for name, cfg := range map[string]Config{
		"no features": {FeaturesDim: 0},
		"mask length": {FeaturesDim: 3, NumFeaturesMask: []bool{true}, NumFeaturesPLR: plrConfig(2)},
		"empty mask":  {FeaturesDim: 2, NumFeaturesMask: []bool{false, false}, NumFeaturesPLR: plrConfig(2)},
		"overlap": {
			FeaturesDim:     3,
			NumFeaturesMask: []bool{true, true, false},
			NumFeaturesPLR:  plrConfig(2),
			PastTargetsMask: []bool{false, true, false},
			PastTargetsPLR:  plrConfig(2),
		},
		"invalid plr": {FeaturesDim: 2, NumFeaturesMask: []bool{true, false}, NumFeaturesPLR: plrConfig(0)},
		"node embeddings dim": {
			FeaturesDim:    2,
			NodeEmbeddings: &NodeEmbeddingsConfig{NumNodes: 2, Dim: 3, Precomputed: [][]float32{{1, 2}, {3, 4}}},
		},
		"node embeddings rows": {
			FeaturesDim:    2,
			NodeEmbeddings: &NodeEmbeddingsConfig{NumNodes: 3, Dim: 2, Precomputed: [][]float32{{1, 2}, {3, 4}}},
		},
	} {
		_, err := New(cfg)
		require.ErrorIsf(t, err, module.ErrInvalidConfig, "config %q should fail", name)
	}
}

func TestLayout(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	p, err := New(Config{
		FeaturesDim:     4,
		NumFeaturesMask: []bool{true, false, true, false},
		NumFeaturesPLR:  plrConfig(2),
		PastTargetsMask: []bool{false, false, false, true},
		PastTargetsPLR:  plrConfig(3),
		NewEmbedder:     newRepeatEmbedder,
	})
	require.NoError(t, err)
	require.Equal(t, 8, p.OutputDim())
	got := context.MustExecOnce(backend, context.New(), p.Apply, [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}})
	// Numeric columns 0 and 2 are embedded first, then past target column 3 is moved to the front.
	assert.Equal(t, [][]float32{{4, 4, 4, 1, 1, 3, 3, 2}, {8, 8, 8, 5, 5, 7, 7, 6}}, got.Value())
}

func TestAllColumnsEmbedded(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	p, err := New(Config{
		FeaturesDim:     2,
		NumFeaturesMask: []bool{true, true},
		NumFeaturesPLR:  plrConfig(2),
		NewEmbedder:     newRepeatEmbedder,
	})
	require.NoError(t, err)
	got := context.MustExecOnce(backend, context.New(), p.Apply, [][]float32{{1, 2}})
	assert.Equal(t, [][]float32{{1, 1, 2, 2}}, got.Value())
}

func TestPrecomputedNodeEmbeddings(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	p, err := New(Config{
		FeaturesDim:    1,
		NodeEmbeddings: &NodeEmbeddingsConfig{NumNodes: 2, Dim: 2, Precomputed: [][]float32{{0.5, -0.5}, {1, 2}}},
	})
	require.NoError(t, err)
	ctx := context.New()
	// Two graph instances of 2 nodes each.
	got := context.MustExecOnce(backend, ctx, p.Apply, [][]float32{{10}, {20}, {30}, {40}})
	assert.Equal(t, [][]float32{{10, 0.5, -0.5}, {20, 1, 2}, {30, 0.5, -0.5}, {40, 1, 2}}, got.Value())
	assert.NotNil(t, ctx.InspectVariable("/node_embeddings", "embeddings"))
}

func TestConfigIsCopied(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	embeddingsCfg := &NodeEmbeddingsConfig{NumNodes: 2, Dim: 2, Precomputed: [][]float32{{0.5, -0.5}, {1, 2}}}
	p, err := New(Config{FeaturesDim: 1, NodeEmbeddings: embeddingsCfg})
	require.NoError(t, err)
	embeddingsCfg.NumNodes = 4
	embeddingsCfg.Dim = 3
	embeddingsCfg.Precomputed[1][0] = 7
	assert.Equal(t, 3, p.OutputDim())
	got := context.MustExecOnce(backend, context.New(), p.Apply, [][]float32{{10}, {20}})
	assert.Equal(t, [][]float32{{10, 0.5, -0.5}, {20, 1, 2}}, got.Value())
}

func TestApply(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	p, err := New(Config{
		FeaturesDim:     4,
		NumFeaturesMask: []bool{true, false, true, false},
		NumFeaturesPLR:  plrConfig(3),
		PastTargetsMask: []bool{false, true, false, false},
		PastTargetsPLR:  plrConfig(2),
		NodeEmbeddings:  &NodeEmbeddingsConfig{NumNodes: 2, Dim: 5},
	})
	require.NoError(t, err)
	require.Equal(t, 14, p.OutputDim())

	ctx := context.New()
	exec := context.MustNewExec(backend, ctx, p.Apply)
	got := exec.MustExec([][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}, {1, 0, 1, 0}, {0, 1, 0, 1}})[0]
	assert.Equal(t, []int{4, 14}, got.Shape().Dimensions)
	assert.NotNil(t, ctx.InspectVariable("/num_features_plr/periodic", "frequencies"))
	assert.NotNil(t, ctx.InspectVariable("/past_targets_plr/periodic", "frequencies"))

	// Sequences: node embeddings are broadcast over the sequence axis.
	exec = context.MustNewExec(backend, context.New(), func(ctx *context.Context, x *Node) *Node {
		return p.Apply(ctx, x)
	})
	x := make([][][]float32, 2)
	for ii := range x {
		x[ii] = [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}}
	}
	got = exec.MustExec(x)[0]
	require.Equal(t, []int{2, 3, 14}, got.Shape().Dimensions)
	seq := got.Value().([][][]float32)
	for node := range seq {
		for step := 1; step < 3; step++ {
			assert.Equal(t, seq[node][0][9:], seq[node][step][9:])
		}
	}

	// Node axis not a multiple of the number of nodes.
	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, context.New(), p.Apply, [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}, {1, 0, 1, 0}})
	})
}
