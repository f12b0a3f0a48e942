// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/gomlx/gnnblocks/internal/config"
	"github.com/gomlx/gnnblocks/pkg/ml/models/gnn"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticGraph(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	edges, err := syntheticGraph(rng, config.GraphBlock{NumNodes: 20, AvgDegree: 3})
	require.NoError(t, err)
	assert.Equal(t, 20, edges.NumNodes())
	assert.Equal(t, 60, edges.NumEdges())
	for node, degree := range edges.InDegrees() {
		if node > 0 {
			assert.Greaterf(t, degree, 0, "node %d has no incoming edges", node)
		}
	}

	edges, err = syntheticGraph(rng, config.GraphBlock{NumNodes: 1, AvgDegree: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, edges.NumEdges())
}

func TestSyntheticFeatures(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	x := syntheticFeatures(rng, false, 4, 3)
	assert.Equal(t, dtypes.Float32, x.DType())
	assert.Equal(t, []int{4, 3}, x.Shape().Dimensions)

	x = syntheticFeatures(rng, true, 4, 2, 3)
	assert.Equal(t, dtypes.Float16, x.DType())
	assert.Equal(t, []int{4, 2, 3}, x.Shape().Dimensions)
}

func TestLatencyQuantiles(t *testing.T) {
	latencies := []time.Duration{5, 3, 1, 4, 2}
	assert.Equal(t, []time.Duration{1, 3, 5}, latencyQuantiles(latencies, 0, 0.5, 1))
	assert.Equal(t, []time.Duration{5, 3, 1, 4, 2}, latencies, "latencies must not be reordered")
	assert.Equal(t, []time.Duration{0, 0}, latencyQuantiles(nil, 0.5, 1))
}

func TestExampleModel(t *testing.T) {
	f := must.M1(config.Load("example.hcl"))
	m, err := gnn.New(must.M1(f.ModelConfig()))
	require.NoError(t, err)
	assert.True(t, m.IsSequence())
	assert.Equal(t, 12-6+6*8-1+8+16, m.Preparator().OutputDim())
}
