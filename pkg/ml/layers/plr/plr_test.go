// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plr

import (
	"testing"

	"github.com/gomlx/gnnblocks/pkg/ml/module"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(Config{NumFeatures: 0, FrequenciesDim: 4, FrequenciesScale: 1, EmbeddingDim: 2})
	require.ErrorIs(t, err, module.ErrInvalidConfig)
	_, err = New(Config{NumFeatures: 3, FrequenciesDim: 4, FrequenciesScale: 0, EmbeddingDim: 2})
	require.ErrorIs(t, err, module.ErrInvalidConfig)
	p, err := New(Config{NumFeatures: 3, FrequenciesDim: 4, FrequenciesScale: 0.1, EmbeddingDim: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, p.EmbeddingDim())
	assert.Equal(t, 3, p.NumFeatures())
}

func TestApply(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, shared := range []bool{false, true} {
		p, err := New(Config{
			NumFeatures:       3,
			FrequenciesDim:    8,
			FrequenciesScale:  0.5,
			EmbeddingDim:      4,
			SharedLinear:      shared,
			SharedFrequencies: shared,
		})
		require.NoError(t, err)
		ctx := context.New()
		exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
			return p.Apply(ctx.In("plr"), x)
		})

		out := exec.MustExec([][]float32{{0.1, -2, 3}, {1, 0, 0.5}})[0]
		require.Equal(t, []int{2, 3, 4}, out.Shape().Dimensions)
		for _, features := range out.Value().([][][]float32) {
			for _, embedding := range features {
				for _, v := range embedding {
					assert.GreaterOrEqual(t, v, float32(0)) // ReLU
				}
			}
		}

		// Sequences: [batch, seq_len, F] -> [batch, seq_len, F, EmbeddingDim].
		out = exec.MustExec([][][]float32{{{0.1, -2, 3}, {1, 0, 0.5}}})[0]
		require.Equal(t, []int{1, 2, 3, 4}, out.Shape().Dimensions)

		frequencies := ctx.InspectVariable("/plr/periodic", "frequencies")
		require.NotNil(t, frequencies)
		if shared {
			assert.Equal(t, []int{1, 8}, frequencies.Shape().Dimensions)
		} else {
			assert.Equal(t, []int{3, 8}, frequencies.Shape().Dimensions)
			assert.Equal(t, []int{3, 16, 4}, ctx.InspectVariable("/plr/linear", "weights").Shape().Dimensions)
		}
	}
}

func TestFeaturesAreIndependent(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	p, err := New(Config{NumFeatures: 2, FrequenciesDim: 4, FrequenciesScale: 1, EmbeddingDim: 3})
	require.NoError(t, err)
	exec := context.MustNewExec(backend, context.New(), p.Apply)
	out0 := exec.MustExec([]float32{1, 2})[0].Value().([][]float32)
	out1 := exec.MustExec([]float32{7, 2})[0].Value().([][]float32)
	assert.InDeltaSlice(t, out0[1], out1[1], 1e-6)
}
