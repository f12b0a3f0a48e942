// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package normalization

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
	for _, name := range []string{"none", "LayerNorm", "BatchNorm"} {
		m, err := New(name)
		require.NoError(t, err)
		require.NotNil(t, m)
	}
	_, err := New("GroupNorm")
	require.ErrorIs(t, err, module.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "LayerNorm")
}

func TestNormalizations(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	x := [][]float32{{1, 2, 3, 4}, {10, 10, 10, 14}}

	none, _ := New("none")
	got := context.MustExecOnce(backend, context.New(), none.Apply, x)
	assert.Equal(t, x, got.Value())

	layerNorm, _ := New("LayerNorm")
	ctx := context.New()
	got = context.MustExecOnce(backend, ctx, layerNorm.Apply, x)
	require.Equal(t, []int{2, 4}, got.Shape().Dimensions)
	for _, row := range got.Value().([][]float32) {
		var mean float32
		for _, v := range row {
			mean += v
		}
		assert.InDelta(t, 0, mean/4, 1e-4)
	}
	assert.Equal(t, 2, ctx.NumVariables()) // gain and offset

	batchNorm, _ := New("BatchNorm")
	got = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, x *Node) *Node {
		return batchNorm.Apply(ctx, x)
	}, x)
	require.Equal(t, []int{2, 4}, got.Shape().Dimensions)
}
