// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sequence

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

func TestConfigErrors(t *testing.T) {
	_, err := NewTransformer(2, 10, 4, 5, false, 0)
	require.ErrorIs(t, err, module.ErrInvalidConfig)
	_, err = New("Transformer", Config{NumLayers: 1, Dim: 6, NumHeads: 4, SeqLen: 3})
	require.ErrorIs(t, err, module.ErrInvalidConfig)
	_, err = NewTransformer(0, 8, 4, 5, false, 0)
	require.ErrorIs(t, err, module.ErrInvalidConfig)
	_, err = NewTransformer(1, 8, 4, 0, false, 0)
	require.ErrorIs(t, err, module.ErrInvalidConfig)

	_, err = ParseRNNType("Elman")
	require.ErrorIs(t, err, module.ErrInvalidConfig)
	_, err = New("RNN", Config{RNNType: "Elman", NumLayers: 1, Dim: 4})
	require.ErrorIs(t, err, module.ErrInvalidConfig)
	_, err = NewRNN(LSTM, 0, 4, 0)
	require.ErrorIs(t, err, module.ErrInvalidConfig)
	_, err = NewRNN(GRU, 1, 4, 1)
	require.ErrorIs(t, err, module.ErrInvalidConfig)
	_, err = New("S4", Config{})
	require.ErrorIs(t, err, module.ErrInvalidConfig)
}

func TestRegistry(t *testing.T) {
	m, err := New("RNN", Config{RNNType: "GRU", NumLayers: 2, Dim: 4, DropoutRate: 0.1})
	require.NoError(t, err)
	require.IsType(t, &RNN{}, m)
	assert.Equal(t, GRU, m.(*RNN).rnnType)
	assert.Equal(t, "GRU", GRU.String())

	m, err = New("Transformer", Config{NumLayers: 2, Dim: 8, NumHeads: 2, SeqLen: 3, Bidirectional: true})
	require.NoError(t, err)
	require.IsType(t, &Transformer{}, m)
	assert.True(t, m.(*Transformer).bidirectional)
}

// sequences returns a batch of 2 sequences of length 4 with 4 features, and a copy with the last step changed.
func sequences() (x, xChangedLast [][][]float32) {
	x = [][][]float32{
		{{0.1, 0.2, 0.3, 0.4}, {0.5, -0.5, 0.5, -0.5}, {1, 0, 0, 1}, {0.3, 0.3, 0.3, 0.3}},
		{{-1, 1, -1, 1}, {0, 0, 0, 0}, {0.2, 0.4, 0.6, 0.8}, {0.9, 0.1, 0.9, 0.1}},
	}
	xChangedLast = make([][][]float32, len(x))
	for b := range x {
		xChangedLast[b] = make([][]float32, len(x[b]))
		for s := range x[b] {
			xChangedLast[b][s] = append([]float32(nil), x[b][s]...)
		}
		xChangedLast[b][3] = []float32{5, -5, 5, -5}
	}
	return
}

// runTwice runs encoder on both inputs, with the same parameters.
func runTwice(t *testing.T, encoder module.FeatureModule, x0, x1 any) (out0, out1 [][][]float32, ctx *context.Context) {
	backend := graphtest.BuildTestBackend()
	ctx = context.New()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return encoder.Apply(ctx.In("encoder"), x)
	})
	t0 := exec.MustExec(x0)[0]
	t1 := exec.MustExec(x1)[0]
	require.Equal(t, []int{2, 4, 4}, t0.Shape().Dimensions)
	return t0.Value().([][][]float32), t1.Value().([][][]float32), ctx
}

// assertPrefixEqual checks that the first numSteps of each sequence are equal.
func assertPrefixEqual(t *testing.T, out0, out1 [][][]float32, numSteps int) {
	for b := range out0 {
		for s := range numSteps {
			assert.InDeltaSlice(t, out0[b][s], out1[b][s], 1e-5, "batch %d, step %d", b, s)
		}
	}
}

func TestRNN(t *testing.T) {
	x, xChanged := sequences()
	for _, rnnType := range []RNNType{LSTM, GRU} {
		t.Run(rnnType.String(), func(t *testing.T) {
			encoder, err := NewRNN(rnnType, 2, 4, 0.2)
			require.NoError(t, err)
			out0, out1, ctx := runTwice(t, encoder, x, xChanged)
			// Recurrent layers are causal.
			assertPrefixEqual(t, out0, out1, 3)
			assert.NotEqual(t, out0[0][3], out1[0][3])
			// inputsW, recurrentW and biasesW, per layer.
			var count int
			for range ctx.In("encoder").IterVariablesInScope() {
				count++
			}
			assert.Equal(t, 6, count)
		})
	}
}

func TestGRUCell(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.VariableWithValue("inputsW", [][][]float32{{{1}}, {{1}}, {{1}}})
	ctx.VariableWithValue("recurrentW", [][][]float32{{{1}}, {{1}}, {{1}}})
	ctx.VariableWithValue("biasesW", [][]float32{{0}, {0}, {0}, {0}, {0}, {0}})
	got := context.MustExecOnce(backend, ctx.Reuse(), func(ctx *context.Context, x *Node) *Node {
		return gruLayer(ctx, x, 1)
	}, [][][]float32{{{1}, {2}}})
	assert.InDeltaSlice(t, []float32{0.20482421}, got.Value().([][][]float32)[0][0], 1e-5)
	assert.InDeltaSlice(t, []float32{0.28131543}, got.Value().([][][]float32)[0][1], 1e-5)
}

func TestTransformer(t *testing.T) {
	x, xChanged := sequences()

	causal, err := NewTransformer(2, 4, 2, 4, false, 0.1)
	require.NoError(t, err)
	out0, out1, ctx := runTwice(t, causal, x, xChanged)
	assertPrefixEqual(t, out0, out1, 3)
	assert.Greater(t, ctx.NumVariables(), 1)
	assert.NotNil(t, ctx.InspectVariable("/encoder/positional_embeddings", "embeddings"))

	bidirectional, err := NewTransformer(1, 4, 4, 4, true, 0)
	require.NoError(t, err)
	out0, out1, _ = runTwice(t, bidirectional, x, xChanged)
	// Earlier steps attend to the changed last step.
	assert.NotEqual(t, out0[0][0], out1[0][0])

	// Sequence length must match the positional embeddings.
	backend := graphtest.BuildTestBackend()
	require.Panics(t, func() {
		context.MustExecOnce(backend, context.New(), func(ctx *context.Context, x *Node) *Node {
			return causal.Apply(ctx, x)
		}, [][][]float32{{{1, 2, 3, 4}}})
	})
}
