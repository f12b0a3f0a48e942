// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sequence

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/lstm"
	"k8s.io/klog/v2"
)

// RNNType is the recurrent cell used by an RNN encoder.
type RNNType int

const (
	// LSTM cell, implemented by GoMLX's lstm package.
	LSTM RNNType = iota

	// GRU cell, with the gates r (reset), z (update) and n (new).
	GRU
)

// String implements fmt.Stringer.
func (t RNNType) String() string {
	switch t {
	case LSTM:
		return "LSTM"
	case GRU:
		return "GRU"
	default:
		return fmt.Sprintf("RNNType(%d)", int(t))
	}
}

// ParseRNNType converts "LSTM" or "GRU" to an RNNType.
func ParseRNNType(name string) (RNNType, error) {
	switch name {
	case "LSTM":
		return LSTM, nil
	case "GRU":
		return GRU, nil
	default:
		return 0, module.Configf("unknown RNN type %q, valid values are \"LSTM\" and \"GRU\"", name)
	}
}

// RNN encodes sequences shaped `[batch, seq_len, dim]` with a stack of recurrent layers, all with hidden
// size dim, and returns the hidden states of the last layer for every step: `[batch, seq_len, dim]`.
//
// Dropout is applied to the outputs of every layer except the last one, and only during training.
type RNN struct {
	rnnType     RNNType
	numLayers   int
	dim         int
	dropoutRate float64
}

// Assert RNN is a FeatureModule.
var _ module.FeatureModule = (*RNN)(nil)

// NewRNN returns an RNN encoder, or a configuration error.
func NewRNN(rnnType RNNType, numLayers, dim int, dropoutRate float64) (*RNN, error) {
	if rnnType != LSTM && rnnType != GRU {
		return nil, module.Configf("invalid RNN type %s", rnnType)
	}
	if numLayers <= 0 {
		return nil, module.Configf("sequence.NewRNN(): numLayers must be > 0, got %d", numLayers)
	}
	if dim <= 0 {
		return nil, module.Configf("sequence.NewRNN(): dim must be > 0, got %d", dim)
	}
	if err := module.CheckDropoutRate(dropoutRate); err != nil {
		return nil, err
	}
	klog.V(1).Infof("sequence.NewRNN(%s, numLayers=%d, dim=%d, dropout=%g)", rnnType, numLayers, dim, dropoutRate)
	return &RNN{rnnType: rnnType, numLayers: numLayers, dim: dim, dropoutRate: dropoutRate}, nil
}

// Apply implements module.FeatureModule.
func (r *RNN) Apply(ctx *context.Context, x *Node) *Node {
	checkSequence("RNN", x, r.dim)
	for layerIdx := range r.numLayers {
		layerCtx := ctx.Inf("layer_%d", layerIdx)
		if layerIdx > 0 {
			x = layers.DropoutStatic(layerCtx.In("dropout"), x, r.dropoutRate)
		}
		switch r.rnnType {
		case LSTM:
			x = lstmLayer(layerCtx.In("lstm"), x, r.dim)
		case GRU:
			x = gruLayer(layerCtx.In("gru"), x, r.dim)
		}
	}
	return x
}

// checkSequence panics if x is not shaped [batch, seq_len, dim].
func checkSequence(name string, x *Node, dim int) {
	if x.Rank() != 3 || x.Shape().Dim(-1) != dim {
		Panicf("sequence.%s: input must be shaped [batch, seq_len, dim=%d], got %s", name, dim, x.Shape())
	}
}

// lstmLayer runs one forward LSTM layer and returns all its hidden states, batch-major.
func lstmLayer(ctx *context.Context, x *Node, hiddenSize int) *Node {
	allHidden, _, _ := lstm.New(ctx, x, hiddenSize).Done() // [seq_len, 1, batch, hidden]
	allHidden = Squeeze(allHidden, 1)
	return TransposeAllDims(allHidden, 1, 0, 2)
}

// gruLayer runs one forward GRU layer and returns all its hidden states, batch-major.
//
// Weights follow the layout of the lstm package:
//
//   - inputsW: [3, hiddenSize, featuresSize], for r, z and n.
//   - recurrentW: [3, hiddenSize, hiddenSize].
//   - biasesW: [6, hiddenSize], the 3 biases of the input projections followed by the 3 of the recurrent ones.
//
// For each step:
//
//	r = σ(W_ir·x + b_ir + W_hr·h + b_hr)
//	z = σ(W_iz·x + b_iz + W_hz·h + b_hz)
//	n = tanh(W_in·x + b_in + r ⊙ (W_hn·h + b_hn))
//	h = (1 - z) ⊙ n + z ⊙ h
func gruLayer(ctx *context.Context, x *Node, hiddenSize int) *Node {
	g := x.Graph()
	dtype := x.DType()
	batchSize, sequenceSize, featuresSize := x.Shape().Dim(0), x.Shape().Dim(1), x.Shape().Dim(2)
	inputsW := ctx.VariableWithShape("inputsW", shapes.Make(dtype, 3, hiddenSize, featuresSize)).ValueGraph(g)
	recurrentW := ctx.VariableWithShape("recurrentW", shapes.Make(dtype, 3, hiddenSize, hiddenSize)).ValueGraph(g)
	biasesW := ctx.VariableWithShape("biasesW", shapes.Make(dtype, 6, hiddenSize)).ValueGraph(g)

	// Projections of x for all steps at once: [3, batch, seq_len, hidden].
	projX := Einsum("bsf,nhf->nbsh", x, inputsW)
	projX = Add(projX, ExpandAxes(Slice(biasesW, AxisRangeFromStart(3)), 1, 2))
	biasState := Reshape(Slice(biasesW, AxisRangeToEnd(3)), 3, 1, hiddenSize)

	prevHidden := Zeros(g, shapes.Make(dtype, batchSize, hiddenSize))
	hiddenStates := make([]*Node, sequenceSize)
	for seqPos := range sequenceSize {
		projState := Einsum("bh,njh->nbj", prevHidden, recurrentW) // [3, batch, hidden]
		projState = Add(projState, biasState)
		inputFn := func(elemIdx int) *Node {
			return Reshape(Slice(projX, AxisElem(elemIdx), AxisRange(), AxisElem(seqPos)), batchSize, hiddenSize)
		}
		stateFn := func(elemIdx int) *Node {
			return Squeeze(Slice(projState, AxisElem(elemIdx)), 0)
		}
		rT := Sigmoid(Add(inputFn(0), stateFn(0)))
		zT := Sigmoid(Add(inputFn(1), stateFn(1)))
		nT := Tanh(Add(inputFn(2), Mul(rT, stateFn(2))))
		hiddenState := Add(Mul(OneMinus(zT), nT), Mul(zT, prevHidden))
		hiddenStates[seqPos] = hiddenState
		prevHidden = hiddenState
	}
	return Stack(hiddenStates, 1)
}
