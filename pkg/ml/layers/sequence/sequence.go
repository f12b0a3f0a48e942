// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sequence implements encoders of per-node temporal feature sequences, shaped `[batch, seq_len, dim]`.
//
// They don't use the graph connectivity: all encoders are module.FeatureModule.
// Available encoders are registered by name in KnownEncoders.
package sequence

import (
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	"github.com/gomlx/gomlx/pkg/support/xslices"
)

// Config holds the parameters used by the constructors in KnownEncoders.
// Fields not used by an encoder are ignored.
type Config struct {
	// RNNType is "LSTM" or "GRU", used by the "RNN" encoder.
	RNNType string

	NumLayers int
	Dim       int

	// NumHeads, SeqLen and Bidirectional are used by the "Transformer" encoder.
	NumHeads      int
	SeqLen        int
	Bidirectional bool

	DropoutRate float64
}

var (
	// KnownEncoders maps sequence encoder names to their constructors.
	KnownEncoders = map[string]func(cfg Config) (module.FeatureModule, error){
		"RNN": func(cfg Config) (module.FeatureModule, error) {
			rnnType, err := ParseRNNType(cfg.RNNType)
			if err != nil {
				return nil, err
			}
			return NewRNN(rnnType, cfg.NumLayers, cfg.Dim, cfg.DropoutRate)
		},
		"Transformer": func(cfg Config) (module.FeatureModule, error) {
			return NewTransformer(cfg.NumLayers, cfg.Dim, cfg.NumHeads, cfg.SeqLen, cfg.Bidirectional, cfg.DropoutRate)
		},
	}
)

// New creates the sequence encoder registered under name in KnownEncoders.
func New(name string, cfg Config) (module.FeatureModule, error) {
	newFn, found := KnownEncoders[name]
	if !found {
		return nil, module.Configf("unknown sequence encoder %q, valid values are %q", name, xslices.SortedKeys(KnownEncoders))
	}
	return newFn(cfg)
}
