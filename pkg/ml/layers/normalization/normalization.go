// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package normalization exposes the normalization layers used between model blocks as modules,
// registered by name in KnownNormalizations.
//
// All normalizations work over the last (feature) axis.
package normalization

import (
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/support/xslices"
)

var (
	// KnownNormalizations maps normalization names to modules.
	//
	//   - "none": identity.
	//   - "LayerNorm": layers.LayerNormalization over the last axis, with learned gain and offset.
	//   - "BatchNorm": batchnorm over all axes but the last, with moving averages used at inference.
	KnownNormalizations = map[string]module.FeatureModule{
		"none":      module.FeatureFunc(identity),
		"LayerNorm": module.FeatureFunc(layerNorm),
		"BatchNorm": module.FeatureFunc(batchNorm),
	}
)

// New returns the normalization registered under name in KnownNormalizations.
func New(name string) (module.FeatureModule, error) {
	m, found := KnownNormalizations[name]
	if !found {
		return nil, module.Configf("unknown normalization %q, valid values are %q",
			name, xslices.SortedKeys(KnownNormalizations))
	}
	return m, nil
}

func identity(_ *context.Context, x *Node) *Node { return x }

func layerNorm(ctx *context.Context, x *Node) *Node {
	return layers.LayerNormalization(ctx.In("layer_norm"), x, -1).Done()
}

func batchNorm(ctx *context.Context, x *Node) *Node {
	return batchnorm.New(ctx.In("batch_norm"), x, -1).Done()
}
