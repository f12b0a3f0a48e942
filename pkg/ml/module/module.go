// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package module defines the contracts of the building blocks of graph models, and the
// wrappers that compose them: Residual and Sequential.
//
// A module is a Go value constructed once, with its configuration validated at construction
// (constructors return an error wrapping ErrInvalidConfig), and applied many times while
// building computation graphs. Its parameters are variables stored in the context.Context
// passed to each application, under the scope the caller chooses (see context.Context.In).
//
// There are two kinds of modules:
//
//   - FeatureModule: a function of the node features alone.
//   - GraphModule: a function of the node features and of the graph connectivity.
//
// Wrappers decide once, at construction, the kind of each of their sub-modules, and pass
// the connectivity only to the graph modules.
package module

import (
	"fmt"

	"github.com/gomlx/gnnblocks/pkg/core/msgpass"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// ErrInvalidConfig is wrapped by every configuration error returned by module constructors.
// Use errors.Is to check for it.
var ErrInvalidConfig = errors.New("invalid module configuration")

// Configf returns an error wrapping ErrInvalidConfig with the formatted message.
func Configf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}

// FeatureModule is a module that only uses the node features.
type FeatureModule interface {
	// Apply the module to x, with the parameters stored in ctx. The feature axis is the last.
	Apply(ctx *context.Context, x *Node) *Node
}

// GraphModule is a module that also uses the graph connectivity.
type GraphModule interface {
	// ApplyWithGraph applies the module to x, with the parameters stored in ctx.
	// The leading axis of x is the node axis, and its dimension must be conn.NumNodes().
	ApplyWithGraph(ctx *context.Context, conn msgpass.Connectivity, x *Node) *Node
}

// Kind of module, as resolved by KindOf.
type Kind int

const (
	// KindFeature is a FeatureModule.
	KindFeature Kind = iota

	// KindGraph is a GraphModule.
	KindGraph
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindFeature:
		return "Feature"
	case KindGraph:
		return "Graph"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// TakesGraph returns whether the module is applied with the graph connectivity.
func (k Kind) TakesGraph() bool { return k == KindGraph }

// KindOf returns the kind of the module m.
//
// Values implementing GraphModule are KindGraph, even if they also implement FeatureModule.
// It returns an error if m implements neither.
func KindOf(m any) (Kind, error) {
	switch m.(type) {
	case GraphModule:
		return KindGraph, nil
	case FeatureModule:
		return KindFeature, nil
	case nil:
		return 0, Configf("nil module")
	default:
		return 0, Configf("%T is neither a module.GraphModule nor a module.FeatureModule", m)
	}
}

// CheckHeads returns a configuration error if dim cannot be split in numHeads heads.
func CheckHeads(dim, numHeads int) error {
	if dim <= 0 {
		return Configf("dim must be > 0, got %d", dim)
	}
	if numHeads <= 0 {
		return Configf("number of heads must be > 0, got %d", numHeads)
	}
	if dim%numHeads != 0 {
		return Configf("dim (%d) must be divisible by the number of heads (%d)", dim, numHeads)
	}
	return nil
}

// CheckDropoutRate returns a configuration error if rate is not in the range [0, 1).
func CheckDropoutRate(rate float64) error {
	if rate < 0 || rate >= 1 {
		return Configf("dropout rate must be in the range [0, 1), got %g", rate)
	}
	return nil
}

// FeatureFunc converts a function into a FeatureModule.
type FeatureFunc func(ctx *context.Context, x *Node) *Node

// Apply implements FeatureModule.
func (fn FeatureFunc) Apply(ctx *context.Context, x *Node) *Node { return fn(ctx, x) }

// GraphFunc converts a function into a GraphModule.
type GraphFunc func(ctx *context.Context, conn msgpass.Connectivity, x *Node) *Node

// ApplyWithGraph implements GraphModule.
func (fn GraphFunc) ApplyWithGraph(ctx *context.Context, conn msgpass.Connectivity, x *Node) *Node {
	return fn(ctx, conn, x)
}
