// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"fmt"
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gnnblocks/pkg/core/msgpass"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sequential applies a chain of modules, in order, each to the output of the previous one.
//
// Module i is applied under the scope ctx.In(ScopeName(i)), so each module gets its own variables.
// Only graph modules receive the connectivity.
type Sequential struct {
	modules []any
	kinds   []Kind
}

// Assert Sequential is a GraphModule.
var _ GraphModule = (*Sequential)(nil)

// NewSequential creates a Sequential chain. Each module must be a GraphModule or a FeatureModule.
func NewSequential(modules ...any) (*Sequential, error) {
	if len(modules) == 0 {
		return nil, Configf("at least one module is required")
	}
	s := &Sequential{
		modules: append([]any(nil), modules...),
		kinds:   make([]Kind, len(modules)),
	}
	for ii, m := range modules {
		kind, err := KindOf(m)
		if err != nil {
			return nil, errors.WithMessagef(err, "module #%d", ii)
		}
		s.kinds[ii] = kind
	}
	return s, nil
}

// ScopeName is the context scope used for the i-th module of a chain.
func ScopeName(i int) string {
	return fmt.Sprintf("%02d", i)
}

// Len returns the number of modules in the chain.
func (s *Sequential) Len() int { return len(s.modules) }

// Kinds returns the kind of each module, resolved at construction.
func (s *Sequential) Kinds() []Kind {
	return append([]Kind(nil), s.kinds...)
}

// TakesGraph returns whether any of the modules uses the connectivity.
func (s *Sequential) TakesGraph() bool {
	for _, kind := range s.kinds {
		if kind.TakesGraph() {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (s *Sequential) String() string {
	parts := make([]string, len(s.modules))
	for ii, m := range s.modules {
		parts[ii] = fmt.Sprintf("%T(%s)", m, s.kinds[ii])
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ApplyWithGraph implements GraphModule.
//
// conn can be nil if no module takes the graph.
func (s *Sequential) ApplyWithGraph(ctx *context.Context, conn msgpass.Connectivity, x *Node) *Node {
	for ii, m := range s.modules {
		moduleCtx := ctx.In(ScopeName(ii))
		if s.kinds[ii].TakesGraph() {
			if conn == nil {
				Panicf("module #%d (%T) requires the graph connectivity, but none was given", ii, m)
			}
			x = m.(GraphModule).ApplyWithGraph(moduleCtx, conn, x)
		} else {
			x = m.(FeatureModule).Apply(moduleCtx, x)
		}
	}
	return x
}

// Residual wraps a chain of modules and adds its input to the output of the chain: `x + chain(x)`.
//
// The chain must preserve the shape of its input.
type Residual struct {
	chain *Sequential
}

// Assert Residual is a GraphModule.
var _ GraphModule = (*Residual)(nil)

// NewResidual creates a Residual wrapper around the given modules, applied in order.
// Each module must be a GraphModule or a FeatureModule.
func NewResidual(modules ...any) (*Residual, error) {
	chain, err := NewSequential(modules...)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("module.NewResidual(): %s", chain)
	return &Residual{chain: chain}, nil
}

// Kinds returns the kind of each wrapped module, resolved at construction.
func (r *Residual) Kinds() []Kind { return r.chain.Kinds() }

// Len returns the number of wrapped modules.
func (r *Residual) Len() int { return r.chain.Len() }

// ApplyWithGraph implements GraphModule.
func (r *Residual) ApplyWithGraph(ctx *context.Context, conn msgpass.Connectivity, x *Node) *Node {
	y := r.chain.ApplyWithGraph(ctx, conn, x)
	if !y.Shape().Equal(x.Shape()) {
		Panicf("module.Residual: wrapped modules changed the shape from %s to %s, they must preserve it",
			x.Shape(), y.Shape())
	}
	return Add(x, y)
}
