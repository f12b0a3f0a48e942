// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math/rand/v2"

	"github.com/gomlx/gnnblocks/internal/config"
	"github.com/gomlx/gnnblocks/pkg/core/msgpass"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/x448/float16"
)

// syntheticGraph returns a random directed graph with NumNodes nodes and NumNodes*AvgDegree edges.
// Every node but the first has at least one incoming edge.
func syntheticGraph(rng *rand.Rand, cfg config.GraphBlock) (*msgpass.EdgeList, error) {
	numNodes := cfg.NumNodes
	numEdges := max(numNodes*cfg.AvgDegree, numNodes-1, 1)
	src := make([]int32, 0, numEdges)
	dst := make([]int32, 0, numEdges)
	for node := 1; node < numNodes; node++ {
		src = append(src, int32(rng.IntN(node)))
		dst = append(dst, int32(node))
	}
	for len(src) < numEdges {
		src = append(src, int32(rng.IntN(numNodes)))
		dst = append(dst, int32(rng.IntN(numNodes)))
	}
	return msgpass.NewEdgeList(numNodes, src, dst)
}

// syntheticFeatures returns a tensor with the given dimensions filled with values from a standard normal distribution.
func syntheticFeatures(rng *rand.Rand, asFloat16 bool, dims ...int) *tensors.Tensor {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	if asFloat16 {
		data := make([]float16.Float16, size)
		for ii := range data {
			data[ii] = float16.Fromfloat32(float32(rng.NormFloat64()))
		}
		return tensors.FromFlatDataAndDimensions(data, dims...)
	}
	data := make([]float32, size)
	for ii := range data {
		data[ii] = float32(rng.NormFloat64())
	}
	return tensors.FromFlatDataAndDimensions(data, dims...)
}
