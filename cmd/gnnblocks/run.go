// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math/rand/v2"
	"os"
	"time"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gnnblocks/internal/config"
	"github.com/gomlx/gnnblocks/pkg/core/msgpass"
	"github.com/gomlx/gnnblocks/pkg/ml/models/gnn"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc/pool"
	"k8s.io/klog/v2"
)

// runStats collects what is reported at the end of a run.
type runStats struct {
	runID       string
	model       *gnn.Model
	ctx         *context.Context
	graph       config.GraphBlock
	edges       *msgpass.EdgeList // Edges of all graph instances batched together.
	inputShape  shapes.Shape
	outputShape shapes.Shape
	firstPass   time.Duration // Includes compilation and variables initialization.
	latencies   []time.Duration
	wallTime    time.Duration
}

func run(modelPath string) error {
	f, err := config.Load(modelPath)
	if err != nil {
		return err
	}
	cfg, err := f.ModelConfig()
	if err != nil {
		return errors.WithMessagef(err, "model definition in %s", modelPath)
	}
	model, err := gnn.New(cfg)
	if err != nil {
		return errors.WithMessagef(err, "model definition in %s", modelPath)
	}
	if *flagPasses <= 0 || *flagParallelism <= 0 {
		return errors.Errorf("-passes and -parallelism must be > 0, got %d and %d", *flagPasses, *flagParallelism)
	}

	rng := rand.New(rand.NewPCG(uint64(f.Graph.Seed), 0))
	edges, err := syntheticGraph(rng, f.Graph)
	if err != nil {
		return errors.WithMessage(err, "synthetic graph")
	}
	edges = edges.Batch(f.Graph.Instances)
	stats := &runStats{
		runID: uuid.NewString(),
		model: model,
		graph: f.Graph,
		edges: edges,
	}
	klog.V(1).Infof("run %s: %s over %s", stats.runID, model, edges)

	inputDims := []int{edges.NumNodes(), cfg.Features.FeaturesDim}
	if model.IsSequence() {
		inputDims = []int{edges.NumNodes(), cfg.SeqLen, cfg.Features.FeaturesDim}
	}
	inputs := make([]*tensors.Tensor, *flagPasses+1)
	for ii := range inputs {
		inputs[ii] = syntheticFeatures(rng, *flagFloat16, inputDims...)
	}
	stats.inputShape = inputs[0].Shape()

	backend := backends.MustNew()
	stats.ctx = context.New()
	exec := context.MustNewExec(backend, stats.ctx, func(ctx *context.Context, x *Node) *Node {
		x = ConvertDType(x, dtypes.Float32)
		return model.ApplyWithGraph(ctx, edges.Nodes(x.Graph()), x)
	})

	// The first pass compiles the graph and initializes the variables.
	start := time.Now()
	output := exec.MustExec(inputs[0])[0]
	stats.firstPass = time.Since(start)
	stats.outputShape = output.Shape()
	_ = output.FinalizeAll()

	stats.latencies = make([]time.Duration, *flagPasses)
	term := termenv.NewOutput(os.Stdout)
	term.HideCursor()
	bar := progressbar.NewOptions(*flagPasses,
		progressbar.OptionSetDescription("Forward passes"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("passes"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	p := pool.New().WithMaxGoroutines(*flagParallelism).WithErrors()
	start = time.Now()
	for ii, input := range inputs[1:] {
		p.Go(func() error {
			passStart := time.Now()
			err := TryCatch[error](func() {
				_ = exec.MustExec(input)[0].FinalizeAll()
			})
			stats.latencies[ii] = time.Since(passStart)
			_ = bar.Add(1)
			if err != nil {
				return errors.WithMessagef(err, "forward pass #%d", ii)
			}
			return nil
		})
	}
	err = p.Wait()
	stats.wallTime = time.Since(start)
	_ = bar.Finish()
	term.ShowCursor()
	if err != nil {
		return err
	}

	report(stats)
	if *flagPlot != "" {
		if err := plotLatencies(stats, *flagPlot); err != nil {
			return err
		}
	}
	return nil
}
