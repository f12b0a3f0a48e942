// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gnnblocks builds a graph neural network from an HCL model definition file, and runs forward passes
// of it over a synthetic random graph, reporting the model size and the latency of the forward passes.
//
// Usage:
//
//	gnnblocks -model=model.hcl [-passes=32] [-parallelism=8] [-float16] [-vars] [-plot=latencies.png]
//
// See package internal/config for the format of the model definition.
package main

import (
	"flag"
	"os"
	"runtime"

	"github.com/charmbracelet/lipgloss"
	. "github.com/gomlx/exceptions"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagModel = flag.String("model", "", "Path to the HCL model definition file.")
	flagPasses = flag.Int("passes", 32, "Number of forward passes to run, each over a new random batch of "+
		"node features. The first pass also initializes the model variables and it is not included in the latencies.")
	flagParallelism = flag.Int("parallelism", runtime.NumCPU(),
		"Maximum number of forward passes executed concurrently. They all share the same model variables.")
	flagFloat16 = flag.Bool("float16", false, "Generate the synthetic node features as float16. "+
		"They are converted to float32 in the model graph.")
	flagVars    = flag.Bool("vars", false, "Lists the model variables.")
	flagPlot    = flag.String("plot", "", "If set, saves a plot of the forward passes latencies to the given PNG file.")
	flagNoColor = flag.Bool("no_color", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagModel == "" {
		klog.Errorf("Missing -model with the path to the model definition file. See 'gnnblocks -help'")
		os.Exit(1)
	}
	if len(flag.Args()) > 0 {
		klog.Errorf("Unknown arguments %q. See 'gnnblocks -help'.", flag.Args())
		os.Exit(1)
	}
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	var err error
	if exception := TryCatch[error](func() { err = run(*flagModel) }); exception != nil {
		err = exception
	}
	if err != nil {
		klog.Errorf("gnnblocks failed: %+v", err)
		os.Exit(1)
	}
}
