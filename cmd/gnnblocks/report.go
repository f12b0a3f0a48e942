// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = cellStyle.Bold(true).Align(lipgloss.Center)
)

// newTable returns a table with the given column alignments. Every second row is rendered faint.
func newTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("63"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 { // Header.
				return headerStyle
			}
			s := cellStyle.Faint(row%2 == 1)
			if col < len(alignments) {
				s = s.Align(alignments[col])
			}
			return s
		})
}

// latencyQuantiles returns the empirical quantiles ps, each in [0, 1], of the latencies.
func latencyQuantiles(latencies []time.Duration, ps ...float64) []time.Duration {
	quantiles := make([]time.Duration, len(ps))
	if len(latencies) == 0 {
		return quantiles
	}
	sorted := make([]float64, len(latencies))
	for ii, latency := range latencies {
		sorted[ii] = float64(latency)
	}
	slices.Sort(sorted)
	for ii, p := range ps {
		quantiles[ii] = time.Duration(stat.Quantile(p, stat.Empirical, sorted, nil))
	}
	return quantiles
}

func report(stats *runStats) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newTable(lipgloss.Right, lipgloss.Left)
	table.Row("run id", stats.runID)
	table.Row("model", stats.model.String())
	table.Row("# nodes", fmt.Sprintf("%s (%d x %s)", humanize.Comma(int64(stats.edges.NumNodes())),
		stats.graph.Instances, humanize.Comma(int64(stats.graph.NumNodes))))
	table.Row("# edges", humanize.Comma(int64(stats.edges.NumEdges())))
	table.Row("input", stats.inputShape.String())
	table.Row("output", stats.outputShape.String())
	table.Row("# variables", humanize.Comma(int64(stats.ctx.NumVariables())))
	table.Row("# parameters", humanize.Comma(int64(stats.ctx.NumParameters())))
	table.Row("# bytes", humanize.Bytes(uint64(stats.ctx.Memory())))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Forward passes"))
	numPasses := len(stats.latencies)
	quantiles := latencyQuantiles(stats.latencies, 0.5, 0.9, 1)
	table = newTable(lipgloss.Right, lipgloss.Left)
	table.Row("first pass", stats.firstPass.String())
	table.Row("# passes", fmt.Sprintf("%s (parallelism %d)", humanize.Comma(int64(numPasses)), *flagParallelism))
	table.Row("latency p50", quantiles[0].String())
	table.Row("latency p90", quantiles[1].String())
	table.Row("latency max", quantiles[2].String())
	table.Row("wall time", stats.wallTime.String())
	if stats.wallTime > 0 {
		nodesPerSec := float64(numPasses*stats.edges.NumNodes()) / stats.wallTime.Seconds()
		table.Row("throughput", humanize.SIWithDigits(nodesPerSec, 2, "nodes/s"))
	}
	fmt.Println(table.Render())

	if *flagVars {
		reportVariables(stats.ctx)
	}
}

func reportVariables(ctx *context.Context) {
	fmt.Println(titleStyle.Render("Variables"))
	table := newTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Right)
	table.Headers("Scope", "Name", "Shape", "Size", "Bytes")
	var rows [][]string
	for v := range ctx.IterVariables() {
		shape := v.Shape()
		rows = append(rows, []string{
			v.Scope(), v.Name(), shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
		})
	}
	slices.SortFunc(rows, func(a, b []string) int {
		if cmp := strings.Compare(a[0], b[0]); cmp != 0 {
			return cmp
		}
		return strings.Compare(a[1], b[1])
	})
	for _, row := range rows {
		table.Row(row...)
	}
	fmt.Println(table.Render())
}

// plotLatencies saves a plot of the latency of each forward pass, in milliseconds, to filePath.
func plotLatencies(stats *runStats, filePath string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Forward passes latency (run %s)", stats.runID)
	p.X.Label.Text = "pass"
	p.Y.Label.Text = "latency (ms)"
	p.Y.Min = 0

	points := make(plotter.XYs, len(stats.latencies))
	for ii, latency := range stats.latencies {
		points[ii].X = float64(ii)
		points[ii].Y = float64(latency.Microseconds()) / 1000
	}
	scatter, err := plotter.NewScatter(points)
	if err != nil {
		return errors.Wrap(err, "failed to create latencies plot")
	}
	p.Add(scatter, plotter.NewGrid())
	if err := p.Save(10*vg.Inch, 5*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save latencies plot to %q", filePath)
	}
	fmt.Printf("Latencies plot saved to %q\n", filePath)
	return nil
}
