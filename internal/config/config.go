// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config reads model definition files, written in HCL, and converts them to the
// configuration of a gnn.Model and of the synthetic graph it runs on.
//
// Example:
//
//	graph {
//	  num_nodes = 100
//	  avg_degree = 4
//	}
//
//	model {
//	  hidden_dim    = 32
//	  output_dim    = 1
//	  num_layers    = 2
//	  aggregation   = "AttnGATAggr"
//	  num_heads     = 4
//	  normalization = "LayerNorm"
//
//	  features {
//	    dim             = 8
//	    numeric_columns = [0, 1, 2]
//	    num_features_plr {
//	      frequencies_dim   = 16
//	      frequencies_scale = 0.1
//	      embedding_dim     = 8
//	    }
//	  }
//	}
package config

import (
	"github.com/gomlx/gnnblocks/pkg/ml/features"
	"github.com/gomlx/gnnblocks/pkg/ml/layers/plr"
	"github.com/gomlx/gnnblocks/pkg/ml/models/gnn"
	"github.com/gomlx/gnnblocks/pkg/ml/module"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// File is the decoded content of a model definition file.
type File struct {
	Graph GraphBlock `hcl:"graph,block"`
	Model ModelBlock `hcl:"model,block"`
}

// GraphBlock describes the synthetic graph the model runs on.
type GraphBlock struct {
	NumNodes  int `hcl:"num_nodes,attr"`
	AvgDegree int `hcl:"avg_degree,optional"`

	// Instances of the graph batched together in each forward pass.
	Instances int   `hcl:"instances,optional"`
	Seed      int64 `hcl:"seed,optional"`
}

// ModelBlock maps to gnn.Config.
type ModelBlock struct {
	HiddenDim     int     `hcl:"hidden_dim,attr"`
	OutputDim     int     `hcl:"output_dim,attr"`
	NumLayers     int     `hcl:"num_layers,attr"`
	Aggregation   string  `hcl:"aggregation,attr"`
	NumHeads      int     `hcl:"num_heads,optional"`
	Normalization string  `hcl:"normalization,optional"`
	DropoutRate   float64 `hcl:"dropout,optional"`

	Features FeaturesBlock  `hcl:"features,block"`
	Sequence *SequenceBlock `hcl:"sequence,block"`
}

// FeaturesBlock maps to features.Config. Columns are given as indices.
type FeaturesBlock struct {
	Dim               int   `hcl:"dim,attr"`
	NumericColumns    []int `hcl:"numeric_columns,optional"`
	PastTargetColumns []int `hcl:"past_target_columns,optional"`

	NumFeaturesPLR *PLRBlock            `hcl:"num_features_plr,block"`
	PastTargetsPLR *PLRBlock            `hcl:"past_targets_plr,block"`
	NodeEmbeddings *NodeEmbeddingsBlock `hcl:"node_embeddings,block"`
}

// PLRBlock maps to plr.Config.
type PLRBlock struct {
	FrequenciesDim    int     `hcl:"frequencies_dim,attr"`
	FrequenciesScale  float64 `hcl:"frequencies_scale,attr"`
	EmbeddingDim      int     `hcl:"embedding_dim,attr"`
	SharedLinear      bool    `hcl:"shared_linear,optional"`
	SharedFrequencies bool    `hcl:"shared_frequencies,optional"`
}

// NodeEmbeddingsBlock configures learnable node embeddings. The number of nodes is taken from the graph block.
type NodeEmbeddingsBlock struct {
	Dim int `hcl:"dim,attr"`
}

// SequenceBlock configures the sequence stage of the model.
type SequenceBlock struct {
	Encoder       string `hcl:"encoder,attr"`
	SeqLen        int    `hcl:"seq_len,attr"`
	NumBlocks     int    `hcl:"num_blocks,optional"`
	EncoderLayers int    `hcl:"encoder_layers,optional"`
	RNNType       string `hcl:"rnn_type,optional"`
	Bidirectional bool   `hcl:"bidirectional,optional"`
}

// Default values for optional attributes.
const (
	DefaultAvgDegree     = 4
	DefaultInstances     = 1
	DefaultNormalization = "LayerNorm"
	DefaultRNNType       = "LSTM"
)

// Load parses and decodes the model definition file at filePath.
func Load(filePath string) (*File, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, errors.Errorf("failed to parse HCL file %s: %s", filePath, diags.Error())
	}
	return decode(hclFile, filePath)
}

// Parse parses and decodes a model definition given its contents. The filename is only used in error messages.
func Parse(src []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Errorf("failed to parse HCL file %s: %s", filename, diags.Error())
	}
	return decode(hclFile, filename)
}

func decode(hclFile *hcl.File, filename string) (*File, error) {
	var f File
	diags := gohcl.DecodeBody(hclFile.Body, nil, &f)
	if diags.HasErrors() {
		return nil, errors.Errorf("failed to decode HCL file %s: %s", filename, diags.Error())
	}
	f.setDefaults()
	klog.V(1).Infof("config: decoded %s: graph=%+v", filename, f.Graph)
	return &f, nil
}

func (f *File) setDefaults() {
	if f.Graph.AvgDegree == 0 {
		f.Graph.AvgDegree = DefaultAvgDegree
	}
	if f.Graph.Instances == 0 {
		f.Graph.Instances = DefaultInstances
	}
	if f.Model.Normalization == "" {
		f.Model.Normalization = DefaultNormalization
	}
	if seq := f.Model.Sequence; seq != nil {
		if seq.NumBlocks == 0 {
			seq.NumBlocks = 1
		}
		if seq.EncoderLayers == 0 {
			seq.EncoderLayers = 1
		}
		if seq.RNNType == "" {
			seq.RNNType = DefaultRNNType
		}
	}
}

// ModelConfig converts the model block to a gnn.Config.
// It returns a module.ErrInvalidConfig error for invalid column indices.
func (f *File) ModelConfig() (gnn.Config, error) {
	m := &f.Model
	cfg := gnn.Config{
		HiddenDim:     m.HiddenDim,
		OutputDim:     m.OutputDim,
		NumLayers:     m.NumLayers,
		Aggregation:   m.Aggregation,
		NumHeads:      m.NumHeads,
		Normalization: m.Normalization,
		DropoutRate:   m.DropoutRate,
	}
	if seq := m.Sequence; seq != nil {
		cfg.SequenceEncoder = seq.Encoder
		cfg.SeqNumLayers = seq.NumBlocks
		cfg.SeqEncoderLayers = seq.EncoderLayers
		cfg.SeqLen = seq.SeqLen
		cfg.RNNType = seq.RNNType
		cfg.Bidirectional = seq.Bidirectional
	}

	fb := &m.Features
	cfg.Features.FeaturesDim = fb.Dim
	var err error
	if fb.NumFeaturesPLR != nil {
		cfg.Features.NumFeaturesPLR = fb.NumFeaturesPLR.plrConfig()
		if cfg.Features.NumFeaturesMask, err = columnsMask("numeric_columns", fb.NumericColumns, fb.Dim); err != nil {
			return cfg, err
		}
	}
	if fb.PastTargetsPLR != nil {
		cfg.Features.PastTargetsPLR = fb.PastTargetsPLR.plrConfig()
		if cfg.Features.PastTargetsMask, err = columnsMask("past_target_columns", fb.PastTargetColumns, fb.Dim); err != nil {
			return cfg, err
		}
	}
	if fb.NodeEmbeddings != nil {
		cfg.Features.NodeEmbeddings = &features.NodeEmbeddingsConfig{
			NumNodes: f.Graph.NumNodes,
			Dim:      fb.NodeEmbeddings.Dim,
		}
	}
	return cfg, nil
}

func (b *PLRBlock) plrConfig() *plr.Config {
	return &plr.Config{
		FrequenciesDim:    b.FrequenciesDim,
		FrequenciesScale:  b.FrequenciesScale,
		EmbeddingDim:      b.EmbeddingDim,
		SharedLinear:      b.SharedLinear,
		SharedFrequencies: b.SharedFrequencies,
	}
}

// columnsMask converts a list of column indices to a mask over dim columns.
func columnsMask(name string, columns []int, dim int) ([]bool, error) {
	if dim <= 0 {
		return nil, module.Configf("config: features dim must be > 0, got %d", dim)
	}
	mask := make([]bool, dim)
	for _, column := range columns {
		if column < 0 || column >= dim {
			return nil, module.Configf("config: %s has column %d out of range for features dim %d", name, column, dim)
		}
		if mask[column] {
			return nil, module.Configf("config: %s has column %d repeated", name, column)
		}
		mask[column] = true
	}
	return mask, nil
}
