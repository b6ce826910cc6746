package convert

import (
	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/quantize"
)

// Manifest is the deployment-registry entry describing a converted model:
// everything a runtime needs to pick, fetch and feed it.
type Manifest struct {
	Name        string    `json:"name" yaml:"name"`
	File        string    `json:"file" yaml:"file"`
	SizeMB      float64   `json:"size_mb" yaml:"size_mb"`
	Precision   string    `json:"precision" yaml:"precision"`
	InputSize   int       `json:"input_size" yaml:"input_size"`
	InputNames  []string  `json:"input_names" yaml:"input_names"`
	OutputNames []string  `json:"output_names" yaml:"output_names"`
	Strength    float64   `json:"recommended_strength" yaml:"recommended_strength"`
	NormMean    []float64 `json:"norm_mean" yaml:"norm_mean"`
	NormScale   []float64 `json:"norm_scale" yaml:"norm_scale"`
}

// Normalization applied by the runtimes this registry feeds.
var (
	defaultNormMean  = []float64{0.485, 0.456, 0.406}
	defaultNormScale = []float64{0.229, 0.224, 0.225}
)

const defaultStrength = 0.8

func buildManifest(g *graph.Graph, opts Options, sizeBytes int) Manifest {
	m := Manifest{
		Name:      opts.ModelName,
		SizeMB:    float64(sizeBytes) / (1024 * 1024),
		Precision: string(opts.Precision),
		Strength:  opts.Strength,
		NormMean:  append([]float64(nil), defaultNormMean...),
		NormScale: append([]float64(nil), defaultNormScale...),
	}
	if m.Name == "" {
		m.Name = g.Name
	}
	m.File = m.Name + ".onnx"
	if m.Precision == "" {
		m.Precision = string(quantize.FP32)
	}
	if m.Strength == 0 {
		m.Strength = defaultStrength
	}

	for _, in := range g.Inputs {
		m.InputNames = append(m.InputNames, in.Name)
		// NCHW image input: the trailing spatial dimension is the size.
		if len(in.Shape) == 4 && m.InputSize == 0 {
			m.InputSize = in.Shape[3]
		}
	}
	for _, out := range g.Outputs {
		m.OutputNames = append(m.OutputNames, out.Name)
	}
	return m
}
