// Package convert wires the loader, pass pipeline, quantizer, verifier and
// reporter into one conversion job, plus the manifest and batch plumbing
// around it.
package convert

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stylizer-ml/stylizer/internal/engine"
	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/onnx"
	"github.com/stylizer-ml/stylizer/internal/passes"
	"github.com/stylizer-ml/stylizer/internal/pipeline"
	"github.com/stylizer-ml/stylizer/internal/quantize"
	"github.com/stylizer-ml/stylizer/internal/report"
	"github.com/stylizer-ml/stylizer/internal/verify"
)

// Options configures one conversion.
type Options struct {
	// SourceFormat names the input serialization. Only "onnx" is accepted;
	// empty means onnx.
	SourceFormat string

	// PassNames selects optimization passes by name, in order. Empty means
	// the full default list.
	PassNames []string

	// TargetSize overrides the spatial resolution of every four-dimensional
	// graph input and output before optimization. Zero keeps the declared
	// shapes. Only fully convolutional graphs survive a resize; verification
	// runs at the new size and catches anything that does not.
	TargetSize int

	// Precision is the target weight precision. Empty means fp32.
	Precision quantize.Precision

	// Tolerance bounds the verifier. Zero value means DefaultTolerance.
	Tolerance verify.Tolerance

	// SampleCount is the number of random verification samples. Zero
	// means 4.
	SampleCount int

	// Seed drives the deterministic sample generator.
	Seed int64

	// SkipVerify disables the equivalence check entirely.
	SkipVerify bool

	// ModelName labels the manifest entry. Empty means the graph name.
	ModelName string

	// Strength is the recommended stylization strength recorded in the
	// manifest.
	Strength float64

	// Engine executes graphs for folding and verification. Nil means the
	// built-in CPU interpreter.
	Engine engine.Engine
}

func (o Options) withDefaults() Options {
	if o.SourceFormat == "" {
		o.SourceFormat = "onnx"
	}
	if o.Precision == "" {
		o.Precision = quantize.FP32
	}
	if o.Tolerance == (verify.Tolerance{}) {
		o.Tolerance = verify.DefaultTolerance()
	}
	if o.SampleCount == 0 {
		o.SampleCount = 4
	}
	if o.Engine == nil {
		o.Engine = engine.New()
	}
	return o
}

// retarget rewrites the spatial axes of every NCHW input and output to
// size. Both verification runs use the rewritten graph, so a non-resizable
// graph fails there instead of producing silently wrong shapes.
func retarget(g *graph.Graph, size int) error {
	resized := false
	for i, in := range g.Inputs {
		if len(in.Shape) == 4 {
			g.Inputs[i].Shape[2] = size
			g.Inputs[i].Shape[3] = size
			resized = true
		}
	}
	for i, out := range g.Outputs {
		if len(out.Shape) == 4 {
			g.Outputs[i].Shape[2] = size
			g.Outputs[i].Shape[3] = size
		}
	}
	if !resized {
		return fmt.Errorf("target size %d: graph has no four-dimensional input to resize", size)
	}
	return nil
}

// ToleranceExceededError reports a conversion whose output diverged from
// the original beyond the configured tolerance. The caller still receives
// the Outcome so the failing report can be inspected.
type ToleranceExceededError struct {
	Reasons []string
}

func (e *ToleranceExceededError) Error() string {
	return fmt.Sprintf("optimized model exceeds tolerance: %d failing output(s)", len(e.Reasons))
}

// Outcome bundles everything a successful conversion produces.
type Outcome struct {
	Model    []byte
	Graph    *graph.Graph
	Report   report.Report
	Manifest Manifest
}

// Run converts one model end to end: decode, optimize, quantize, verify,
// re-encode, report. On ToleranceExceededError the Outcome is returned
// alongside the error; every other failure aborts with a nil Outcome.
func Run(src ByteSource, opts Options) (*Outcome, error) {
	opts = opts.withDefaults()

	data, format, err := src.Load()
	if err != nil {
		return nil, err
	}
	if format != "" && format != opts.SourceFormat {
		return nil, &onnx.FormatError{Detail: fmt.Sprintf("source format %q does not match requested %q", format, opts.SourceFormat)}
	}
	if opts.SourceFormat != "onnx" {
		return nil, &onnx.FormatError{Detail: fmt.Sprintf("unsupported source format %q", opts.SourceFormat)}
	}

	g, err := onnx.Decode(data)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("model", g.Name)
	log.WithField("nodes", len(g.Nodes)).Debug("model loaded")

	if opts.TargetSize > 0 {
		if err := retarget(g, opts.TargetSize); err != nil {
			return nil, err
		}
	}

	var list []passes.Pass
	if len(opts.PassNames) == 0 {
		list = passes.Default(opts.Engine)
	} else if list, err = passes.ByNames(opts.PassNames, opts.Engine); err != nil {
		return nil, err
	}

	optimized, trail, err := pipeline.Apply(g, list)
	if err != nil {
		return nil, err
	}

	quantized, err := quantize.Quantize(optimized, opts.Precision)
	if err != nil {
		return nil, err
	}

	var result *verify.Result
	if !opts.SkipVerify {
		samples, err := verify.RandomSamples(g, opts.SampleCount, opts.Seed)
		if err != nil {
			return nil, err
		}
		if result, err = verify.Verify(g, quantized, samples, opts.Tolerance, opts.Engine); err != nil {
			return nil, err
		}
	}

	encoded, err := onnx.Encode(quantized)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Model:  encoded,
		Graph:  quantized,
		Report: report.Summarize(len(data), len(encoded), trail, result),
	}
	out.Manifest = buildManifest(quantized, opts, len(encoded))

	if result != nil && !result.Passed {
		return out, &ToleranceExceededError{Reasons: result.Reasons}
	}
	log.WithFields(logrus.Fields{
		"size_before": len(data),
		"size_after":  len(encoded),
	}).Info("conversion complete")
	return out, nil
}
