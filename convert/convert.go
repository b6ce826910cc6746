// Package convert is the public API for converting and optimizing
// style-transfer models.
//
// A conversion decodes an ONNX model into the internal graph IR, runs the
// optimization pipeline, optionally lowers weight precision, verifies the
// result numerically against the original on random inputs, and re-encodes
// the optimized graph.
//
// # Example Usage
//
//	import "github.com/stylizer-ml/stylizer/convert"
//
//	outcome, err := convert.Convert(convert.FileSource("mosaic.onnx"), convert.Options{
//	    Precision: convert.FP16,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("mosaic-opt.onnx", outcome.Model, 0o644)
//	fmt.Printf("reduced by %.1f%%\n", outcome.Report.ReductionPercent)
//
// A conversion that fails verification returns a ToleranceExceededError
// together with the Outcome, so the failing report can still be inspected.
package convert

import (
	internalconvert "github.com/stylizer-ml/stylizer/internal/convert"
	"github.com/stylizer-ml/stylizer/internal/quantize"
	"github.com/stylizer-ml/stylizer/internal/report"
	"github.com/stylizer-ml/stylizer/internal/verify"
)

// Options configures one conversion.
type Options = internalconvert.Options

// Outcome bundles the converted model bytes, report and manifest.
type Outcome = internalconvert.Outcome

// Manifest is the deployment-registry entry for a converted model.
type Manifest = internalconvert.Manifest

// Report summarizes the size and structure deltas of a conversion.
type Report = report.Report

// ByteSource yields raw model bytes.
type ByteSource = internalconvert.ByteSource

// FileSource reads a model from disk.
type FileSource = internalconvert.FileSource

// BytesSource wraps in-memory model bytes.
type BytesSource = internalconvert.BytesSource

// ToleranceExceededError reports a conversion that diverged beyond the
// configured tolerance.
type ToleranceExceededError = internalconvert.ToleranceExceededError

// Tolerance bounds the allowed per-element divergence during verification.
type Tolerance = verify.Tolerance

// Precision selects the target weight precision.
type Precision = quantize.Precision

// Supported precisions.
const (
	FP32 = quantize.FP32
	FP16 = quantize.FP16
	INT8 = quantize.INT8
)

// Convert runs one conversion end to end.
func Convert(src ByteSource, opts Options) (*Outcome, error) {
	return internalconvert.Run(src, opts)
}
