// Package report summarizes a conversion: size deltas, the optimization
// trail and the verification outcome, in the shape the CLI serializes.
package report

import (
	"math"

	"github.com/stylizer-ml/stylizer/internal/pipeline"
	"github.com/stylizer-ml/stylizer/internal/verify"
)

// Verification is the reportable view of a verify.Result.
type Verification struct {
	Performed bool               `json:"performed" yaml:"performed"`
	Passed    bool               `json:"passed" yaml:"passed"`
	MaxAbsErr map[string]float64 `json:"max_abs_err,omitempty" yaml:"max_abs_err,omitempty"`
	MaxRelErr map[string]float64 `json:"max_rel_err,omitempty" yaml:"max_rel_err,omitempty"`
	Reasons   []string           `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}

// Report is the conversion summary.
type Report struct {
	OriginalSizeBytes  int                   `json:"original_size_bytes" yaml:"original_size_bytes"`
	OptimizedSizeBytes int                   `json:"optimized_size_bytes" yaml:"optimized_size_bytes"`
	ReductionPercent   float64               `json:"reduction_percent" yaml:"reduction_percent"`
	SizeAnomaly        bool                  `json:"size_anomaly,omitempty" yaml:"size_anomaly,omitempty"`
	Passes             []pipeline.PassRecord `json:"passes" yaml:"passes"`
	Verification       Verification          `json:"verification" yaml:"verification"`
}

// Summarize builds a report from the raw conversion facts. The reduction
// percentage stays in [0, 100); when the optimized artifact is not smaller
// the anomaly flag is set instead of reporting a negative percentage.
func Summarize(originalBytes, optimizedBytes int, trail pipeline.Trail, v *verify.Result) Report {
	r := Report{
		OriginalSizeBytes:  originalBytes,
		OptimizedSizeBytes: optimizedBytes,
		Passes:             append([]pipeline.PassRecord(nil), trail...),
	}
	if originalBytes > 0 {
		if optimizedBytes < originalBytes {
			pct := 100 * float64(originalBytes-optimizedBytes) / float64(originalBytes)
			// Round to two decimals so reports are stable across platforms.
			r.ReductionPercent = math.Round(pct*100) / 100
		} else if optimizedBytes > originalBytes {
			r.SizeAnomaly = true
		}
	}
	if v != nil {
		r.Verification = Verification{
			Performed: true,
			Passed:    v.Passed,
			MaxAbsErr: copyMap(v.MaxAbsErr),
			MaxRelErr: copyMap(v.MaxRelErr),
			Reasons:   append([]string(nil), v.Reasons...),
		}
	}
	return r
}

func copyMap(m map[string]float64) map[string]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
