package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stylizer-ml/stylizer/internal/convert"
	"github.com/stylizer-ml/stylizer/internal/quantize"
	"github.com/stylizer-ml/stylizer/internal/verify"
)

type convertOptions struct {
	sourceFormat string
	size         int
	passNames    []string
	precision    string
	toleranceAbs float64
	toleranceRel float64
	samples      int
	seed         int64
	skipVerify   bool
	name         string
	strength     float64
	manifestPath string
}

// NewConvertCommand creates the convert command.
func NewConvertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &convertOptions{}

	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert and optimize one model",
		Long: `Convert an ONNX model: run the optimization pipeline, optionally
quantize the weights, verify numeric equivalence and write the result.

The output file is written atomically; a failed conversion leaves no
partial file behind. The exit code is non-zero unless verification
passed (or was skipped).`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(rootOpts, opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.sourceFormat, "source-format", "onnx", "input model format")
	cmd.Flags().IntVar(&opts.size, "size", 0, "target spatial size for image inputs (default: keep declared shapes)")
	cmd.Flags().StringSliceVar(&opts.passNames, "optimize", nil, "comma-separated pass names (default: full pipeline)")
	cmd.Flags().StringVar(&opts.precision, "quantize", "fp32", "target precision (fp32|fp16|int8)")
	cmd.Flags().Float64Var(&opts.toleranceAbs, "tolerance-abs", 1e-4, "absolute tolerance per output element")
	cmd.Flags().Float64Var(&opts.toleranceRel, "tolerance-rel", 1e-3, "relative tolerance per output element")
	cmd.Flags().IntVar(&opts.samples, "samples", 4, "number of random verification samples")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "verification sample seed")
	cmd.Flags().BoolVar(&opts.skipVerify, "skip-verify", false, "skip numeric verification")
	cmd.Flags().StringVar(&opts.name, "name", "", "model name for the manifest (default: graph name)")
	cmd.Flags().Float64Var(&opts.strength, "strength", 0, "recommended stylization strength for the manifest")
	cmd.Flags().StringVar(&opts.manifestPath, "manifest", "", "also write a manifest entry to this path")

	return cmd
}

func runConvert(rootOpts *RootOptions, opts *convertOptions, input, output string, cmd *cobra.Command) error {
	precision, err := quantize.ParsePrecision(opts.precision)
	if err != nil {
		return err
	}

	outcome, err := convert.Run(convert.FileSource(input), convert.Options{
		SourceFormat: opts.sourceFormat,
		TargetSize:   opts.size,
		PassNames:    opts.passNames,
		Precision:    precision,
		Tolerance:    verify.Tolerance{Absolute: opts.toleranceAbs, Relative: opts.toleranceRel},
		SampleCount:  opts.samples,
		Seed:         opts.seed,
		SkipVerify:   opts.skipVerify,
		ModelName:    opts.name,
		Strength:     opts.strength,
	})

	var tolErr *convert.ToleranceExceededError
	if errors.As(err, &tolErr) {
		// Report the divergence but write nothing.
		if werr := writeReport(cmd.OutOrStdout(), rootOpts.Format, outcome); werr != nil {
			return werr
		}
		return fmt.Errorf("verification failed: %s", strings.Join(tolErr.Reasons, "; "))
	}
	if err != nil {
		return err
	}

	if err := convert.WriteFileAtomic(output, outcome.Model); err != nil {
		return err
	}
	if opts.manifestPath != "" {
		data, err := json.MarshalIndent(outcome.Manifest, "", "  ")
		if err != nil {
			return err
		}
		if err := convert.WriteFileAtomic(opts.manifestPath, append(data, '\n')); err != nil {
			return err
		}
	}
	return writeReport(cmd.OutOrStdout(), rootOpts.Format, outcome)
}

func writeReport(w io.Writer, format string, outcome *convert.Outcome) error {
	if outcome == nil {
		return nil
	}
	r := outcome.Report
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Fprintf(w, "size: %d -> %d bytes", r.OriginalSizeBytes, r.OptimizedSizeBytes)
	if r.SizeAnomaly {
		fmt.Fprintf(w, " (anomaly: output is larger)\n")
	} else {
		fmt.Fprintf(w, " (-%.2f%%)\n", r.ReductionPercent)
	}
	for _, p := range r.Passes {
		if p.Applied {
			fmt.Fprintf(w, "pass %-24s removed %d, added %d\n", p.Pass, p.NodesRemoved, p.NodesAdded)
		} else {
			fmt.Fprintf(w, "pass %-24s skipped (%s)\n", p.Pass, p.Reason)
		}
	}
	if r.Verification.Performed {
		status := "passed"
		if !r.Verification.Passed {
			status = "FAILED"
		}
		fmt.Fprintf(w, "verification: %s\n", status)
		for _, reason := range r.Verification.Reasons {
			fmt.Fprintf(w, "  %s\n", reason)
		}
	}
	return nil
}
