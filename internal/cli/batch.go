package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stylizer-ml/stylizer/internal/convert"
)

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "batch <config.yaml>",
		Short: "Convert multiple models from a YAML configuration",
		Long: `Run independent conversions on a bounded worker pool. Each entry in
the configuration names an input model, an output path and optional
per-model overrides of the batch defaults.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(rootOpts, args[0], workers, cmd)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (default: number of CPUs)")
	return cmd
}

type batchView struct {
	ID      string  `json:"id"`
	Name    string  `json:"name,omitempty"`
	Output  string  `json:"output"`
	OK      bool    `json:"ok"`
	Error   string  `json:"error,omitempty"`
	Reduced float64 `json:"reduction_percent"`
}

func runBatch(rootOpts *RootOptions, configPath string, workers int, cmd *cobra.Command) error {
	cfg, err := convert.LoadConfig(configPath)
	if err != nil {
		return err
	}

	results := convert.RunBatch(cfg, workers)

	failed := 0
	views := make([]batchView, len(results))
	for i, res := range results {
		views[i] = batchView{
			ID:      res.ID,
			Name:    res.Name,
			Output:  res.Output,
			OK:      res.Err == nil,
			Reduced: res.Report.ReductionPercent,
		}
		if res.Err != nil {
			failed++
			views[i].Error = res.Err.Error()
		}
	}

	w := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(views); err != nil {
			return err
		}
	} else {
		for _, v := range views {
			if v.OK {
				fmt.Fprintf(w, "ok   %-20s %s (-%.2f%%)\n", v.Name, v.Output, v.Reduced)
			} else {
				fmt.Fprintf(w, "FAIL %-20s %s\n", v.Name, v.Error)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(results))
	}
	return nil
}
