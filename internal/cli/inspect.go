package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stylizer-ml/stylizer/internal/onnx"
)

// inspectView is the serializable form of model metadata.
type inspectView struct {
	IRVersion        int64    `json:"ir_version"`
	OpsetVersion     int64    `json:"opset_version"`
	Producer         string   `json:"producer,omitempty"`
	GraphName        string   `json:"graph_name,omitempty"`
	InputNames       []string `json:"input_names,omitempty"`
	OutputNames      []string `json:"output_names,omitempty"`
	NodeCount        int      `json:"node_count"`
	InitializerCount int      `json:"initializer_count"`
	Operators        []string `json:"operators,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <input>",
		Short: "Show model metadata",
		Long: `Print producer, opset, IO names and node counts for a serialized
model. Works on models the converter itself would reject.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runInspect(rootOpts *RootOptions, input string, cmd *cobra.Command) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("reading model: %w", err)
	}
	info, err := onnx.Inspect(data)
	if err != nil {
		return err
	}

	producer := info.ProducerName
	if info.ProducerVersion != "" {
		producer += " " + info.ProducerVersion
	}
	view := inspectView{
		IRVersion:        info.IRVersion,
		OpsetVersion:     info.OpsetVersion,
		Producer:         strings.TrimSpace(producer),
		GraphName:        info.GraphName,
		InputNames:       info.InputNames,
		OutputNames:      info.OutputNames,
		NodeCount:        info.NodeCount,
		InitializerCount: info.WeightCount,
		Operators:        info.Operators,
	}

	w := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	fmt.Fprintf(w, "graph:        %s\n", view.GraphName)
	fmt.Fprintf(w, "producer:     %s\n", view.Producer)
	fmt.Fprintf(w, "ir version:   %d\n", view.IRVersion)
	fmt.Fprintf(w, "opset:        %d\n", view.OpsetVersion)
	fmt.Fprintf(w, "inputs:       %s\n", strings.Join(view.InputNames, ", "))
	fmt.Fprintf(w, "outputs:      %s\n", strings.Join(view.OutputNames, ", "))
	fmt.Fprintf(w, "nodes:        %d\n", view.NodeCount)
	fmt.Fprintf(w, "initializers: %d\n", view.InitializerCount)
	fmt.Fprintf(w, "operators:    %s\n", strings.Join(view.Operators, ", "))
	return nil
}
