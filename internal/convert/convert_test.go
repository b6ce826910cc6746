package convert

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/onnx"
	"github.com/stylizer-ml/stylizer/internal/quantize"
	"github.com/stylizer-ml/stylizer/internal/tensor"
	"github.com/stylizer-ml/stylizer/internal/verify"
)

func ft(t *testing.T, values []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(values, tensor.Shape(shape))
	require.NoError(t, err)
	return r
}

// styleModel builds and serializes a small but representative model:
// input -> Conv -> BatchNormalization -> Relu -> output, with an extra
// Identity the optimizer should strip. Conv has two output channels so
// its weight is big enough to quantize. The weight step controls fp16
// fidelity: steps of 0.25 survive half precision exactly, 0.1 does not.
func styleModel(t *testing.T, weightStep float32) []byte {
	t.Helper()
	g := graph.New("tiny_style", 13)
	g.Inputs = []graph.ValueInfo{{Name: "input", Shape: tensor.Shape{1, 1, 8, 8}, DType: tensor.Float32, BatchDynamic: true}}
	g.Outputs = []graph.ValueInfo{{Name: "output", Shape: tensor.Shape{1, 2, 8, 8}, DType: tensor.Float32, BatchDynamic: true}}

	weights := make([]float32, 18)
	for i := range weights {
		weights[i] = float32(i%7-3) * weightStep
	}
	g.AddInit("w", ft(t, weights, 2, 1, 3, 3))
	g.AddInit("scale", ft(t, []float32{1, 1}, 2))
	g.AddInit("beta", ft(t, []float32{0.25, -0.25}, 2))
	g.AddInit("mean", ft(t, []float32{0, 0}, 2))
	g.AddInit("variance", ft(t, []float32{4, 4}, 2))

	conv := &graph.Node{Kind: graph.OpConv, Name: "conv",
		Inputs: []string{"input", "w"}, Outputs: []string{"conv_out"}}
	conv.SetAttr("kernel_shape", graph.IntsAttr([]int64{3, 3}))
	conv.SetAttr("pads", graph.IntsAttr([]int64{1, 1, 1, 1}))
	g.AddNode(conv)

	bn := &graph.Node{Kind: graph.OpBatchNorm, Name: "bn",
		Inputs:  []string{"conv_out", "scale", "beta", "mean", "variance"},
		Outputs: []string{"bn_out"}}
	bn.SetAttr("epsilon", graph.FloatAttr(0))
	g.AddNode(bn)

	g.AddNode(&graph.Node{Kind: graph.OpIdentity, Name: "id",
		Inputs: []string{"bn_out"}, Outputs: []string{"pre_out"}})
	g.AddNode(&graph.Node{Kind: graph.OpRelu, Name: "relu",
		Inputs: []string{"pre_out"}, Outputs: []string{"output"}})

	data, err := onnx.Encode(g)
	require.NoError(t, err)
	return data
}

func TestRun_EndToEnd(t *testing.T) {
	data := styleModel(t, 0.25)

	outcome, err := Run(BytesSource{Data: data, Format: "onnx"}, Options{
		ModelName: "tiny",
		Strength:  0.6,
	})
	require.NoError(t, err)
	require.NotNil(t, outcome)

	// BN fused into Conv, Identity stripped: Conv + Relu remain.
	assert.Len(t, outcome.Graph.Nodes, 2)
	assert.True(t, outcome.Report.Verification.Performed)
	assert.True(t, outcome.Report.Verification.Passed)
	assert.Len(t, outcome.Report.Passes, 5)

	// Output decodes back to a valid graph.
	back, err := onnx.Decode(outcome.Model)
	require.NoError(t, err)
	assert.True(t, graph.Equal(outcome.Graph, back))

	// Manifest reflects the declared IO and options.
	assert.Equal(t, "tiny", outcome.Manifest.Name)
	assert.Equal(t, "tiny.onnx", outcome.Manifest.File)
	assert.Equal(t, 8, outcome.Manifest.InputSize)
	assert.Equal(t, []string{"input"}, outcome.Manifest.InputNames)
	assert.Equal(t, []string{"output"}, outcome.Manifest.OutputNames)
	assert.Equal(t, 0.6, outcome.Manifest.Strength)
	assert.Len(t, outcome.Manifest.NormMean, 3)
}

func TestRun_ConvBNReluAtImageResolution(t *testing.T) {
	g := graph.New("image_style", 13)
	g.Inputs = []graph.ValueInfo{{Name: "input", Shape: tensor.Shape{1, 3, 64, 64}, DType: tensor.Float32, BatchDynamic: true}}
	g.Outputs = []graph.ValueInfo{{Name: "output", Shape: tensor.Shape{1, 4, 64, 64}, DType: tensor.Float32, BatchDynamic: true}}

	weights := make([]float32, 4*3*3*3)
	for i := range weights {
		weights[i] = float32(i%7-3) * 0.25
	}
	g.AddInit("w", ft(t, weights, 4, 3, 3, 3))
	g.AddInit("scale", ft(t, []float32{1, 1, 1, 1}, 4))
	g.AddInit("beta", ft(t, []float32{0.5, -0.5, 0.25, -0.25}, 4))
	g.AddInit("mean", ft(t, []float32{0, 0, 0, 0}, 4))
	g.AddInit("variance", ft(t, []float32{0.25, 0.25, 0.25, 0.25}, 4))

	conv := &graph.Node{Kind: graph.OpConv, Name: "conv",
		Inputs: []string{"input", "w"}, Outputs: []string{"conv_out"}}
	conv.SetAttr("kernel_shape", graph.IntsAttr([]int64{3, 3}))
	conv.SetAttr("pads", graph.IntsAttr([]int64{1, 1, 1, 1}))
	g.AddNode(conv)
	bn := &graph.Node{Kind: graph.OpBatchNorm, Name: "bn",
		Inputs:  []string{"conv_out", "scale", "beta", "mean", "variance"},
		Outputs: []string{"bn_out"}}
	bn.SetAttr("epsilon", graph.FloatAttr(0))
	g.AddNode(bn)
	g.AddNode(&graph.Node{Kind: graph.OpRelu, Name: "relu",
		Inputs: []string{"bn_out"}, Outputs: []string{"output"}})

	data, err := onnx.Encode(g)
	require.NoError(t, err)

	outcome, err := Run(BytesSource{Data: data}, Options{
		Tolerance:   verify.Tolerance{Absolute: 1e-4},
		SampleCount: 1,
	})
	require.NoError(t, err)

	// BatchNormalization folds into the Conv weights and bias.
	require.Len(t, outcome.Graph.Nodes, 2)
	assert.Equal(t, graph.OpConv, outcome.Graph.Nodes[0].Kind)
	assert.Equal(t, graph.OpRelu, outcome.Graph.Nodes[1].Kind)
	assert.True(t, outcome.Report.Verification.Passed)
	assert.Equal(t, 64, outcome.Manifest.InputSize)
}

func TestRun_FP16(t *testing.T) {
	data := styleModel(t, 0.25)

	outcome, err := Run(BytesSource{Data: data, Format: "onnx"}, Options{
		Precision: quantize.FP16,
	})
	require.NoError(t, err)

	// Conv weight (after BN fusion) stored half-width, restored by a Cast.
	w := outcome.Graph.Init("w_fp16")
	require.NotNil(t, w)
	assert.Equal(t, tensor.Float16, w.DType())
	require.NotEmpty(t, outcome.Graph.Nodes)
	assert.Equal(t, graph.OpCast, outcome.Graph.Nodes[0].Kind)

	// Steps of 0.25 are exact in half precision.
	assert.True(t, outcome.Report.Verification.Passed)
	assert.Less(t, outcome.Report.OptimizedSizeBytes, outcome.Report.OriginalSizeBytes)
}

func TestRun_TargetSize(t *testing.T) {
	data := styleModel(t, 0.25)

	outcome, err := Run(BytesSource{Data: data}, Options{TargetSize: 12})
	require.NoError(t, err)

	// Fully convolutional: resizing the declared IO shapes is legal and
	// verification runs at the new resolution.
	assert.Equal(t, tensor.Shape{1, 1, 12, 12}, outcome.Graph.Inputs[0].Shape)
	assert.Equal(t, 12, outcome.Manifest.InputSize)
	assert.True(t, outcome.Report.Verification.Passed)

	// A graph without image inputs cannot be resized.
	g := graph.New("vec", 13)
	g.Inputs = []graph.ValueInfo{{Name: "x", Shape: tensor.Shape{1, 4}, DType: tensor.Float32}}
	g.Outputs = []graph.ValueInfo{{Name: "y", Shape: tensor.Shape{1, 4}, DType: tensor.Float32}}
	g.AddNode(&graph.Node{Kind: graph.OpRelu, Name: "relu", Inputs: []string{"x"}, Outputs: []string{"y"}})
	vec, err := onnx.Encode(g)
	require.NoError(t, err)
	_, err = Run(BytesSource{Data: vec}, Options{TargetSize: 12})
	assert.Error(t, err)
}

func TestRun_BadFormat(t *testing.T) {
	_, err := Run(BytesSource{Data: []byte("not a model"), Format: "tflite"}, Options{})
	var fe *onnx.FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestRun_MalformedBytes(t *testing.T) {
	outcome, err := Run(BytesSource{Data: []byte{0xde, 0xad, 0xbe, 0xef}}, Options{})
	assert.Nil(t, outcome)
	var fe *onnx.FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestRun_ToleranceExceededReturnsOutcome(t *testing.T) {
	data := styleModel(t, 0.1)

	outcome, err := Run(BytesSource{Data: data}, Options{
		Precision: quantize.FP16,
		Tolerance: verify.Tolerance{Absolute: 1e-12, Relative: 1e-12},
	})

	var te *ToleranceExceededError
	require.ErrorAs(t, err, &te)
	require.NotNil(t, outcome, "failing outcome still carries the report")
	assert.False(t, outcome.Report.Verification.Passed)
	assert.NotEmpty(t, outcome.Model)
}

func TestRun_INT8RejectsConv(t *testing.T) {
	data := styleModel(t, 0.25)

	outcome, err := Run(BytesSource{Data: data}, Options{Precision: quantize.INT8})
	assert.Nil(t, outcome)
	var pe *quantize.UnsupportedPrecisionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, quantize.INT8, pe.Precision)
}

func TestRun_UnknownPass(t *testing.T) {
	_, err := Run(BytesSource{Data: styleModel(t, 0.25)}, Options{
		PassNames: []string{"no-such-pass"},
	})
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.onnx")
	require.NoError(t, os.WriteFile(path, styleModel(t, 0.25), 0o644))

	data, format, err := FileSource(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "onnx", format)
	assert.NotEmpty(t, data)

	_, _, err = FileSource(filepath.Join(dir, "missing.onnx")).Load()
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.onnx")

	require.NoError(t, WriteFileAtomic(path, []byte("payload")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
defaults:
  precision: fp16
  samples: 2
  size: 16
models:
  - name: mosaic
    input: models/mosaic.onnx
    output: out/mosaic.onnx
  - name: candy
    input: models/candy.onnx
    output: out/candy.onnx
    precision: fp32
    strength: 0.4
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "fp16", cfg.Defaults.Precision)
	require.Len(t, cfg.Models, 2)

	opts, err := cfg.options(cfg.Models[0])
	require.NoError(t, err)
	assert.Equal(t, quantize.FP16, opts.Precision)
	assert.Equal(t, 2, opts.SampleCount)
	assert.Equal(t, 16, opts.TargetSize)

	opts, err = cfg.options(cfg.Models[1])
	require.NoError(t, err)
	assert.Equal(t, quantize.FP32, opts.Precision, "per-model precision wins")
	assert.Equal(t, 0.4, opts.Strength)
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate(), "empty model list")

	cfg = &Config{Models: []JobSpec{{Name: "a", Output: "x"}}}
	assert.Error(t, cfg.Validate(), "missing input")

	cfg = &Config{Models: []JobSpec{
		{Name: "a", Input: "in", Output: "out"},
		{Name: "a", Input: "in2", Output: "out2"},
	}}
	assert.Error(t, cfg.Validate(), "duplicate names")

	cfg = &Config{Models: []JobSpec{{Name: "a", Input: "in", Output: "out", Precision: "fp64"}}}
	assert.Error(t, cfg.Validate(), "bad precision")
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.onnx")
	require.NoError(t, os.WriteFile(model, styleModel(t, 0.25), 0o644))

	cfg := &Config{
		Defaults: Defaults{Samples: 2},
		Models: []JobSpec{
			{Name: "good", Input: model, Output: filepath.Join(dir, "good-out.onnx")},
			{Name: "bad", Input: filepath.Join(dir, "missing.onnx"), Output: filepath.Join(dir, "bad-out.onnx")},
		},
	}

	results := RunBatch(cfg, 2)
	require.Len(t, results, 2)

	assert.Equal(t, "good", results[0].Name)
	assert.NoError(t, results[0].Err)
	assert.NotEmpty(t, results[0].ID)
	_, err := os.Stat(results[0].Output)
	assert.NoError(t, err)

	assert.Error(t, results[1].Err)
	_, err = os.Stat(results[1].Output)
	assert.True(t, errors.Is(err, os.ErrNotExist), "failed job writes nothing")

	assert.NotEqual(t, results[0].ID, results[1].ID)
}
