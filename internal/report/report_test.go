package report

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylizer-ml/stylizer/internal/pipeline"
	"github.com/stylizer-ml/stylizer/internal/verify"
)

func sampleTrail() pipeline.Trail {
	return pipeline.Trail{
		{Pass: "eliminate-dead-nodes", Applied: true, NodesRemoved: 2},
		{Pass: "fuse-conv", Reason: "not applicable"},
	}
}

func TestSummarize_Reduction(t *testing.T) {
	r := Summarize(1000, 750, sampleTrail(), nil)

	assert.Equal(t, 25.0, r.ReductionPercent)
	assert.False(t, r.SizeAnomaly)
	assert.False(t, r.Verification.Performed)
	assert.Len(t, r.Passes, 2)
}

func TestSummarize_ReductionBounds(t *testing.T) {
	// Never 100 or more, never negative.
	r := Summarize(1000, 1, sampleTrail(), nil)
	assert.Greater(t, r.ReductionPercent, 0.0)
	assert.Less(t, r.ReductionPercent, 100.0)

	r = Summarize(1000, 1000, sampleTrail(), nil)
	assert.Equal(t, 0.0, r.ReductionPercent)
	assert.False(t, r.SizeAnomaly)
}

func TestSummarize_SizeAnomaly(t *testing.T) {
	r := Summarize(1000, 1200, sampleTrail(), nil)

	assert.True(t, r.SizeAnomaly)
	assert.Equal(t, 0.0, r.ReductionPercent, "anomaly instead of a negative percentage")
}

func TestSummarize_CopiesVerification(t *testing.T) {
	v := &verify.Result{
		Passed:    false,
		MaxAbsErr: map[string]float64{"output": 0.5},
		MaxRelErr: map[string]float64{"output": 0.25},
		Reasons:   []string{"sample 0: output exceeds tolerance"},
	}
	r := Summarize(10, 10, nil, v)

	require.True(t, r.Verification.Performed)
	assert.False(t, r.Verification.Passed)

	// The report owns its own copies.
	v.MaxAbsErr["output"] = 99
	v.Reasons[0] = "mutated"
	assert.Equal(t, 0.5, r.Verification.MaxAbsErr["output"])
	assert.Equal(t, "sample 0: output exceeds tolerance", r.Verification.Reasons[0])
}

func TestReport_JSONGolden(t *testing.T) {
	v := &verify.Result{
		Passed:    true,
		MaxAbsErr: map[string]float64{"output": 0.5},
		MaxRelErr: map[string]float64{"output": 0.25},
	}
	r := Summarize(1000, 750, sampleTrail(), v)

	data, err := json.MarshalIndent(r, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithNameSuffix(".golden.json"))
	g.Assert(t, "report", data)
}
