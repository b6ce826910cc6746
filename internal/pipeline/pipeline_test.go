package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylizer-ml/stylizer/internal/engine"
	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/passes"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

func reluGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New("simple", 13)
	g.Inputs = []graph.ValueInfo{{Name: "x", Shape: tensor.Shape{1, 4}, DType: tensor.Float32}}
	g.Outputs = []graph.ValueInfo{{Name: "y", Shape: tensor.Shape{1, 4}, DType: tensor.Float32}}
	g.AddNode(&graph.Node{Kind: graph.OpIdentity, Name: "id", Inputs: []string{"x"}, Outputs: []string{"mid"}})
	g.AddNode(&graph.Node{Kind: graph.OpRelu, Name: "relu", Inputs: []string{"mid"}, Outputs: []string{"y"}})
	return g
}

func TestApply_TrailRecordsEveryPass(t *testing.T) {
	g := reluGraph(t)
	list := passes.Default(engine.New())

	out, trail, err := Apply(g, list)
	require.NoError(t, err)
	require.NotNil(t, out)

	require.Len(t, trail, len(list))
	for i, p := range list {
		assert.Equal(t, p.Name, trail[i].Pass)
	}

	// No Conv or Transpose present: those passes are skipped with a reason.
	byName := map[string]PassRecord{}
	for _, rec := range trail {
		byName[rec.Pass] = rec
	}
	assert.False(t, byName[passes.NameFuseConv].Applied)
	assert.Equal(t, "not applicable", byName[passes.NameFuseConv].Reason)
	assert.False(t, byName[passes.NameCanonicalizeTranspose].Applied)
	assert.True(t, byName[passes.NameEliminateIdentity].Applied)
	assert.Equal(t, 1, byName[passes.NameEliminateIdentity].NodesRemoved)
}

func TestApply_InputNotMutated(t *testing.T) {
	g := reluGraph(t)
	ref := g.Clone()

	_, _, err := Apply(g, passes.Default(engine.New()))
	require.NoError(t, err)
	assert.True(t, graph.Equal(ref, g))
}

func TestApply_FullPipelineIdempotent(t *testing.T) {
	g := reluGraph(t)
	list := passes.Default(engine.New())

	once, _, err := Apply(g, list)
	require.NoError(t, err)
	twice, _, err := Apply(once, list)
	require.NoError(t, err)

	assert.True(t, graph.Equal(once, twice))
}

func TestApply_IntegrityError(t *testing.T) {
	broken := passes.Pass{
		Name:   "break-everything",
		Effect: passes.ReduceNodes,
		Run: func(g *graph.Graph) (*graph.Graph, passes.Stats, error) {
			out := g.Clone()
			out.Nodes = nil // Outputs no longer resolve.
			return out, passes.Stats{NodesRemoved: len(g.Nodes)}, nil
		},
	}

	_, trail, err := Apply(reluGraph(t), []passes.Pass{broken})
	require.Error(t, err)

	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "break-everything", ie.Pass)
	require.Len(t, trail, 1)
	assert.True(t, trail[0].Applied)
}

func TestApply_PassErrorPropagates(t *testing.T) {
	failing := passes.Pass{
		Name: "failing",
		Run: func(g *graph.Graph) (*graph.Graph, passes.Stats, error) {
			return nil, passes.Stats{}, errors.New("boom")
		},
	}

	_, _, err := Apply(reluGraph(t), []passes.Pass{failing})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing")

	var ie *IntegrityError
	assert.False(t, errors.As(err, &ie), "a pass error is not an integrity violation")
}
