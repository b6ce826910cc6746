// Package verify is the numeric equivalence oracle: it executes an
// original graph and its optimized candidate on shared inputs and compares
// every declared output element against an absolute-or-relative tolerance.
package verify

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/stylizer-ml/stylizer/internal/engine"
	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// Tolerance bounds the allowed per-element divergence. An element passes
// when either the absolute or the relative criterion holds.
type Tolerance struct {
	Absolute float64
	Relative float64
}

// DefaultTolerance matches the conversion pipeline's acceptance threshold.
func DefaultTolerance() Tolerance {
	return Tolerance{Absolute: 1e-4, Relative: 1e-3}
}

// Sample is one set of named input tensors.
type Sample map[string]*tensor.RawTensor

// Result reports the outcome of a verification run. It is not modified
// after Verify returns.
type Result struct {
	Passed    bool
	MaxAbsErr map[string]float64
	MaxRelErr map[string]float64
	Reasons   []string
}

// UnverifiableGraphError reports an operator the engine cannot execute,
// which makes equivalence checking impossible.
type UnverifiableGraphError struct {
	Op graph.OpKind
}

func (e *UnverifiableGraphError) Error() string {
	return fmt.Sprintf("cannot verify graph: no engine support for operator %s", e.Op)
}

// relEps guards the relative-error denominator against near-zero reference
// values.
const relEps = 1e-9

// Verify runs both graphs on every sample and compares outputs. A missing
// engine handler in either graph is a hard failure; numeric divergence is
// reported in the Result, not as an error.
func Verify(orig, cand *graph.Graph, samples []Sample, tol Tolerance, eng engine.Engine) (*Result, error) {
	for _, g := range []*graph.Graph{orig, cand} {
		for _, node := range g.Nodes {
			if !eng.Supports(node.Kind) {
				return nil, &UnverifiableGraphError{Op: node.Kind}
			}
		}
	}

	res := &Result{
		Passed:    true,
		MaxAbsErr: make(map[string]float64),
		MaxRelErr: make(map[string]float64),
	}

	for si, sample := range samples {
		ref, err := eng.Run(orig, sample)
		if err != nil {
			return nil, fmt.Errorf("running original graph on sample %d: %w", si, err)
		}
		got, err := eng.Run(cand, sample)
		if err != nil {
			return nil, fmt.Errorf("running candidate graph on sample %d: %w", si, err)
		}
		compareOutputs(res, si, ref, got, tol)
	}
	return res, nil
}

func compareOutputs(res *Result, sample int, ref, got map[string]*tensor.RawTensor, tol Tolerance) {
	for name, a := range ref {
		b, ok := got[name]
		if !ok {
			res.fail("sample %d: candidate is missing output %q", sample, name)
			continue
		}
		av, err := a.Float32Values()
		if err != nil {
			res.fail("sample %d: output %q: %v", sample, name, err)
			continue
		}
		bv, err := b.Float32Values()
		if err != nil {
			res.fail("sample %d: output %q: %v", sample, name, err)
			continue
		}
		if !a.Shape().Equal(b.Shape()) {
			res.fail("sample %d: output %q shape %v differs from %v", sample, name, a.Shape(), b.Shape())
			continue
		}

		exceeded := false
		for i := range av {
			ra, rb := float64(av[i]), float64(bv[i])
			abs := math.Abs(ra - rb)
			rel := abs / math.Max(math.Abs(ra), relEps)
			if abs > res.MaxAbsErr[name] {
				res.MaxAbsErr[name] = abs
			}
			if rel > res.MaxRelErr[name] {
				res.MaxRelErr[name] = rel
			}
			if abs > tol.Absolute && rel > tol.Relative {
				exceeded = true
			}
		}
		if exceeded {
			res.fail("sample %d: output %q exceeds tolerance (max abs %.3g, max rel %.3g)",
				sample, name, res.MaxAbsErr[name], res.MaxRelErr[name])
		}
	}
	for name := range got {
		if _, ok := ref[name]; !ok {
			res.fail("sample %d: candidate has extra output %q", sample, name)
		}
	}
}

func (r *Result) fail(format string, args ...any) {
	r.Passed = false
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

// RandomSamples draws n sets of standard-normal inputs shaped from the
// graph's declared inputs, batch dimension forced to 1. The same seed
// always produces the same samples.
func RandomSamples(g *graph.Graph, n int, seed int64) ([]Sample, error) {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		s := make(Sample, len(g.Inputs))
		for _, in := range g.Inputs {
			if in.DType != tensor.Float32 {
				return nil, fmt.Errorf("cannot sample input %q of type %s", in.Name, in.DType)
			}
			shape := in.Shape.Clone()
			if len(shape) > 0 {
				shape[0] = 1
			}
			vals := make([]float32, shape.NumElements())
			for j := range vals {
				vals[j] = float32(rng.NormFloat64())
			}
			t, err := tensor.FromFloat32(vals, shape)
			if err != nil {
				return nil, err
			}
			s[in.Name] = t
		}
		samples = append(samples, s)
	}
	return samples, nil
}
