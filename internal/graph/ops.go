package graph

import "slices"

// OpKind identifies one operator in the closed vocabulary understood by the
// converter and the reference interpreter. Graphs referencing anything
// outside this set are rejected at load time.
type OpKind string

// Operator vocabulary. This mirrors the operator set of the target in-browser
// runtime: image-to-image convolutional networks plus the shape plumbing
// their exporters emit.
const (
	OpConv              OpKind = "Conv"
	OpBatchNorm         OpKind = "BatchNormalization"
	OpInstanceNorm      OpKind = "InstanceNormalization"
	OpRelu              OpKind = "Relu"
	OpLeakyRelu         OpKind = "LeakyRelu"
	OpSigmoid           OpKind = "Sigmoid"
	OpTanh              OpKind = "Tanh"
	OpAdd               OpKind = "Add"
	OpSub               OpKind = "Sub"
	OpMul               OpKind = "Mul"
	OpDiv               OpKind = "Div"
	OpSqrt              OpKind = "Sqrt"
	OpExp               OpKind = "Exp"
	OpPad               OpKind = "Pad"
	OpIdentity          OpKind = "Identity"
	OpDropout           OpKind = "Dropout"
	OpTranspose         OpKind = "Transpose"
	OpReshape           OpKind = "Reshape"
	OpFlatten           OpKind = "Flatten"
	OpGemm              OpKind = "Gemm"
	OpMatMul            OpKind = "MatMul"
	OpConstant          OpKind = "Constant"
	OpCast              OpKind = "Cast"
	OpClip              OpKind = "Clip"
	OpMaxPool           OpKind = "MaxPool"
	OpAveragePool       OpKind = "AveragePool"
	OpGlobalAveragePool OpKind = "GlobalAveragePool"
	OpUpsample          OpKind = "Upsample"
	OpConcat            OpKind = "Concat"
	OpDequantizeLinear  OpKind = "DequantizeLinear"
)

// vocabulary is the read-only operator table shared by all jobs.
var vocabulary = map[OpKind]bool{
	OpConv:              true,
	OpBatchNorm:         true,
	OpInstanceNorm:      true,
	OpRelu:              true,
	OpLeakyRelu:         true,
	OpSigmoid:           true,
	OpTanh:              true,
	OpAdd:               true,
	OpSub:               true,
	OpMul:               true,
	OpDiv:               true,
	OpSqrt:              true,
	OpExp:               true,
	OpPad:               true,
	OpIdentity:          true,
	OpDropout:           true,
	OpTranspose:         true,
	OpReshape:           true,
	OpFlatten:           true,
	OpGemm:              true,
	OpMatMul:            true,
	OpConstant:          true,
	OpCast:              true,
	OpClip:              true,
	OpMaxPool:           true,
	OpAveragePool:       true,
	OpGlobalAveragePool: true,
	OpUpsample:          true,
	OpConcat:            true,
	OpDequantizeLinear:  true,
}

// KindOf maps an operator type string onto the vocabulary.
// The second return value is false for unknown operators.
func KindOf(opType string) (OpKind, bool) {
	k := OpKind(opType)
	return k, vocabulary[k]
}

// SupportedOps returns the vocabulary in sorted order.
func SupportedOps() []OpKind {
	ops := make([]OpKind, 0, len(vocabulary))
	for op := range vocabulary {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}
