package lazybuffer

import (
	"lazysched/internal/dtype"
	"lazysched/internal/ops"
	"lazysched/internal/schederr"
	"lazysched/internal/shapetracker"
)

func asFloatVal(v any) float64 {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return 0
}

func isNumZero(v any) bool {
	switch x := v.(type) {
	case bool:
		return !x
	case float64:
		return x == 0
	case int64:
		return x == 0
	}
	return false
}

func isNumOne(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x == 1
	case int64:
		return x == 1
	}
	return false
}

// E builds an elementwise node of op over srcs, applying re-fusion,
// typechecking, constant folding and the identity simplifications
// before falling back to a fresh base.
func E(op ops.Op, srcs []*LazyBuffer, arg any) (*LazyBuffer, error) {
	resolved := make([]*LazyBuffer, len(srcs))
	copy(resolved, srcs)

	// Step 1: re-fuse through a live contiguous_child hint.
	for i, s := range resolved {
		if s.IsBase() && s.contigChild != nil {
			if child := s.contigChild.ref.Value(); child != nil {
				resolved[i] = NewView(child.Base, s.contigChild.inverse)
			} else {
				s.contigChild = nil
			}
		}
	}

	if err := validateE(op, resolved); err != nil {
		return nil, err
	}

	outDType := resolved[len(resolved)-1].DType
	if op.IsBinary() && (op.Binary == ops.CMPLT || op.Binary == ops.CMPEQ) {
		outDType = dtype.Bool_
	}

	if ops.PythonALU[op] {
		allConst := true
		vals := make([]any, len(resolved))
		for i, s := range resolved {
			if !s.IsUnrealizedUnmaskedConst() {
				allConst = false
				break
			}
			vals[i] = s.Base.Arg
		}
		if allConst {
			res := ops.ExecALU(op, outDType, vals)
			return Const(res, outDType, resolved[0].Device, resolved[0].IntShape()), nil
		}
	}

	if op.IsBinary() && len(resolved) == 2 {
		if simplified, ok, err := identitySimplify(op.Binary, resolved[0], resolved[1], outDType); err != nil {
			return nil, err
		} else if ok {
			return simplified, nil
		}
	}

	return NewBase(resolved[0].Device, shapetracker.FromShape(resolved[0].Shape()), outDType, op, arg, resolved, true), nil
}

func identitySimplify(op ops.BinaryOp, a, b *LazyBuffer, outDType dtype.DType) (*LazyBuffer, bool, error) {
	isZero := func(x *LazyBuffer) bool { return x.IsUnrealizedUnmaskedConst() && isNumZero(x.Base.Arg) }
	isOne := func(x *LazyBuffer) bool { return x.IsUnrealizedUnmaskedConst() && isNumOne(x.Base.Arg) }
	switch op {
	case ops.ADD:
		if isZero(b) {
			return a, true, nil
		}
		if isZero(a) {
			return b, true, nil
		}
	case ops.SUB:
		if isZero(b) {
			return a, true, nil
		}
	case ops.MUL:
		if isZero(a) || isZero(b) {
			return Const(dtype.AsConst(0.0, outDType), outDType, a.Device, a.IntShape()), true, nil
		}
		if isOne(b) {
			return a, true, nil
		}
		if isOne(a) {
			return b, true, nil
		}
	case ops.DIV:
		if outDType.IsFloat() && b.IsUnrealizedUnmaskedConst() {
			cv := asFloatVal(b.Base.Arg)
			if cv != 0 {
				recip := Const(1.0/cv, outDType, a.Device, a.IntShape())
				out, err := E(ops.B(ops.MUL), []*LazyBuffer{a, recip}, nil)
				return out, true, err
			}
		}
	}
	return nil, false, nil
}

func validateE(op ops.Op, srcs []*LazyBuffer) error {
	if len(srcs) == 0 {
		return schederr.NewShapeError("elementwise op requires at least one operand")
	}
	shape0 := srcs[0].Shape()
	for _, s := range srcs[1:] {
		if !shapetracker.DimsEqual(s.Shape(), shape0) {
			return schederr.NewShapeError("elementwise operand shape mismatch: %v vs %v", shapetracker.ToInts(shape0), s.IntShape())
		}
	}
	if op.IsTernary() && op.Ternary == ops.WHERE {
		if srcs[0].DType.Kind != dtype.Bool {
			return schederr.NewDTypeError("WHERE predicate must be bool, got %s", srcs[0].DType)
		}
		if len(srcs) >= 3 && !srcs[1].DType.Equal(srcs[2].DType) {
			return schederr.NewDTypeError("WHERE branch dtype mismatch: %s vs %s", srcs[1].DType, srcs[2].DType)
		}
		return nil
	}
	dt := srcs[0].DType
	for _, s := range srcs {
		if !s.DType.Equal(dt) {
			return schederr.NewDTypeError("elementwise operand dtype mismatch: %s vs %s", dt, s.DType)
		}
	}
	if op.IsUnary() && op.Unary == ops.NEG && dt.Kind == dtype.Bool {
		return schederr.NewDTypeError("NEG does not accept bool operands")
	}
	return nil
}
