package ops

import (
	"math"

	"lazysched/internal/dtype"
)

// PythonALU holds the set of ops constant folding is willing to evaluate
// in host arithmetic. Only ops present here are candidates for the
// all-const-operand folding rule in LazyBuffer.E.
var PythonALU = map[Op]bool{}

func init() {
	for _, o := range []UnaryOp{EXP2, LOG2, SQRT, SIN, NEG} {
		PythonALU[U(o)] = true
	}
	for _, o := range []BinaryOp{ADD, SUB, MUL, DIV, MAX, MOD, CMPLT, CMPEQ, XOR} {
		PythonALU[B(o)] = true
	}
	PythonALU[T(WHERE)] = true
}

// ExecALU evaluates op on host float64 operands (booleans encoded as
// 0/1) and truncates the result into dtype d, mirroring tinygrad's
// exec_alu + truncate table.
func ExecALU(op Op, d dtype.DType, operands []any) any {
	raw := evalALU(op, operands)
	return truncate(raw, d)
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return 0
}

func evalALU(op Op, ops []any) any {
	switch op.Family {
	case FamUnary:
		x := asFloat(ops[0])
		switch op.Unary {
		case LOG2:
			if x > 0 {
				return math.Log2(x)
			} else if x == 0 {
				return math.Inf(-1)
			}
			return math.NaN()
		case EXP2:
			r := math.Exp(x * math.Ln2)
			if math.IsInf(r, 0) {
				return math.Inf(1)
			}
			return r
		case SQRT:
			if x >= 0 {
				return math.Sqrt(x)
			}
			return math.NaN()
		case SIN:
			return math.Sin(x)
		case NEG:
			if b, ok := ops[0].(bool); ok {
				return !b
			}
			return -x
		}
	case FamBinary:
		x, y := asFloat(ops[0]), asFloat(ops[1])
		switch op.Binary {
		case ADD:
			return x + y
		case SUB:
			return x - y
		case MUL:
			return x * y
		case DIV:
			if y == 0 {
				return x * math.Inf(1)
			}
			return x / y
		case MAX:
			return math.Max(x, y)
		case MOD:
			m := math.Mod(math.Abs(x), math.Abs(y))
			if x < 0 {
				return -m
			}
			return m
		case CMPLT:
			return x < y
		case CMPEQ:
			return x == y
		case XOR:
			return float64(int64(x) ^ int64(y))
		}
	case FamTernary:
		if op.Ternary == WHERE {
			cond := asFloat(ops[0]) != 0
			if b, ok := ops[0].(bool); ok {
				cond = b
			}
			if cond {
				return ops[1]
			}
			return ops[2]
		}
	}
	return 0.0
}

func truncate(v any, d dtype.DType) any {
	switch d.Kind {
	case dtype.Bool:
		if b, ok := v.(bool); ok {
			return b
		}
		return asFloat(v) != 0
	case dtype.Float32:
		return float64(float32(asFloat(v)))
	case dtype.Float64:
		return asFloat(v)
	case dtype.Int8:
		return int64(int8(asFloat(v)))
	case dtype.Int16:
		return int64(int16(asFloat(v)))
	case dtype.Int32:
		return int64(int32(asFloat(v)))
	case dtype.Int64:
		return int64(asFloat(v))
	case dtype.Uint8:
		return int64(uint8(asFloat(v)))
	case dtype.Uint16:
		return int64(uint16(asFloat(v)))
	case dtype.Uint32:
		return int64(uint32(asFloat(v)))
	case dtype.Uint64:
		return int64(uint64(asFloat(v)))
	default:
		return v
	}
}
