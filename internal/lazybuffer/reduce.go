package lazybuffer

import (
	"math"

	"lazysched/internal/ops"
	"lazysched/internal/shapetracker"
)

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// R builds a reduce node over src along axes, dropping size-1 axes,
// folding constants and empty results, and applying the split-reduce
// rewrite when the reduced volume reaches the configured threshold.
func R(src *LazyBuffer, op ops.ReduceOp, axes []int) (*LazyBuffer, error) {
	shape := src.Shape()
	newAxes := make([]int, 0, len(axes))
	for _, a := range axes {
		if shape[a].Int() != 1 {
			newAxes = append(newAxes, a)
		}
	}
	if len(newAxes) == 0 {
		return src, nil
	}

	resultShape := make([]shapetracker.Dim, len(shape))
	copy(resultShape, shape)
	for _, a := range newAxes {
		resultShape[a] = shapetracker.I(1)
	}

	if src.Size() == 0 || shapetracker.ProdDims(resultShape) == 0 {
		return Const(identityVal(op), src.DType, src.Device, shapetracker.ToInts(resultShape)), nil
	}

	if src.IsUnrealizedUnmaskedConst() {
		reducedVol := 1
		for _, a := range newAxes {
			reducedVol *= shape[a].Int()
		}
		val := src.Base.Arg
		var res any
		switch op {
		case ops.SUM:
			res = asFloatVal(val) * float64(reducedVol)
		case ops.MAXREDUCE:
			res = val
		}
		return Const(res, src.DType, src.Device, shapetracker.ToInts(resultShape)), nil
	}

	cfgv := cfg()
	if cfgv.SplitReduceOp && shapetracker.AllIntDims(shape) {
		vol := 1
		for _, a := range newAxes {
			vol *= shape[a].Int()
		}
		if vol >= cfgv.ReduceOpSplitThreshold {
			strides := src.ST.RealStrides()
			bestAxis, bestHeur, bestDivisor := -1, -1.0, 0
			for _, a := range newAxes {
				divisor := gcd(256, shape[a].Int())
				denom := strides[a]
				if denom < 1 {
					denom = 1
				}
				heur := float64(divisor) / float64(denom)
				if heur > bestHeur {
					bestHeur, bestAxis, bestDivisor = heur, a, divisor
				}
			}
			// Only the single globally-best-heuristic axis is ever a
			// candidate; if it fails the divisor/heuristic floor the
			// split is abandoned entirely rather than falling back to a
			// worse axis that happens to pass.
			if bestAxis >= 0 && bestDivisor >= 16 && bestHeur >= 0.1 {
				return splitReduce(src, op, newAxes, bestAxis)
			}
		}
	}

	return NewBase(src.Device, shapetracker.FromShape(resultShape), src.DType, ops.R(op), newAxes, []*LazyBuffer{src}, true), nil
}

func identityVal(op ops.ReduceOp) any {
	switch op {
	case ops.SUM:
		return 0.0
	case ops.MAXREDUCE:
		return math.Inf(-1)
	}
	return 0.0
}

// splitReduce rewrites a single large reduce as reshape → partial
// reduce over a new inner axis → reshape → final reduce, so the
// intermediate accumulation stays small enough to vectorize well.
func splitReduce(src *LazyBuffer, op ops.ReduceOp, axes []int, splitAxis int) (*LazyBuffer, error) {
	shape := src.Shape()
	n := shape[splitAxis].Int()
	d := gcd(256, n)
	outer := n / d

	expanded := make([]shapetracker.Dim, 0, len(shape)+1)
	for i, s := range shape {
		if i == splitAxis {
			expanded = append(expanded, shapetracker.I(outer), shapetracker.I(d))
		} else {
			expanded = append(expanded, s)
		}
	}
	reshaped := src.Reshape(expanded)

	partial, err := R(reshaped, op, []int{splitAxis + 1})
	if err != nil {
		return nil, err
	}

	collapsed := make([]shapetracker.Dim, 0, len(shape))
	for i, s := range shape {
		if i == splitAxis {
			collapsed = append(collapsed, shapetracker.I(outer))
		} else {
			collapsed = append(collapsed, s)
		}
	}
	reshapedBack := partial.Reshape(collapsed)
	return R(reshapedBack, op, axes)
}
