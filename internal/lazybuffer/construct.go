package lazybuffer

import (
	"weak"

	"lazysched/internal/dtype"
	"lazysched/internal/ops"
	"lazysched/internal/schederr"
	"lazysched/internal/shapetracker"
)

// LoadOp is the factory behind EMPTY/CONST/COPY/CONTIGUOUS/CUSTOM/ASSIGN:
// every base node whose construction isn't a derived algebraic op.
func LoadOp(op ops.LoadOp, shape []shapetracker.Dim, dt dtype.DType, device string, arg any, src []*LazyBuffer, enableCache bool) *LazyBuffer {
	return NewBase(device, shapetracker.FromShape(shape), dt, ops.L(op), arg, src, enableCache)
}

// Const builds a CONST base of the given scalar value and broadcasts it
// to shape (if non-nil) by expanding a unit base of the same rank.
func Const(val any, dt dtype.DType, device string, shape []int) *LazyBuffer {
	coerced := dtype.AsConst(val, dt)
	ones := make([]shapetracker.Dim, len(shape))
	for i := range ones {
		ones[i] = shapetracker.I(1)
	}
	base := LoadOp(ops.CONST, ones, dt, device, coerced, nil, true)
	if shape == nil {
		return base
	}
	target := shapetracker.Dims(shape)
	return base.Expand(target)
}

// Assign returns an in-place write to lb (which must already be
// realized): a base of kind ASSIGN whose buffer slot is shared with the
// target rather than freshly allocated.
func (lb *LazyBuffer) Assign(x *LazyBuffer) (*LazyBuffer, error) {
	target := lb.Base
	if !target.IsRealized() {
		return nil, schederr.NewAssignError("assign target is not realized")
	}
	if x.Size() != lb.Size() {
		return nil, schederr.NewAssignError("assign size mismatch: %d vs %d", x.Size(), lb.Size())
	}
	var arg any
	if !lb.ST.Contiguous() {
		arg = lb.ST
	}
	ret := NewBase(target.Device, lb.ST, lb.DType, ops.L(ops.ASSIGN), arg, []*LazyBuffer{x, target}, true)
	ret.Buf = target.Buf
	return ret, nil
}

// Contiguous forces lb to be realized as a plain contiguous buffer,
// recording a contiguous_child hint on its base when the current view
// is invertible so later elementwise construction can re-fuse through
// it instead of re-deriving the pre-realize chain.
func (lb *LazyBuffer) Contiguous() *LazyBuffer {
	smallerView := lb.Base != lb && lb.ST.Size() < lb.Base.ST.Size()
	if !lb.ST.Contiguous() || smallerView || lb.IsUnrealizedConst() {
		ret := LoadOp(ops.CONTIGUOUS, shapetracker.Dims(lb.IntShape()), lb.DType, lb.Device, nil, []*LazyBuffer{lb}, true)
		if lb.Base != lb {
			if inv, ok := lb.ST.Invert(lb.Base.ST.Shape()); ok {
				lb.Base.contigChild = &contigChild{ref: weak.Make(ret), inverse: inv}
			}
		}
		return ret
	}
	lb.Base.ForcedRealize = true
	return lb
}

// Cast converts lb to dtype dt, or reinterprets its bytes in place when
// bitcast is set (disk device only).
func (lb *LazyBuffer) Cast(dt dtype.DType, bitcast bool) (*LazyBuffer, error) {
	if lb.DType.Equal(dt) {
		return lb, nil
	}
	if bitcast {
		if lb.Device != "disk" {
			return nil, schederr.NewDeviceError("bitcast is only supported on the disk device")
		}
		if !lb.ST.AllInt() {
			return nil, schederr.NewShapeError("bitcast requires a concrete shape")
		}
		shp := lb.IntShape()
		trailingBytes := shp[len(shp)-1] * lb.DType.ItemSize()
		if trailingBytes%dt.ItemSize() != 0 {
			return nil, schederr.NewDTypeError("bitcast: trailing axis byte count %d does not divide itemsize %d", trailingBytes, dt.ItemSize())
		}
	} else if lb.Device == "disk" {
		return nil, schederr.NewDeviceError("disk buffers only support bitcast, not value cast")
	}
	if !bitcast && lb.IsUnrealizedUnmaskedConst() {
		return Const(lb.Base.Arg, dt, lb.Device, lb.IntShape()), nil
	}
	if !bitcast && cfg().CastBeforeView && lb.Base != lb {
		baseCast, err := lb.Base.Cast(dt, false)
		if err != nil {
			return nil, err
		}
		return NewView(baseCast.Base, lb.ST), nil
	}
	return NewBase(lb.Device, lb.ST, dt, ops.U(ops.CAST), ops.CastArg{DType: dt, Bitcast: bitcast}, []*LazyBuffer{lb}, true), nil
}

// CopyToDevice returns a node reading the same logical values on
// device, collapsing chained copies and copying consts and shrunk views
// the cheap way.
func (lb *LazyBuffer) CopyToDevice(device string, force bool) *LazyBuffer {
	if lb.Device == device {
		return lb
	}
	if lb.Base.Op.IsLoad() && lb.Base.Op.Load == ops.COPY && !force {
		inner := lb.Base.Srcs[0]
		if lb.ST.Contiguous() && lb.ST.Size() == lb.Base.ST.Size() && !inner.Base.IsRealized() {
			collapsed := inner.Base.CopyToDevice(device, false)
			return collapsed.Reshape(lb.ST.Shape())
		}
	}
	if lb.IsUnrealizedUnmaskedConst() {
		return Const(lb.Base.Arg, lb.DType, device, lb.IntShape())
	}
	if lb.Base != lb && lb.ST.Size() < lb.Base.ST.Size() {
		return lb.Contiguous().CopyToDevice(device, force)
	}
	copied := LoadOp(ops.COPY, shapetracker.Dims(lb.Base.IntShape()), lb.DType, device, nil, []*LazyBuffer{lb.Base}, false)
	if lb.Base == lb {
		return copied
	}
	return NewView(copied.Base, lb.ST)
}
