// Package dtype defines the closed set of scalar element types used by
// LazyBuffer, LazyOp and the shape tracker.
package dtype

import "fmt"

// Kind tags one of the scalar dtypes a LazyBuffer or LazyOp can carry.
type Kind uint8

const (
	Bool Kind = iota
	Float32
	Float64
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(k))
	}
}

// DType is an element type plus its image-backing metadata. Most buffers
// carry a plain scalar DType; ImageShape is set only for dtypes that map
// onto a texture-like image buffer on the accelerator, matching the
// ImageDType fallback behavior the scheduler must special-case.
type DType struct {
	Kind       Kind
	ImageShape []int // non-nil only for image dtypes
}

// Scalar strips any image-backing metadata, returning the plain dtype
// used for ALU and elementwise dtype comparisons.
func (d DType) Scalar() DType { return DType{Kind: d.Kind} }

// IsImage reports whether d carries image-backing metadata.
func (d DType) IsImage() bool { return d.ImageShape != nil }

// ItemSize returns the size in bytes of one scalar element.
func (d DType) ItemSize() int {
	switch d.Kind {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Float32, Int32, Uint32:
		return 4
	case Float64, Int64, Uint64:
		return 8
	default:
		return 8
	}
}

// IsFloat reports whether the dtype is one of the floating-point kinds.
func (d DType) IsFloat() bool { return d.Kind == Float32 || d.Kind == Float64 }

func (d DType) String() string {
	if d.ImageShape != nil {
		return fmt.Sprintf("image<%s,%v>", d.Kind, d.ImageShape)
	}
	return d.Kind.String()
}

// Equal compares dtypes including image metadata.
func (d DType) Equal(o DType) bool {
	if d.Kind != o.Kind || len(d.ImageShape) != len(o.ImageShape) {
		return false
	}
	for i := range d.ImageShape {
		if d.ImageShape[i] != o.ImageShape[i] {
			return false
		}
	}
	return true
}

var (
	Bool_    = DType{Kind: Bool}
	Float32_ = DType{Kind: Float32}
	Float64_ = DType{Kind: Float64}
	Int8_    = DType{Kind: Int8}
	Int16_   = DType{Kind: Int16}
	Int32_   = DType{Kind: Int32}
	Int64_   = DType{Kind: Int64}
	Uint8_   = DType{Kind: Uint8}
	Uint16_  = DType{Kind: Uint16}
	Uint32_  = DType{Kind: Uint32}
	Uint64_  = DType{Kind: Uint64}
)

// NewImage builds an image dtype with the given scalar kind and shape.
func NewImage(k Kind, shape []int) DType {
	s := make([]int, len(shape))
	copy(s, shape)
	return DType{Kind: k, ImageShape: s}
}

// AsConst coerces a host Go scalar into the canonical representation for
// dtype d (truncating floats to bools, bools to 0/1 floats, and so on),
// matching the coercion tinygrad's dtypes.as_const performs before a
// CONST node is built.
func AsConst(v any, d DType) any {
	var f float64
	switch x := v.(type) {
	case bool:
		if x {
			f = 1
		}
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	default:
		f = 0
	}
	switch d.Kind {
	case Bool:
		return f != 0
	case Float32, Float64:
		return f
	default:
		return int64(f)
	}
}
