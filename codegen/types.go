package codegen

import (
	"github.com/tinytapeout/hdlsim/ir"
	"github.com/tinytapeout/hdlsim/wasm"
)

// Repr is the machine representation of a value: an i32, an i64, or a
// by-reference chunk array in linear memory.
type Repr int

const (
	ReprI32 Repr = iota
	ReprI64
	ReprRef
)

// ValueType maps a scalar representation to its WASM value type.
func (r Repr) ValueType() wasm.ValueType {
	if r == ReprI64 {
		return wasm.ValueTypeI64
	}
	return wasm.ValueTypeI32
}

// SizeOf returns the byte size a value of t occupies in the state buffer.
// Logic values pack into the smallest power-of-two container up to 8
// bytes; anything wider is a little-endian array of 32-bit chunks.
func SizeOf(t *ir.DataType) int {
	if t.Kind == ir.TypeArray {
		return SizeOf(t.Elem) * t.Count()
	}
	switch w := t.Width(); {
	case w <= 8:
		return 1
	case w <= 16:
		return 2
	case w <= 32:
		return 4
	case w <= 64:
		return 8
	default:
		return Chunks(w) * 4
	}
}

// AlignOf returns the required alignment of t: the next power of two of
// its size, capped at 8.
func AlignOf(t *ir.DataType) int {
	if t.Kind == ir.TypeArray {
		return AlignOf(t.Elem)
	}
	size := SizeOf(t)
	align := 1
	for align < size && align < 8 {
		align <<= 1
	}
	return align
}

// ReprOf returns how values of t travel: on the WASM stack (i32/i64) or
// by reference.
func ReprOf(t *ir.DataType) Repr {
	if t.Kind == ir.TypeArray {
		return ReprRef
	}
	switch size := SizeOf(t); {
	case size <= 4:
		return ReprI32
	case size == 8:
		return ReprI64
	default:
		return ReprRef
	}
}

// IsWide reports whether t is a logic type wider than 64 bits.
func IsWide(t *ir.DataType) bool {
	return t.Kind == ir.TypeLogic && t.Width() > 64
}

// Chunks returns the number of 32-bit chunks covering w bits.
func Chunks(w int) int { return (w + 31) / 32 }

// LastChunkMask returns the partial-bit mask of the top chunk of a
// w-bit wide value: all ones when w is a chunk multiple.
func LastChunkMask(w int) uint32 {
	rem := uint(w % 32)
	if rem == 0 {
		return 0xffffffff
	}
	return (uint32(1) << rem) - 1
}
