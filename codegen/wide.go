package codegen

import (
	"fmt"
	"math/big"

	"github.com/tinytapeout/hdlsim/ir"
	"github.com/tinytapeout/hdlsim/wasm"
)

// Wide values (> 64 bits) live in memory as little-endian u32 chunk
// arrays and never travel on the WASM value stack; only addresses do.
// Every wide operation below lowers to i32 load/store sequences over the
// chunk array of its operands.

// wideRef addresses a chunk array: the local holding the base address
// (parameter 0 when the address is dp-relative and static) plus the
// static byte offset and the chunk count of the underlying value.
type wideRef struct {
	base   uint32
	off    uint32
	chunks int
	width  int
}

// loadChunk pushes chunk i of r, reading zero past the value's end so
// operands of different widths mix without special cases.
func (x *fctx) loadChunk(r wideRef, i int) {
	if i >= r.chunks {
		x.f.i32Const(0)
		return
	}
	x.f.localGet(r.base)
	x.f.mem(wasm.OpcodeI32Load, 2, r.off+uint32(4*i))
}

// storeChunkStart pushes the address half of a chunk store; the caller
// pushes the value and calls storeChunkEnd.
func (x *fctx) storeChunkStart(r wideRef) { x.f.localGet(r.base) }

func (x *fctx) storeChunkEnd(r wideRef, i int) {
	x.f.mem(wasm.OpcodeI32Store, 2, r.off+uint32(4*i))
}

// scratch returns a role-and-depth-scoped i32 scratch local, so nested
// wide sequences (materialized temporaries, cond arms) never clobber an
// outer sequence's registers.
func (x *fctx) scratch(role string) uint32 {
	return x.f.named(fmt.Sprintf("$%s%d", role, x.wideDepth), wasm.ValueTypeI32)
}

// wideAddr resolves an addressable wide expression to a wideRef. Only a
// dynamic array index needs a scratch local; plain variables address
// straight off the data pointer.
func (x *fctx) wideAddr(e *ir.Expr, role string) (wideRef, error) {
	if e.Op == ir.OpVarRef {
		ent, err := x.entry(e.Name, e.Line)
		if err != nil {
			return wideRef{}, err
		}
		return wideRef{base: 0, off: uint32(ent.Offset), chunks: ent.Chunks(), width: ent.Dtype.Width()}, nil
	}
	off, elem, err := x.pushAddr(e)
	if err != nil {
		return wideRef{}, err
	}
	loc := x.scratch(role)
	x.f.localSet(loc)
	return wideRef{base: loc, off: off, chunks: Chunks(elem.Width()), width: elem.Width()}, nil
}

// wideOperand resolves any expression to a wideRef, materializing
// non-addressable operands into scratch slots of the state region.
func (x *fctx) wideOperand(e *ir.Expr, role string) (wideRef, error) {
	switch {
	case e.Op == ir.OpVarRef, e.Op == ir.OpArraySel:
		if IsWide(e.Dtype) {
			return x.wideAddr(e, role)
		}
	case e.Op == ir.OpConst:
		tmp := x.c.Layout.allocTemp(e.Dtype)
		ref := wideRef{base: 0, off: uint32(tmp.Offset), chunks: tmp.Chunks(), width: e.Dtype.Width()}
		x.storeWideConst(ref, constBig(e))
		return ref, nil
	}
	if IsWide(e.Dtype) {
		tmp := x.c.Layout.allocTemp(e.Dtype)
		ref := wideRef{base: 0, off: uint32(tmp.Offset), chunks: tmp.Chunks(), width: e.Dtype.Width()}
		x.wideDepth++
		err := x.wideAssignRef(ref, e)
		x.wideDepth--
		return ref, err
	}
	// narrow operand: zero-extend into a two-chunk scratch
	tmp := x.c.Layout.allocTemp(ir.Logic(64))
	ref := wideRef{base: 0, off: uint32(tmp.Offset), chunks: 2, width: 64}
	x.wideDepth++
	err := x.scalarToWide(ref, e)
	x.wideDepth--
	return ref, err
}

func constBig(e *ir.Expr) *big.Int {
	if e.Big != nil {
		return e.Big
	}
	return new(big.Int).SetUint64(e.Value)
}

func bigChunk(b *big.Int, i int) uint32 {
	var word big.Int
	word.Rsh(b, uint(32*i))
	word.And(&word, chunkMask)
	return uint32(word.Uint64())
}

var chunkMask = big.NewInt(0xffffffff)

// storeWideConst writes each chunk of v, masked to the destination
// width.
func (x *fctx) storeWideConst(dst wideRef, v *big.Int) {
	mask := LastChunkMask(dst.width)
	for i := 0; i < dst.chunks; i++ {
		c := bigChunk(v, i)
		if i == dst.chunks-1 {
			c &= mask
		}
		x.storeChunkStart(dst)
		x.f.i32Const(int32(c))
		x.storeChunkEnd(dst, i)
	}
}

// scalarToWide widens a scalar expression into dst, zero-filling the
// chunks above 64 bits.
func (x *fctx) scalarToWide(dst wideRef, e *ir.Expr) error {
	v64 := x.f.named(fmt.Sprintf("$wv%d", x.wideDepth), wasm.ValueTypeI64)
	if err := x.pushValue(e, ReprI64, false); err != nil {
		return err
	}
	x.f.localSet(v64)

	mask := LastChunkMask(dst.width)
	for i := 0; i < dst.chunks; i++ {
		x.storeChunkStart(dst)
		switch i {
		case 0:
			x.f.localGet(v64)
			x.f.op(wasm.OpcodeI32WrapI64)
		case 1:
			x.f.localGet(v64)
			x.f.i64Const(32)
			x.f.op(wasm.OpcodeI64ShrU)
			x.f.op(wasm.OpcodeI32WrapI64)
		default:
			x.f.i32Const(0)
		}
		if i == dst.chunks-1 && i <= 1 && mask != 0xffffffff {
			x.f.i32Const(int32(mask))
			x.f.op(wasm.OpcodeI32And)
		}
		x.storeChunkEnd(dst, i)
	}
	return nil
}

// wideAssign stores rhs into the wide destination lhs.
func (x *fctx) wideAssign(lhs, rhs *ir.Expr) error {
	dst, err := x.wideAddr(lhs, "wd")
	if err != nil {
		return err
	}
	return x.wideAssignRef(dst, rhs)
}

// wideAssignRef dispatches on the RHS kind, writing directly into dst.
func (x *fctx) wideAssignRef(dst wideRef, rhs *ir.Expr) error {
	switch rhs.Op {
	case ir.OpConst:
		x.storeWideConst(dst, constBig(rhs))
		return nil

	case ir.OpVarRef, ir.OpArraySel:
		if !IsWide(rhs.Dtype) {
			return x.scalarToWide(dst, rhs)
		}
		src, err := x.wideOperand(rhs, "wl")
		if err != nil {
			return err
		}
		x.wideCopy(dst, src)
		return nil

	case ir.OpCond:
		if err := x.condI32(rhs.Cond); err != nil {
			return err
		}
		x.f.ifStart(wasm.BlockTypeEmpty)
		x.wideDepth++
		err := x.wideAssignRef(dst, rhs.Left)
		x.wideDepth--
		if err != nil {
			return err
		}
		x.f.elseStart()
		x.wideDepth++
		err = x.wideAssignRef(dst, rhs.Right)
		x.wideDepth--
		if err != nil {
			return err
		}
		x.f.end()
		return nil

	case ir.OpAnd, ir.OpOr, ir.OpXor:
		return x.wideBitwise(dst, rhs)

	case ir.OpAdd, ir.OpSub:
		return x.wideAddSub(dst, rhs)

	case ir.OpShiftL, ir.OpShiftR, ir.OpShiftRS:
		return x.wideShift(dst, rhs)

	case ir.OpNot:
		return x.wideNot(dst, rhs)

	case ir.OpNegate:
		return x.wideNegate(dst, rhs)

	case ir.OpCCast:
		src := rhs.Left
		if !IsWide(src.Dtype) {
			return x.scalarToWide(dst, src)
		}
		if Chunks(src.Dtype.Width()) != dst.chunks {
			return errf(ErrUnsupportedDataType, rhs.Line, "ccast between wide widths %d and %d",
				src.Dtype.Width(), dst.width)
		}
		ref, err := x.wideOperand(src, "wl")
		if err != nil {
			return err
		}
		x.wideCopy(dst, ref)
		return nil

	case ir.OpMul, ir.OpMulS, ir.OpDiv, ir.OpDivS, ir.OpModDiv, ir.OpModDivS:
		return errf(ErrUnsupportedDataType, rhs.Line, "wide %s is not supported", rhs.Op)
	}

	if !IsWide(rhs.Dtype) {
		return x.scalarToWide(dst, rhs)
	}
	return errf(ErrUnknownOperator, rhs.Line, "wide operator %q", rhs.Op)
}

// wideCopy copies chunk by chunk, masking the destination's top chunk
// when the source is the wider value.
func (x *fctx) wideCopy(dst, src wideRef) {
	mask := LastChunkMask(dst.width)
	for i := 0; i < dst.chunks; i++ {
		x.storeChunkStart(dst)
		x.loadChunk(src, i)
		if i == dst.chunks-1 && src.width > dst.width && mask != 0xffffffff {
			x.f.i32Const(int32(mask))
			x.f.op(wasm.OpcodeI32And)
		}
		x.storeChunkEnd(dst, i)
	}
}

func (x *fctx) wideBitwise(dst wideRef, e *ir.Expr) error {
	l, r, err := x.widePair(e)
	if err != nil {
		return err
	}
	var op byte
	switch e.Op {
	case ir.OpAnd:
		op = wasm.OpcodeI32And
	case ir.OpOr:
		op = wasm.OpcodeI32Or
	default:
		op = wasm.OpcodeI32Xor
	}
	mask := LastChunkMask(dst.width)
	for i := 0; i < dst.chunks; i++ {
		x.storeChunkStart(dst)
		x.loadChunk(l, i)
		x.loadChunk(r, i)
		x.f.op(op)
		if i == dst.chunks-1 && mask != 0xffffffff && (l.width > dst.width || r.width > dst.width) {
			x.f.i32Const(int32(mask))
			x.f.op(wasm.OpcodeI32And)
		}
		x.storeChunkEnd(dst, i)
	}
	return nil
}

// widePair resolves both operands of a wide binary node one scratch
// depth down.
func (x *fctx) widePair(e *ir.Expr) (l, r wideRef, err error) {
	x.wideDepth++
	defer func() { x.wideDepth-- }()
	if l, err = x.wideOperand(e.Left, "wl"); err != nil {
		return
	}
	r, err = x.wideOperand(e.Right, "wr")
	return
}

// wideAddSub emits the chunked ripple add/sub. There is no
// add-with-carry in WASM, so both overflow conditions are recomputed at
// every chunk with unsigned compares.
func (x *fctx) wideAddSub(dst wideRef, e *ir.Expr) error {
	l, r, err := x.widePair(e)
	if err != nil {
		return err
	}

	left := x.scratch("left")
	sum := x.scratch("sum")
	t := x.scratch("t")
	carry := x.scratch("carry")
	isSub := e.Op == ir.OpSub
	mask := LastChunkMask(dst.width)

	x.f.i32Const(0)
	x.f.localSet(carry)

	for i := 0; i < dst.chunks; i++ {
		last := i == dst.chunks-1
		if isSub {
			// diff1 = left - right; diff = diff1 - borrow
			x.loadChunk(l, i)
			x.f.localSet(left)
			x.loadChunk(r, i)
			x.f.localSet(sum)
			x.f.localGet(left)
			x.f.localGet(sum)
			x.f.op(wasm.OpcodeI32Sub)
			x.f.localSet(t)

			x.storeChunkStart(dst)
			x.f.localGet(t)
			x.f.localGet(carry)
			x.f.op(wasm.OpcodeI32Sub)
			if last && mask != 0xffffffff {
				x.f.i32Const(int32(mask))
				x.f.op(wasm.OpcodeI32And)
			}
			x.storeChunkEnd(dst, i)

			if !last {
				// borrow = (left < right) | (diff1 == 0 && borrow)
				x.f.localGet(left)
				x.f.localGet(sum)
				x.f.op(wasm.OpcodeI32LtU)
				x.f.localGet(t)
				x.f.op(wasm.OpcodeI32Eqz)
				x.f.localGet(carry)
				x.f.op(wasm.OpcodeI32And)
				x.f.op(wasm.OpcodeI32Or)
				x.f.localSet(carry)
			}
		} else {
			// sum = left + right; t = sum + carry
			x.loadChunk(l, i)
			x.f.localSet(left)
			x.f.localGet(left)
			x.loadChunk(r, i)
			x.f.op(wasm.OpcodeI32Add)
			x.f.localSet(sum)
			x.f.localGet(sum)
			x.f.localGet(carry)
			x.f.op(wasm.OpcodeI32Add)
			x.f.localSet(t)

			x.storeChunkStart(dst)
			x.f.localGet(t)
			if last && mask != 0xffffffff {
				x.f.i32Const(int32(mask))
				x.f.op(wasm.OpcodeI32And)
			}
			x.storeChunkEnd(dst, i)

			if !last {
				// carry = (sum < left) | (t == 0 && carry)
				x.f.localGet(sum)
				x.f.localGet(left)
				x.f.op(wasm.OpcodeI32LtU)
				x.f.localGet(t)
				x.f.op(wasm.OpcodeI32Eqz)
				x.f.localGet(carry)
				x.f.op(wasm.OpcodeI32And)
				x.f.op(wasm.OpcodeI32Or)
				x.f.localSet(carry)
			}
		}
	}
	return nil
}

func (x *fctx) wideNot(dst wideRef, e *ir.Expr) error {
	x.wideDepth++
	src, err := x.wideOperand(e.Left, "wl")
	x.wideDepth--
	if err != nil {
		return err
	}
	mask := LastChunkMask(dst.width)
	for i := 0; i < dst.chunks; i++ {
		x.storeChunkStart(dst)
		x.loadChunk(src, i)
		x.f.i32Const(-1)
		x.f.op(wasm.OpcodeI32Xor)
		if i == dst.chunks-1 && mask != 0xffffffff {
			x.f.i32Const(int32(mask))
			x.f.op(wasm.OpcodeI32And)
		}
		x.storeChunkEnd(dst, i)
	}
	return nil
}

// wideNegate is not-plus-one with the carry rippled through the chunks.
func (x *fctx) wideNegate(dst wideRef, e *ir.Expr) error {
	x.wideDepth++
	src, err := x.wideOperand(e.Left, "wl")
	x.wideDepth--
	if err != nil {
		return err
	}
	left := x.scratch("left")
	t := x.scratch("t")
	carry := x.scratch("carry")
	mask := LastChunkMask(dst.width)

	x.f.i32Const(1)
	x.f.localSet(carry)
	for i := 0; i < dst.chunks; i++ {
		last := i == dst.chunks-1
		x.loadChunk(src, i)
		x.f.i32Const(-1)
		x.f.op(wasm.OpcodeI32Xor)
		x.f.localSet(left)
		x.f.localGet(left)
		x.f.localGet(carry)
		x.f.op(wasm.OpcodeI32Add)
		x.f.localSet(t)

		x.storeChunkStart(dst)
		x.f.localGet(t)
		if last && mask != 0xffffffff {
			x.f.i32Const(int32(mask))
			x.f.op(wasm.OpcodeI32And)
		}
		x.storeChunkEnd(dst, i)

		if !last {
			x.f.localGet(t)
			x.f.localGet(left)
			x.f.op(wasm.OpcodeI32LtU)
			x.f.localSet(carry)
		}
	}
	return nil
}

// wideRedXor folds all chunks with xor, then reduces with popcnt & 1.
func (x *fctx) wideRedXor(e *ir.Expr) error {
	src, err := x.wideOperand(e, "wl")
	if err != nil {
		return err
	}
	for i := 0; i < src.chunks; i++ {
		x.loadChunk(src, i)
		if i > 0 {
			x.f.op(wasm.OpcodeI32Xor)
		}
	}
	x.f.op(wasm.OpcodeI32Popcnt)
	x.f.i32Const(1)
	x.f.op(wasm.OpcodeI32And)
	return nil
}

// wideChangeDet raises the changed flag and refreshes the shadow when a
// wide signal moved since the previous cycle.
func (x *fctx) wideChangeDet(e *ir.Expr) error {
	neq := &ir.Expr{Op: ir.OpNeq, Dtype: ir.Logic(1), Left: e.Left, Right: e.Right, Line: e.Line}
	if err := x.wideCompare(neq); err != nil {
		return err
	}
	x.f.ifStart(wasm.BlockTypeEmpty)
	x.f.i32Const(1)
	x.f.localSet(x.changedFlag)
	if err := x.wideAssign(e.Right, e.Left); err != nil {
		return err
	}
	x.f.end()
	return nil
}
