package codegen

import (
	"github.com/tinytapeout/hdlsim/ir"
	"github.com/tinytapeout/hdlsim/wasm"
)

// wideCompare pushes the 1-bit result of comparing two wide values.
// eq/neq reduce per-chunk equality; the orderings build a select chain
// from the least significant chunk up, so the most significant differing
// chunk decides. select (not if/return) keeps the block typing trivial.
func (x *fctx) wideCompare(e *ir.Expr) error {
	l, r, err := x.widePair(e)
	if err != nil {
		return err
	}

	width := l.width
	if r.width > width {
		width = r.width
	}
	n := Chunks(width)

	switch e.Op {
	case ir.OpEq, ir.OpNeq:
		for i := 0; i < n; i++ {
			x.loadChunk(l, i)
			x.loadChunk(r, i)
			if e.Op == ir.OpEq {
				x.f.op(wasm.OpcodeI32Eq)
			} else {
				x.f.op(wasm.OpcodeI32Ne)
			}
			if i > 0 {
				if e.Op == ir.OpEq {
					x.f.op(wasm.OpcodeI32And)
				} else {
					x.f.op(wasm.OpcodeI32Or)
				}
			}
		}

	case ir.OpLt, ir.OpLtS, ir.OpGt, ir.OpGtS:
		x.wideOrdering(e.Op, l, r, width, n)

	case ir.OpLte, ir.OpLteS:
		// a <= b  ==  !(a > b)
		op := ir.OpGt
		if e.Op == ir.OpLteS {
			op = ir.OpGtS
		}
		x.wideOrdering(op, l, r, width, n)
		x.f.op(wasm.OpcodeI32Eqz)

	case ir.OpGte, ir.OpGteS:
		op := ir.OpLt
		if e.Op == ir.OpGteS {
			op = ir.OpLtS
		}
		x.wideOrdering(op, l, r, width, n)
		x.f.op(wasm.OpcodeI32Eqz)

	default:
		return errf(ErrUnknownOperator, e.Line, "wide comparison %q", e.Op)
	}

	if ReprOf(e.Dtype) == ReprI64 {
		x.f.op(wasm.OpcodeI64ExtendI32U)
	}
	return nil
}

// wideOrdering emits the LSB-to-MSB select chain for lt/gt. For signed
// compares the top chunk is sign-extended to the container before a
// signed relational op; every lower chunk compares unsigned.
func (x *fctx) wideOrdering(op string, l, r wideRef, width, n int) {
	signed := op == ir.OpLtS || op == ir.OpGtS
	favLt := op == ir.OpLt || op == ir.OpLtS

	res := x.scratch("res")
	x.f.i32Const(0)
	x.f.localSet(res)

	cmp := func(i int, lessThan bool) {
		top := i == n-1
		x.pushCmpChunk(l, i, signed && top, width)
		x.pushCmpChunk(r, i, signed && top, width)
		switch {
		case signed && top && lessThan:
			x.f.op(wasm.OpcodeI32LtS)
		case signed && top:
			x.f.op(wasm.OpcodeI32GtS)
		case lessThan:
			x.f.op(wasm.OpcodeI32LtU)
		default:
			x.f.op(wasm.OpcodeI32GtU)
		}
	}

	for i := 0; i < n; i++ {
		// res = select(favored, 1, select(opposed, 0, res))
		x.f.i32Const(1)
		x.f.i32Const(0)
		x.f.localGet(res)
		cmp(i, !favLt)
		x.f.op(wasm.OpcodeSelect)
		cmp(i, favLt)
		x.f.op(wasm.OpcodeSelect)
		x.f.localSet(res)
	}
	x.f.localGet(res)
}

// pushCmpChunk loads chunk i, sign-extending a partial top chunk when a
// signed ordering needs the container's sign bit to match bit width-1.
func (x *fctx) pushCmpChunk(r wideRef, i int, signExtend bool, width int) {
	x.loadChunk(r, i)
	if !signExtend {
		return
	}
	if rem := width % 32; rem != 0 {
		sh := int32(32 - rem)
		x.f.i32Const(sh)
		x.f.op(wasm.OpcodeI32Shl)
		x.f.i32Const(sh)
		x.f.op(wasm.OpcodeI32ShrS)
	}
}
