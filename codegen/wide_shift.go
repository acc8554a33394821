package codegen

import (
	"github.com/tinytapeout/hdlsim/ir"
	"github.com/tinytapeout/hdlsim/wasm"
)

// Wide shifts move bits across chunk boundaries. With an immediate
// amount the chunk walk unrolls fully; with a runtime amount it becomes
// a generated loop over dynamically computed chunk addresses. The left
// shift walks MSB to LSB and the right shifts LSB to MSB, so a
// destination aliasing its source stays safe either way.

func (x *fctx) wideShift(dst wideRef, e *ir.Expr) error {
	x.wideDepth++
	src, err := x.wideOperand(e.Left, "wl")
	x.wideDepth--
	if err != nil {
		return err
	}

	if e.Right.Op == ir.OpConst {
		s := int(e.Right.Value)
		switch e.Op {
		case ir.OpShiftL:
			x.wideShlConst(dst, src, s)
		case ir.OpShiftR:
			x.wideShrConst(dst, src, s)
		default:
			x.wideShrSConst(dst, src, s)
		}
		return nil
	}

	// Runtime amounts index chunks dynamically; equalize the chunk
	// counts first so the generated loop needs no per-operand bound.
	if src.chunks != dst.chunks {
		tmp := x.c.Layout.allocTemp(ir.Logic(dst.width))
		ref := wideRef{base: 0, off: uint32(tmp.Offset), chunks: dst.chunks, width: dst.width}
		x.wideCopy(ref, src)
		src = ref
	}
	switch e.Op {
	case ir.OpShiftL:
		return x.wideShlVar(dst, src, e.Right)
	case ir.OpShiftR:
		return x.wideShrVar(dst, src, e.Right, false)
	default:
		return x.wideShrVar(dst, src, e.Right, true)
	}
}

func (x *fctx) maskTopChunk(dst wideRef) {
	mask := LastChunkMask(dst.width)
	if mask == 0xffffffff {
		return
	}
	top := dst.chunks - 1
	x.storeChunkStart(dst)
	x.loadChunk(dst, top)
	x.f.i32Const(int32(mask))
	x.f.op(wasm.OpcodeI32And)
	x.storeChunkEnd(dst, top)
}

func (x *fctx) wideShlConst(dst, src wideRef, s int) {
	cs, bs := s/32, s%32
	mask := LastChunkMask(dst.width)
	for i := dst.chunks - 1; i >= 0; i-- {
		srcIdx := i - cs
		x.storeChunkStart(dst)
		switch {
		case srcIdx < 0:
			x.f.i32Const(0)
		case bs == 0:
			x.loadChunk(src, srcIdx)
		default:
			x.loadChunk(src, srcIdx)
			x.f.i32Const(int32(bs))
			x.f.op(wasm.OpcodeI32Shl)
			if srcIdx > 0 {
				x.loadChunk(src, srcIdx-1)
				x.f.i32Const(int32(32 - bs))
				x.f.op(wasm.OpcodeI32ShrU)
				x.f.op(wasm.OpcodeI32Or)
			}
		}
		if i == dst.chunks-1 && mask != 0xffffffff {
			x.f.i32Const(int32(mask))
			x.f.op(wasm.OpcodeI32And)
		}
		x.storeChunkEnd(dst, i)
	}
}

func (x *fctx) wideShrConst(dst, src wideRef, s int) {
	cs, bs := s/32, s%32
	for i := 0; i < dst.chunks; i++ {
		srcIdx := i + cs
		x.storeChunkStart(dst)
		if bs == 0 {
			x.loadChunk(src, srcIdx) // zero past the source's end
		} else {
			x.loadChunk(src, srcIdx)
			x.f.i32Const(int32(bs))
			x.f.op(wasm.OpcodeI32ShrU)
			x.loadChunk(src, srcIdx+1)
			x.f.i32Const(int32(32 - bs))
			x.f.op(wasm.OpcodeI32Shl)
			x.f.op(wasm.OpcodeI32Or)
		}
		x.storeChunkEnd(dst, i)
	}
	if src.width > dst.width {
		x.maskTopChunk(dst)
	}
}

// wideShrSConst fills positions above the source with the sign and
// treats the partial top chunk as sign-extended to its container.
func (x *fctx) wideShrSConst(dst, src wideRef, s int) {
	cs, bs := s/32, s%32
	top := src.chunks - 1
	ext := x.scratch("ext")
	fill := x.scratch("fill")

	// ext = top chunk, sign-extended from the value's width
	x.loadChunk(src, top)
	if rem := src.width % 32; rem != 0 {
		sh := int32(32 - rem)
		x.f.i32Const(sh)
		x.f.op(wasm.OpcodeI32Shl)
		x.f.i32Const(sh)
		x.f.op(wasm.OpcodeI32ShrS)
	}
	x.f.localSet(ext)
	x.f.localGet(ext)
	x.f.i32Const(31)
	x.f.op(wasm.OpcodeI32ShrS)
	x.f.localSet(fill)

	// virtual chunk: beyond the source it is all sign bits
	v := func(j int) {
		switch {
		case j > top:
			x.f.localGet(fill)
		case j == top:
			x.f.localGet(ext)
		default:
			x.loadChunk(src, j)
		}
	}

	for i := 0; i < dst.chunks; i++ {
		srcIdx := i + cs
		x.storeChunkStart(dst)
		if bs == 0 {
			v(srcIdx)
		} else {
			v(srcIdx)
			x.f.i32Const(int32(bs))
			x.f.op(wasm.OpcodeI32ShrU)
			v(srcIdx + 1)
			x.f.i32Const(int32(32 - bs))
			x.f.op(wasm.OpcodeI32Shl)
			x.f.op(wasm.OpcodeI32Or)
		}
		x.storeChunkEnd(dst, i)
	}
	x.maskTopChunk(dst)
}

// shiftAmount lowers the runtime amount into chunk-shift and bit-shift
// locals.
func (x *fctx) shiftAmount(amount *ir.Expr) (cs, bs uint32, err error) {
	cs = x.scratch("cs")
	bs = x.scratch("bs")
	a := x.scratch("amt")
	if err := x.pushValue(amount, ReprI32, false); err != nil {
		return 0, 0, err
	}
	x.f.localTee(a)
	x.f.i32Const(5)
	x.f.op(wasm.OpcodeI32ShrU)
	x.f.localSet(cs)
	x.f.localGet(a)
	x.f.i32Const(31)
	x.f.op(wasm.OpcodeI32And)
	x.f.localSet(bs)
	return cs, bs, nil
}

// pushChunkAddr pushes base + (idx << 2) for a dynamically indexed
// chunk; the access immediate still carries the static part.
func (x *fctx) pushChunkAddr(r wideRef, pushIdx func()) {
	x.f.localGet(r.base)
	pushIdx()
	x.f.i32Const(2)
	x.f.op(wasm.OpcodeI32Shl)
	x.f.op(wasm.OpcodeI32Add)
}

// selectShifted combines the straight and shifted-by-bs forms of a
// chunk. WASM masks i32 shift counts mod 32, so the 32-bs rotation
// partner is garbage exactly when bs == 0; the select discards it.
func (x *fctx) selectShifted(val, hi, bs uint32, left bool) {
	x.f.localGet(val)

	x.f.localGet(val)
	x.f.localGet(bs)
	if left {
		x.f.op(wasm.OpcodeI32Shl)
	} else {
		x.f.op(wasm.OpcodeI32ShrU)
	}
	x.f.localGet(hi)
	x.f.i32Const(32)
	x.f.localGet(bs)
	x.f.op(wasm.OpcodeI32Sub)
	if left {
		x.f.op(wasm.OpcodeI32ShrU)
	} else {
		x.f.op(wasm.OpcodeI32Shl)
	}
	x.f.op(wasm.OpcodeI32Or)

	x.f.localGet(bs)
	x.f.op(wasm.OpcodeI32Eqz)
	x.f.op(wasm.OpcodeSelect)
}

func (x *fctx) wideShlVar(dst, src wideRef, amount *ir.Expr) error {
	cs, bs, err := x.shiftAmount(amount)
	if err != nil {
		return err
	}
	i := x.scratch("i")
	si := x.scratch("sidx")
	val := x.scratch("val")
	hi := x.scratch("hi")
	n := dst.chunks

	x.f.i32Const(int32(n - 1))
	x.f.localSet(i)
	x.f.block(wasm.BlockTypeEmpty)
	x.f.loop(wasm.BlockTypeEmpty)

	// sidx = i - cs
	x.f.localGet(i)
	x.f.localGet(cs)
	x.f.op(wasm.OpcodeI32Sub)
	x.f.localSet(si)

	// destination address
	x.pushChunkAddr(dst, func() { x.f.localGet(i) })

	// value
	x.f.localGet(si)
	x.f.i32Const(0)
	x.f.op(wasm.OpcodeI32LtS)
	x.f.ifStart(wasm.BlockTypeI32)
	x.f.i32Const(0)
	x.f.elseStart()
	{
		x.pushChunkAddr(src, func() { x.f.localGet(si) })
		x.f.mem(wasm.OpcodeI32Load, 2, src.off)
		x.f.localSet(val)

		x.f.localGet(si)
		x.f.i32Const(0)
		x.f.op(wasm.OpcodeI32GtS)
		x.f.ifStart(wasm.BlockTypeI32)
		x.pushChunkAddr(src, func() {
			x.f.localGet(si)
			x.f.i32Const(1)
			x.f.op(wasm.OpcodeI32Sub)
		})
		x.f.mem(wasm.OpcodeI32Load, 2, src.off)
		x.f.elseStart()
		x.f.i32Const(0)
		x.f.end()
		x.f.localSet(hi)

		x.selectShifted(val, hi, bs, true)
	}
	x.f.end()

	x.f.mem(wasm.OpcodeI32Store, 2, dst.off)

	x.f.localGet(i)
	x.f.op(wasm.OpcodeI32Eqz)
	x.f.brIf(1)
	x.f.localGet(i)
	x.f.i32Const(1)
	x.f.op(wasm.OpcodeI32Sub)
	x.f.localSet(i)
	x.f.br(0)
	x.f.end()
	x.f.end()

	x.maskTopChunk(dst)
	return nil
}

func (x *fctx) wideShrVar(dst, src wideRef, amount *ir.Expr, signed bool) error {
	cs, bs, err := x.shiftAmount(amount)
	if err != nil {
		return err
	}
	n := dst.chunks
	top := int32(n - 1)

	var ext, fill uint32
	if signed {
		ext = x.scratch("ext")
		fill = x.scratch("fill")
		x.loadChunk(src, n-1)
		if rem := src.width % 32; rem != 0 {
			sh := int32(32 - rem)
			x.f.i32Const(sh)
			x.f.op(wasm.OpcodeI32Shl)
			x.f.i32Const(sh)
			x.f.op(wasm.OpcodeI32ShrS)
		}
		x.f.localSet(ext)
		x.f.localGet(ext)
		x.f.i32Const(31)
		x.f.op(wasm.OpcodeI32ShrS)
		x.f.localSet(fill)
	}

	// virtual chunk at a dynamic index
	v := func(pushIdx func()) {
		pushIdx()
		x.f.i32Const(top)
		x.f.op(wasm.OpcodeI32GtS)
		x.f.ifStart(wasm.BlockTypeI32)
		if signed {
			x.f.localGet(fill)
		} else {
			x.f.i32Const(0)
		}
		x.f.elseStart()
		if signed {
			pushIdx()
			x.f.i32Const(top)
			x.f.op(wasm.OpcodeI32Eq)
			x.f.ifStart(wasm.BlockTypeI32)
			x.f.localGet(ext)
			x.f.elseStart()
			x.pushChunkAddr(src, pushIdx)
			x.f.mem(wasm.OpcodeI32Load, 2, src.off)
			x.f.end()
		} else {
			x.pushChunkAddr(src, pushIdx)
			x.f.mem(wasm.OpcodeI32Load, 2, src.off)
		}
		x.f.end()
	}

	i := x.scratch("i")
	si := x.scratch("sidx")
	val := x.scratch("val")
	hi := x.scratch("hi")

	x.f.i32Const(0)
	x.f.localSet(i)
	x.f.block(wasm.BlockTypeEmpty)
	x.f.loop(wasm.BlockTypeEmpty)

	x.f.localGet(i)
	x.f.localGet(cs)
	x.f.op(wasm.OpcodeI32Add)
	x.f.localSet(si)

	x.pushChunkAddr(dst, func() { x.f.localGet(i) })

	v(func() { x.f.localGet(si) })
	x.f.localSet(val)
	v(func() {
		x.f.localGet(si)
		x.f.i32Const(1)
		x.f.op(wasm.OpcodeI32Add)
	})
	x.f.localSet(hi)
	x.selectShifted(val, hi, bs, false)

	x.f.mem(wasm.OpcodeI32Store, 2, dst.off)

	x.f.localGet(i)
	x.f.i32Const(top)
	x.f.op(wasm.OpcodeI32GeU)
	x.f.brIf(1)
	x.f.localGet(i)
	x.f.i32Const(1)
	x.f.op(wasm.OpcodeI32Add)
	x.f.localSet(i)
	x.f.br(0)
	x.f.end()
	x.f.end()

	x.maskTopChunk(dst)
	return nil
}
