package codegen

import (
	"github.com/tinytapeout/hdlsim/ir"
	"github.com/tinytapeout/hdlsim/wasm"
)

// Options carries the context an emitter needs beyond the node itself.
type Options struct {
	// Store marks statement position: the node's value, if any, must not
	// be left on the stack.
	Store bool
	// FuncArg marks arguments of $-builtin calls, which take addresses
	// for reference operands instead of values.
	FuncArg bool
	// ResultType, when set, overrides the type the caller wants the
	// pushed value in.
	ResultType *ir.DataType
}

// emitFn translates one expression kind.
type emitFn func(x *fctx, e *ir.Expr, o Options) error

// emitters is the operator dispatch table. Populated in init to allow
// mutual recursion.
var emitters map[string]emitFn

func init() {
	emitters = map[string]emitFn{
		ir.OpConst:   (*fctx).emitConst,
		ir.OpVarRef:  (*fctx).emitVarRef,
		ir.OpVarDecl: (*fctx).emitVarDecl,
		ir.OpBlock:   (*fctx).emitBlock,
		ir.OpCCall:   (*fctx).emitCall,

		ir.OpNot:     (*fctx).emitUnary,
		ir.OpNegate:  (*fctx).emitUnary,
		ir.OpExtends: (*fctx).emitUnary,
		ir.OpCCast:   (*fctx).emitUnary,
		ir.OpRedXor:  (*fctx).emitUnary,
		ir.OpCReset:  (*fctx).emitCReset,
		ir.OpCReturn: (*fctx).emitCReturn,

		ir.OpAdd: (*fctx).emitArith, ir.OpSub: (*fctx).emitArith,
		ir.OpMul: (*fctx).emitArith, ir.OpMulS: (*fctx).emitArith,
		ir.OpDiv: (*fctx).emitArith, ir.OpDivS: (*fctx).emitArith,
		ir.OpModDiv: (*fctx).emitArith, ir.OpModDivS: (*fctx).emitArith,
		ir.OpAnd: (*fctx).emitArith, ir.OpOr: (*fctx).emitArith,
		ir.OpXor: (*fctx).emitArith,
		ir.OpShiftL: (*fctx).emitShift, ir.OpShiftR: (*fctx).emitShift,
		ir.OpShiftRS: (*fctx).emitShift,

		ir.OpEq: (*fctx).emitCompare, ir.OpNeq: (*fctx).emitCompare,
		ir.OpLt: (*fctx).emitCompare, ir.OpLtS: (*fctx).emitCompare,
		ir.OpGt: (*fctx).emitCompare, ir.OpGtS: (*fctx).emitCompare,
		ir.OpLte: (*fctx).emitCompare, ir.OpLteS: (*fctx).emitCompare,
		ir.OpGte: (*fctx).emitCompare, ir.OpGteS: (*fctx).emitCompare,

		ir.OpAssign:     (*fctx).emitAssign,
		ir.OpAssignPre:  (*fctx).emitAssign,
		ir.OpAssignDly:  (*fctx).emitAssign,
		ir.OpAssignPost: (*fctx).emitAssign,
		ir.OpContAssign: (*fctx).emitAssign,

		ir.OpArraySel: (*fctx).emitSelect,
		ir.OpWordSel:  (*fctx).emitSelect,

		ir.OpChangeDet: (*fctx).emitChangeDet,

		ir.OpIf:    (*fctx).emitIf,
		ir.OpCond:  (*fctx).emitCond,
		ir.OpWhile: (*fctx).emitWhile,
	}
}

// fctx is the per-function translation context.
type fctx struct {
	c     *Compiler
	f     *fn
	fname string

	// _change_request support
	changedFlag uint32
	hasFlag     bool

	// wideDepth scopes the scratch registers of nested wide sequences.
	wideDepth int
}

// dp pushes the data pointer (always parameter 0).
func (x *fctx) dp() { x.f.localGet(0) }

// stmt translates e in statement position.
func (x *fctx) stmt(e *ir.Expr) error {
	emit, ok := emitters[e.Op]
	if !ok {
		return errf(ErrUnknownOperator, e.Line, "operator %q", e.Op)
	}
	return emit(x, e, Options{Store: true})
}

// value translates e in value position, leaving the result on the stack
// in the native representation of e.Dtype.
func (x *fctx) value(e *ir.Expr) error {
	emit, ok := emitters[e.Op]
	if !ok {
		return errf(ErrUnknownOperator, e.Line, "operator %q", e.Op)
	}
	return emit(x, e, Options{})
}

// entry resolves a global state entry, trying the function-qualified
// name first (promoted block locals).
func (x *fctx) entry(name string, line int) (*Entry, error) {
	if x.fname != "" {
		if e := x.c.Layout.Lookup(x.fname + "$" + name); e != nil {
			return e, nil
		}
	}
	if e := x.c.Layout.Lookup(name); e != nil {
		return e, nil
	}
	return nil, errf(ErrUndefinedVariable, line, "variable %q", name)
}

// --- leaf emitters ---

func (x *fctx) emitConst(e *ir.Expr, o Options) error {
	if o.Store {
		return nil // constant in statement position is a no-op
	}
	if IsWide(e.Dtype) {
		return errf(ErrUnsupportedDataType, e.Line, "wide constant outside wide assignment")
	}
	if ReprOf(e.Dtype) == ReprI64 {
		v := e.Value
		if e.Big != nil {
			// both halves come from the full literal when one is present
			v = uint64(bigChunk(e.Big, 1))<<32 | uint64(bigChunk(e.Big, 0))
		}
		x.f.i64Const(int64(v))
	} else {
		x.f.i32Const(int32(uint32(e.Value)))
	}
	return nil
}

func (x *fctx) emitVarRef(e *ir.Expr, o Options) error {
	if o.Store {
		return nil
	}
	if idx, ok := x.f.lookup(e.Name); ok {
		x.f.localGet(idx)
		return nil
	}
	ent, err := x.entry(e.Name, e.Line)
	if err != nil {
		return err
	}
	if o.FuncArg && ent.Repr == ReprRef {
		// builtins take reference operands by address
		off, _, err := x.pushAddr(e)
		if err != nil {
			return err
		}
		x.addConst(off)
		return nil
	}
	if ent.Repr == ReprRef {
		return errf(ErrUnsupportedDataType, e.Line, "wide %q used as a scalar", e.Name)
	}
	x.dp()
	x.loadScalar(uint32(ent.Offset), ent.Dtype)
	return nil
}

// emitVarDecl registers a block-level variable: small ones become WASM
// locals, reference-sized ones are promoted to the global state region.
func (x *fctx) emitVarDecl(e *ir.Expr, o Options) error {
	if ReprOf(e.Dtype) == ReprRef {
		name := e.Name
		if x.fname != "" {
			name = x.fname + "$" + name
		}
		if x.c.Layout.Lookup(name) == nil {
			x.c.Layout.alloc(name, e.Dtype)
		}
		return nil
	}
	x.f.named(e.Name, ReprOf(e.Dtype).ValueType())
	return nil
}

func (x *fctx) emitBlock(e *ir.Expr, o Options) error {
	for _, s := range e.Body {
		if err := x.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

// --- memory access helpers ---

// loadScalar emits the load matching dt's container; the base address
// must already be on the stack.
func (x *fctx) loadScalar(offset uint32, dt *ir.DataType) {
	switch SizeOf(dt) {
	case 1:
		x.f.mem(wasm.OpcodeI32Load8U, 0, offset)
	case 2:
		x.f.mem(wasm.OpcodeI32Load16U, 1, offset)
	case 4:
		x.f.mem(wasm.OpcodeI32Load, 2, offset)
	default:
		x.f.mem(wasm.OpcodeI64Load, 3, offset)
	}
}

// storeScalar masks the value on the stack to dt's declared width and
// emits the matching store. Stack: [addr, value].
func (x *fctx) storeScalar(offset uint32, dt *ir.DataType) {
	w := dt.Width()
	switch SizeOf(dt) {
	case 1:
		if w < 8 {
			x.maskTo(ReprI32, w)
		}
		x.f.mem(wasm.OpcodeI32Store8, 0, offset)
	case 2:
		if w < 16 {
			x.maskTo(ReprI32, w)
		}
		x.f.mem(wasm.OpcodeI32Store16, 1, offset)
	case 4:
		if w < 32 {
			x.maskTo(ReprI32, w)
		}
		x.f.mem(wasm.OpcodeI32Store, 2, offset)
	default:
		if w < 64 {
			x.maskTo(ReprI64, w)
		}
		x.f.mem(wasm.OpcodeI64Store, 3, offset)
	}
}

// maskTo truncates the stack top to width bits within repr.
func (x *fctx) maskTo(r Repr, width int) {
	if r == ReprI64 {
		if width < 64 {
			x.f.i64Const(int64(uint64(1)<<uint(width) - 1))
			x.f.op(wasm.OpcodeI64And)
		}
		return
	}
	if width < 32 {
		x.f.i32Const(int32(uint32(1)<<uint(width) - 1))
		x.f.op(wasm.OpcodeI32And)
	}
}

// signExtend sign-extends the stack top from width bits to the full
// repr, using the native extension opcodes when they match exactly.
func (x *fctx) signExtend(r Repr, width int) {
	if r == ReprI64 {
		switch {
		case width >= 64:
		case width == 8:
			x.f.op(wasm.OpcodeI64Extend8S)
		case width == 16:
			x.f.op(wasm.OpcodeI64Extend16S)
		case width == 32:
			x.f.op(wasm.OpcodeI64Extend32S)
		default:
			sh := int64(64 - width)
			x.f.i64Const(sh)
			x.f.op(wasm.OpcodeI64Shl)
			x.f.i64Const(sh)
			x.f.op(wasm.OpcodeI64ShrS)
		}
		return
	}
	switch {
	case width >= 32:
	case width == 8:
		x.f.op(wasm.OpcodeI32Extend8S)
	case width == 16:
		x.f.op(wasm.OpcodeI32Extend16S)
	default:
		sh := int32(32 - width)
		x.f.i32Const(sh)
		x.f.op(wasm.OpcodeI32Shl)
		x.f.i32Const(sh)
		x.f.op(wasm.OpcodeI32ShrS)
	}
}

// pushValue translates e and converts it to the wanted representation.
// When signed, narrow source values are sign-extended from their
// declared width on the way up.
func (x *fctx) pushValue(e *ir.Expr, want Repr, signed bool) error {
	if err := x.value(e); err != nil {
		return err
	}
	have := ReprOf(e.Dtype)
	w := e.Dtype.Width()
	switch {
	case have == ReprI32 && want == ReprI64:
		if signed {
			x.signExtend(ReprI32, w)
			x.f.op(wasm.OpcodeI64ExtendI32S)
		} else {
			x.f.op(wasm.OpcodeI64ExtendI32U)
		}
	case have == ReprI64 && want == ReprI32:
		x.f.op(wasm.OpcodeI32WrapI64)
	default:
		if signed && w < reprBits(want) {
			x.signExtend(want, w)
		}
	}
	return nil
}

func reprBits(r Repr) int {
	if r == ReprI64 {
		return 64
	}
	return 32
}

// addConst folds `+ constant` into nothing when the constant is zero,
// otherwise emits const/add. Used where a static offset must materialize
// into a full address.
func (x *fctx) addConst(v uint32) {
	if v == 0 {
		return
	}
	x.f.i32Const(int32(v))
	x.f.op(wasm.OpcodeI32Add)
}

// pushAddr pushes the base address of an addressable expression (the
// data pointer plus any dynamic index part) and returns the static
// offset to fold into the access immediate, with the element type.
func (x *fctx) pushAddr(e *ir.Expr) (uint32, *ir.DataType, error) {
	switch e.Op {
	case ir.OpVarRef:
		ent, err := x.entry(e.Name, e.Line)
		if err != nil {
			return 0, nil, err
		}
		x.dp()
		return uint32(ent.Offset), ent.Dtype, nil

	case ir.OpArraySel, ir.OpWordSel:
		base := e.Left
		if base.Op != ir.OpVarRef {
			return 0, nil, errf(ErrUnsupportedDataType, e.Line, "%s of non-variable", e.Op)
		}
		ent, err := x.entry(base.Name, base.Line)
		if err != nil {
			return 0, nil, err
		}
		var elem *ir.DataType
		elsize := 4
		if e.Op == ir.OpWordSel {
			// wordsel always addresses 32-bit words of the parent
			elem = ir.Logic(32)
		} else {
			if ent.Dtype.Kind != ir.TypeArray {
				return 0, nil, errf(ErrUnsupportedDataType, e.Line, "arraysel of non-array %q", base.Name)
			}
			elem = ent.Dtype.Elem
			elsize = SizeOf(elem)
		}
		idx := e.Right
		if idx.Op == ir.OpConst {
			// constant index folds into the static offset
			x.dp()
			return uint32(ent.Offset + int(idx.Value)*elsize), elem, nil
		}
		x.dp()
		if err := x.pushValue(idx, ReprI32, false); err != nil {
			return 0, nil, err
		}
		x.mulConst(uint32(elsize))
		x.f.op(wasm.OpcodeI32Add)
		return uint32(ent.Offset), elem, nil
	}
	return 0, nil, errf(ErrUnsupportedDataType, e.Line, "%s is not addressable", e.Op)
}

// mulConst emits index scaling, preferring a shift for powers of two.
func (x *fctx) mulConst(v uint32) {
	if v == 1 {
		return
	}
	if v&(v-1) == 0 {
		sh := uint32(0)
		for 1<<sh != v {
			sh++
		}
		x.f.i32Const(int32(sh))
		x.f.op(wasm.OpcodeI32Shl)
		return
	}
	x.f.i32Const(int32(v))
	x.f.op(wasm.OpcodeI32Mul)
}

// --- operators ---

// scalarOps maps an operator to its i32 and i64 opcodes.
var scalarOps = map[string][2]byte{
	ir.OpAdd:     {wasm.OpcodeI32Add, wasm.OpcodeI64Add},
	ir.OpSub:     {wasm.OpcodeI32Sub, wasm.OpcodeI64Sub},
	ir.OpMul:     {wasm.OpcodeI32Mul, wasm.OpcodeI64Mul},
	ir.OpMulS:    {wasm.OpcodeI32Mul, wasm.OpcodeI64Mul},
	ir.OpDiv:     {wasm.OpcodeI32DivU, wasm.OpcodeI64DivU},
	ir.OpDivS:    {wasm.OpcodeI32DivS, wasm.OpcodeI64DivS},
	ir.OpModDiv:  {wasm.OpcodeI32RemU, wasm.OpcodeI64RemU},
	ir.OpModDivS: {wasm.OpcodeI32RemS, wasm.OpcodeI64RemS},
	ir.OpAnd:     {wasm.OpcodeI32And, wasm.OpcodeI64And},
	ir.OpOr:      {wasm.OpcodeI32Or, wasm.OpcodeI64Or},
	ir.OpXor:     {wasm.OpcodeI32Xor, wasm.OpcodeI64Xor},
	ir.OpShiftL:  {wasm.OpcodeI32Shl, wasm.OpcodeI64Shl},
	ir.OpShiftR:  {wasm.OpcodeI32ShrU, wasm.OpcodeI64ShrU},
	ir.OpShiftRS: {wasm.OpcodeI32ShrS, wasm.OpcodeI64ShrS},
}

var compareOps = map[string][2]byte{
	ir.OpEq:   {wasm.OpcodeI32Eq, wasm.OpcodeI64Eq},
	ir.OpNeq:  {wasm.OpcodeI32Ne, wasm.OpcodeI64Ne},
	ir.OpLt:   {wasm.OpcodeI32LtU, wasm.OpcodeI64LtU},
	ir.OpLtS:  {wasm.OpcodeI32LtS, wasm.OpcodeI64LtS},
	ir.OpGt:   {wasm.OpcodeI32GtU, wasm.OpcodeI64GtU},
	ir.OpGtS:  {wasm.OpcodeI32GtS, wasm.OpcodeI64GtS},
	ir.OpLte:  {wasm.OpcodeI32LeU, wasm.OpcodeI64LeU},
	ir.OpLteS: {wasm.OpcodeI32LeS, wasm.OpcodeI64LeS},
	ir.OpGte:  {wasm.OpcodeI32GeU, wasm.OpcodeI64GeU},
	ir.OpGteS: {wasm.OpcodeI32GeS, wasm.OpcodeI64GeS},
}

func signedOp(op string) bool {
	switch op {
	case ir.OpMulS, ir.OpDivS, ir.OpModDivS, ir.OpShiftRS,
		ir.OpLtS, ir.OpGtS, ir.OpLteS, ir.OpGteS:
		return true
	}
	return false
}

// common returns the unified representation of a binary node and the
// signedness the narrower operand extends with: the wider operand's.
func common(e *ir.Expr) (Repr, bool) {
	lr, rr := ReprOf(e.Left.Dtype), ReprOf(e.Right.Dtype)
	r := lr
	if rr == ReprI64 {
		r = ReprI64
	}
	wider := e.Left.Dtype
	if e.Right.Dtype.Width() > wider.Width() {
		wider = e.Right.Dtype
	}
	return r, wider.Signed
}

func (x *fctx) emitArith(e *ir.Expr, o Options) error {
	if IsWide(e.Dtype) || IsWide(e.Left.Dtype) || IsWide(e.Right.Dtype) {
		return errf(ErrUnsupportedDataType, e.Line, "wide %s outside wide assignment", e.Op)
	}
	r, widerSigned := common(e)
	signed := signedOp(e.Op) || (widerSigned && isExtendingOp(e.Op))
	if err := x.pushValue(e.Left, r, signed); err != nil {
		return err
	}
	if err := x.pushValue(e.Right, r, signed); err != nil {
		return err
	}
	ops := scalarOps[e.Op]
	if r == ReprI64 {
		x.f.op(ops[1])
	} else {
		x.f.op(ops[0])
	}
	x.narrowResult(e, r)
	return nil
}

// isExtendingOp reports whether mixed-width operands widen by the wider
// operand's signedness for this op (mul/div/moddiv families).
func isExtendingOp(op string) bool {
	switch op {
	case ir.OpMul, ir.OpDiv, ir.OpModDiv:
		return true
	}
	return false
}

// narrowResult converts an operation's result from the computation repr
// to the node's own type, masking wrap-around semantics back to the
// declared width.
func (x *fctx) narrowResult(e *ir.Expr, r Repr) {
	want := ReprOf(e.Dtype)
	if r == ReprI64 && want == ReprI32 {
		x.f.op(wasm.OpcodeI32WrapI64)
	} else if r == ReprI32 && want == ReprI64 {
		x.f.op(wasm.OpcodeI64ExtendI32U)
	}
	x.maskTo(want, e.Dtype.Width())
}

func (x *fctx) emitShift(e *ir.Expr, o Options) error {
	if IsWide(e.Dtype) || IsWide(e.Left.Dtype) {
		return errf(ErrUnsupportedDataType, e.Line, "wide %s outside wide assignment", e.Op)
	}
	r := ReprOf(e.Left.Dtype)
	signed := e.Op == ir.OpShiftRS
	if err := x.pushValue(e.Left, r, signed); err != nil {
		return err
	}
	// shift amount unifies to the shifted operand's repr; a constant
	// amount stays a bare const so the engine can fold it
	if err := x.pushValue(e.Right, r, false); err != nil {
		return err
	}
	ops := scalarOps[e.Op]
	if r == ReprI64 {
		x.f.op(ops[1])
	} else {
		x.f.op(ops[0])
	}
	x.narrowResult(e, r)
	return nil
}

func (x *fctx) emitCompare(e *ir.Expr, o Options) error {
	if IsWide(e.Left.Dtype) || IsWide(e.Right.Dtype) {
		return x.wideCompare(e)
	}
	r, _ := common(e)
	signed := signedOp(e.Op)
	if err := x.pushValue(e.Left, r, signed); err != nil {
		return err
	}
	if err := x.pushValue(e.Right, r, signed); err != nil {
		return err
	}
	ops := compareOps[e.Op]
	if r == ReprI64 {
		x.f.op(ops[1])
	} else {
		x.f.op(ops[0])
	}
	if ReprOf(e.Dtype) == ReprI64 {
		x.f.op(wasm.OpcodeI64ExtendI32U)
	}
	return nil
}

func (x *fctx) emitUnary(e *ir.Expr, o Options) error {
	if IsWide(e.Dtype) {
		return errf(ErrUnsupportedDataType, e.Line, "wide %s outside wide assignment", e.Op)
	}
	switch e.Op {
	case ir.OpNot:
		if IsWide(e.Left.Dtype) {
			return errf(ErrUnsupportedDataType, e.Line, "wide operand of not")
		}
		r := ReprOf(e.Dtype)
		if err := x.pushValue(e.Left, r, false); err != nil {
			return err
		}
		if r == ReprI64 {
			x.f.i64Const(-1)
			x.f.op(wasm.OpcodeI64Xor)
		} else {
			x.f.i32Const(-1)
			x.f.op(wasm.OpcodeI32Xor)
		}
		x.maskTo(r, e.Dtype.Width())

	case ir.OpNegate:
		r := ReprOf(e.Dtype)
		if r == ReprI64 {
			x.f.i64Const(0)
		} else {
			x.f.i32Const(0)
		}
		if err := x.pushValue(e.Left, r, false); err != nil {
			return err
		}
		if r == ReprI64 {
			x.f.op(wasm.OpcodeI64Sub)
		} else {
			x.f.op(wasm.OpcodeI32Sub)
		}
		x.maskTo(r, e.Dtype.Width())

	case ir.OpExtends:
		r := ReprOf(e.Dtype)
		if err := x.pushValue(e.Left, r, false); err != nil {
			return err
		}
		x.signExtend(r, e.Left.Dtype.Width())
		x.maskTo(r, e.Dtype.Width())

	case ir.OpCCast:
		return x.emitCCast(e)

	case ir.OpRedXor:
		if IsWide(e.Left.Dtype) {
			if err := x.wideRedXor(e.Left); err != nil {
				return err
			}
		} else {
			r := ReprOf(e.Left.Dtype)
			if err := x.pushValue(e.Left, r, false); err != nil {
				return err
			}
			if r == ReprI64 {
				x.f.op(wasm.OpcodeI64Popcnt)
				x.f.op(wasm.OpcodeI32WrapI64)
			} else {
				x.f.op(wasm.OpcodeI32Popcnt)
			}
			x.f.i32Const(1)
			x.f.op(wasm.OpcodeI32And)
		}
		if ReprOf(e.Dtype) == ReprI64 {
			x.f.op(wasm.OpcodeI64ExtendI32U)
		}
	}
	return nil
}

// emitCCast lowers numeric coercion per the cast table: widths above 64
// never cast through the scalar path.
func (x *fctx) emitCCast(e *ir.Expr) error {
	src, dst := e.Left.Dtype, e.Dtype
	if IsWide(src) || IsWide(dst) {
		return errf(ErrUnsupportedDataType, e.Line, "ccast through width > 64")
	}
	srcSize, dstSize := SizeOf(src), SizeOf(dst)
	sr, dr := ReprOf(src), ReprOf(dst)
	switch {
	case srcSize == dstSize:
		return x.value(e.Left)
	case srcSize < dstSize && src.Signed:
		if err := x.pushValue(e.Left, dr, true); err != nil {
			return err
		}
		x.maskTo(dr, dst.Width())
	case srcSize < dstSize:
		// unsigned widen: storage is already zero-padded
		if err := x.pushValue(e.Left, dr, false); err != nil {
			return err
		}
	default: // narrowing
		if err := x.value(e.Left); err != nil {
			return err
		}
		if sr == ReprI64 && dr == ReprI32 {
			x.f.op(wasm.OpcodeI32WrapI64)
		}
		x.maskTo(dr, dst.Width())
	}
	return nil
}

func (x *fctx) emitSelect(e *ir.Expr, o Options) error {
	if o.Store {
		return nil
	}
	off, elem, err := x.pushAddr(e)
	if err != nil {
		return err
	}
	if IsWide(elem) {
		return errf(ErrUnsupportedDataType, e.Line, "wide element used as a scalar")
	}
	x.loadScalar(off, elem)
	// the node may view the element narrower than its storage
	if ReprOf(elem) == ReprI64 && ReprOf(e.Dtype) == ReprI32 {
		x.f.op(wasm.OpcodeI32WrapI64)
	}
	return nil
}

// emitAssign stores RHS into LHS. All assignment timing variants are
// identical here: the frontend has already split blocking and
// non-blocking updates into separate blocks.
func (x *fctx) emitAssign(e *ir.Expr, o Options) error {
	lhs, rhs := e.Left, e.Right

	if lhs.Op == ir.OpVarRef {
		if idx, ok := x.f.lookup(lhs.Name); ok {
			vt := localType(x.f, idx)
			r := ReprI32
			if vt == wasm.ValueTypeI64 {
				r = ReprI64
			}
			if err := x.pushValue(rhs, r, false); err != nil {
				return err
			}
			x.maskTo(r, lhs.Dtype.Width())
			x.f.localSet(idx)
			return nil
		}
		ent, err := x.entry(lhs.Name, lhs.Line)
		if err != nil {
			return err
		}
		if ent.Repr == ReprRef {
			return x.wideAssign(lhs, rhs)
		}
	} else if lhs.Op == ir.OpArraySel {
		base, err := x.entry(lhs.Left.Name, lhs.Line)
		if err == nil && base.Dtype.Kind == ir.TypeArray && IsWide(base.Dtype.Elem) {
			return x.wideAssign(lhs, rhs)
		}
	}

	off, elem, err := x.pushAddr(lhs)
	if err != nil {
		return err
	}
	if err := x.pushValue(rhs, ReprOf(elem), false); err != nil {
		return err
	}
	x.storeScalar(off, elem)
	return nil
}

func localType(f *fn, idx uint32) wasm.ValueType {
	if idx < f.params {
		return wasm.ValueTypeI32
	}
	return f.locals[idx-f.params]
}

// condI32 pushes the condition as a boolean i32.
func (x *fctx) condI32(e *ir.Expr) error {
	if err := x.value(e); err != nil {
		return err
	}
	if ReprOf(e.Dtype) == ReprI64 {
		x.f.op(wasm.OpcodeI64Eqz)
		x.f.op(wasm.OpcodeI32Eqz)
	}
	return nil
}

func (x *fctx) emitIf(e *ir.Expr, o Options) error {
	if err := x.condI32(e.Cond); err != nil {
		return err
	}
	x.f.ifStart(wasm.BlockTypeEmpty)
	if err := x.stmt(e.Left); err != nil {
		return err
	}
	if e.Right != nil {
		x.f.elseStart()
		if err := x.stmt(e.Right); err != nil {
			return err
		}
	}
	x.f.end()
	return nil
}

// emitCond lowers a value conditional to select; both arms evaluate
// eagerly, which is sound because IR expressions are effect-free.
func (x *fctx) emitCond(e *ir.Expr, o Options) error {
	if IsWide(e.Dtype) {
		return errf(ErrUnsupportedDataType, e.Line, "wide cond outside wide assignment")
	}
	r := ReprOf(e.Dtype)
	if err := x.pushValue(e.Left, r, false); err != nil {
		return err
	}
	if err := x.pushValue(e.Right, r, false); err != nil {
		return err
	}
	if err := x.condI32(e.Cond); err != nil {
		return err
	}
	x.f.op(wasm.OpcodeSelect)
	return nil
}

// emitWhile lowers the frontend's four-clause loop. Every generated
// loop carries a cooperative iteration bound so a runaway user program
// cannot lock the caller.
func (x *fctx) emitWhile(e *ir.Expr, o Options) error {
	if e.Precond != nil {
		if err := x.stmt(e.Precond); err != nil {
			return err
		}
	}
	var counter uint32
	if x.c.LoopLimit > 0 {
		counter = x.f.addLocal(wasm.ValueTypeI32)
		x.f.i32Const(0)
		x.f.localSet(counter)
	}
	x.f.block(wasm.BlockTypeEmpty)
	x.f.loop(wasm.BlockTypeEmpty)

	if err := x.condI32(e.LoopCond); err != nil {
		return err
	}
	x.f.op(wasm.OpcodeI32Eqz)
	x.f.brIf(1)

	for _, s := range e.Body {
		if err := x.stmt(s); err != nil {
			return err
		}
	}
	if e.Inc != nil {
		if err := x.stmt(e.Inc); err != nil {
			return err
		}
	}

	if x.c.LoopLimit > 0 {
		x.f.localGet(counter)
		x.f.i32Const(1)
		x.f.op(wasm.OpcodeI32Add)
		x.f.localTee(counter)
		x.f.i32Const(int32(x.c.LoopLimit))
		x.f.op(wasm.OpcodeI32GeU)
		x.f.brIf(1)
	}
	x.f.br(0)
	x.f.end()
	x.f.end()
	return nil
}

func (x *fctx) emitCReset(e *ir.Expr, o Options) error {
	target := e.Left
	if target.Op == ir.OpVarDecl {
		if err := x.emitVarDecl(target, o); err != nil {
			return err
		}
		target = ir.Ref(target.Name, target.Dtype)
	}
	if target.Op != ir.OpVarRef {
		return errf(ErrUnsupportedDataType, e.Line, "creset of %s", target.Op)
	}
	if idx, ok := x.f.lookup(target.Name); ok {
		if localType(x.f, idx) == wasm.ValueTypeI64 {
			x.f.i64Const(0)
		} else {
			x.f.i32Const(0)
		}
		x.f.localSet(idx)
		return nil
	}
	ent, err := x.entry(target.Name, e.Line)
	if err != nil {
		return err
	}
	ent.ResetFlag = true
	x.zeroEntry(ent)
	return nil
}

// zeroEntry clears an entry's bytes with the widest stores its size
// allows.
func (x *fctx) zeroEntry(ent *Entry) {
	switch {
	case ent.Repr != ReprRef:
		x.dp()
		if ent.Repr == ReprI64 {
			x.f.i64Const(0)
		} else {
			x.f.i32Const(0)
		}
		x.storeScalar(uint32(ent.Offset), ent.Dtype)
	case ent.Size%8 == 0:
		for i := 0; i < ent.Size; i += 8 {
			x.dp()
			x.f.i64Const(0)
			x.f.mem(wasm.OpcodeI64Store, 3, uint32(ent.Offset+i))
		}
	case ent.Size%4 == 0:
		for i := 0; i < ent.Size; i += 4 {
			x.dp()
			x.f.i32Const(0)
			x.f.mem(wasm.OpcodeI32Store, 2, uint32(ent.Offset+i))
		}
	default:
		for i := 0; i < ent.Size; i++ {
			x.dp()
			x.f.i32Const(0)
			x.f.mem(wasm.OpcodeI32Store8, 0, uint32(ent.Offset+i))
		}
	}
}

func (x *fctx) emitCReturn(e *ir.Expr, o Options) error {
	if err := x.value(e.Left); err != nil {
		return err
	}
	// only _change_request has a result; elsewhere the value is dropped
	// so the early return stays type-correct
	if x.fname != ir.BlockChangeRequest {
		x.f.op(wasm.OpcodeDrop)
	}
	x.f.op(wasm.OpcodeReturn)
	return nil
}

// emitChangeDet compares a signal against its previous-cycle shadow:
// on mismatch it raises the function's changed flag and refreshes the
// shadow.
func (x *fctx) emitChangeDet(e *ir.Expr, o Options) error {
	if !x.hasFlag {
		x.changedFlag = x.f.named("$changed", wasm.ValueTypeI32)
		x.hasFlag = true
	}
	cur, shadow := e.Left, e.Right
	if shadow.Op != ir.OpVarRef && shadow.Op != ir.OpArraySel {
		return errf(ErrUnsupportedDataType, e.Line, "changedet shadow is %s", shadow.Op)
	}

	if IsWide(cur.Dtype) {
		return x.wideChangeDet(e)
	}

	neq := &ir.Expr{Op: ir.OpNeq, Dtype: ir.Logic(1), Left: cur, Right: shadow, Line: e.Line}
	if err := x.emitCompare(neq, Options{}); err != nil {
		return err
	}
	x.f.ifStart(wasm.BlockTypeEmpty)
	x.f.i32Const(1)
	x.f.localSet(x.changedFlag)
	if err := x.emitAssign(ir.Assign(shadow, cur), Options{Store: true}); err != nil {
		return err
	}
	x.f.end()
	return nil
}

func (x *fctx) emitCall(e *ir.Expr, o Options) error {
	switch e.Name {
	case "$finish", "$stop":
		x.dp()
		x.f.i32Const(int32(e.Line))
		x.f.call(x.c.importIdx[e.Name])
		return nil
	case "$time", "$rand":
		x.dp()
		x.f.call(x.c.importIdx[e.Name])
		if o.Store {
			x.f.op(wasm.OpcodeDrop)
			return nil
		}
		// normalize the import's result to the node's representation
		timeResult := e.Name == "$time"
		if want := ReprOf(e.Dtype); want == ReprI32 && timeResult {
			x.f.op(wasm.OpcodeI32WrapI64)
		} else if want == ReprI64 && !timeResult {
			x.f.op(wasm.OpcodeI64ExtendI32U)
		}
		return nil
	case "$readmem":
		return x.emitReadmem(e)
	}
	idx, ok := x.c.funcIdx[e.Name]
	if !ok {
		return errf(ErrUnknownOperator, e.Line, "call to unknown function %q", e.Name)
	}
	x.dp()
	x.f.call(idx)
	return nil
}

// emitReadmem lowers $readmem(filename, mem[, isHex]); both reference
// operands pass by address.
func (x *fctx) emitReadmem(e *ir.Expr) error {
	if len(e.Body) < 2 {
		return errf(ErrUnsupportedDataType, e.Line, "$readmem needs a filename and a target")
	}
	x.dp()
	for _, ref := range e.Body[:2] {
		off, _, err := x.pushAddr(ref)
		if err != nil {
			return err
		}
		x.addConst(off)
	}
	if len(e.Body) > 2 {
		if err := x.pushValue(e.Body[2], ReprI32, false); err != nil {
			return err
		}
	} else {
		x.f.i32Const(1)
	}
	x.f.call(x.c.importIdx["$readmem"])
	return nil
}
