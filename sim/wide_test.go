package sim

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinytapeout/hdlsim/ir"
)

// wideALU computes one binary operation over two wide inputs each eval.
func wideALU(op string, width int) *ir.Module {
	w := ir.Logic(width)
	m := ir.NewModule("alu")
	m.AddVar(&ir.VarDef{Name: "a", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "b", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "out", Dtype: w, IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.Assign(ir.Ref("out", w), ir.Binop(op, w, ir.Ref("a", w), ir.Ref("b", w))))
	return m
}

func randBig(r *rand.Rand, width int) *big.Int {
	v := new(big.Int)
	for i := 0; i < width; i++ {
		if r.Intn(2) == 1 {
			v.SetBit(v, i, 1)
		}
	}
	return v
}

func evalWide(t *testing.T, s *Sim, a, b *big.Int) *big.Int {
	t.Helper()
	require.NoError(t, s.State().SetBig("a", a))
	require.NoError(t, s.State().SetBig("b", b))
	require.NoError(t, s.Eval())
	out, err := s.State().Big("out")
	require.NoError(t, err)
	return out
}

func mask(width int) *big.Int {
	m := big.NewInt(1)
	m.Lsh(m, uint(width))
	return m.Sub(m, big.NewInt(1))
}

// Boundary scenario: 96-bit add carrying across the chunk boundary.
func TestWideAddCrossChunkCarry(t *testing.T) {
	s := newSim(t, wideALU(ir.OpAdd, 96))
	require.NoError(t, s.Powercycle())

	a := new(big.Int).SetUint64(0xffffffffffffffff)
	out := evalWide(t, s, a, big.NewInt(1))
	want := new(big.Int).Lsh(big.NewInt(1), 64)
	require.Zero(t, want.Cmp(out), "sum = %x", out)
}

func TestWideAddSubInverse(t *testing.T) {
	for _, width := range []int{65, 96, 128, 300} {
		s := newSim(t, subAfterAdd(width))
		require.NoError(t, s.Powercycle())
		r := rand.New(rand.NewSource(int64(width)))
		for i := 0; i < 20; i++ {
			a, b := randBig(r, width), randBig(r, width)
			out := evalWide(t, s, a, b)
			require.Zero(t, a.Cmp(out), "width %d: (a+b)-b = %x, want %x", width, out, a)
		}
	}
}

// subAfterAdd computes (a + b) - b, exercising the nested-operand
// scratch path.
func subAfterAdd(width int) *ir.Module {
	w := ir.Logic(width)
	m := ir.NewModule("inv")
	m.AddVar(&ir.VarDef{Name: "a", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "b", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "out", Dtype: w, IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.Assign(ir.Ref("out", w),
			ir.Binop(ir.OpSub, w,
				ir.Binop(ir.OpAdd, w, ir.Ref("a", w), ir.Ref("b", w)),
				ir.Ref("b", w))))
	return m
}

func TestWideBitwiseLaws(t *testing.T) {
	const width = 100
	r := rand.New(rand.NewSource(1))
	for _, tc := range []struct {
		op   string
		want func(a *big.Int) *big.Int
	}{
		{ir.OpOr, func(a *big.Int) *big.Int { return a }},
		{ir.OpAnd, func(a *big.Int) *big.Int { return a }},
		{ir.OpXor, func(a *big.Int) *big.Int { return new(big.Int) }},
	} {
		s := newSim(t, wideALU(tc.op, width))
		require.NoError(t, s.Powercycle())
		for i := 0; i < 10; i++ {
			a := randBig(r, width)
			out := evalWide(t, s, a, a)
			require.Zero(t, tc.want(a).Cmp(out), "%s: got %x", tc.op, out)
		}
	}
}

func TestWideNotNegate(t *testing.T) {
	const width = 72
	w := ir.Logic(width)
	m := ir.NewModule("unary")
	m.AddVar(&ir.VarDef{Name: "a", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "inv", Dtype: w, IsOutput: true})
	m.AddVar(&ir.VarDef{Name: "neg", Dtype: w, IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.Assign(ir.Ref("inv", w), ir.Unop(ir.OpNot, w, ir.Ref("a", w))),
		ir.Assign(ir.Ref("neg", w), ir.Unop(ir.OpNegate, w, ir.Ref("a", w))))

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 10; i++ {
		a := randBig(r, width)
		require.NoError(t, s.State().SetBig("a", a))
		require.NoError(t, s.Eval())

		inv, err := s.State().Big("inv")
		require.NoError(t, err)
		wantInv := new(big.Int).Xor(a, mask(width))
		require.Zero(t, wantInv.Cmp(inv), "not: got %x", inv)

		neg, err := s.State().Big("neg")
		require.NoError(t, err)
		wantNeg := new(big.Int).And(new(big.Int).Neg(a), mask(width))
		require.Zero(t, wantNeg.Cmp(neg), "negate: got %x", neg)
	}
}

// shifter computes out = (a << s) >> s with a runtime amount.
func shifter(width int) *ir.Module {
	w := ir.Logic(width)
	s8 := ir.Logic(8)
	m := ir.NewModule("shift")
	m.AddVar(&ir.VarDef{Name: "a", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "s", Dtype: s8, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "out", Dtype: w, IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.Assign(ir.Ref("out", w),
			ir.Binop(ir.OpShiftR, w,
				ir.Binop(ir.OpShiftL, w, ir.Ref("a", w), ir.Ref("s", s8)),
				ir.Ref("s", s8))))
	return m
}

func TestWideShiftLaw(t *testing.T) {
	const width = 100
	s := newSim(t, shifter(width))
	require.NoError(t, s.Powercycle())
	r := rand.New(rand.NewSource(3))

	for _, sh := range []int{0, 1, 31, 32, 33, 63, 64, 65, 95, 99, 100} {
		a := randBig(r, width)
		require.NoError(t, s.State().SetBig("a", a))
		require.NoError(t, s.State().SetUint("s", uint64(sh)))
		require.NoError(t, s.Eval())
		out, err := s.State().Big("out")
		require.NoError(t, err)

		want := new(big.Int).And(a, mask(width-sh))
		require.Zero(t, want.Cmp(out), "s=%d: got %x want %x", sh, out, want)
	}
}

// Boundary scenario: 128-bit left shift across chunk boundaries with an
// immediate amount.
func TestWideShiftImmediate(t *testing.T) {
	const width = 128
	w := ir.Logic(width)
	m := ir.NewModule("shl")
	m.AddVar(&ir.VarDef{Name: "a", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "by64", Dtype: w, IsOutput: true})
	m.AddVar(&ir.VarDef{Name: "by96", Dtype: w, IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.Assign(ir.Ref("by64", w),
			ir.Binop(ir.OpShiftL, w, ir.Ref("a", w), ir.Const(ir.Logic(32), 64))),
		ir.Assign(ir.Ref("by96", w),
			ir.Binop(ir.OpShiftL, w, ir.Ref("a", w), ir.Const(ir.Logic(32), 96))))

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())

	a := new(big.Int).SetUint64(0x123456789abcdef0)
	require.NoError(t, s.State().SetBig("a", a))
	require.NoError(t, s.Eval())

	by64, err := s.State().Big("by64")
	require.NoError(t, err)
	require.Zero(t, new(big.Int).Lsh(a, 64).Cmp(by64), "a<<64 = %x", by64)

	by96, err := s.State().Big("by96")
	require.NoError(t, err)
	want := new(big.Int).And(new(big.Int).Lsh(a, 96), mask(width))
	require.Zero(t, want.Cmp(by96), "a<<96 = %x", by96)
}

func TestWideArithmeticShiftRight(t *testing.T) {
	const width = 96
	w := ir.SignedLogic(width)
	m := ir.NewModule("sar")
	m.AddVar(&ir.VarDef{Name: "a", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "out", Dtype: w, IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.Assign(ir.Ref("out", w),
			ir.Binop(ir.OpShiftRS, w, ir.Ref("a", w), ir.Const(ir.Logic(32), 40))))

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())

	// negative value: top bit set
	a := new(big.Int).Lsh(big.NewInt(1), 95)
	a.Or(a, big.NewInt(0xdead))
	require.NoError(t, s.State().SetBig("a", a))
	require.NoError(t, s.Eval())
	out, err := s.State().Big("out")
	require.NoError(t, err)

	signed := new(big.Int).Sub(a, new(big.Int).Lsh(big.NewInt(1), width))
	want := new(big.Int).Rsh(signed, 40)
	want.And(want, mask(width))
	require.Zero(t, want.Cmp(out), "got %x want %x", out, want)
}

func TestWideCompareMatchesBigInt(t *testing.T) {
	const width = 80
	w := ir.Logic(width)
	m := ir.NewModule("cmp")
	m.AddVar(&ir.VarDef{Name: "a", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "b", Dtype: w, IsInput: true})
	for _, n := range []string{"eq", "lt", "gt", "lte", "gte"} {
		m.AddVar(&ir.VarDef{Name: n, Dtype: ir.Logic(1), IsOutput: true})
	}
	bit := ir.Logic(1)
	ref := func(n string) *ir.Expr { return ir.Ref(n, w) }
	m.AddBlock(ir.BlockEval,
		ir.Assign(ir.Ref("eq", bit), ir.Binop(ir.OpEq, bit, ref("a"), ref("b"))),
		ir.Assign(ir.Ref("lt", bit), ir.Binop(ir.OpLt, bit, ref("a"), ref("b"))),
		ir.Assign(ir.Ref("gt", bit), ir.Binop(ir.OpGt, bit, ref("a"), ref("b"))),
		ir.Assign(ir.Ref("lte", bit), ir.Binop(ir.OpLte, bit, ref("a"), ref("b"))),
		ir.Assign(ir.Ref("gte", bit), ir.Binop(ir.OpGte, bit, ref("a"), ref("b"))))

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())

	r := rand.New(rand.NewSource(4))
	check := func(a, b *big.Int) {
		require.NoError(t, s.State().SetBig("a", a))
		require.NoError(t, s.State().SetBig("b", b))
		require.NoError(t, s.Eval())
		cmp := a.Cmp(b)
		expect := map[string]bool{
			"eq":  cmp == 0,
			"lt":  cmp < 0,
			"gt":  cmp > 0,
			"lte": cmp <= 0,
			"gte": cmp >= 0,
		}
		for n, want := range expect {
			v, err := s.State().Uint(n)
			require.NoError(t, err)
			got := v != 0
			require.Equal(t, want, got, "%s for a=%x b=%x", n, a, b)
		}
	}

	for i := 0; i < 20; i++ {
		check(randBig(r, width), randBig(r, width))
	}
	// equal values and single-bit deltas around chunk boundaries
	a := randBig(r, width)
	check(a, a)
	for _, bitIdx := range []int{0, 31, 32, 63, 64, 79} {
		b := new(big.Int).Set(a)
		b.SetBit(b, bitIdx, 1)
		a2 := new(big.Int).SetBit(a, bitIdx, 0)
		check(a2, b)
	}
}

func TestWideSignedCompare(t *testing.T) {
	const width = 72
	w := ir.SignedLogic(width)
	bit := ir.Logic(1)
	m := ir.NewModule("scmp")
	m.AddVar(&ir.VarDef{Name: "a", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "b", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "out", Dtype: bit, IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.Assign(ir.Ref("out", bit),
			ir.Binop(ir.OpLtS, bit, ir.Ref("a", w), ir.Ref("b", w))))

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())

	// negative (top bit set) compares less than any non-negative
	neg := new(big.Int).Lsh(big.NewInt(1), 71)
	pos := big.NewInt(5)
	require.NoError(t, s.State().SetBig("a", neg))
	require.NoError(t, s.State().SetBig("b", pos))
	require.NoError(t, s.Eval())
	v, err := s.State().Uint("out")
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)

	require.NoError(t, s.State().SetBig("a", pos))
	require.NoError(t, s.State().SetBig("b", neg))
	require.NoError(t, s.Eval())
	v, err = s.State().Uint("out")
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)
}

func TestWideCondSelectsBranch(t *testing.T) {
	const width = 96
	w := ir.Logic(width)
	m := ir.NewModule("mux")
	m.AddVar(&ir.VarDef{Name: "sel", Dtype: ir.Logic(1), IsInput: true})
	m.AddVar(&ir.VarDef{Name: "a", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "b", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "out", Dtype: w, IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.Assign(ir.Ref("out", w),
			ir.CondExpr(w, ir.Ref("sel", ir.Logic(1)), ir.Ref("a", w), ir.Ref("b", w))))

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())

	r := rand.New(rand.NewSource(5))
	a, b := randBig(r, width), randBig(r, width)
	require.NoError(t, s.State().SetBig("a", a))
	require.NoError(t, s.State().SetBig("b", b))

	require.NoError(t, s.State().SetUint("sel", 1))
	require.NoError(t, s.Eval())
	out, err := s.State().Big("out")
	require.NoError(t, err)
	require.Zero(t, a.Cmp(out))

	require.NoError(t, s.State().SetUint("sel", 0))
	require.NoError(t, s.Eval())
	out, err = s.State().Big("out")
	require.NoError(t, err)
	require.Zero(t, b.Cmp(out))
}

func TestWideRedXor(t *testing.T) {
	const width = 100
	w := ir.Logic(width)
	bit := ir.Logic(1)
	m := ir.NewModule("rx")
	m.AddVar(&ir.VarDef{Name: "a", Dtype: w, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "out", Dtype: bit, IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.Assign(ir.Ref("out", bit), ir.Unop(ir.OpRedXor, bit, ir.Ref("a", w))))

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())

	r := rand.New(rand.NewSource(6))
	for i := 0; i < 10; i++ {
		a := randBig(r, width)
		require.NoError(t, s.State().SetBig("a", a))
		require.NoError(t, s.Eval())
		v, err := s.State().Uint("out")
		require.NoError(t, err)
		parity := uint64(0)
		for _, b := range a.Bytes() {
			parity ^= uint64(b)
		}
		parity ^= parity >> 4
		parity ^= parity >> 2
		parity ^= parity >> 1
		parity &= 1
		require.Equal(t, parity, v, "parity of %x", a)
	}
}
