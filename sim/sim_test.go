package sim

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinytapeout/hdlsim/ir"
)

func newSim(t *testing.T, m *ir.Module, opts ...Option) *Sim {
	t.Helper()
	s, err := New(m, nil, opts...)
	require.NoError(t, err)
	require.NoError(t, s.InitSync())
	t.Cleanup(func() { s.Dispose() })
	return s
}

// counterModule is a width-bit counter that increments on the high
// clock phase, the way the frontend lowers a posedge process.
func counterModule(width int) *ir.Module {
	w := ir.Logic(width)
	m := ir.NewModule("counter")
	m.AddVar(&ir.VarDef{Name: "clk", Dtype: ir.Logic(1), IsInput: true})
	m.AddVar(&ir.VarDef{Name: "counter", Dtype: w, IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.If(ir.Ref("clk", ir.Logic(1)),
			ir.Assign(ir.Ref("counter", w),
				ir.Binop(ir.OpAdd, w, ir.Ref("counter", w), ir.Const(ir.Logic(32), 1))),
			nil))
	return m
}

func TestCounterTicks(t *testing.T) {
	s := newSim(t, counterModule(8))
	require.NoError(t, s.Powercycle())

	require.NoError(t, s.Tick2(5))
	v, err := s.State().Uint("counter")
	require.NoError(t, err)
	require.Equal(t, uint64(5), v)
}

func TestCounterWraps(t *testing.T) {
	s := newSim(t, counterModule(4))
	require.NoError(t, s.Powercycle())
	require.NoError(t, s.State().SetUint("counter", 15))
	require.NoError(t, s.Tick2(1))
	v, err := s.State().Uint("counter")
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)
}

// Boundary scenario: a 65-bit counter stepping across the 64-bit edge.
func TestCounter65BitOverflow(t *testing.T) {
	s := newSim(t, counterModule(65))
	require.NoError(t, s.Powercycle())

	start := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1))
	require.NoError(t, s.State().SetBig("counter", start))

	require.NoError(t, s.Tick2(1))
	require.NoError(t, s.Tick2(1))

	got, err := s.State().Big("counter")
	require.NoError(t, err)
	want := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1))
	require.Zero(t, want.Cmp(got), "counter = %x, want %x", got, want)
}

func TestNarrowMaskOnWrite(t *testing.T) {
	m := ir.NewModule("mask")
	m.AddVar(&ir.VarDef{Name: "x", Dtype: ir.Logic(5), IsInput: true})
	s := newSim(t, m)
	require.NoError(t, s.Powercycle())

	require.NoError(t, s.State().SetUint("x", 0xff))
	v, err := s.State().Uint("x")
	require.NoError(t, err)
	require.Equal(t, uint64(0x1f), v)
}

func TestProxyRoundTrip(t *testing.T) {
	m := ir.NewModule("widths")
	widths := []int{1, 5, 8, 12, 16, 27, 32, 33, 48, 64, 65, 96, 128, 1000}
	for _, w := range widths {
		m.AddVar(&ir.VarDef{Name: name(w), Dtype: ir.Logic(w)})
	}
	s := newSim(t, m)
	require.NoError(t, s.Powercycle())

	for _, w := range widths {
		// alternating bit pattern trimmed to the width
		v := new(big.Int)
		for i := 0; i < w; i += 2 {
			v.SetBit(v, i, 1)
		}
		require.NoError(t, s.State().SetBig(name(w), v))
		got, err := s.State().Big(name(w))
		require.NoError(t, err)
		require.Zero(t, v.Cmp(got), "width %d: %x != %x", w, got, v)
	}
}

func name(w int) string {
	return "sig" + big.NewInt(int64(w)).String()
}

// Boundary scenario: a combinational self-feedback must still settle.
func TestSettleSelfFeedback(t *testing.T) {
	m := ir.NewModule("loopy")
	w := ir.Logic(8)
	m.AddVar(&ir.VarDef{Name: "out", Dtype: w, IsOutput: true})
	m.AddVar(&ir.VarDef{Name: "out$prev", Dtype: w})
	m.AddBlock(ir.BlockEval, ir.Assign(ir.Ref("out", w), ir.Ref("out", w)))
	m.AddBlock(ir.BlockChangeRequest,
		ir.Binop(ir.OpChangeDet, w, ir.Ref("out", w), ir.Ref("out$prev", w)))

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())
}

func TestSettleConvergesThroughChange(t *testing.T) {
	// b follows a constant through one change-request round
	m := ir.NewModule("settle2")
	w := ir.Logic(8)
	m.AddVar(&ir.VarDef{Name: "a", Dtype: w})
	m.AddVar(&ir.VarDef{Name: "a$prev", Dtype: w})
	m.AddBlock(ir.BlockEval, ir.Assign(ir.Ref("a", w), ir.Const(w, 5)))
	m.AddBlock(ir.BlockChangeRequest,
		ir.Binop(ir.OpChangeDet, w, ir.Ref("a", w), ir.Ref("a$prev", w)))

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())
	v, err := s.State().Uint("a")
	require.NoError(t, err)
	require.Equal(t, uint64(5), v)
}

func TestIdempotentEval(t *testing.T) {
	s := newSim(t, counterModule(16))
	require.NoError(t, s.Powercycle())

	// clk stays low, so eval must not move any state
	require.NoError(t, s.Eval())
	before, err := s.SaveState()
	require.NoError(t, err)
	require.NoError(t, s.Eval())
	after, err := s.SaveState()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newSim(t, counterModule(65))
	require.NoError(t, s.Powercycle())

	require.NoError(t, s.State().SetBig("counter", big.NewInt(12345)))
	snapshot, err := s.SaveState()
	require.NoError(t, err)

	require.NoError(t, s.Tick2(7))
	require.NoError(t, s.LoadState(snapshot))

	v, err := s.State().Big("counter")
	require.NoError(t, err)
	require.Zero(t, big.NewInt(12345).Cmp(v))
}

func TestLoadStateSizeMismatch(t *testing.T) {
	s := newSim(t, counterModule(8))
	require.NoError(t, s.Powercycle())
	err := s.LoadState(make([]byte, 3))
	require.ErrorIs(t, err, ErrStateSizeMismatch)
}

func TestResetSequence(t *testing.T) {
	m := counterModule(8)
	m.AddVar(&ir.VarDef{Name: "ui_in", Dtype: ir.Logic(8), IsInput: true})
	m.AddVar(&ir.VarDef{Name: "rst_n", Dtype: ir.Logic(1), IsInput: true})

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())
	require.NoError(t, s.State().SetUint("ui_in", 0xa5))

	require.NoError(t, s.Reset())

	ui, err := s.State().Uint("ui_in")
	require.NoError(t, err)
	require.Equal(t, uint64(0xa5), ui, "ui_in survives the powercycle")
	rst, err := s.State().Uint("rst_n")
	require.NoError(t, err)
	require.Equal(t, uint64(1), rst)
}

func TestTraceRing(t *testing.T) {
	s := newSim(t, counterModule(8))
	require.NoError(t, s.Powercycle())
	require.NoError(t, s.Tick2(5))

	require.Equal(t, 8, s.TraceRecordSize())
	s.ResetTrace()
	for i := 1; i <= 5; i++ {
		v, err := s.Trace().Uint("counter")
		require.NoError(t, err)
		require.Equal(t, uint64(i), v, "record %d", i)
		if i < 5 {
			require.True(t, s.NextTrace())
		}
	}
}

func TestFinishFlag(t *testing.T) {
	m := ir.NewModule("fin")
	m.AddVar(&ir.VarDef{Name: "x", Dtype: ir.Logic(8)})
	call := ir.Call("$finish")
	call.Line = 42
	m.AddBlock(ir.BlockEvalInitial, call)

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())
	require.True(t, s.IsFinished())
	require.False(t, s.IsStopped())
}

func TestRandBuiltin(t *testing.T) {
	m := ir.NewModule("rnd")
	w := ir.Logic(32)
	m.AddVar(&ir.VarDef{Name: "r", Dtype: w, IsOutput: true})
	rc := ir.Call("$rand")
	rc.Dtype = w
	m.AddBlock(ir.BlockEvalInitial, ir.Assign(ir.Ref("r", w), rc))

	a := newSim(t, m, WithRandSeed(7))
	require.NoError(t, a.Powercycle())
	b := newSim(t, m, WithRandSeed(7))
	require.NoError(t, b.Powercycle())

	va, err := a.State().Uint("r")
	require.NoError(t, err)
	vb, err := b.State().Uint("r")
	require.NoError(t, err)
	require.Equal(t, va, vb, "same seed, same stream")
}

// readmemModule stores "/nope" NUL-terminated in a constant byte array
// and reads it into mem during _eval_initial.
func readmemModule() *ir.Module {
	m := ir.NewModule("rm")
	fname := ir.Array(ir.Logic(8), 8)
	items := []*ir.Expr{}
	for i, c := range []byte("/nope\x00") {
		items = append(items, ir.InitItem(uint64(i), ir.Const(ir.Logic(8), uint64(c))))
	}
	m.AddVar(&ir.VarDef{Name: "fname", Dtype: fname, InitValue: ir.InitArray(items...)})
	m.AddVar(&ir.VarDef{Name: "mem", Dtype: ir.Array(ir.Logic(32), 4)})
	m.AddBlock(ir.BlockEvalInitial,
		ir.Call("$readmem",
			ir.Ref("fname", fname),
			ir.Ref("mem", ir.Array(ir.Logic(32), 4)),
			ir.Const(ir.Logic(1), 1)))
	return m
}

// Boundary scenario: a missing $readmem file fails the powercycle and
// leaves the destination untouched.
func TestReadmemMissingFile(t *testing.T) {
	s := newSim(t, readmemModule())
	err := s.Powercycle()
	require.ErrorIs(t, err, ErrMissingFile)

	b, err := s.State().Bytes("mem")
	require.NoError(t, err)
	for _, v := range b {
		require.Zero(t, v)
	}
}

func TestReadmemParsesHex(t *testing.T) {
	s := newSim(t, readmemModule(), WithFileLookup(func(path string) (string, bool) {
		require.Equal(t, "/nope", path)
		return "deadbeef\ncafe\n\n// comment\n12345678\n", true
	}))
	require.NoError(t, s.Powercycle())

	b, err := s.State().Bytes("mem")
	require.NoError(t, err)
	require.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, b[0:4])
	require.Equal(t, []byte{0xfe, 0xca, 0x00, 0x00}, b[4:8])
	require.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, b[8:12])
}

func TestReadmemTooSmall(t *testing.T) {
	s := newSim(t, readmemModule(), WithFileLookup(func(string) (string, bool) {
		return "1\n2\n3\n4\n5\n", true
	}))
	err := s.Powercycle()
	require.ErrorIs(t, err, ErrReadmemTooSmall)
}

// Boundary scenario: a sign-extended narrow value compares signed
// against a positive constant through the container's sign bits.
func TestSignedCompareAfterExtends(t *testing.T) {
	m := ir.NewModule("scmp")
	in := ir.Logic(16)
	ext := ir.SignedLogic(28)
	m.AddVar(&ir.VarDef{Name: "x", Dtype: in, IsInput: true})
	m.AddVar(&ir.VarDef{Name: "gt", Dtype: ir.Logic(1), IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.Assign(ir.Ref("gt", ir.Logic(1)),
			ir.Binop(ir.OpGtS, ir.Logic(1),
				ir.Unop(ir.OpExtends, ext, ir.Ref("x", in)),
				ir.Const(ext, 0x4000))))

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())

	require.NoError(t, s.State().SetUint("x", 0xf000)) // -4096 as 16-bit
	require.NoError(t, s.Eval())
	v, err := s.State().Uint("gt")
	require.NoError(t, err)
	require.Equal(t, uint64(0), v, "-4096 > 0x4000 must be false")

	require.NoError(t, s.State().SetUint("x", 0x5000)) // positive
	require.NoError(t, s.Eval())
	v, err = s.State().Uint("gt")
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
}

func TestWhileLoopAndArrays(t *testing.T) {
	// sum the first n elements of a memory with a frontend-style while
	m := ir.NewModule("sum")
	w32 := ir.Logic(32)
	arr := ir.Array(ir.Logic(32), 8)
	m.AddVar(&ir.VarDef{Name: "mem", Dtype: arr})
	m.AddVar(&ir.VarDef{Name: "n", Dtype: ir.Logic(8), IsInput: true})
	m.AddVar(&ir.VarDef{Name: "total", Dtype: w32, IsOutput: true})

	i := ir.Ref("i", ir.Logic(8))
	elem := ir.Binop(ir.OpArraySel, w32, ir.Ref("mem", arr), i)
	m.AddBlock(ir.BlockEval,
		ir.Decl("i", ir.Logic(8)),
		ir.Assign(ir.Ref("total", w32), ir.Const(w32, 0)),
		ir.While(
			ir.Assign(i, ir.Const(ir.Logic(8), 0)),
			ir.Binop(ir.OpLt, ir.Logic(1), i, ir.Ref("n", ir.Logic(8))),
			ir.Assign(i, ir.Binop(ir.OpAdd, ir.Logic(8), i, ir.Const(ir.Logic(8), 1))),
			ir.Assign(ir.Ref("total", w32),
				ir.Binop(ir.OpAdd, w32, ir.Ref("total", w32), elem)),
		))

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())

	mem, err := s.State().Bytes("mem")
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		mem[i*4] = byte(i + 1) // little-endian low byte
	}
	require.NoError(t, s.State().SetUint("n", 5))
	require.NoError(t, s.Eval())

	total, err := s.State().Uint("total")
	require.NoError(t, err)
	require.Equal(t, uint64(1+2+3+4+5), total)
}

func TestLoopTimeoutIsSilent(t *testing.T) {
	// an infinite while exits after the cooperative bound
	m := ir.NewModule("spin")
	w := ir.Logic(32)
	m.AddVar(&ir.VarDef{Name: "iters", Dtype: w, IsOutput: true})
	m.AddBlock(ir.BlockEval,
		ir.While(nil,
			ir.Const(ir.Logic(1), 1), // forever
			nil,
			ir.Assign(ir.Ref("iters", w),
				ir.Binop(ir.OpAdd, w, ir.Ref("iters", w), ir.Const(w, 1)))))

	s := newSim(t, m, WithLoopLimit(100))
	require.NoError(t, s.Powercycle())
	v, err := s.State().Uint("iters")
	require.NoError(t, err)
	require.Equal(t, uint64(100), v)
}
