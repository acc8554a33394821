package codegen

import (
	"github.com/tinytapeout/hdlsim/ir"
	"github.com/tinytapeout/hdlsim/wasm"
	"github.com/tinytapeout/hdlsim/wasm/binary"
)

// Config tunes code generation.
type Config struct {
	// MaxMemoryBytes caps the linear memory; 0 means unlimited.
	MaxMemoryBytes int
	// TraceDepth is the ring capacity in trace records.
	TraceDepth int
	// LoopLimit bounds every generated while loop; 0 disables the guard.
	LoopLimit int
	// MaxEvalIterations bounds the generated eval fixed point.
	MaxEvalIterations int
}

// DefaultConfig returns the tuning the playground runs with.
func DefaultConfig() Config {
	return Config{
		TraceDepth:        16,
		LoopLimit:         10000,
		MaxEvalIterations: 8,
	}
}

// Program is a compiled module: the binary plus everything the runtime
// driver needs to instantiate and drive it.
type Program struct {
	Binary []byte
	Layout *Layout
	Module *ir.Module
	// ClkName is the clock variable tick2 toggles, empty when the
	// design has none.
	ClkName string
	// Exports lists the exported function names actually present.
	Exports []string
}

// Names of the imported builtins, in import index order.
var builtinImports = []struct {
	name    string
	params  []wasm.ValueType
	results []wasm.ValueType
}{
	{"$finish", []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, nil},
	{"$stop", []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, nil},
	{"$time", []wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI64}},
	{"$rand", []wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32}},
	{"$readmem", []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32}, nil},
}

// BuiltinModule is the import module name of the host builtins.
const BuiltinModule = "builtins"

// Compiler drives one module's code generation.
type Compiler struct {
	Module *ir.Module
	Pool   *ir.Module
	Layout *Layout
	Out    *wasm.Module

	LoopLimit int
	maxEval   int

	funcIdx   map[string]wasm.Index
	importIdx map[string]wasm.Index
	nextIdx   wasm.Index
}

// Compile lowers m against the shared constant pool into an executable
// WebAssembly module.
func Compile(m *ir.Module, pool *ir.Module, cfg Config) (*Program, error) {
	if cfg.TraceDepth <= 0 {
		cfg.TraceDepth = DefaultConfig().TraceDepth
	}
	if cfg.MaxEvalIterations <= 0 {
		cfg.MaxEvalIterations = DefaultConfig().MaxEvalIterations
	}

	for _, v := range m.Vars {
		if v.InitValue != nil && v.Dtype.Kind == ir.TypeArray && v.Dtype.Elem.Kind == ir.TypeArray {
			return nil, errf(ErrUnsupportedDataType, 0, "multidimensional initializer for %q", v.Name)
		}
	}

	layout, err := BuildLayout(m, pool, cfg.MaxMemoryBytes)
	if err != nil {
		return nil, err
	}

	c := &Compiler{
		Module:    m,
		Pool:      pool,
		Layout:    layout,
		Out:       &wasm.Module{},
		LoopLimit: cfg.LoopLimit,
		maxEval:   cfg.MaxEvalIterations,
		funcIdx:   map[string]wasm.Index{},
		importIdx: map[string]wasm.Index{},
	}

	c.addImports()
	if err := c.emitBlocks(); err != nil {
		return nil, err
	}

	// Scratch allocation is done; the trailer and ring can be fixed now,
	// before the helpers that address them are emitted.
	if err := layout.Finalize(cfg.TraceDepth); err != nil {
		return nil, err
	}

	c.emitCopyTraceRec()
	c.emitEval()
	clk := c.emitTick2()

	c.Out.MemorySection = &wasm.Memory{Min: uint32(layout.Pages), Max: uint32(layout.Pages)}
	c.Out.ExportSection = append(c.Out.ExportSection, &wasm.Export{
		Name: "memory", Type: wasm.ExternTypeMemory, Index: 0,
	})
	var exports []string
	for _, b := range m.Blocks {
		c.export(b.Name)
		exports = append(exports, b.Name)
	}
	c.export("eval")
	c.export("tick2")
	exports = append(exports, "eval", "tick2")

	bin, err := binary.EncodeModule(c.Out)
	if err != nil {
		return nil, errf(ErrValidationFailed, 0, "encode: %v", err)
	}
	return &Program{
		Binary:  bin,
		Layout:  layout,
		Module:  m,
		ClkName: clk,
		Exports: exports,
	}, nil
}

func (c *Compiler) sig(params, results []wasm.ValueType) wasm.Index {
	return c.Out.TypeIndexOf(&wasm.FunctionType{Params: params, Results: results})
}

func (c *Compiler) addImports() {
	for _, b := range builtinImports {
		c.Out.ImportSection = append(c.Out.ImportSection, &wasm.Import{
			Module:    BuiltinModule,
			Name:      b.name,
			TypeIndex: c.sig(b.params, b.results),
		})
		c.importIdx[b.name] = c.nextIdx
		c.nextIdx++
	}
}

// addFunc registers a function's signature and body under name.
func (c *Compiler) addFunc(name string, params, results []wasm.ValueType, code *wasm.Code) wasm.Index {
	c.Out.FunctionSection = append(c.Out.FunctionSection, c.sig(params, results))
	c.Out.CodeSection = append(c.Out.CodeSection, code)
	idx := c.nextIdx
	c.funcIdx[name] = idx
	c.nextIdx++
	return idx
}

func (c *Compiler) export(name string) {
	c.Out.ExportSection = append(c.Out.ExportSection, &wasm.Export{
		Name: name, Type: wasm.ExternTypeFunc, Index: c.funcIdx[name],
	})
}

var i32Param = []wasm.ValueType{wasm.ValueTypeI32}

// emitBlocks lowers every IR block to a function taking the data
// pointer. Indices are assigned up front so blocks can call each other
// regardless of order.
func (c *Compiler) emitBlocks() error {
	base := c.nextIdx
	for i, b := range c.Module.Blocks {
		c.funcIdx[b.Name] = base + wasm.Index(i)
	}

	for _, b := range c.Module.Blocks {
		var results []wasm.ValueType
		if b.Name == ir.BlockChangeRequest {
			results = i32Param
		}

		f := newFn(1)
		x := &fctx{c: c, f: f, fname: b.Name}
		if b.Name == ir.BlockChangeRequest {
			x.changedFlag = f.named("$changed", wasm.ValueTypeI32)
			x.hasFlag = true
		}
		for _, s := range b.Body {
			if err := x.stmt(s); err != nil {
				return err
			}
		}
		if b.Name == ir.BlockChangeRequest {
			f.localGet(x.changedFlag)
		}

		c.Out.FunctionSection = append(c.Out.FunctionSection, c.sig(i32Param, results))
		c.Out.CodeSection = append(c.Out.CodeSection, f.code())
		c.nextIdx++
	}
	return nil
}

// emitCopyTraceRec copies the output prefix of the state region into the
// trace ring and advances the cursor, wrapping at the ring's end. The
// record length is a multiple of 8, so the loop moves 64 bits at a time.
func (c *Compiler) emitCopyTraceRec() {
	l := c.Layout
	f := newFn(1)
	length := f.addLocal(wasm.ValueTypeI32)
	ofs := f.addLocal(wasm.ValueTypeI32)
	j := f.addLocal(wasm.ValueTypeI32)

	f.localGet(0)
	f.mem(wasm.OpcodeI32Load, 2, uint32(l.TraceRecLenAddr()))
	f.localSet(length)
	f.localGet(0)
	f.mem(wasm.OpcodeI32Load, 2, uint32(l.TraceOfsAddr()))
	f.localSet(ofs)

	f.i32Const(0)
	f.localSet(j)
	f.block(wasm.BlockTypeEmpty)
	f.loop(wasm.BlockTypeEmpty)
	f.localGet(j)
	f.localGet(length)
	f.op(wasm.OpcodeI32GeU)
	f.brIf(1)

	f.localGet(0)
	f.localGet(ofs)
	f.op(wasm.OpcodeI32Add)
	f.localGet(j)
	f.op(wasm.OpcodeI32Add)
	f.localGet(0)
	f.localGet(j)
	f.op(wasm.OpcodeI32Add)
	f.mem(wasm.OpcodeI64Load, 3, 0)
	f.mem(wasm.OpcodeI64Store, 3, 0)

	f.localGet(j)
	f.i32Const(8)
	f.op(wasm.OpcodeI32Add)
	f.localSet(j)
	f.br(0)
	f.end()
	f.end()

	// advance and wrap the cursor
	f.localGet(ofs)
	f.localGet(length)
	f.op(wasm.OpcodeI32Add)
	f.localSet(ofs)
	f.localGet(ofs)
	f.localGet(0)
	f.mem(wasm.OpcodeI32Load, 2, uint32(l.TraceEndAddr()))
	f.op(wasm.OpcodeI32GeU)
	f.ifStart(wasm.BlockTypeEmpty)
	f.i32Const(int32(l.RingOffset))
	f.localSet(ofs)
	f.end()
	f.localGet(0)
	f.localGet(ofs)
	f.mem(wasm.OpcodeI32Store, 2, uint32(l.TraceOfsAddr()))

	c.addFunc("copyTraceRec", i32Param, nil, f.code())
}

// emitEval generates the settle helper: run _eval, and while
// _change_request keeps reporting changes re-run it, bounded by the
// iteration cap. The bound unrolls as nested ifs rather than a loop so
// the engine can inline the whole chain.
func (c *Compiler) emitEval() {
	f := newFn(1)
	evalIdx, hasEval := c.funcIdx[ir.BlockEval]
	chgIdx, hasChg := c.funcIdx[ir.BlockChangeRequest]

	var emit func(depth int)
	emit = func(depth int) {
		if hasEval {
			f.localGet(0)
			f.call(evalIdx)
		}
		if !hasChg || depth >= c.maxEval {
			return
		}
		f.localGet(0)
		f.call(chgIdx)
		f.ifStart(wasm.BlockTypeEmpty)
		emit(depth + 1)
		f.end()
	}
	emit(1)
	c.addFunc("eval", i32Param, nil, f.code())
}

// emitTick2 generates the clocked batch stepper: per iteration, a full
// low and high clock phase with a trace record copy after both. Designs
// without a clock still honor the two-argument shape and just settle
// once per iteration.
func (c *Compiler) emitTick2() string {
	var clk *Entry
	for _, name := range []string{"clk", "clock"} {
		if e := c.Layout.Lookup(name); e != nil && e.Repr != ReprRef {
			clk = e
			break
		}
	}

	f := newFn(2)
	n := f.addLocal(wasm.ValueTypeI32)
	x := &fctx{c: c, f: f}

	f.i32Const(0)
	f.localSet(n)
	f.block(wasm.BlockTypeEmpty)
	f.loop(wasm.BlockTypeEmpty)
	f.localGet(n)
	f.localGet(1)
	f.op(wasm.OpcodeI32GeU)
	f.brIf(1)

	if clk != nil {
		x.dp()
		f.i32Const(0)
		x.storeScalar(uint32(clk.Offset), clk.Dtype)
		f.localGet(0)
		f.call(c.funcIdx["eval"])
	}
	if clk != nil {
		x.dp()
		f.i32Const(1)
		x.storeScalar(uint32(clk.Offset), clk.Dtype)
	}
	f.localGet(0)
	f.call(c.funcIdx["eval"])
	f.localGet(0)
	f.call(c.funcIdx["copyTraceRec"])

	f.localGet(n)
	f.i32Const(1)
	f.op(wasm.OpcodeI32Add)
	f.localSet(n)
	f.br(0)
	f.end()
	f.end()

	c.addFunc("tick2", []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, nil, f.code())
	if clk != nil {
		return clk.Name
	}
	return ""
}
