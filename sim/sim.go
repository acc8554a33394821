// Package sim instantiates a compiled design against the wazero engine
// and drives it: power cycling, clock stepping, settle evaluation, and
// host access to the shared state memory.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/tinytapeout/hdlsim/codegen"
	"github.com/tinytapeout/hdlsim/ir"
)

// settleLimit bounds the powercycle settle loop.
const settleLimit = 100

// resetHoldTicks is how long Reset holds rst_n low.
const resetHoldTicks = 10

// Option tunes a simulator instance.
type Option func(*Sim)

// WithMaxMemoryMB caps the simulation state memory.
func WithMaxMemoryMB(mb int) Option {
	return func(s *Sim) { s.cfg.MaxMemoryBytes = mb << 20 }
}

// WithTraceDepth sets the ring capacity in trace records.
func WithTraceDepth(records int) Option {
	return func(s *Sim) { s.cfg.TraceDepth = records }
}

// WithLoopLimit bounds generated while loops; 0 disables the guard.
func WithLoopLimit(limit int) Option {
	return func(s *Sim) { s.cfg.LoopLimit = limit }
}

// WithLogger routes lifecycle logging; the default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Sim) { s.log = log }
}

// WithFileLookup provides the $readmem file resolver.
func WithFileLookup(fn func(path string) (string, bool)) Option {
	return func(s *Sim) { s.getFile = fn }
}

// WithRandSeed makes $rand deterministic.
func WithRandSeed(seed int64) Option {
	return func(s *Sim) { s.rnd = rand.New(rand.NewSource(seed)) }
}

// Sim is one simulator instance. Instances are independent: several can
// run side by side without sharing any mutable state. All methods are
// single-threaded and run to completion on the caller's goroutine.
type Sim struct {
	prog *codegen.Program
	cfg  codegen.Config
	log  *zap.Logger

	getFile func(string) (string, bool)
	rnd     *rand.Rand

	rt    wazero.Runtime
	mod   api.Module
	mem   api.Memory
	ctx   context.Context
	state *State

	finished, stopped bool
	finishLine        int
	stopLine          int
	t0                time.Time

	// hostErr carries a failure raised inside an imported builtin out of
	// the engine call that triggered it.
	hostErr error

	traceCursor int
}

// New compiles the module against the shared constant pool. All codegen
// faults (unsupported constructs, unknown operators, memory cap) surface
// here, before any engine work.
func New(m *ir.Module, pool *ir.Module, opts ...Option) (*Sim, error) {
	s := &Sim{
		cfg: codegen.DefaultConfig(),
		log: zap.NewNop(),
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(s)
	}
	prog, err := codegen.Compile(m, pool, s.cfg)
	if err != nil {
		return nil, err
	}
	s.prog = prog
	return s, nil
}

// Layout exposes the state layout for offset-hungry callers.
func (s *Sim) Layout() *codegen.Layout { return s.prog.Layout }

// Binary returns the generated WebAssembly module.
func (s *Sim) Binary() []byte { return s.prog.Binary }

// Init compiles and instantiates the generated module in the engine.
func (s *Sim) Init(ctx context.Context) error {
	s.ctx = ctx
	s.rt = wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())

	if err := s.instantiateBuiltins(ctx); err != nil {
		s.rt.Close(ctx)
		return err
	}

	compiled, err := s.rt.CompileModule(ctx, s.prog.Binary)
	if err != nil {
		s.rt.Close(ctx)
		return fmt.Errorf("validation failed: %w", err)
	}
	s.mod, err = s.rt.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(s.prog.Module.Name))
	if err != nil {
		s.rt.Close(ctx)
		return fmt.Errorf("instantiate: %w", err)
	}
	s.mem = s.mod.Memory()
	s.state = &State{mem: s.mem, layout: s.prog.Layout}
	s.log.Debug("module instantiated",
		zap.String("module", s.prog.Module.Name),
		zap.Int("stateBytes", s.prog.Layout.StateBytes),
		zap.Int("pages", s.prog.Layout.Pages))
	return nil
}

// InitSync is Init for hosts without an event loop.
func (s *Sim) InitSync() error { return s.Init(context.Background()) }

// Dispose releases the engine resources.
func (s *Sim) Dispose() error {
	if s.rt == nil {
		return nil
	}
	err := s.rt.Close(s.ctx)
	s.rt = nil
	return err
}

// State returns the live proxy over the simulation state.
func (s *Sim) State() *State { return s.state }

// IsFinished reports whether the design executed $finish.
func (s *Sim) IsFinished() bool { return s.finished }

// IsStopped reports whether the design executed $stop.
func (s *Sim) IsStopped() bool { return s.stopped }

// call invokes an exported function with the data pointer, skipping
// silently when the block does not exist in this design.
func (s *Sim) call(name string, extra ...uint64) error {
	if s.mod == nil {
		return ErrNotInitialized
	}
	fn := s.mod.ExportedFunction(name)
	if fn == nil {
		return nil
	}
	args := append([]uint64{0}, extra...)
	if _, err := fn.Call(s.ctx, args...); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := s.hostErr; err != nil {
		s.hostErr = nil
		return err
	}
	return nil
}

// callChanged runs _change_request and reports its flag.
func (s *Sim) callChanged() (bool, error) {
	if s.mod == nil {
		return false, ErrNotInitialized
	}
	fn := s.mod.ExportedFunction(ir.BlockChangeRequest)
	if fn == nil {
		return false, nil
	}
	res, err := fn.Call(s.ctx, 0)
	if err != nil {
		return false, fmt.Errorf("%s: %w", ir.BlockChangeRequest, err)
	}
	return len(res) > 0 && uint32(res[0]) != 0, nil
}

// Powercycle zeroes the state, applies initial and constant values,
// runs the construction-time blocks and settles the design to a fixed
// point.
func (s *Sim) Powercycle() error {
	if s.mem == nil {
		return ErrNotInitialized
	}
	s.finished, s.stopped = false, false
	s.t0 = time.Now()
	l := s.prog.Layout

	zero := make([]byte, l.StateBytes)
	s.mem.Write(0, zero)
	s.mem.WriteUint32Le(uint32(l.TraceRecLenAddr()), uint32(l.OutputBytes))
	s.mem.WriteUint32Le(uint32(l.TraceOfsAddr()), uint32(l.RingOffset))
	s.mem.WriteUint32Le(uint32(l.TraceEndAddr()), uint32(l.RingEnd))

	if err := s.applyInitialValues(); err != nil {
		return err
	}
	if err := s.call(ir.BlockCtorVarReset); err != nil {
		return err
	}
	if err := s.call(ir.BlockEvalInitial); err != nil {
		return err
	}

	for i := 0; i < settleLimit; i++ {
		if err := s.call(ir.BlockEvalSettle); err != nil {
			return err
		}
		if err := s.call(ir.BlockEval); err != nil {
			return err
		}
		changed, err := s.callChanged()
		if err != nil {
			return err
		}
		if !changed {
			s.log.Debug("settled", zap.Int("iterations", i+1))
			return nil
		}
	}
	return ErrSettleDidNotConverge
}

// applyInitialValues writes constants (including the shared pool) and
// declared initial values through the proxy.
func (s *Sim) applyInitialValues() error {
	for _, e := range s.prog.Layout.Order {
		if e.ConstValue != nil {
			if err := s.writeConst(e.Name, e.Dtype, e.ConstValue, 0); err != nil {
				return err
			}
		}
		if e.InitValue == nil {
			continue
		}
		if e.InitValue.Op != ir.OpInitArray {
			return fmt.Errorf("initial value of %q is not an element list", e.Name)
		}
		for _, item := range e.InitValue.Body {
			if item.Op != ir.OpInitItem || item.Left.Op != ir.OpConst {
				return fmt.Errorf("initial value of %q: element is not constant", e.Name)
			}
			if err := s.writeConst(e.Name, e.Dtype.Elem, item.Left, int(item.Value)); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeConst stores one constant scalar, or one element of an array
// entry when index addresses past the base.
func (s *Sim) writeConst(name string, dt *ir.DataType, c *ir.Expr, index int) error {
	e := s.prog.Layout.Lookup(name)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	elemSize := codegen.SizeOf(dt)
	addr := uint32(e.Offset + index*elemSize)
	v := c.Value
	switch {
	case elemSize == 1:
		s.mem.WriteByte(addr, byte(v))
	case elemSize == 2:
		s.mem.WriteUint16Le(addr, uint16(v))
	case elemSize == 4:
		s.mem.WriteUint32Le(addr, uint32(v))
	case elemSize == 8:
		if c.Big != nil {
			v = uint64(bigChunk32(c.Big, 1))<<32 | uint64(bigChunk32(c.Big, 0))
		}
		s.mem.WriteUint64Le(addr, v)
	default:
		b := c.Big
		if b == nil {
			b = bigFromUint(v)
		}
		for i := 0; i < codegen.Chunks(dt.Width()); i++ {
			s.mem.WriteUint32Le(addr+uint32(4*i), bigChunk32(b, i))
		}
	}
	return nil
}

// Eval runs the generated fixed-point eval helper once.
func (s *Sim) Eval() error { return s.call("eval") }

// Tick flips the clock's low bit and settles.
func (s *Sim) Tick() error {
	if s.prog.ClkName != "" {
		v, err := s.state.Uint(s.prog.ClkName)
		if err != nil {
			return err
		}
		if err := s.state.SetUint(s.prog.ClkName, v^1); err != nil {
			return err
		}
	}
	return s.Eval()
}

// Tick2 runs the generated batch stepper for iters full clock cycles,
// copying a trace record after each.
func (s *Sim) Tick2(iters int) error {
	return s.call("tick2", uint64(uint32(iters)))
}

// Reset is the convenience power-on sequence: preserve the user inputs
// across the powercycle, then hold rst_n low for a few ticks.
func (s *Sim) Reset() error {
	var uiIn uint64
	var hasUI bool
	if _, ok := s.state.Lookup("ui_in"); ok {
		uiIn, _ = s.state.Uint("ui_in")
		hasUI = true
	}
	if err := s.Powercycle(); err != nil {
		return err
	}
	if hasUI {
		if err := s.state.SetUint("ui_in", uiIn); err != nil {
			return err
		}
	}
	if _, ok := s.state.Lookup("rst_n"); !ok {
		return nil
	}
	if err := s.state.SetUint("rst_n", 0); err != nil {
		return err
	}
	for i := 0; i < resetHoldTicks; i++ {
		if err := s.Tick(); err != nil {
			return err
		}
	}
	return s.state.SetUint("rst_n", 1)
}

// SaveState snapshots the persistent state region: outputs, internals
// and constants, without the trace trailer.
func (s *Sim) SaveState() ([]byte, error) {
	if s.mem == nil {
		return nil, ErrNotInitialized
	}
	view, ok := s.mem.Read(0, uint32(s.prog.Layout.StateBytes))
	if !ok {
		return nil, fmt.Errorf("state region out of bounds")
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// LoadState restores a SaveState snapshot; the blob must be exactly the
// state region's size.
func (s *Sim) LoadState(b []byte) error {
	if s.mem == nil {
		return ErrNotInitialized
	}
	if len(b) != s.prog.Layout.StateBytes {
		return fmt.Errorf("%w: got %d bytes, state is %d", ErrStateSizeMismatch, len(b), s.prog.Layout.StateBytes)
	}
	s.mem.Write(0, b)
	return nil
}
