package codegen

import (
	"github.com/tinytapeout/hdlsim/wasm"
	"github.com/tinytapeout/hdlsim/wasm/leb128"
)

// asm accumulates the instruction body of one function. Methods append
// an opcode plus its immediates; nothing here understands the IR.
type asm struct {
	buf []byte
}

func (a *asm) op(opcodes ...byte) { a.buf = append(a.buf, opcodes...) }

func (a *asm) u32(v uint32) { a.buf = append(a.buf, leb128.EncodeUint32(v)...) }

func (a *asm) i32Const(v int32) {
	a.buf = append(a.buf, wasm.OpcodeI32Const)
	a.buf = append(a.buf, leb128.EncodeInt32(v)...)
}

func (a *asm) i64Const(v int64) {
	a.buf = append(a.buf, wasm.OpcodeI64Const)
	a.buf = append(a.buf, leb128.EncodeInt64(v)...)
}

func (a *asm) localGet(i uint32) { a.op(wasm.OpcodeLocalGet); a.u32(i) }
func (a *asm) localSet(i uint32) { a.op(wasm.OpcodeLocalSet); a.u32(i) }
func (a *asm) localTee(i uint32) { a.op(wasm.OpcodeLocalTee); a.u32(i) }

func (a *asm) call(fn uint32) { a.op(wasm.OpcodeCall); a.u32(fn) }

// mem emits a load or store opcode with its alignment hint and static
// offset immediates.
func (a *asm) mem(opcode byte, align, offset uint32) {
	a.op(opcode)
	a.u32(align)
	a.u32(offset)
}

func (a *asm) block(blockType byte) { a.op(wasm.OpcodeBlock, blockType) }
func (a *asm) loop(blockType byte)  { a.op(wasm.OpcodeLoop, blockType) }
func (a *asm) ifStart(blockType byte) {
	a.op(wasm.OpcodeIf, blockType)
}
func (a *asm) elseStart() { a.op(wasm.OpcodeElse) }
func (a *asm) end()       { a.op(wasm.OpcodeEnd) }

func (a *asm) br(depth uint32)   { a.op(wasm.OpcodeBr); a.u32(depth) }
func (a *asm) brIf(depth uint32) { a.op(wasm.OpcodeBrIf); a.u32(depth) }

// fn is the per-function emission scope: the body writer plus the local
// index space. Parameter 0 is always the data pointer.
type fn struct {
	asm
	params uint32
	locals []wasm.ValueType // declared locals, after params

	// named locals: block-level VarDecls promoted to WASM locals, and
	// reusable scratch registers keyed by role name.
	names map[string]uint32
}

func newFn(params uint32) *fn {
	return &fn{params: params, names: map[string]uint32{}}
}

// addLocal declares a fresh local and returns its index.
func (f *fn) addLocal(t wasm.ValueType) uint32 {
	idx := f.params + uint32(len(f.locals))
	f.locals = append(f.locals, t)
	return idx
}

// named returns the local registered under name, declaring it on first
// use. Scratch registers ($carry, $sum, ...) are per-function and shared
// by every wide sequence in the body.
func (f *fn) named(name string, t wasm.ValueType) uint32 {
	if idx, ok := f.names[name]; ok {
		return idx
	}
	idx := f.addLocal(t)
	f.names[name] = idx
	return idx
}

// lookup returns a named local, false if not declared.
func (f *fn) lookup(name string) (uint32, bool) {
	idx, ok := f.names[name]
	return idx, ok
}

// code finishes the function, appending the final end opcode.
func (f *fn) code() *wasm.Code {
	f.end()
	return &wasm.Code{LocalTypes: f.locals, Body: f.buf}
}
