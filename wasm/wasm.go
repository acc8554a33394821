// Package wasm holds the static representation of a WebAssembly module as
// built by the code generator, prior to binary encoding.
package wasm

// ValueType describes a numeric type used in params, results and locals.
//
// See https://www.w3.org/TR/wasm-core-1/#value-types%E2%91%A0
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
)

// Module is a static WebAssembly module, index spaces resolved, ready for
// binary encoding. Only the sections the code generator produces are
// modeled: no tables, no globals, no data segments.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []Index
	MemorySection   *Memory
	ExportSection   []*Export
	CodeSection     []*Code
}

// Index is an offset into one of the module's index spaces. Imported
// functions precede module-defined functions in the function index space.
type Index = uint32

// FunctionType is a possibly-shared signature of a function.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// EqualTo returns true if the receiver has the same parameter and result
// types as t, in order.
func (f *FunctionType) EqualTo(t *FunctionType) bool {
	if len(f.Params) != len(t.Params) || len(f.Results) != len(t.Results) {
		return false
	}
	for i, p := range f.Params {
		if t.Params[i] != p {
			return false
		}
	}
	for i, r := range f.Results {
		if t.Results[i] != r {
			return false
		}
	}
	return true
}

// TypeIndexOf returns the index of t in the type section, appending it if
// absent.
func (m *Module) TypeIndexOf(t *FunctionType) Index {
	for i, existing := range m.TypeSection {
		if existing.EqualTo(t) {
			return Index(i)
		}
	}
	m.TypeSection = append(m.TypeSection, t)
	return Index(len(m.TypeSection) - 1)
}

// Import is a function imported from the host. Only function imports are
// modeled; the generated module owns its memory.
type Import struct {
	Module string
	Name   string
	// TypeIndex points into Module.TypeSection.
	TypeIndex Index
}

// Memory describes the module-owned linear memory, in 64KiB pages.
// Min == Max so the state region can never move or grow underneath the
// host's proxies.
type Memory struct {
	Min, Max uint32
}

// ExternType classifies an export.
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeMemory ExternType = 0x02
)

// Export makes a function or the memory visible to the host by name.
type Export struct {
	Name  string
	Type  ExternType
	Index Index
}

// Code is one entry of the code section: the declared (non-parameter)
// locals followed by the instruction body. Body must end with OpcodeEnd.
type Code struct {
	LocalTypes []ValueType
	Body       []byte
}
