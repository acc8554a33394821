// Package binary encodes a wasm.Module in the WebAssembly 1.0 binary
// format. Only encoding is implemented; the generated module is handed
// straight to the engine and never read back.
package binary

import (
	"fmt"

	"github.com/tinytapeout/hdlsim/wasm"
)

// Magic is the 4 byte preamble (literally "\0asm") of the binary format.
//
// See https://www.w3.org/TR/wasm-core-1/#binary-magic
var Magic = []byte{0x00, 0x61, 0x73, 0x6D}

// version is the format version and doesn't change between known
// specification versions.
var version = []byte{0x01, 0x00, 0x00, 0x00}

// EncodeModule encodes m in the WebAssembly 1.0 Binary Format.
//
// See https://www.w3.org/TR/wasm-core-1/#binary-format%E2%91%A0
func EncodeModule(m *wasm.Module) ([]byte, error) {
	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, wasm.ErrCodeMismatch
	}
	for i, c := range m.CodeSection {
		if n := len(c.Body); n == 0 || c.Body[n-1] != wasm.OpcodeEnd {
			return nil, fmt.Errorf("code[%d]: %w", i, wasm.ErrBodyNotTerminated)
		}
	}

	bytes := append([]byte{}, Magic...)
	bytes = append(bytes, version...)
	if len(m.TypeSection) > 0 {
		bytes = append(bytes, encodeTypeSection(m.TypeSection)...)
	}
	if len(m.ImportSection) > 0 {
		bytes = append(bytes, encodeImportSection(m.ImportSection)...)
	}
	if len(m.FunctionSection) > 0 {
		bytes = append(bytes, encodeFunctionSection(m.FunctionSection)...)
	}
	if m.MemorySection != nil {
		bytes = append(bytes, encodeMemorySection(m.MemorySection)...)
	}
	if len(m.ExportSection) > 0 {
		bytes = append(bytes, encodeExportSection(m.ExportSection)...)
	}
	if len(m.CodeSection) > 0 {
		bytes = append(bytes, encodeCodeSection(m.CodeSection)...)
	}
	return bytes, nil
}
