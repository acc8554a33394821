package binary

import (
	"github.com/tinytapeout/hdlsim/wasm"
	"github.com/tinytapeout/hdlsim/wasm/leb128"
)

// Section IDs of the WebAssembly 1.0 binary format.
//
// See https://www.w3.org/TR/wasm-core-1/#sections%E2%91%A0
const (
	SectionIDType     = 1
	SectionIDImport   = 2
	SectionIDFunction = 3
	SectionIDMemory   = 5
	SectionIDExport   = 7
	SectionIDCode     = 10
)

// encodeSection prefixes the section contents with its ID and size.
//
// See https://www.w3.org/TR/wasm-core-1/#sections%E2%91%A0
func encodeSection(sectionID byte, contents []byte) []byte {
	ret := append([]byte{sectionID}, leb128.EncodeUint32(uint32(len(contents)))...)
	return append(ret, contents...)
}

func encodeTypeSection(types []*wasm.FunctionType) []byte {
	contents := leb128.EncodeUint32(uint32(len(types)))
	for _, t := range types {
		contents = append(contents, encodeFunctionType(t)...)
	}
	return encodeSection(SectionIDType, contents)
}

func encodeImportSection(imports []*wasm.Import) []byte {
	contents := leb128.EncodeUint32(uint32(len(imports)))
	for _, i := range imports {
		contents = append(contents, encodeImport(i)...)
	}
	return encodeSection(SectionIDImport, contents)
}

// encodeFunctionSection encodes the type index of each module-defined
// function, in function index order.
func encodeFunctionSection(typeIndices []wasm.Index) []byte {
	contents := leb128.EncodeUint32(uint32(len(typeIndices)))
	for _, i := range typeIndices {
		contents = append(contents, leb128.EncodeUint32(i)...)
	}
	return encodeSection(SectionIDFunction, contents)
}

func encodeMemorySection(mem *wasm.Memory) []byte {
	// limit flag 0x01 means both min and max are present
	contents := []byte{0x01, 0x01}
	contents = append(contents, leb128.EncodeUint32(mem.Min)...)
	contents = append(contents, leb128.EncodeUint32(mem.Max)...)
	return encodeSection(SectionIDMemory, contents)
}

func encodeExportSection(exports []*wasm.Export) []byte {
	contents := leb128.EncodeUint32(uint32(len(exports)))
	for _, e := range exports {
		contents = append(contents, encodeExport(e)...)
	}
	return encodeSection(SectionIDExport, contents)
}

func encodeCodeSection(code []*wasm.Code) []byte {
	contents := leb128.EncodeUint32(uint32(len(code)))
	for _, c := range code {
		contents = append(contents, encodeCode(c)...)
	}
	return encodeSection(SectionIDCode, contents)
}
