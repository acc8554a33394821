package binary

import (
	"github.com/tinytapeout/hdlsim/wasm"
	"github.com/tinytapeout/hdlsim/wasm/leb128"
)

// encodeValTypes encodes a size-prefixed vector of value types.
func encodeValTypes(vt []wasm.ValueType) []byte {
	return append(leb128.EncodeUint32(uint32(len(vt))), vt...)
}

// encodeFunctionType encodes a function type with its 0x60 constructor
// byte.
//
// See https://www.w3.org/TR/wasm-core-1/#function-types%E2%91%A4
func encodeFunctionType(t *wasm.FunctionType) []byte {
	ret := append([]byte{0x60}, encodeValTypes(t.Params)...)
	return append(ret, encodeValTypes(t.Results)...)
}

// encodeName encodes a size-prefixed UTF-8 string.
func encodeName(name string) []byte {
	return append(leb128.EncodeUint32(uint32(len(name))), name...)
}

func encodeImport(i *wasm.Import) []byte {
	ret := append(encodeName(i.Module), encodeName(i.Name)...)
	ret = append(ret, wasm.ExternTypeFunc)
	return append(ret, leb128.EncodeUint32(i.TypeIndex)...)
}

func encodeExport(e *wasm.Export) []byte {
	ret := append(encodeName(e.Name), e.Type)
	return append(ret, leb128.EncodeUint32(e.Index)...)
}
