package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinytapeout/hdlsim/wasm"
)

func TestEncodeModule(t *testing.T) {
	tests := []struct {
		name     string
		input    *wasm.Module
		expected []byte
	}{
		{
			name:     "empty",
			input:    &wasm.Module{},
			expected: append(append([]byte{}, Magic...), version...),
		},
		{
			name: "one exported nullary function and memory",
			input: &wasm.Module{
				TypeSection:     []*wasm.FunctionType{{}},
				FunctionSection: []wasm.Index{0},
				MemorySection:   &wasm.Memory{Min: 1, Max: 1},
				ExportSection: []*wasm.Export{
					{Name: "f", Type: wasm.ExternTypeFunc, Index: 0},
				},
				CodeSection: []*wasm.Code{{Body: []byte{wasm.OpcodeEnd}}},
			},
			expected: []byte{
				0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
				SectionIDType, 0x04, 0x01, 0x60, 0x00, 0x00,
				SectionIDFunction, 0x02, 0x01, 0x00,
				SectionIDMemory, 0x04, 0x01, 0x01, 0x01, 0x01,
				SectionIDExport, 0x05, 0x01, 0x01, 'f', 0x00, 0x00,
				SectionIDCode, 0x04, 0x01, 0x02, 0x00, 0x0b,
			},
		},
		{
			name: "import precedes function index space",
			input: &wasm.Module{
				TypeSection: []*wasm.FunctionType{
					{Params: []wasm.ValueType{wasm.ValueTypeI32}},
				},
				ImportSection: []*wasm.Import{
					{Module: "b", Name: "x", TypeIndex: 0},
				},
			},
			expected: []byte{
				0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
				SectionIDType, 0x05, 0x01, 0x60, 0x01, 0x7f, 0x00,
				SectionIDImport, 0x07, 0x01, 0x01, 'b', 0x01, 'x', 0x00, 0x00,
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			bytes, err := EncodeModule(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, bytes)
		})
	}
}

func TestEncodeModule_Errors(t *testing.T) {
	t.Run("code section length mismatch", func(t *testing.T) {
		_, err := EncodeModule(&wasm.Module{FunctionSection: []wasm.Index{0}})
		require.ErrorIs(t, err, wasm.ErrCodeMismatch)
	})
	t.Run("body missing end", func(t *testing.T) {
		_, err := EncodeModule(&wasm.Module{
			TypeSection:     []*wasm.FunctionType{{}},
			FunctionSection: []wasm.Index{0},
			CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeNop}}},
		})
		require.ErrorIs(t, err, wasm.ErrBodyNotTerminated)
	})
}

func TestEncodeCode_LocalCompression(t *testing.T) {
	i32, i64 := wasm.ValueTypeI32, wasm.ValueTypeI64
	c := &wasm.Code{
		LocalTypes: []wasm.ValueType{i32, i32, i32, i64, i32},
		Body:       []byte{wasm.OpcodeEnd},
	}
	require.Equal(t, []byte{
		0x08,      // entry size
		0x03,      // three local groups
		0x03, i32, // 3 x i32
		0x01, i64, // 1 x i64
		0x01, i32, // 1 x i32
		wasm.OpcodeEnd,
	}, encodeCode(c))
}
