package binary

import (
	"github.com/tinytapeout/hdlsim/wasm"
	"github.com/tinytapeout/hdlsim/wasm/leb128"
)

// encodeCode encodes one code section entry: its size in bytes, the
// run-length compressed local declarations, and the instruction body.
//
// See https://www.w3.org/TR/wasm-core-1/#binary-code
func encodeCode(c *wasm.Code) []byte {
	// Compress consecutive locals of the same type into (count, type)
	// pairs.
	var groups [][2]uint32 // count, type
	for _, t := range c.LocalTypes {
		if n := len(groups); n > 0 && groups[n-1][1] == uint32(t) {
			groups[n-1][0]++
		} else {
			groups = append(groups, [2]uint32{1, uint32(t)})
		}
	}

	contents := leb128.EncodeUint32(uint32(len(groups)))
	for _, g := range groups {
		contents = append(contents, leb128.EncodeUint32(g[0])...)
		contents = append(contents, byte(g[1]))
	}
	contents = append(contents, c.Body...)

	return append(leb128.EncodeUint32(uint32(len(contents))), contents...)
}
