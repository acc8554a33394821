package sim

import (
	"fmt"
	"math/big"

	"github.com/tetratelabs/wazero/api"

	"github.com/tinytapeout/hdlsim/codegen"
)

// State is the host-side proxy over the simulation state. Reads and
// writes go straight to the shared linear memory in the representation
// matching each variable's storage size; there is no staging buffer, so
// an aliased read observes a write immediately.
//
// Base is 0 for the live state region; trace readers use a base inside
// the ring.
type State struct {
	mem    api.Memory
	layout *codegen.Layout
	base   uint32
}

// Lookup exposes a variable's raw location for hot-path readers that
// bypass the per-access name resolution.
func (s *State) Lookup(name string) (*codegen.Entry, bool) {
	e := s.layout.Lookup(name)
	return e, e != nil
}

func (s *State) entry(name string) (*codegen.Entry, error) {
	e := s.layout.Lookup(name)
	if e == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	return e, nil
}

// Uint reads a variable of up to 64 bits.
func (s *State) Uint(name string) (uint64, error) {
	e, err := s.entry(name)
	if err != nil {
		return 0, err
	}
	addr := s.base + uint32(e.Offset)
	switch e.Size {
	case 1:
		b, _ := s.mem.ReadByte(addr)
		return uint64(b), nil
	case 2:
		v, _ := s.mem.ReadUint16Le(addr)
		return uint64(v), nil
	case 4:
		v, _ := s.mem.ReadUint32Le(addr)
		return uint64(v), nil
	case 8:
		v, _ := s.mem.ReadUint64Le(addr)
		return v, nil
	}
	return 0, fmt.Errorf("%q is %d bytes wide, read it with Big", name, e.Size)
}

// SetUint writes a variable of up to 64 bits, masked to its declared
// width.
func (s *State) SetUint(name string, v uint64) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	if w := e.Dtype.Width(); w < 64 {
		v &= uint64(1)<<uint(w) - 1
	}
	addr := s.base + uint32(e.Offset)
	switch e.Size {
	case 1:
		s.mem.WriteByte(addr, byte(v))
	case 2:
		s.mem.WriteUint16Le(addr, uint16(v))
	case 4:
		s.mem.WriteUint32Le(addr, uint32(v))
	case 8:
		s.mem.WriteUint64Le(addr, v)
	default:
		return fmt.Errorf("%q is %d bytes wide, write it with SetBig", name, e.Size)
	}
	return nil
}

// Big reads a variable of any width as a big integer, masked to the
// declared width.
func (s *State) Big(name string) (*big.Int, error) {
	e, err := s.entry(name)
	if err != nil {
		return nil, err
	}
	if e.Size <= 8 {
		v, err := s.Uint(name)
		if err != nil {
			return nil, err
		}
		return new(big.Int).SetUint64(v), nil
	}
	out := new(big.Int)
	var word big.Int
	for i := e.Chunks() - 1; i >= 0; i-- {
		c, _ := s.mem.ReadUint32Le(s.base + uint32(e.Offset+4*i))
		out.Lsh(out, 32)
		out.Or(out, word.SetUint64(uint64(c)))
	}
	return out.And(out, widthMask(e.Dtype.Width())), nil
}

// SetBig writes a variable of any width, breaking the value into
// little-endian 32-bit chunks masked to the declared width.
func (s *State) SetBig(name string, v *big.Int) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	if e.Size <= 8 {
		low := new(big.Int).And(v, widthMask(64))
		return s.SetUint(name, low.Uint64())
	}
	masked := new(big.Int).And(v, widthMask(e.Dtype.Width()))
	var word big.Int
	for i := 0; i < e.Chunks(); i++ {
		word.Rsh(masked, uint(32*i))
		s.mem.WriteUint32Le(s.base+uint32(e.Offset+4*i), uint32(word.Uint64()&0xffffffff))
	}
	return nil
}

// Bytes returns a live view over an array variable's storage; mutations
// through the slice hit the simulation directly.
func (s *State) Bytes(name string) ([]byte, error) {
	e, err := s.entry(name)
	if err != nil {
		return nil, err
	}
	view, ok := s.mem.Read(s.base+uint32(e.Offset), uint32(e.Size))
	if !ok {
		return nil, fmt.Errorf("%q is out of memory bounds", name)
	}
	return view, nil
}

func widthMask(w int) *big.Int {
	mask := big.NewInt(1)
	mask.Lsh(mask, uint(w))
	return mask.Sub(mask, big.NewInt(1))
}
