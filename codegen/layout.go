package codegen

import (
	"fmt"
	"sort"

	"github.com/tinytapeout/hdlsim/ir"
)

// PageSize is the WebAssembly linear memory page size.
const PageSize = 65536

// Entry is one variable's slot in the state buffer.
type Entry struct {
	Name   string
	Offset int
	Size   int
	Repr   Repr
	Dtype  *ir.DataType
	Index  int // insertion index within the layout

	IsInput    bool
	IsOutput   bool
	InitValue  *ir.Expr
	ConstValue *ir.Expr
	ResetFlag  bool // set once any block emits a creset for it
}

// Chunks returns the chunk count of a wide entry.
func (e *Entry) Chunks() int { return Chunks(e.Dtype.Width()) }

// Layout assigns every global, constant and promoted local a fixed byte
// offset in the single flat state buffer. It is built during
// construction; after Finalize it never changes.
type Layout struct {
	Len   int
	Vars  map[string]*Entry
	Order []*Entry

	// OutputBytes is the size of the trace record: all output variables
	// live in [0, OutputBytes), padded to a multiple of 8.
	OutputBytes int

	// Fixed trailer, valid after Finalize.
	MetaOffset int // three u32 words: TRACERECLEN, TRACEOFS, TRACEEND
	RingOffset int
	RingEnd    int
	RingDepth  int

	// StateBytes is the save/load region: everything before the trailer.
	StateBytes int
	Pages      int

	maxBytes int
	tempN    int
}

// Byte offsets of the trace metadata words relative to MetaOffset.
const (
	metaTraceRecLen = 0
	metaTraceOfs    = 4
	metaTraceEnd    = 8
	metaWords       = 12
)

// TraceRecLenAddr returns the absolute offset of the TRACERECLEN word.
func (l *Layout) TraceRecLenAddr() int { return l.MetaOffset + metaTraceRecLen }

// TraceOfsAddr returns the absolute offset of the TRACEOFS word.
func (l *Layout) TraceOfsAddr() int { return l.MetaOffset + metaTraceOfs }

// TraceEndAddr returns the absolute offset of the TRACEEND word.
func (l *Layout) TraceEndAddr() int { return l.MetaOffset + metaTraceEnd }

// BuildLayout lays out all variables of m plus the shared constant pool.
// maxBytes bounds the total memory; 0 means no bound.
func BuildLayout(m *ir.Module, pool *ir.Module, maxBytes int) (*Layout, error) {
	l := &Layout{Vars: map[string]*Entry{}, maxBytes: maxBytes}

	var regular, constants []*ir.VarDef
	for _, v := range m.Vars {
		if v.ConstValue != nil {
			constants = append(constants, v)
		} else {
			regular = append(regular, v)
		}
	}

	// Outputs first so the trace record is a prefix copy, then by size
	// descending to improve packing.
	sort.SliceStable(regular, func(i, j int) bool {
		a, b := regular[i], regular[j]
		if a.IsOutput != b.IsOutput {
			return a.IsOutput
		}
		return SizeOf(a.Dtype) > SizeOf(b.Dtype)
	})

	for _, v := range regular {
		if !v.IsOutput {
			continue
		}
		l.place(v)
	}
	l.pad(8)
	l.OutputBytes = l.Len

	for _, v := range regular {
		if v.IsOutput {
			continue
		}
		l.place(v)
	}
	l.pad(8)

	for _, v := range constants {
		l.place(v)
	}
	if pool != nil {
		for _, v := range pool.Vars {
			if _, taken := l.Vars[v.Name]; taken {
				continue
			}
			l.place(v)
		}
	}
	l.pad(8)

	return l, nil
}

func (l *Layout) place(v *ir.VarDef) *Entry {
	e := l.alloc(v.Name, v.Dtype)
	e.IsInput = v.IsInput
	e.IsOutput = v.IsOutput
	e.InitValue = v.InitValue
	e.ConstValue = v.ConstValue
	return e
}

// alloc emplaces a new aligned entry. Codegen uses it directly for
// promoted block locals and wide temporaries, before Finalize.
func (l *Layout) alloc(name string, dtype *ir.DataType) *Entry {
	size := SizeOf(dtype)
	l.pad(AlignOf(dtype))
	e := &Entry{
		Name:   name,
		Offset: l.Len,
		Size:   size,
		Repr:   ReprOf(dtype),
		Dtype:  dtype,
		Index:  len(l.Order),
	}
	l.Len += size
	l.Vars[name] = e
	l.Order = append(l.Order, e)
	return e
}

// allocTemp emplaces an anonymous wide scratch slot.
func (l *Layout) allocTemp(dtype *ir.DataType) *Entry {
	l.tempN++
	return l.alloc(fmt.Sprintf("__scratch%d", l.tempN), dtype)
}

func (l *Layout) pad(align int) {
	if rem := l.Len % align; rem != 0 {
		l.Len += align - rem
	}
}

// Lookup resolves a variable by name, nil if absent.
func (l *Layout) Lookup(name string) *Entry { return l.Vars[name] }

// Finalize appends the trace metadata words and the ring buffer, then
// fixes the page count. ringDepth is the number of trace records the
// ring holds.
func (l *Layout) Finalize(ringDepth int) error {
	l.pad(8)
	l.StateBytes = l.Len

	l.MetaOffset = l.Len
	l.Len += metaWords
	l.RingOffset = l.Len
	l.RingDepth = ringDepth
	l.Len += ringDepth * l.OutputBytes
	l.RingEnd = l.Len

	l.Pages = (l.Len + PageSize - 1) / PageSize
	if l.Pages == 0 {
		l.Pages = 1
	}
	if l.maxBytes > 0 && l.Pages*PageSize > l.maxBytes {
		return errf(ErrMemoryLimitExceeded, 0,
			"state needs %d pages (%d bytes), cap is %d bytes", l.Pages, l.Len, l.maxBytes)
	}
	return nil
}
