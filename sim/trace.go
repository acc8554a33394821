package sim

// The trace ring holds one output snapshot per tick2 iteration. Reading
// goes through the same proxy type as the live state, re-based into the
// record under the cursor; only output variables are meaningful there.

// TraceRecordSize returns the bytes of one trace record.
func (s *Sim) TraceRecordSize() int { return s.prog.Layout.OutputBytes }

// TraceDepth returns the ring capacity in records.
func (s *Sim) TraceDepth() int { return s.prog.Layout.RingDepth }

// ResetTrace rewinds the read cursor to the ring's first slot; once the
// ring has wrapped, that slot no longer holds the oldest record.
func (s *Sim) ResetTrace() { s.traceCursor = 0 }

// NextTrace advances the read cursor, reporting false once it would
// pass the ring's end.
func (s *Sim) NextTrace() bool {
	if s.traceCursor+1 >= s.prog.Layout.RingDepth {
		return false
	}
	s.traceCursor++
	return true
}

// Trace returns a read proxy positioned on the record under the cursor.
func (s *Sim) Trace() *State {
	l := s.prog.Layout
	return &State{
		mem:    s.mem,
		layout: l,
		base:   uint32(l.RingOffset + s.traceCursor*l.OutputBytes),
	}
}
