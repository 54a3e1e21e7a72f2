package h1

// Accumulator reassembles one logical field that the tokenizer delivers as
// several spans. Append copies, so spans may alias a reused read buffer.
type Accumulator struct {
	buf []byte
	// limit caps the accumulated length; zero means unbounded.
	limit int
}

// NewAccumulator creates an empty accumulator capped at limit bytes (0 = no cap).
func NewAccumulator(limit int) Accumulator {
	return Accumulator{limit: limit}
}

// Append grows the field by p.
func (a *Accumulator) Append(p []byte) error {
	if a.limit > 0 && len(a.buf)+len(p) > a.limit {
		return ErrFieldTooLarge
	}
	a.buf = append(a.buf, p...)
	return nil
}

// Take hands over the accumulated bytes and leaves the accumulator empty.
// It returns nil when nothing was accumulated.
func (a *Accumulator) Take() []byte {
	b := a.buf
	a.buf = nil
	return b
}

// Len returns the number of accumulated bytes.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Reset drops the accumulated bytes.
func (a *Accumulator) Reset() {
	a.buf = nil
}
