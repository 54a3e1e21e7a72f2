package h1

type collectorState uint8

const (
	collectorIdle collectorState = iota
	collectorField
	collectorValue
)

// HeaderCollector pairs header field and value spans into committed
// entries. A pair is committed when the next field starts or the message
// finishes, never while value spans are still arriving.
type HeaderCollector struct {
	field   Accumulator
	value   Accumulator
	state   collectorState
	headers [][2]string
}

// NewHeaderCollector creates a collector whose field and value
// accumulators are each capped at limit bytes (0 = no cap).
func NewHeaderCollector(limit int) HeaderCollector {
	return HeaderCollector{
		field: NewAccumulator(limit),
		value: NewAccumulator(limit),
	}
}

// OnField appends a span of a header name.
func (h *HeaderCollector) OnField(p []byte) error {
	if h.state == collectorValue {
		h.commit()
	}
	h.state = collectorField
	return h.field.Append(p)
}

// OnValue appends a span of a header value. An empty span still marks the
// value phase, so a field with an empty value is committed.
func (h *HeaderCollector) OnValue(p []byte) error {
	h.state = collectorValue
	return h.value.Append(p)
}

// Finish commits the pending pair, if a value phase was entered.
func (h *HeaderCollector) Finish() {
	if h.state == collectorValue {
		h.commit()
	}
	h.state = collectorIdle
}

// Take hands over the committed headers in arrival order.
func (h *HeaderCollector) Take() [][2]string {
	headers := h.headers
	h.headers = nil
	return headers
}

// Reset discards committed and pending data.
func (h *HeaderCollector) Reset() {
	h.field.Reset()
	h.value.Reset()
	h.state = collectorIdle
	h.headers = nil
}

func (h *HeaderCollector) commit() {
	h.headers = append(h.headers, [2]string{string(h.field.Take()), string(h.value.Take())})
	h.state = collectorIdle
}
