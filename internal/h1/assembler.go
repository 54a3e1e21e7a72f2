package h1

// Request is one assembled HTTP message. Dispatchers must not retain it.
type Request struct {
	Method  string
	URL     []byte
	Headers [][2]string
}

// Dispatcher consumes complete requests.
type Dispatcher interface {
	Dispatch(req *Request) error
}

// Assembler turns tokenizer events into Requests. One assembler serves
// every message on a connection.
type Assembler struct {
	url         Accumulator
	headers     HeaderCollector
	passHeaders bool
	dispatcher  Dispatcher
	req         Request
}

// NewAssembler creates an assembler delivering to d. With passHeaders
// false, header spans are ignored and requests carry no headers.
func NewAssembler(d Dispatcher, passHeaders bool, maxFieldBytes int) *Assembler {
	return &Assembler{
		url:         NewAccumulator(maxFieldBytes),
		headers:     NewHeaderCollector(maxFieldBytes),
		passHeaders: passHeaders,
		dispatcher:  d,
	}
}

// Settings returns tokenizer callbacks bound to the assembler.
func (a *Assembler) Settings() *Settings {
	s := &Settings{
		OnMessageBegin:    a.onMessageBegin,
		OnURL:             a.onURL,
		OnMessageComplete: a.onMessageComplete,
	}
	if a.passHeaders {
		s.OnHeaderField = a.onHeaderField
		s.OnHeaderValue = a.onHeaderValue
	}
	return s
}

func (a *Assembler) onMessageBegin(_ *Parser) error {
	a.url.Reset()
	a.headers.Reset()
	return nil
}

func (a *Assembler) onURL(_ *Parser, p []byte) error {
	return a.url.Append(p)
}

func (a *Assembler) onHeaderField(_ *Parser, p []byte) error {
	return a.headers.OnField(p)
}

func (a *Assembler) onHeaderValue(_ *Parser, p []byte) error {
	return a.headers.OnValue(p)
}

func (a *Assembler) onMessageComplete(p *Parser) error {
	a.headers.Finish()
	if a.url.Len() == 0 {
		return ErrAssemblerOutOfSync
	}

	a.req = Request{
		Method:  p.Method().String(),
		URL:     a.url.Take(),
		Headers: a.headers.Take(),
	}
	err := a.dispatcher.Dispatch(&a.req)
	a.req = Request{}
	return err
}

// Release frees any partially assembled message.
func (a *Assembler) Release() {
	a.url.Reset()
	a.headers.Reset()
	a.req = Request{}
}
