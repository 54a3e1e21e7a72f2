// Package h1 implements the per-connection HTTP/1.1 request/response pipeline
// on top of gnet: an incremental request tokenizer, the field accumulators
// that reassemble its streamed callbacks, and the connection that hands
// complete requests to the script handler.
package h1

import (
	"math"

	"golang.org/x/net/http/httpguts"
)

// Method identifies a request method recognised by the tokenizer.
type Method uint8

// Supported request methods.
const (
	MethodUnknown Method = iota
	MethodDelete
	MethodGet
	MethodHead
	MethodPost
	MethodPut
	MethodConnect
	MethodOptions
	MethodTrace
	MethodPatch
)

var methodNames = [...]string{
	MethodUnknown: "",
	MethodDelete:  "DELETE",
	MethodGet:     "GET",
	MethodHead:    "HEAD",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodConnect: "CONNECT",
	MethodOptions: "OPTIONS",
	MethodTrace:   "TRACE",
	MethodPatch:   "PATCH",
}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return ""
}

const (
	// maxMethodLen bounds the method token; the longest known method is 7 bytes.
	maxMethodLen = 16
	// maxSpecialFieldLen holds the longest header name the tokenizer interprets.
	maxSpecialFieldLen = 32
	// maxSpecialValueLen bounds the Connection/Transfer-Encoding value kept for inspection.
	maxSpecialValueLen = 256
)

const (
	nameContentLength    = "Content-Length"
	nameTransferEncoding = "Transfer-Encoding"
	nameConnection       = "Connection"
	httpPrefix           = "HTTP/"
)

// Callback is a notification without payload.
type Callback func(p *Parser) error

// DataCallback receives a span of the input. The span aliases the buffer
// passed to Execute and is only valid for the duration of the call; a
// logical field may arrive as several spans.
type DataCallback func(p *Parser, data []byte) error

// Settings binds the tokenizer events to a consumer. Nil callbacks are skipped.
type Settings struct {
	OnMessageBegin    Callback
	OnURL             DataCallback
	OnHeaderField     DataCallback
	OnHeaderValue     DataCallback
	OnHeadersComplete Callback
	OnBody            DataCallback
	OnMessageComplete Callback
}

// Parser is a resumable HTTP/1.1 request tokenizer. Input may be split at
// any byte; the event sequence produced is independent of the split points
// apart from how data spans are divided.
type Parser struct {
	settings *Settings
	state    parserState
	err      error

	method    Method
	methodBuf [maxMethodLen]byte
	methodLen int

	versionPos   int
	versionMajor uint8
	versionMinor uint8

	fieldBuf      [maxSpecialFieldLen]byte
	fieldLen      int
	fieldOverflow bool
	header        headerKind

	valueBuf     [maxSpecialValueLen]byte
	valueLen     int
	valueEmitted bool
	clDigits     int
	clTrailingWS bool

	contentLength    int64
	hasContentLength bool
	chunked          bool
	connClose        bool
	connKeepAlive    bool
	keepAlive        bool

	remaining   int64
	chunkDigits int
}

// NewParser creates a tokenizer bound to settings.
func NewParser(settings *Settings) *Parser {
	if settings == nil {
		settings = &Settings{}
	}
	return &Parser{settings: settings}
}

// Method returns the method of the message being parsed.
func (p *Parser) Method() Method {
	return p.method
}

// ShouldKeepAlive reports whether the connection may carry another message
// after the current one. It is meaningful from headers-complete onwards.
func (p *Parser) ShouldKeepAlive() bool {
	return p.keepAlive
}

// Err returns the sticky error that stopped the parser, if any.
func (p *Parser) Err() error {
	return p.err
}

// Execute feeds data to the tokenizer. It returns the number of bytes
// consumed; on failure that is the offset of the offending byte and the
// error is a *ParseError. A failed parser rejects all further input.
func (p *Parser) Execute(data []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}

	// Offset where the current data span started in this chunk, -1 if none.
	mark := -1
	switch p.state {
	case stateURL, stateHeaderField, stateHeaderValue:
		mark = 0
	}

	for i := 0; i < len(data); i++ {
		c := data[i]

		switch p.state {
		case stateStart:
			if c == '\r' || c == '\n' {
				continue
			}
			p.beginMessage()
			if err := p.notify(p.settings.OnMessageBegin); err != nil {
				return p.failCallback(i, err)
			}
			p.state = stateMethod
			i--

		case stateMethod:
			if c == ' ' {
				p.method = lookupMethod(p.methodBuf[:p.methodLen])
				if p.method == MethodUnknown {
					return p.fail(i, ErrInvalidMethod, "unknown method")
				}
				p.state = stateURLStart
				continue
			}
			if !httpguts.IsTokenRune(rune(c)) || p.methodLen == maxMethodLen {
				return p.fail(i, ErrInvalidMethod, "invalid method character")
			}
			p.methodBuf[p.methodLen] = c
			p.methodLen++

		case stateURLStart:
			if !isURLByte(c) {
				return p.fail(i, ErrInvalidURL, "invalid URL start")
			}
			mark = i
			p.state = stateURL

		case stateURL:
			if c == ' ' {
				if i > mark {
					if err := p.emit(p.settings.OnURL, data[mark:i]); err != nil {
						return p.failCallback(i, err)
					}
				}
				mark = -1
				p.versionPos = 0
				p.state = stateVersion
				continue
			}
			if !isURLByte(c) {
				return p.fail(i, ErrInvalidURL, "invalid URL character")
			}

		case stateVersion:
			if c != httpPrefix[p.versionPos] {
				return p.fail(i, ErrInvalidVersion, "expected HTTP/")
			}
			p.versionPos++
			if p.versionPos == len(httpPrefix) {
				p.state = stateVersionMajor
			}

		case stateVersionMajor:
			if c < '0' || c > '9' {
				return p.fail(i, ErrInvalidVersion, "invalid major version")
			}
			p.versionMajor = c - '0'
			p.state = stateVersionDot

		case stateVersionDot:
			if c != '.' {
				return p.fail(i, ErrInvalidVersion, "expected dot")
			}
			p.state = stateVersionMinor

		case stateVersionMinor:
			if c < '0' || c > '9' {
				return p.fail(i, ErrInvalidVersion, "invalid minor version")
			}
			p.versionMinor = c - '0'
			if p.versionMajor != 1 || p.versionMinor > 1 {
				return p.fail(i, ErrInvalidVersion, "unsupported HTTP version")
			}
			p.state = stateVersionCR

		case stateVersionCR:
			if c != '\r' {
				return p.fail(i, ErrStrictCRLF, "expected CR after version")
			}
			p.state = stateRequestLineLF

		case stateRequestLineLF:
			if c != '\n' {
				return p.fail(i, ErrStrictCRLF, "expected LF after request line")
			}
			p.state = stateHeaderFieldStart

		case stateHeaderFieldStart:
			if c == '\r' {
				p.state = stateHeadersLF
				continue
			}
			if !httpguts.IsTokenRune(rune(c)) {
				return p.fail(i, ErrInvalidHeaderToken, "invalid header field start")
			}
			p.fieldLen = 0
			p.fieldOverflow = false
			mark = i
			p.state = stateHeaderField
			i--

		case stateHeaderField:
			if c == ':' {
				if i > mark {
					if err := p.emit(p.settings.OnHeaderField, data[mark:i]); err != nil {
						return p.failCallback(i, err)
					}
				}
				mark = -1
				p.header = p.classifyField()
				if p.header == headerContentLength && p.hasContentLength {
					return p.fail(i, ErrInvalidContentLength, "duplicate Content-Length")
				}
				p.valueLen = 0
				p.valueEmitted = false
				p.clDigits = 0
				p.clTrailingWS = false
				p.state = stateHeaderValueStart
				continue
			}
			if !httpguts.IsTokenRune(rune(c)) {
				return p.fail(i, ErrInvalidHeaderToken, "invalid header field character")
			}
			if p.fieldLen < maxSpecialFieldLen {
				p.fieldBuf[p.fieldLen] = c
				p.fieldLen++
			} else {
				p.fieldOverflow = true
			}

		case stateHeaderValueStart:
			if c == ' ' || c == '\t' {
				continue
			}
			if c == '\r' {
				// Empty value: still deliver one span so the pair is committed.
				if err := p.emit(p.settings.OnHeaderValue, data[i:i]); err != nil {
					return p.failCallback(i, err)
				}
				if err := p.finishValue(); err != nil {
					return p.fail(i, err, err.Error())
				}
				p.state = stateHeaderValueLF
				continue
			}
			mark = i
			p.state = stateHeaderValue
			i--

		case stateHeaderValue:
			if c == '\r' {
				if i > mark || !p.valueEmitted {
					if err := p.emit(p.settings.OnHeaderValue, data[mark:i]); err != nil {
						return p.failCallback(i, err)
					}
					p.valueEmitted = true
				}
				mark = -1
				if err := p.finishValue(); err != nil {
					return p.fail(i, err, err.Error())
				}
				p.state = stateHeaderValueLF
				continue
			}
			if !isValueByte(c) {
				return p.fail(i, ErrInvalidHeaderToken, "invalid header value character")
			}
			if err := p.inspectValue(c); err != nil {
				return p.fail(i, err, err.Error())
			}

		case stateHeaderValueLF:
			if c != '\n' {
				return p.fail(i, ErrStrictCRLF, "expected LF after header value")
			}
			p.state = stateHeaderFieldStart

		case stateHeadersLF:
			if c != '\n' {
				return p.fail(i, ErrStrictCRLF, "expected LF after headers")
			}
			if p.chunked && p.hasContentLength {
				return p.fail(i, ErrInvalidContentLength, "Content-Length with chunked encoding")
			}
			p.keepAlive = p.computeKeepAlive()
			if err := p.notify(p.settings.OnHeadersComplete); err != nil {
				return p.failCallback(i, err)
			}
			switch {
			case p.chunked:
				p.remaining = 0
				p.chunkDigits = 0
				p.state = stateChunkSize
			case p.contentLength > 0:
				p.remaining = p.contentLength
				p.state = stateBody
			default:
				if err := p.completeMessage(); err != nil {
					return p.failCallback(i, err)
				}
			}

		case stateBody:
			n := p.consumeBody(data[i:])
			if err := p.emit(p.settings.OnBody, data[i:i+n]); err != nil {
				return p.failCallback(i, err)
			}
			i += n - 1
			if p.remaining == 0 {
				if err := p.completeMessage(); err != nil {
					return p.failCallback(i, err)
				}
			}

		case stateChunkSize:
			if v, ok := unhex(c); ok {
				if p.remaining > math.MaxInt64>>4 {
					return p.fail(i, ErrInvalidChunkSize, "chunk size overflow")
				}
				p.remaining = p.remaining<<4 | int64(v)
				p.chunkDigits++
				continue
			}
			if p.chunkDigits == 0 {
				return p.fail(i, ErrInvalidChunkSize, "missing chunk size")
			}
			switch c {
			case ';', ' ', '\t':
				p.state = stateChunkExt
			case '\r':
				p.state = stateChunkSizeLF
			default:
				return p.fail(i, ErrInvalidChunkSize, "invalid chunk size character")
			}

		case stateChunkExt:
			switch c {
			case '\r':
				p.state = stateChunkSizeLF
			case '\n':
				return p.fail(i, ErrStrictCRLF, "expected CR after chunk extension")
			}

		case stateChunkSizeLF:
			if c != '\n' {
				return p.fail(i, ErrStrictCRLF, "expected LF after chunk size")
			}
			if p.remaining == 0 {
				p.state = stateTrailerStart
			} else {
				p.state = stateChunkData
			}

		case stateChunkData:
			n := p.consumeBody(data[i:])
			if err := p.emit(p.settings.OnBody, data[i:i+n]); err != nil {
				return p.failCallback(i, err)
			}
			i += n - 1
			if p.remaining == 0 {
				p.state = stateChunkDataCR
			}

		case stateChunkDataCR:
			if c != '\r' {
				return p.fail(i, ErrStrictCRLF, "expected CR after chunk data")
			}
			p.state = stateChunkDataLF

		case stateChunkDataLF:
			if c != '\n' {
				return p.fail(i, ErrStrictCRLF, "expected LF after chunk data")
			}
			p.remaining = 0
			p.chunkDigits = 0
			p.state = stateChunkSize

		case stateTrailerStart:
			if c == '\r' {
				p.state = stateTrailerLF
			} else {
				p.state = stateTrailerLine
			}

		case stateTrailerLine:
			if c == '\r' {
				p.state = stateTrailerLineLF
			}

		case stateTrailerLineLF:
			if c != '\n' {
				return p.fail(i, ErrStrictCRLF, "expected LF after trailer")
			}
			p.state = stateTrailerStart

		case stateTrailerLF:
			if c != '\n' {
				return p.fail(i, ErrStrictCRLF, "expected LF after trailers")
			}
			if err := p.completeMessage(); err != nil {
				return p.failCallback(i, err)
			}

		case stateClosed:
			if c == '\r' || c == '\n' {
				continue
			}
			return p.fail(i, ErrClosedConnection, "data after connection: close")

		default:
			return p.fail(i, ErrCallback, "parser in invalid state")
		}
	}

	if mark >= 0 && mark < len(data) {
		var cb DataCallback
		switch p.state {
		case stateURL:
			cb = p.settings.OnURL
		case stateHeaderField:
			cb = p.settings.OnHeaderField
		case stateHeaderValue:
			cb = p.settings.OnHeaderValue
			p.valueEmitted = true
		}
		if err := p.emit(cb, data[mark:]); err != nil {
			return p.failCallback(len(data), err)
		}
	}

	return len(data), nil
}

func (p *Parser) beginMessage() {
	p.method = MethodUnknown
	p.methodLen = 0
	p.versionMajor = 0
	p.versionMinor = 0
	p.contentLength = 0
	p.hasContentLength = false
	p.chunked = false
	p.connClose = false
	p.connKeepAlive = false
	p.keepAlive = false
	p.remaining = 0
}

func (p *Parser) completeMessage() error {
	if p.keepAlive {
		p.state = stateStart
	} else {
		p.state = stateClosed
	}
	return p.notify(p.settings.OnMessageComplete)
}

func (p *Parser) computeKeepAlive() bool {
	if p.versionMinor == 1 {
		return !p.connClose
	}
	return p.connKeepAlive && !p.connClose
}

func (p *Parser) consumeBody(data []byte) int {
	n := len(data)
	if int64(n) > p.remaining {
		n = int(p.remaining)
	}
	p.remaining -= int64(n)
	return n
}

func (p *Parser) classifyField() headerKind {
	if p.fieldOverflow {
		return headerOther
	}
	name := p.fieldBuf[:p.fieldLen]
	switch {
	case asciiEqualFold(name, nameContentLength):
		return headerContentLength
	case asciiEqualFold(name, nameTransferEncoding):
		return headerTransferEncoding
	case asciiEqualFold(name, nameConnection):
		return headerConnection
	}
	return headerOther
}

// inspectValue tracks the headers that influence message framing.
func (p *Parser) inspectValue(c byte) error {
	switch p.header {
	case headerContentLength:
		if c == ' ' || c == '\t' {
			p.clTrailingWS = p.clDigits > 0
			return nil
		}
		if c < '0' || c > '9' || p.clTrailingWS {
			return ErrInvalidContentLength
		}
		if p.contentLength > (math.MaxInt64-int64(c-'0'))/10 {
			return ErrInvalidContentLength
		}
		p.contentLength = p.contentLength*10 + int64(c-'0')
		p.clDigits++
	case headerTransferEncoding, headerConnection:
		if p.valueLen < maxSpecialValueLen {
			p.valueBuf[p.valueLen] = c
			p.valueLen++
		}
	}
	return nil
}

func (p *Parser) finishValue() error {
	value := p.valueBuf[:p.valueLen]
	switch p.header {
	case headerContentLength:
		if p.clDigits == 0 {
			return ErrInvalidContentLength
		}
		p.hasContentLength = true
	case headerTransferEncoding:
		if asciiContainsFoldBytes(value, "chunked") {
			p.chunked = true
		}
	case headerConnection:
		if asciiContainsFoldBytes(value, "close") {
			p.connClose = true
		}
		if asciiContainsFoldBytes(value, "keep-alive") {
			p.connKeepAlive = true
		}
	}
	return nil
}

func (p *Parser) notify(cb Callback) error {
	if cb == nil {
		return nil
	}
	return cb(p)
}

func (p *Parser) emit(cb DataCallback, data []byte) error {
	if cb == nil {
		return nil
	}
	return cb(p, data)
}

func (p *Parser) fail(offset int, code error, reason string) (int, error) {
	p.state = stateDead
	p.err = &ParseError{Code: code, Reason: reason, Offset: offset}
	return offset, p.err
}

func (p *Parser) failCallback(offset int, cause error) (int, error) {
	p.state = stateDead
	p.err = &ParseError{Code: ErrCallback, Reason: cause.Error(), Offset: offset, cause: cause}
	return offset, p.err
}

func lookupMethod(b []byte) Method {
	for m := MethodDelete; int(m) < len(methodNames); m++ {
		if string(b) == methodNames[m] {
			return m
		}
	}
	return MethodUnknown
}

// isURLByte accepts visible ASCII and obs-text; SP ends the URL.
func isURLByte(c byte) bool {
	return c > ' ' && c != 0x7f
}

// isValueByte accepts field-vchar, SP and HTAB.
func isValueByte(c byte) bool {
	return c == '\t' || (c >= ' ' && c != 0x7f)
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// asciiEqualFold reports whether b equals s under ASCII case-insensitive comparison
func asciiEqualFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		cb := b[i]
		cs := s[i]
		if 'A' <= cb && cb <= 'Z' {
			cb |= 0x20
		}
		if 'A' <= cs && cs <= 'Z' {
			cs |= 0x20
		}
		if cb != cs {
			return false
		}
	}
	return true
}

// asciiContainsFoldBytes reports whether b contains sub (ASCII case-insensitive)
func asciiContainsFoldBytes(b []byte, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	m := len(sub)
	if m > len(b) {
		return false
	}
	for i := 0; i <= len(b)-m; i++ {
		if asciiEqualFold(b[i:i+m], sub) {
			return true
		}
	}
	return false
}
