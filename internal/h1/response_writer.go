package h1

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/panjf2000/gnet/v2"
	"golang.org/x/sys/unix"
)

// Existing clients depend on the reason phrase exactly as written.
var (
	statusLinePrefix    = []byte("HTTP/1.1 ")
	statusLineSuffix    = []byte(" HTTP/1.1 WHATEVER\r\n")
	contentLengthPrefix = []byte("Content-Length: ")
	crlf                = []byte("\r\n")

	// Buffer pool for response assembly
	responseBufferPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 4096)
			return &b
		},
	}
)

// maxPooledBuffer keeps oversized responses out of the pool.
const maxPooledBuffer = 64 << 10

// Transport is the part of gnet.Conn the pipeline writes through.
type Transport interface {
	AsyncWrite(buf []byte, callback gnet.AsyncCallback) error
	Close() error
	RemoteAddr() net.Addr
}

// AppendResponse appends the wire form of a response to dst. The body is
// opaque bytes and Content-Length is its byte length.
func AppendResponse(dst []byte, status int, body []byte) []byte {
	dst = append(dst, statusLinePrefix...)
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, statusLineSuffix...)
	dst = append(dst, contentLengthPrefix...)
	dst = strconv.AppendInt(dst, int64(len(body)), 10)
	dst = append(dst, crlf...)
	dst = append(dst, crlf...)
	return append(dst, body...)
}

// outbound is one submitted response buffer, owned by the transport until
// its completion callback runs.
type outbound struct {
	buf *[]byte
}

// release returns the buffer to the pool; later calls are no-ops.
func (o *outbound) release() {
	if o.buf == nil {
		return
	}
	if cap(*o.buf) <= maxPooledBuffer {
		*o.buf = (*o.buf)[:0]
		responseBufferPool.Put(o.buf)
	}
	o.buf = nil
}

// ResponseWriter frames handler results and submits them for asynchronous
// write. All methods and callbacks run on the connection's event loop.
type ResponseWriter struct {
	conn      Transport
	logger    *log.Logger
	keepAlive bool
	inflight  int
	onError   func(error)
}

// NewResponseWriter creates a writer on conn. onError is called for write
// completions that fail with anything but a peer reset.
func NewResponseWriter(conn Transport, logger *log.Logger, onError func(error)) *ResponseWriter {
	return &ResponseWriter{
		conn:      conn,
		logger:    logger,
		keepAlive: true,
		onError:   onError,
	}
}

// Reset sets whether the connection stays open after the next response.
func (w *ResponseWriter) Reset(keepAlive bool) {
	w.keepAlive = keepAlive
}

// Inflight returns the number of responses awaiting write completion.
func (w *ResponseWriter) Inflight() int {
	return w.inflight
}

// WriteResponse assembles the response in one buffer and submits it.
func (w *ResponseWriter) WriteResponse(status int, body []byte) error {
	bufPtr := responseBufferPool.Get().(*[]byte)
	*bufPtr = AppendResponse((*bufPtr)[:0], status, body)
	out := &outbound{buf: bufPtr}
	closeAfter := !w.keepAlive

	w.inflight++
	err := w.conn.AsyncWrite(*bufPtr, func(_ gnet.Conn, err error) error {
		w.complete(out, err, closeAfter)
		return nil
	})
	if err != nil {
		// Not queued, so no completion will follow.
		w.inflight--
		out.release()
		return fmt.Errorf("submit response: %w", err)
	}
	return nil
}

func (w *ResponseWriter) complete(out *outbound, err error, closeAfter bool) {
	out.release()
	w.inflight--

	switch {
	case err == nil:
		if closeAfter {
			_ = w.conn.Close()
		}
	case isPeerGone(err):
		if verboseLogging {
			w.logger.Printf("write to %s: peer gone: %v", w.conn.RemoteAddr(), err)
		}
	default:
		if w.onError != nil {
			w.onError(err)
		}
	}
}

// isPeerGone reports write failures that need no handling beyond what the
// transport already does.
func isPeerGone(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, net.ErrClosed)
}
