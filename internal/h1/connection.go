package h1

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/FumingPower3925/scriptserve/internal/metrics"
	"github.com/FumingPower3925/scriptserve/internal/script"
	"go.opentelemetry.io/otel/trace"
)

// ConnConfig is built once at startup and shared read-only by every
// connection.
type ConnConfig struct {
	Bytecode         *script.Bytecode
	PassHeaders      bool
	MaxFieldBytes    int
	MaxCallStackSize int
	Tracer           trace.Tracer
	Logger           *log.Logger
}

// Connection owns the pipeline state of one accepted socket: tokenizer,
// assembler, script context and response writer.
type Connection struct {
	ctx       context.Context
	conn      Transport
	logger    *log.Logger
	parser    *Parser
	assembler *Assembler
	script    *script.Context
	writer    *ResponseWriter
	state     connState
}

// NewConnection sets up the pipeline for c and loads the handler into a
// private script context.
func NewConnection(ctx context.Context, c Transport, cfg *ConnConfig) (*Connection, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	conn := &Connection{
		ctx:    ctx,
		conn:   c,
		logger: logger,
	}

	sc, err := script.NewContext(cfg.Bytecode, script.Options{
		PassHeaders:      cfg.PassHeaders,
		MaxCallStackSize: cfg.MaxCallStackSize,
		Tracer:           cfg.Tracer,
		OnFatal:          conn.onFatal,
	})
	if err != nil {
		return nil, err
	}

	conn.script = sc
	conn.assembler = NewAssembler(conn, cfg.PassHeaders, cfg.MaxFieldBytes)
	conn.parser = NewParser(conn.assembler.Settings())
	conn.writer = NewResponseWriter(c, logger, conn.onWriteError)

	metrics.ConnectionOpened()
	return conn, nil
}

// HandleData feeds bytes read from the socket into the pipeline. Zero or
// more requests complete and are answered before it returns. A non-nil
// error means the connection must be closed.
func (c *Connection) HandleData(data []byte) error {
	if c.state != connActive {
		return ErrConnectionClosed
	}

	if _, err := c.parser.Execute(data); err != nil {
		c.state = connClosing
		return err
	}
	return nil
}

// Dispatch runs the handler for a complete request and submits the response.
func (c *Connection) Dispatch(req *Request) error {
	start := time.Now()
	res, err := c.script.Invoke(c.ctx, req.Method, req.URL, req.Headers)
	metrics.ObserveHandler(req.Method, time.Since(start))
	if err != nil {
		return err
	}

	c.writer.Reset(c.parser.ShouldKeepAlive())
	if err := c.writer.WriteResponse(res.Code, res.Body); err != nil {
		return err
	}
	metrics.RequestServed(req.Method, res.Code, len(res.Body))
	return nil
}

// Close releases everything the connection owns. It does not close the
// socket; the server calls it once the transport reports the close.
func (c *Connection) Close() error {
	if c.state == connClosed {
		return nil
	}
	c.state = connClosed

	if c.assembler != nil {
		c.assembler.Release()
		c.assembler = nil
	}
	c.parser = nil
	if c.script != nil {
		c.script.Close()
		c.script = nil
	}

	metrics.ConnectionClosed()
	return nil
}

// Closed reports whether Close has run.
func (c *Connection) Closed() bool {
	return c.state == connClosed
}

func (c *Connection) onFatal(err error) {
	c.state = connClosing
	c.logger.Printf("fatal script error on %s: %v", c.conn.RemoteAddr(), err)
}

func (c *Connection) onWriteError(err error) {
	if c.state == connClosed {
		return
	}
	c.state = connClosing
	c.logger.Printf("write to %s failed: %v", c.conn.RemoteAddr(), err)
	metrics.ConnectionError(metrics.ReasonWrite)
	_ = c.conn.Close()
}

// ErrorReason classifies a HandleData error for logs and metrics.
func ErrorReason(err error) string {
	var handlerErr *script.HandlerError
	var parseErr *ParseError
	switch {
	case errors.Is(err, ErrAssemblerOutOfSync):
		return metrics.ReasonInternal
	case errors.Is(err, script.ErrScriptFatal):
		return metrics.ReasonFatal
	case errors.Is(err, script.ErrMalformedHandlerResult), errors.As(err, &handlerErr):
		return metrics.ReasonHandler
	case errors.Is(err, ErrFieldTooLarge):
		return metrics.ReasonParse
	case errors.As(err, &parseErr) && !errors.Is(err, ErrCallback):
		return metrics.ReasonParse
	}
	return metrics.ReasonWrite
}
