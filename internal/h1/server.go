package h1

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FumingPower3925/scriptserve/internal/metrics"
	"github.com/panjf2000/gnet/v2"
)

// verboseLogging controls per-connection log verbosity
const verboseLogging = false

// Config defines the configuration options for the server.
type Config struct {
	Addr          string
	Multicore     bool
	NumEventLoop  int
	ReusePort     bool
	ReadBufferCap int
	Logger        *log.Logger
	Conn          *ConnConfig
}

// Server implements gnet.EventHandler for the script pipeline.
type Server struct {
	gnet.BuiltinEventEngine
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *log.Logger
	addr          string
	multicore     bool
	numEventLoop  int
	reusePort     bool
	readBufferCap int
	connCfg       *ConnConfig
	activeConns   int32 // Atomic counter for active connections
	engine        gnet.Engine
	ready         chan struct{}
	readyOnce     sync.Once
	done          chan error
}

// NewServer creates a server. config.Conn is shared by all connections.
func NewServer(ctx context.Context, config Config) *Server {
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		ctx:           serverCtx,
		cancel:        cancel,
		logger:        config.Logger,
		addr:          config.Addr,
		multicore:     config.Multicore,
		numEventLoop:  config.NumEventLoop,
		reusePort:     config.ReusePort,
		readBufferCap: config.ReadBufferCap,
		connCfg:       config.Conn,
		ready:         make(chan struct{}),
		done:          make(chan error, 1),
	}
}

// Start runs the event loop in the background and waits until it is
// listening or has failed to start.
func (s *Server) Start() error {
	if s.connCfg == nil || s.connCfg.Bytecode == nil {
		return errors.New("h1: no handler bytecode configured")
	}

	options := []gnet.Option{
		gnet.WithMulticore(s.multicore),
		gnet.WithReusePort(s.reusePort),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithLogger(gnetLogger{s.logger}),
		gnet.WithLockOSThread(false),
	}
	if s.numEventLoop > 0 {
		options = append(options, gnet.WithNumEventLoop(s.numEventLoop))
	}
	if s.readBufferCap > 0 {
		options = append(options, gnet.WithReadBufferCap(s.readBufferCap))
	}

	s.logger.Printf("Starting server on %s (multicore: %v)", s.addr, s.multicore)

	// gnet.Run blocks until the engine stops
	go func() {
		s.done <- gnet.Run(s, "tcp://"+s.addr, options...)
	}()

	select {
	case <-s.ready:
		return nil
	case err := <-s.done:
		if err == nil {
			err = errors.New("h1: engine exited during startup")
		}
		return err
	}
}

// Ready is closed once the engine accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	select {
	case <-s.ready:
	default:
		return nil
	}

	stopCtx, stopCancel := context.WithTimeout(ctx, 2*time.Second)
	defer stopCancel()
	if err := s.engine.Stop(stopCtx); err != nil {
		s.logger.Printf("Error stopping gnet engine: %v", err)
		return err
	}

	s.logger.Println("Server shutdown complete")
	return nil
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	return int(atomic.LoadInt32(&s.activeConns))
}

// OnBoot is called when the server is ready to accept connections.
func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.engine = eng
	s.logger.Printf("Server is listening on %s (multicore: %v)", s.addr, s.multicore)
	s.readyOnce.Do(func() { close(s.ready) })
	return gnet.None
}

// OnOpen is called when a new connection is opened.
func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	conn, err := NewConnection(s.ctx, c, s.connCfg)
	if err != nil {
		s.logger.Printf("Connection from %s rejected: %v", c.RemoteAddr(), err)
		metrics.ConnectionError(metrics.ReasonFatal)
		return nil, gnet.Close
	}

	atomic.AddInt32(&s.activeConns, 1)
	c.SetContext(conn)
	if verboseLogging {
		s.logger.Printf("Connection from %s", c.RemoteAddr())
	}
	return nil, gnet.None
}

// OnClose is called when a connection is closed.
func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	conn, ok := c.Context().(*Connection)
	if !ok {
		return gnet.None
	}
	c.SetContext(nil)
	atomic.AddInt32(&s.activeConns, -1)

	if verboseLogging {
		if err != nil {
			s.logger.Printf("Connection from %s closed with error: %v", c.RemoteAddr(), err)
		} else {
			s.logger.Printf("Connection from %s closed", c.RemoteAddr())
		}
	}

	_ = conn.Close()
	return gnet.None
}

// OnTraffic is called when data is received on a connection.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	conn, ok := c.Context().(*Connection)
	if !ok {
		return gnet.Close
	}

	buf, err := c.Next(-1)
	if err != nil {
		s.logger.Printf("Error reading from %s: %v", c.RemoteAddr(), err)
		return gnet.Close
	}
	if len(buf) == 0 {
		return gnet.None
	}

	if err := conn.HandleData(buf); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			// Close already requested; drop the bytes.
			return gnet.None
		}
		s.reportError(c, err)
		// Close is queued behind the responses already submitted with
		// AsyncWrite, so earlier requests in this read are still answered.
		_ = c.Close()
	}
	return gnet.None
}

func (s *Server) reportError(c gnet.Conn, err error) {
	reason := ErrorReason(err)
	metrics.ConnectionError(reason)

	var parseErr *ParseError
	if errors.As(err, &parseErr) && reason == metrics.ReasonParse {
		s.logger.Printf("parsing error from %s: %s at pos: %d", c.RemoteAddr(), parseErr.Reason, parseErr.Offset)
		return
	}
	if parseErr != nil && parseErr.cause != nil {
		err = parseErr.cause
	}
	s.logger.Printf("closing %s (%s): %v", c.RemoteAddr(), reason, err)
}

// gnetLogger forwards gnet warnings and errors to the server logger
type gnetLogger struct {
	l *log.Logger
}

func (g gnetLogger) Debugf(_ string, _ ...any) {}
func (g gnetLogger) Infof(_ string, _ ...any)  {}
func (g gnetLogger) Warnf(format string, args ...any) {
	g.l.Printf("gnet: "+format, args...)
}
func (g gnetLogger) Errorf(format string, args ...any) {
	g.l.Printf("gnet: "+format, args...)
}
func (g gnetLogger) Fatalf(format string, args ...any) {
	g.l.Printf("gnet: "+format, args...)
}
