package scriptserve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/FumingPower3925/scriptserve/internal/h1"
	"github.com/FumingPower3925/scriptserve/internal/metrics"
	"github.com/FumingPower3925/scriptserve/internal/script"
	"go.opentelemetry.io/otel"
)

// Server runs the handler script behind an HTTP/1.1 listener.
type Server struct {
	config    Config
	bytecode  *script.Bytecode
	transport *h1.Server
	metrics   *http.Server
}

// New creates a new Server serving bytecode with the provided configuration.
func New(config Config, bytecode *script.Bytecode) *Server {
	if err := config.Validate(); err != nil {
		panic(err)
	}

	return &Server{
		config:   config,
		bytecode: bytecode,
	}
}

// LoadScript compiles the handler script at path.
func LoadScript(path string) (*script.Bytecode, error) {
	return script.Load(path)
}

// Start begins accepting connections. It returns once the listener is up.
func (s *Server) Start() error {
	if s.bytecode == nil {
		return errors.New("scriptserve: handler bytecode not set")
	}

	connCfg := &h1.ConnConfig{
		Bytecode:         s.bytecode,
		PassHeaders:      s.config.PassHeaders,
		MaxFieldBytes:    s.config.MaxFieldBytes,
		MaxCallStackSize: s.config.MaxCallStackSize,
		Tracer:           otel.Tracer(s.config.TracerName),
		Logger:           s.config.Logger,
	}

	if s.config.MetricsAddr != "" {
		if err := s.startMetrics(); err != nil {
			return err
		}
	}

	s.transport = h1.NewServer(context.Background(), h1.Config{
		Addr:          s.config.Addr,
		Multicore:     s.config.Multicore,
		NumEventLoop:  s.config.NumEventLoop,
		ReusePort:     s.config.ReusePort,
		ReadBufferCap: s.config.ReadBufferCap,
		Logger:        s.config.Logger,
		Conn:          connCfg,
	})

	if err := s.transport.Start(); err != nil {
		s.stopMetrics(context.Background())
		return fmt.Errorf("scriptserve: start %s: %w", s.config.Addr, err)
	}
	return nil
}

// Stop gracefully shuts down the listener and the metrics endpoint.
func (s *Server) Stop(ctx context.Context) error {
	s.stopMetrics(ctx)
	if s.transport != nil {
		return s.transport.Stop(ctx)
	}
	return nil
}

// Ready is closed once the listener accepts connections. It is nil before Start.
func (s *Server) Ready() <-chan struct{} {
	if s.transport == nil {
		return nil
	}
	return s.transport.Ready()
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	if s.transport == nil {
		return 0
	}
	return s.transport.ActiveConnections()
}

func (s *Server) startMetrics() error {
	ln, err := net.Listen("tcp", s.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("scriptserve: metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	s.metrics = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.config.Logger.Printf("metrics endpoint stopped: %v", err)
		}
	}()
	s.config.Logger.Printf("Metrics available on %s/metrics", ln.Addr())
	return nil
}

func (s *Server) stopMetrics(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.Shutdown(ctx); err != nil {
		s.config.Logger.Printf("metrics shutdown: %v", err)
	}
	s.metrics = nil
}
