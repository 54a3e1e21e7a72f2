// Package scriptserve serves HTTP/1.1 requests with a scripted handler
// function running inside an event-driven gnet server.
package scriptserve

import (
	"errors"
	"log"
	"os"
)

// Default settings.
const (
	DefaultAddr             = "[::]:6007"
	DefaultReadBufferCap    = 1024
	DefaultMaxCallStackSize = 4096
	DefaultTracerName       = "scriptserve"
)

// Config holds the server configuration options.
type Config struct {
	Addr             string      // Listen address; "[::]:port" accepts IPv4 and IPv6
	Multicore        bool        // Run one event loop per CPU instead of a single loop
	NumEventLoop     int         // Number of event loops when Multicore is set (0 for auto-detect)
	ReusePort        bool        // Enable SO_REUSEPORT
	ReadBufferCap    int         // Size of the per-loop read buffer
	PassHeaders      bool        // Call the handler as (url, method, headers) instead of (url, method)
	MaxFieldBytes    int         // Cap on an accumulated URL, header name or value (0 for unbounded)
	MaxCallStackSize int         // Script recursion limit (0 for the runtime default)
	MetricsAddr      string      // Address of the Prometheus endpoint (empty disables it)
	TracerName       string      // OpenTelemetry tracer name
	Logger           *log.Logger // Logger for server events
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Addr:             DefaultAddr,
		Multicore:        false,
		NumEventLoop:     0,
		ReusePort:        false,
		ReadBufferCap:    DefaultReadBufferCap,
		PassHeaders:      true,
		MaxFieldBytes:    0,
		MaxCallStackSize: DefaultMaxCallStackSize,
		MetricsAddr:      "",
		TracerName:       DefaultTracerName,
		Logger:           log.New(os.Stderr, "scriptserve: ", log.LstdFlags),
	}
}

// Validate checks and normalizes the configuration values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ReadBufferCap <= 0 {
		c.ReadBufferCap = DefaultReadBufferCap
	}
	if c.MaxFieldBytes < 0 {
		return errors.New("scriptserve: MaxFieldBytes must not be negative")
	}
	if c.MaxCallStackSize < 0 {
		return errors.New("scriptserve: MaxCallStackSize must not be negative")
	}
	if c.NumEventLoop < 0 {
		return errors.New("scriptserve: NumEventLoop must not be negative")
	}
	if c.TracerName == "" {
		c.TracerName = DefaultTracerName
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return nil
}
