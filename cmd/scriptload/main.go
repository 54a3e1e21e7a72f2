// Package main ramps up HTTP/1.1 keep-alive clients against an in-process
// scriptserve server and reports throughput and dropped connections.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FumingPower3925/scriptserve/pkg/scriptserve"
)

// LoadConfig defines the ramp-up parameters.
type LoadConfig struct {
	ServerAddr     string
	Script         string
	Multicore      bool
	RampUpInterval time.Duration // Time between adding new clients
	ClientsPerStep int           // Number of clients added each step
	TestDuration   time.Duration
	RequestTimeout time.Duration
	RequestDelay   time.Duration // Delay between requests per client
	Path           string
}

// LoadResult summarizes a run.
type LoadResult struct {
	TestDuration       time.Duration
	MaxClients         int
	TotalRequests      int64
	SuccessfulRequests int64
	DroppedConnections int64
	StatusCodes        map[int]int64
	MaxRPS             float64
	MaxClientsAtMaxRPS int
}

// LoadRunner drives one load test.
type LoadRunner struct {
	config  LoadConfig
	server  *scriptserve.Server
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	result  LoadResult
	clients int64
	success int64
}

// rrTransport spreads requests over several transports, each with its own
// connection pool.
type rrTransport struct {
	transports []http.RoundTripper
	idx        uint64
}

func (r *rrTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	i := atomic.AddUint64(&r.idx, 1)
	return r.transports[i%uint64(len(r.transports))].RoundTrip(req)
}

// NewLoadRunner creates a runner for config.
func NewLoadRunner(config LoadConfig) *LoadRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &LoadRunner{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		result: LoadResult{StatusCodes: make(map[int]int64)},
	}
}

// StartServer loads the handler script and starts serving it.
func (lr *LoadRunner) StartServer() error {
	bytecode, err := scriptserve.LoadScript(lr.config.Script)
	if err != nil {
		return err
	}

	config := scriptserve.DefaultConfig()
	config.Addr = lr.config.ServerAddr
	config.Multicore = lr.config.Multicore
	config.Logger = log.New(io.Discard, "", 0)

	lr.server = scriptserve.New(config, bytecode)
	return lr.server.Start()
}

// StopServer stops the server started by StartServer.
func (lr *LoadRunner) StopServer() error {
	if lr.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return lr.server.Stop(ctx)
}

func (lr *LoadRunner) newClient() *http.Client {
	const pools = 4
	trs := make([]http.RoundTripper, 0, pools)
	for i := 0; i < pools; i++ {
		trs = append(trs, &http.Transport{
			MaxIdleConns:        10000,
			MaxIdleConnsPerHost: 10000,
			DisableCompression:  true,
			IdleConnTimeout:     90 * time.Second,
		})
	}
	return &http.Client{
		Timeout:   lr.config.RequestTimeout,
		Transport: &rrTransport{transports: trs},
	}
}

// Run executes the ramp-up and returns the collected result.
func (lr *LoadRunner) Run() (*LoadResult, error) {
	if err := lr.StartServer(); err != nil {
		return nil, fmt.Errorf("start server: %w", err)
	}
	defer func() {
		_ = lr.StopServer()
	}()

	start := time.Now()
	go lr.measure()

	ticker := time.NewTicker(lr.config.RampUpInterval)
	defer ticker.Stop()

	deadline := time.After(lr.config.TestDuration)
ramp:
	for {
		select {
		case <-deadline:
			break ramp
		case <-ticker.C:
			for i := 0; i < lr.config.ClientsPerStep; i++ {
				atomic.AddInt64(&lr.clients, 1)
				lr.wg.Add(1)
				go lr.runClient(lr.newClient())
			}
		}
	}

	lr.cancel()
	lr.wg.Wait()

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.result.TestDuration = time.Since(start)
	lr.result.MaxClients = int(atomic.LoadInt64(&lr.clients))
	return &lr.result, nil
}

// measure samples successful requests once per second to find peak RPS.
func (lr *LoadRunner) measure() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-lr.ctx.Done():
			return
		case now := <-ticker.C:
			rps := float64(atomic.SwapInt64(&lr.success, 0)) / now.Sub(last).Seconds()
			last = now

			lr.mu.Lock()
			if rps > lr.result.MaxRPS {
				lr.result.MaxRPS = rps
				lr.result.MaxClientsAtMaxRPS = int(atomic.LoadInt64(&lr.clients))
			}
			lr.mu.Unlock()
		}
	}
}

func (lr *LoadRunner) runClient(client *http.Client) {
	defer lr.wg.Done()

	url := "http://" + lr.config.ServerAddr + lr.config.Path
	for {
		select {
		case <-lr.ctx.Done():
			return
		default:
		}

		req, _ := http.NewRequestWithContext(lr.ctx, http.MethodGet, url, nil)
		req.Header.Set("User-Agent", "scriptload")
		resp, err := client.Do(req)
		if lr.ctx.Err() != nil {
			if resp != nil {
				_ = resp.Body.Close()
			}
			return
		}
		lr.track(resp, err)

		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		time.Sleep(lr.config.RequestDelay)
	}
}

func (lr *LoadRunner) track(resp *http.Response, err error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	lr.result.TotalRequests++
	if err != nil {
		// A request without a status line means the connection was dropped.
		lr.result.DroppedConnections++
		lr.result.StatusCodes[0]++
		return
	}
	lr.result.StatusCodes[resp.StatusCode]++
	if resp.StatusCode < 500 {
		lr.result.SuccessfulRequests++
		atomic.AddInt64(&lr.success, 1)
	}
}

// PrintResults prints the summary of result.
func PrintResults(result *LoadResult) {
	fmt.Printf("\n=== Load Test Results ===\n")
	fmt.Printf("Test Duration: %v\n", result.TestDuration)
	fmt.Printf("Max Clients: %d\n", result.MaxClients)
	fmt.Printf("Max RPS: %.0f (at %d clients)\n", result.MaxRPS, result.MaxClientsAtMaxRPS)
	fmt.Printf("Total Requests: %d\n", result.TotalRequests)
	fmt.Printf("Successful Requests: %d\n", result.SuccessfulRequests)
	fmt.Printf("Dropped Connections: %d\n", result.DroppedConnections)

	codes := make([]int, 0, len(result.StatusCodes))
	for code := range result.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Printf("\n=== Status Code Distribution ===\n")
	for _, code := range codes {
		count := result.StatusCodes[code]
		fmt.Printf("  %d: %d (%.2f%%)\n", code, count, float64(count)/float64(result.TotalRequests)*100)
	}
}

func main() {
	var (
		serverAddr     = flag.String("addr", "127.0.0.1:6007", "Server address")
		script         = flag.String("script", "examples/hello.js", "Handler script to serve")
		multicore      = flag.Bool("multicore", true, "Run one event loop per CPU")
		rampUpInterval = flag.Duration("rampup", 25*time.Millisecond, "Time between adding new clients")
		clientsPerStep = flag.Int("clients", 1, "Number of clients to add each step")
		testDuration   = flag.Duration("duration", 30*time.Second, "Test duration")
		requestTimeout = flag.Duration("timeout", 3*time.Second, "Request timeout")
		requestDelay   = flag.Duration("delay", 2*time.Millisecond, "Delay between requests per client")
		path           = flag.String("path", "/", "Request path")
	)
	flag.Parse()

	runner := NewLoadRunner(LoadConfig{
		ServerAddr:     *serverAddr,
		Script:         *script,
		Multicore:      *multicore,
		RampUpInterval: *rampUpInterval,
		ClientsPerStep: *clientsPerStep,
		TestDuration:   *testDuration,
		RequestTimeout: *requestTimeout,
		RequestDelay:   *requestDelay,
		Path:           *path,
	})

	result, err := runner.Run()
	if err != nil {
		log.Fatalf("Load test failed: %v", err)
	}
	PrintResults(result)

	if result.DroppedConnections > 0 {
		fmt.Printf("\nFAILED: %d connections were dropped without a response\n", result.DroppedConnections)
		os.Exit(1)
	}
}
