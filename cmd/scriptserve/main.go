// Package main runs a scriptserve server for a handler script given on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FumingPower3925/scriptserve/pkg/scriptserve"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <handler.js>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	config := scriptserve.DefaultConfig()
	noHeaders := false

	flag.Usage = usage
	flag.StringVar(&config.Addr, "addr", config.Addr, "listen address")
	flag.StringVar(&config.MetricsAddr, "metrics-addr", config.MetricsAddr, "prometheus endpoint address (empty disables it)")
	flag.BoolVar(&config.Multicore, "multicore", config.Multicore, "run one event loop per CPU")
	flag.IntVar(&config.NumEventLoop, "event-loops", config.NumEventLoop, "number of event loops with -multicore (0 for auto)")
	flag.BoolVar(&noHeaders, "no-headers", noHeaders, "call the handler as (url, method) without headers")
	flag.IntVar(&config.MaxFieldBytes, "max-field-bytes", config.MaxFieldBytes, "cap on URL and header sizes (0 for unbounded)")
	flag.IntVar(&config.MaxCallStackSize, "max-call-stack", config.MaxCallStackSize, "script recursion limit")
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	config.PassHeaders = !noHeaders

	// Writes to a reset peer must surface as errors, not kill the process.
	signal.Ignore(syscall.SIGPIPE)

	bytecode, err := scriptserve.LoadScript(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}

	server := scriptserve.New(config, bytecode)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	config.Logger.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		config.Logger.Printf("shutdown: %v", err)
	}
}
