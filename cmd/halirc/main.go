// halirc routes remote control buttons and device reports to actions on
// a home cinema: receivers, a TV, a VDR, a Blu-ray player and a power
// strip, each driven over its own serial, network or exec link.
//
// Usage:
//
//	halirc run --config configs/halirc.yaml
//	halirc check
//	halirc version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
