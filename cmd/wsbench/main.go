// Command wsbench drives load against a fastws WebSocket route.
//
// Each client connects, waits for the handshake-complete frame, then sends
// probe events one at a time and waits for each to be echoed back under the
// same event name. The demo server's /ws route echoes the "echo" event.
//
//	wsbench -url ws://localhost:8080/ws -clients 50 -messages 200
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "WebSocket URL")
	clients := flag.Int("clients", 10, "Number of concurrent clients")
	messages := flag.Int("messages", 100, "Probes per client")
	event := flag.String("event", "echo", "Event name the server echoes")
	delayMs := flag.Int("delay", 0, "Delay between probes in milliseconds")
	timeout := flag.Duration("timeout", time.Minute, "Overall run timeout")
	verbose := flag.Bool("verbose", false, "Log client failures")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	log.Printf("Benchmarking %s with %d clients x %d probes", *url, *clients, *messages)

	report, err := Run(ctx, Config{
		URL:      *url,
		Clients:  *clients,
		Messages: *messages,
		Event:    *event,
		Delay:    time.Duration(*delayMs) * time.Millisecond,
		Verbose:  *verbose,
	})
	if report != nil {
		log.Printf("%s", report)
	}
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	if report.Failed > 0 {
		os.Exit(1)
	}
}
