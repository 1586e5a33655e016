// minerproxy relays newline-delimited JSON (Stratum) traffic between miners
// and a mining pool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "minerproxy: %v\n", err)
		os.Exit(1)
	}
}
