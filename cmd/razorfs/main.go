// Command razorfs drives the filesystem core without a UI: listing,
// mutations, ignores, watching and tab naming.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(3)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newCLI().execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}
