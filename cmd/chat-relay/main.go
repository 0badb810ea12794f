package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chat-relay/chat-relay/cmd/chat-relay/commands"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup runs before exiting.
func run() int {
	// SIGTERM is what container runtimes send; open streams get the configured
	// shutdown timeout to finish.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, os.Args, version, commit); err != nil {
		// Config and flag errors happen before logging is set up
		fmt.Fprintf(os.Stderr, "chat-relay: %v\n", err)
		return 1
	}
	return 0
}
