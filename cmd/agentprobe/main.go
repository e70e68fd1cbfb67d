// agentprobe streams one message through the upstream client against a
// single agent endpoint and prints the fragments as they arrive. It is the
// quickest way to check an agent configuration before adding it.
//
// Usage:
//
//	AGENT_TOKEN=... agentprobe --endpoint https://agents.example/stream_run --project 7301
//
//	# Two turns on one conversation, with debug logs
//	agentprobe --endpoint URL --project 7301 --turns 2 -v
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
