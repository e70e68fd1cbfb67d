package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lunahub/agent-gateway/internal/catalog"
	"github.com/lunahub/agent-gateway/internal/config"
	"github.com/lunahub/agent-gateway/internal/logging"
	"github.com/lunahub/agent-gateway/internal/upstream"
	"github.com/lunahub/agent-gateway/internal/version"
	"github.com/spf13/cobra"
)

type cmdFlags struct {
	endpoint  string
	tokenEnv  string
	projectID string
	message   string
	caller    string
	turns     int
	timeout   time.Duration
	verbose   bool
}

// errTurnsFailed is returned after every turn ran and at least one failed.
var errTurnsFailed = errors.New("one or more turns failed")

func newRootCmd() *cobra.Command {
	var flags cmdFlags

	cmd := &cobra.Command{
		Use:   "agentprobe",
		Short: "Stream a message from one agent endpoint",
		Long: `agentprobe sends a message to an agent endpoint the same way the gateway
does and prints the reply fragments as they arrive. The agent token is read
from an environment variable so it never shows up in shell history.`,
		Version:       version.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.endpoint, "endpoint", "", "agent stream URL (required)")
	f.StringVar(&flags.tokenEnv, "token-env", "AGENT_TOKEN", "environment variable holding the agent token")
	f.StringVar(&flags.projectID, "project", "", "agent project id (required)")
	f.StringVarP(&flags.message, "message", "m", "Hello", "message to send")
	f.StringVar(&flags.caller, "caller", "agentprobe", "caller id used to scope the upstream session")
	f.IntVar(&flags.turns, "turns", 1, "send the message this many times on one session")
	f.DurationVar(&flags.timeout, "timeout", 120*time.Second, "read timeout per attempt")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runStream(cmd *cobra.Command, flags cmdFlags) error {
	level := "warn"
	if flags.verbose {
		level = "debug"
	}
	logging.Setup(level, "text")

	token := strings.TrimSpace(os.Getenv(flags.tokenEnv))
	if token == "" {
		return fmt.Errorf("$%s is empty; export the agent token or pass --token-env", flags.tokenEnv)
	}
	if err := catalog.ValidateProjectID(flags.projectID); err != nil {
		return err
	}
	if flags.turns < 1 {
		return fmt.Errorf("--turns must be at least 1")
	}
	pid, _ := strconv.ParseInt(flags.projectID, 10, 64)

	client := upstream.NewClient(config.UpstreamConfig{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    flags.timeout,
		MinInterval:    500 * time.Millisecond,
		RetryBase:      time.Second,
		MaxAttempts:    3,
		LoopGuardLimit: 64,
	}, nil)
	defer client.CloseIdleConnections()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	ep := upstream.Endpoint{URL: flags.endpoint, Token: token, ProjectID: pid}

	failed := false
	for turn := 1; turn <= flags.turns; turn++ {
		start := time.Now()
		var chars, frags int
		var streamErr error
		for frag, err := range client.StreamChat(ctx, ep, flags.message, flags.caller) {
			if err != nil {
				streamErr = err
				break
			}
			frags++
			chars += len(frag)
			fmt.Fprint(out, frag)
		}
		fmt.Fprintln(out)

		if streamErr != nil {
			if errors.Is(streamErr, context.Canceled) {
				return errors.New("interrupted")
			}
			failed = true
			fmt.Fprintf(errOut, "❌ turn %d: %s (%s)\n", turn, upstream.Message(streamErr), upstream.KindName(streamErr))
			continue
		}
		fmt.Fprintf(errOut, "✅ turn %d: %d fragments, %d bytes in %s\n", turn, frags, chars, time.Since(start).Round(time.Millisecond))
	}
	if failed {
		return errTurnsFailed
	}
	return nil
}
