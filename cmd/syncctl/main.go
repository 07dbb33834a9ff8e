package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cocowallet-sync/internal/config"
	"cocowallet-sync/internal/poller"
)

// syncctl triggers a named sync job on the API and polls its status until it
// reaches a terminal state, rendering progress to the terminal.
func main() {
	cfg := config.Load()

	var (
		baseURL     = flag.String("url", "http://localhost:"+cfg.HTTPPort, "API base URL")
		resource    = flag.String("resource", "", "sync resource to trigger (e.g. token-metadata)")
		interval    = flag.Duration("interval", cfg.PollInterval, "delay between status polls")
		maxAttempts = flag.Int("max-attempts", cfg.MaxPollAttempts, "max status polls, 0 for unbounded")
		timeout     = flag.Duration("timeout", cfg.PollTimeout, "overall session timeout, 0 for unbounded")
		csrfHeader  = flag.String("csrf-header", "", "CSRF header name to attach to the trigger request")
		csrfToken   = flag.String("csrf-token", "", "CSRF token value")
	)
	flag.Parse()

	if *resource == "" {
		fmt.Fprintln(os.Stderr, "syncctl: -resource is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	base := strings.TrimRight(*baseURL, "/")
	client := poller.New(
		fmt.Sprintf("%s/admin/%s/sync/", base, *resource),
		fmt.Sprintf("%s/admin/%s/sync-status/", base, *resource),
		poller.NewTermRenderer(os.Stdout),
		nil,
		poller.Options{
			Interval:       *interval,
			MaxAttempts:    *maxAttempts,
			OverallTimeout: *timeout,
			CSRFHeader:     *csrfHeader,
			CSRFToken:      *csrfToken,
		},
	)

	start := time.Now()
	res, err := client.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "syncctl: %v\n", err)
	}

	fmt.Printf("%s finished: %s after %d polls in %s\n",
		*resource, res.Outcome, res.Attempts, time.Since(start).Round(time.Millisecond))

	switch res.Outcome {
	case poller.OutcomeSuccess:
		os.Exit(0)
	case poller.OutcomeTimeout:
		os.Exit(3)
	default:
		os.Exit(1)
	}
}
