package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/live"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/ui"
)

var listenCmd = &cobra.Command{
	Use:     "listen <kind> <id>",
	Short:   "Subscribe to a live channel and print its events",
	GroupID: "live",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		entity, err := entityArg(args)
		if err != nil {
			return err
		}
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		verbose, _ := cmd.Flags().GetBool("verbose")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		header := http.Header{}
		if authToken != "" {
			header.Set("Authorization", "Bearer "+authToken)
		}

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		out := cmd.OutOrStdout()
		gaveUp := make(chan struct{})
		var gaveUpOnce sync.Once
		policy := live.DefaultPolicy()
		if maxAttempts > 0 {
			policy.MaxAttempts = maxAttempts
		}

		lc, err := live.New(live.Config{
			Entity: entity,
			Tokens: relayClient.TokenSource(),
			Dialer: &live.WebSocketDialer{BaseURL: httpURL, Header: header},
			Policy: policy,
			Logger: logger,
			OnEvent: func(ev model.Event) {
				if jsonOutput {
					data, _ := json.Marshal(ev)
					fmt.Fprintln(out, string(data))
					return
				}
				fmt.Fprintln(out, formatEvent(ev))
			},
			OnState: func(s live.State) {
				if !jsonOutput {
					fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderMuted("-- "+s.String()))
				}
				if s.Status == live.StatusGaveUp {
					gaveUpOnce.Do(func() { close(gaveUp) })
				}
			},
		})
		if err != nil {
			return err
		}
		defer lc.Close()

		lc.Start()
		select {
		case <-ctx.Done():
			return nil
		case <-gaveUp:
			return lc.Err()
		}
	},
}

func init() {
	listenCmd.Flags().Int("max-attempts", 0, "reconnect attempts before giving up (0 = default)")
	listenCmd.Flags().BoolP("verbose", "v", false, "log connection details to stderr")
}
