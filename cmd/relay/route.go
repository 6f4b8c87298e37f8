package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/client"
	"github.com/alfredjeanlab/relay/internal/ui"
)

var routeCmd = &cobra.Command{
	Use:     "route <summary...>",
	Short:   "Ask for a support agent",
	GroupID: "messaging",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		resp, err := relayClient.RouteSupport(context.Background(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("routing support request: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}

		out := cmd.OutOrStdout()
		if resp.Outcome == client.OutcomeNoAgentsAvailable {
			fmt.Fprintln(out, ui.RenderWarn("No agents are online right now. Try again shortly."))
			return nil
		}
		verb := "Started"
		if resp.IsExistingConversation {
			verb = "Reopened"
		}
		name := resp.AgentName
		if name == "" {
			name = resp.AgentID
		}
		fmt.Fprintf(out, "%s conversation %s with %s\n", verb, ui.RenderAccent(resp.ConversationID), name)
		return nil
	},
}
