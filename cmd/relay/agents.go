package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/ui"
)

var agentsCmd = &cobra.Command{
	Use:     "agents",
	Short:   "List support agents that are online",
	GroupID: "messaging",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		roster, _ := cmd.Flags().GetBool("roster")
		stale, _ := cmd.Flags().GetDuration("stale")
		out := cmd.OutOrStdout()

		if roster {
			resp, err := relayClient.Presence(ctx, stale)
			if err != nil {
				return fmt.Errorf("fetching presence: %w", err)
			}
			if jsonOutput {
				return printJSON(out, resp)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tSTATUS\tIDLE\tREQUESTS")
			for _, e := range resp.Users {
				status := ui.RenderMuted("offline")
				if e.Online {
					status = ui.RenderOK("online")
				}
				idle := time.Duration(e.IdleSecs * float64(time.Second)).Round(time.Second).String()
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", e.UserID, status, idle, e.RequestCount)
			}
			return w.Flush()
		}

		agents, err := relayClient.OnlineAgents(ctx)
		if err != nil {
			return fmt.Errorf("listing agents: %w", err)
		}
		if jsonOutput {
			return printJSON(out, agents)
		}
		if len(agents) == 0 {
			fmt.Fprintln(out, "no agents online")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tNAME\tLAST ACTIVE")
		for _, a := range agents {
			last := "-"
			if !a.LastActiveAt.IsZero() {
				last = a.LastActiveAt.Local().Format("15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", a.UserID, a.DisplayName, last)
		}
		return w.Flush()
	},
}

func init() {
	agentsCmd.Flags().Bool("roster", false, "show this node's full presence roster instead")
	agentsCmd.Flags().Duration("stale", 0, "with --roster, hide users idle longer than this")
}
