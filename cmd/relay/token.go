package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/model"
)

// entityArg reads an entity key from either "<kind> <id>" or "<kind>:<id>".
func entityArg(args []string) (model.EntityKey, error) {
	if len(args) == 1 {
		return model.ParseEntityKey(args[0])
	}
	return model.ParseEntityKey(args[0] + ":" + args[1])
}

var tokenCmd = &cobra.Command{
	Use:     "token <kind> <id>",
	Short:   "Issue a capability token for a live channel",
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

		tok, err := relayClient.IssueToken(context.Background(), entity)
		if err != nil {
			return fmt.Errorf("issuing token: %w", err)
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), tok)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
		fmt.Fprintln(cmd.ErrOrStderr(), "expires "+tok.ExpiresAt.Local().Format("15:04:05"))
		return nil
	},
}
