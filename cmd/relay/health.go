package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/client"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the relay server",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		grpcAddr, _ := cmd.Flags().GetString("grpc")

		resp, err := relayClient.Health(ctx)
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		grpcStatus := ""
		if grpcAddr != "" {
			gc, err := client.NewGRPCClient(grpcAddr, authToken)
			if err != nil {
				return err
			}
			defer gc.Close()
			if grpcStatus, err = gc.Health(ctx, ""); err != nil {
				return fmt.Errorf("checking gRPC health: %w", err)
			}
		}

		if jsonOutput {
			out := map[string]any{"status": resp.Status, "hub": resp.Hub}
			if grpcStatus != "" {
				out["grpc"] = grpcStatus
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", resp.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Actors: %d  Connections: %d\n", resp.Hub.Actors, resp.Hub.Connections)
			if grpcStatus != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "gRPC:   %s\n", grpcStatus)
			}
		}

		if resp.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", resp.Status)
		}
		if grpcStatus != "" && grpcStatus != "SERVING" {
			return fmt.Errorf("gRPC unhealthy: %s", grpcStatus)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("grpc", "", "also check the gRPC health service at this address")
}
