package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/client"
	"github.com/alfredjeanlab/relay/internal/ui"
)

var (
	httpURL    string
	authToken  string
	userID     string
	jsonOutput bool
	noColor    bool

	relayClient *client.HTTPClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("RELAY_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultAuthToken() string {
	if s := os.Getenv("RELAY_AUTH_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

func defaultUser() string {
	if s := os.Getenv("RELAY_USER"); s != "" {
		return s
	}
	return activeRemoteUser()
}

var rootCmd = &cobra.Command{
	Use:           "relay <command>",
	Short:         "Real-time coordination for marketplace conversations and carts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ColorEnabled(cmd.OutOrStdout()) {
			ui.ForceNoColor()
		}
		relayClient = client.NewHTTPClient(httpURL, authToken, userID)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if relayClient != nil {
			relayClient.Close()
		}
	},
}

// requireUser fails commands that act on behalf of a user when none is
// configured.
func requireUser() error {
	if userID == "" {
		return fmt.Errorf("no user set; pass --user, set RELAY_USER, or add one to the active remote")
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "url", defaultHTTPURL(), "relay HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "auth-token", defaultAuthToken(), "service bearer token")
	rootCmd.PersistentFlags().StringVar(&userID, "user", defaultUser(), "user ID to act as")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "live", Title: "Live channels:"},
		&cobra.Group{ID: "messaging", Title: "Messaging and support:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(unreadCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderError("Error: "+err.Error()))
		os.Exit(1)
	}
}
