package main

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// updateRemotes loads the remotes file, applies fn and writes it back.
func updateRemotes(fn func(cfg *RemotesConfig) error) error {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return err
	}
	if err := fn(&cfg); err != nil {
		return err
	}
	return saveRemotesConfig(cfg)
}

func lookupRemote(cfg *RemotesConfig, name string) (Remote, error) {
	r, ok := cfg.Remotes[name]
	if !ok {
		return Remote{}, fmt.Errorf("remote %q not found", name)
	}
	return r, nil
}

var remoteCmd = &cobra.Command{
	Use:     "remote",
	Short:   "Manage named server remotes",
	GroupID: "system",
	// Remote subcommands only touch the local config file.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add or update a named remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := Remote{URL: args[1]}
		r.Token, _ = cmd.Flags().GetString("token")
		r.User, _ = cmd.Flags().GetString("as")
		r.Description, _ = cmd.Flags().GetString("description")

		err := updateRemotes(func(cfg *RemotesConfig) error {
			cfg.Remotes[args[0]] = r
			if cfg.Active == "" {
				cfg.Active = args[0]
			}
			return nil
		})
		if err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "remote %q -> %s\n", args[0], r.URL)
		}
		return err
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a named remote",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateRemotes(func(cfg *RemotesConfig) error {
			if _, err := lookupRemote(cfg, args[0]); err != nil {
				return err
			}
			delete(cfg.Remotes, args[0])
			if cfg.Active == args[0] {
				cfg.Active = ""
			}
			return nil
		})
	},
}

var remoteUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the active remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateRemotes(func(cfg *RemotesConfig) error {
			if _, err := lookupRemote(cfg, args[0]); err != nil {
				return err
			}
			cfg.Active = args[0]
			return nil
		})
	},
}

var remoteListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all remotes",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, cfg)
		}
		if len(cfg.Remotes) == 0 {
			fmt.Fprintln(out, "no remotes configured")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tURL\tUSER\tTOKEN")
		for _, name := range slices.Sorted(maps.Keys(cfg.Remotes)) {
			r := cfg.Remotes[name]
			marker := "  "
			if name == cfg.Active {
				marker = "* "
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n", marker, name, r.URL, r.User, maskToken(r.Token, ""))
		}
		return w.Flush()
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show [<name>]",
	Short: "Show details for a remote (defaults to active)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		name := cfg.Active
		if len(args) == 1 {
			name = args[0]
		}
		if name == "" {
			return fmt.Errorf("no active remote; specify a name or run 'relay remote use <name>'")
		}
		r, err := lookupRemote(&cfg, name)
		if err != nil {
			return err
		}

		if name == cfg.Active {
			name += " (active)"
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, row := range [][2]string{
			{"name", name},
			{"url", r.URL},
			{"user", r.User},
			{"token", maskToken(r.Token, "*")},
			{"description", r.Description},
		} {
			if row[1] != "" {
				fmt.Fprintf(w, "%s:\t%s\n", row[0], row[1])
			}
		}
		return w.Flush()
	},
}

func init() {
	remoteAddCmd.Flags().String("token", "", "service bearer token")
	remoteAddCmd.Flags().String("as", "", "user ID to act as")
	remoteAddCmd.Flags().String("description", "", "free-form note")

	remoteCmd.AddCommand(remoteAddCmd, remoteRemoveCmd, remoteUseCmd, remoteListCmd, remoteShowCmd)
}
