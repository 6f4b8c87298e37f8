package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:     "send <conversation-id> <body...>",
	Short:   "Send a message to a conversation",
	GroupID: "messaging",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		ctx := context.Background()
		conversationID := args[0]
		typing, _ := cmd.Flags().GetBool("typing")
		markRead, _ := cmd.Flags().GetBool("read")

		if typing {
			if err := relayClient.Typing(ctx, conversationID); err != nil {
				return fmt.Errorf("sending typing indicator: %w", err)
			}
		}
		if len(args) > 1 {
			msg, err := relayClient.SendMessage(ctx, conversationID, strings.Join(args[1:], " "))
			if err != nil {
				return fmt.Errorf("sending message: %w", err)
			}
			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), msg); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", msg.ID)
			}
		} else if !typing && !markRead {
			return fmt.Errorf("nothing to send; give a message body, --typing or --read")
		}
		if markRead {
			rp, err := relayClient.MarkRead(ctx, conversationID)
			if err != nil {
				return fmt.Errorf("marking read: %w", err)
			}
			if !jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "read up to %s\n", rp.ReadAt.Local().Format("15:04:05"))
			}
		}
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:     "messages <conversation-id>",
	Short:   "Show recent messages in a conversation",
	GroupID: "messaging",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		msgs, err := relayClient.ListMessages(context.Background(), args[0], limit)
		if err != nil {
			return fmt.Errorf("listing messages: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), msgs)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSENDER\tBODY")
		for _, m := range msgs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.CreatedAt.Local().Format("01-02 15:04"), m.SenderID, truncate(m.Body, 60))
		}
		return w.Flush()
	},
}

var unreadCmd = &cobra.Command{
	Use:     "unread",
	Short:   "Show the total unread message count",
	GroupID: "messaging",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		n, err := relayClient.UnreadCount(context.Background())
		if err != nil {
			return fmt.Errorf("counting unread: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]int{"count": n})
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

func init() {
	sendCmd.Flags().Bool("typing", false, "send a typing indicator")
	sendCmd.Flags().Bool("read", false, "mark the conversation read")
	messagesCmd.Flags().Int("limit", 20, "maximum messages to show")
}
