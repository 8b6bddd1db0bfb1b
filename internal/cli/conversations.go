package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/livechat/internal/models"
	"github.com/spf13/cobra"
)

var (
	conversationsLimit int
	deleteForce        bool
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List, show or delete conversations",
	Long: `Manage saved conversations for the current identity.

Subcommands:
  list    List conversations, most recently active first (default)
  show    Print the messages of one conversation
  delete  Delete a conversation and its messages

Examples:
  livechat conversations
  livechat conversations show local-1712345678901-ab12cd34
  livechat --owner alice conversations delete 6f1c... --force`,
	RunE: runConversationsList,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE:  runConversationsList,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation",
	Long: `Delete a conversation and all of its messages.

Requires confirmation unless --force is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runConversationsDelete,
}

func init() {
	conversationsCmd.Flags().IntVarP(&conversationsLimit, "limit", "n", 50, "max results")
	conversationsListCmd.Flags().IntVarP(&conversationsLimit, "limit", "n", 50, "max results")
	conversationsDeleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
}

func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}()
	return fn(ctx, a)
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		convs, err := a.router.ListConversations(ctx)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		printConversations(cmd.OutOrStdout(), convs, conversationsLimit)
		return nil
	})
}

func printConversations(w io.Writer, convs []models.Conversation, limit int) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations found.")
		return
	}

	fmt.Fprintf(w, "Conversations (%d):\n\n", len(convs))
	for i, c := range convs {
		if limit > 0 && i >= limit {
			fmt.Fprintf(w, "... and %d more\n", len(convs)-limit)
			break
		}
		fmt.Fprintf(w, "- %s  %s\n", c.ID, c.Title)
		if verbose {
			fmt.Fprintf(w, "  Updated: %s\n", c.UpdatedAt.Local().Format(time.DateTime))
		}
	}
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		msgs, err := a.router.ListMessages(ctx, args[0])
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		printTranscript(cmd.OutOrStdout(), msgs)
		return nil
	})
}

func printTranscript(w io.Writer, msgs []models.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] %s:\n%s\n\n", m.CreatedAt.Local().Format(time.DateTime), m.Role, m.Content)
	}
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	id := args[0]

	// Confirm deletion
	if !deleteForce {
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("About to delete conversation %s and all its messages.", id))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	return withApp(func(ctx context.Context, a *app) error {
		if err := a.router.DeleteConversation(ctx, id); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %s\n", id)
		return nil
	})
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintln(out, prompt)
	fmt.Fprint(out, "\nContinue? [y/N]: ")

	reader := bufio.NewReader(in)
	response, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read input: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}
