package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	sendConversation string
	sendTimeout      time.Duration
	sendStats        bool
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message and stream the reply",
	Long: `Send a single message to the chat service and stream the reply to stdout.

The reply is saved to history like any chat turn. Use --conversation to
continue an existing conversation.

Examples:
  livechat send "What is a WebSocket?"
  livechat send --conversation local-1712345678901-ab12cd34 "And how does it reconnect?"
  echo "hello" | livechat send -`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendConversation, "conversation", "", "continue this conversation")
	sendCmd.Flags().DurationVarP(&sendTimeout, "timeout", "t", 2*time.Minute, "give up after this long")
	sendCmd.Flags().BoolVar(&sendStats, "stats", false, "print client statistics afterwards")
}

func runSend(cmd *cobra.Command, args []string) error {
	text := args[0]
	if text == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message is empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		if sendStats {
			printStats(cmd.ErrOrStderr(), a.metrics.Snapshot())
		}
	}()

	ctrl := a.startChat()
	printer := newStreamPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctrl.Subscribe(printer.handle)

	if sendConversation != "" {
		if err := ctrl.SelectConversation(ctx, sendConversation); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}
	}

	if err := a.waitConnected(ctx); err != nil {
		return err
	}

	printer.expect()
	if err := ctrl.SendMessage(ctx, text); err != nil {
		printer.cancel()
		return fmt.Errorf("send: %w", err)
	}

	select {
	case err := <-printer.Done():
		if err != nil {
			return fmt.Errorf("no reply: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("waiting for reply: %w", ctx.Err())
	}

	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", ctrl.Snapshot().ConversationID)
	}
	return nil
}
