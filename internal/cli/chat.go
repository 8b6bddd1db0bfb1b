package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/livechat/internal/chat"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	chatConversation string
	chatPlain        bool
	chatStats        bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session with streamed replies.

A terminal gets the full-screen interface; piped input gets a line-based
session. Both understand these commands:

  /new           start a new conversation
  /list          list conversations
  /open <id>     switch to a conversation and load its history
  /delete <id>   delete a conversation
  /quit          leave

Examples:
  livechat chat
  livechat --owner alice chat
  printf 'hello\n/quit\n' | livechat chat`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "open this conversation first")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "line-based session even on a terminal")
	chatCmd.Flags().BoolVar(&chatStats, "stats", false, "print client statistics on exit")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		if chatStats {
			printStats(cmd.ErrOrStderr(), a.metrics.Snapshot())
		}
	}()

	ctrl := a.startChat()
	if chatConversation != "" {
		if err := ctrl.SelectConversation(ctx, chatConversation); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}
	}

	if !chatPlain && term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())) {
		return runTUI(ctrl, a.cfg.ServerURL)
	}
	return runREPL(ctx, ctrl, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// errQuit ends a session.
var errQuit = errors.New("quit")

// runCommand executes a slash command shared by the TUI and the REPL.
func runCommand(ctx context.Context, ctrl *chat.Controller, line string, out io.Writer) error {
	fields := strings.Fields(line)
	name, arg := fields[0], ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch name {
	case "/quit", "/exit":
		return errQuit

	case "/new":
		ctrl.NewConversation()
		return nil

	case "/list":
		convs, err := ctrl.Conversations(ctx)
		if err != nil {
			return err
		}
		printConversations(out, convs, 0)
		return nil

	case "/open":
		if arg == "" {
			return fmt.Errorf("usage: /open <conversation-id>")
		}
		return ctrl.SelectConversation(ctx, arg)

	case "/delete":
		if arg == "" {
			return fmt.Errorf("usage: /delete <conversation-id>")
		}
		return ctrl.DeleteConversation(ctx, arg)

	default:
		return fmt.Errorf("unknown command %s", name)
	}
}

// runREPL is the line-based session used when stdin is not a terminal.
// Each line waits for its reply before the next one is sent.
func runREPL(ctx context.Context, ctrl *chat.Controller, in io.Reader, out, errOut io.Writer) error {
	printer := newStreamPrinter(out, errOut)
	unsubscribe := ctrl.Subscribe(printer.handle)
	defer unsubscribe()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			err := runCommand(ctx, ctrl, line, out)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(errOut, "! %v\n", err)
			}
			continue
		}

		if err := sendAndWait(ctx, ctrl, printer, line); err != nil {
			fmt.Fprintf(errOut, "! %v\n", err)
		}
	}
	return scanner.Err()
}

// sendAndWait sends one line once the connection is up and waits for the
// reply to end.
func sendAndWait(ctx context.Context, ctrl *chat.Controller, printer *streamPrinter, text string) error {
	waitCtx, cancel := context.WithTimeout(ctx, connectWait)
	err := awaitConnected(waitCtx, ctrl)
	cancel()
	if err != nil {
		return err
	}

	printer.expect()
	if err := ctrl.SendMessage(ctx, text); err != nil {
		printer.cancel()
		return err
	}
	select {
	case err := <-printer.Done():
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
