package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	"github.com/tanpawarit/Chative-Retention-Router/agent/router"
)

var chatConversationID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the router from the terminal",
	Long: `Starts an interactive conversation. Each line you type is one customer
message. Type "quit" or press Ctrl-D to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, stop, err := startApp(ctx)
		if err != nil {
			return err
		}
		defer stop()

		id := strings.TrimSpace(chatConversationID)
		if id == "" {
			id = uuid.NewString()
		}
		return runChat(ctx, a.router, id, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatConversationID, "conversation", "", "Conversation id to resume (a new one is generated when empty)")
}

func runChat(ctx context.Context, r *router.Router, conversationID string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "TechFlow support (conversation %s)\n", conversationID)
	fmt.Fprintln(out, "Type your message, or \"quit\" to leave.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "quit") || strings.EqualFold(line, "exit") {
			return nil
		}

		res, err := r.HandleTurn(ctx, conversationID, line, router.WithMessageID(uuid.NewString()))
		if errors.Is(err, contractx.ErrConversationClosed) {
			fmt.Fprintln(out, "This conversation has ended. Start a new chat for anything else.")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "\nTechFlow: %s\n", res.Reply)
		if res.Role.IsTerminal() {
			fmt.Fprintf(out, "\n[conversation %s: %s]\n", conversationID, res.Role)
			return nil
		}
	}
}
