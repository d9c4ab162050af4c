package commands

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

// NewChatCmd creates the interactive chat command.
func NewChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation on stdin.

Commands inside the chat:
  /location <place>  set the place used when a weather question names none
  /reset             clear the conversation
  /quit              leave`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	sessionID, err := resolveSession(false)
	if err != nil {
		return err
	}

	return withCore(cmd, func(ctx context.Context, c *core, logger *slog.Logger) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Agribot chat (session %s). Type /quit to leave.\n", strings.TrimPrefix(sessionID, "cli:"))

		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				fmt.Fprintln(out)
				break
			}
			line := strings.TrimSpace(scanner.Text())

			switch {
			case line == "":
				continue
			case line == "/quit" || line == "/exit":
				return nil
			case line == "/reset":
				if err := c.sessions.Logout(ctx, sessionID); err != nil {
					return fmt.Errorf("clearing session: %w", err)
				}
				fmt.Fprintln(out, "Conversation cleared.")
			case strings.HasPrefix(line, "/location"):
				place := strings.TrimSpace(strings.TrimPrefix(line, "/location"))
				if place == "" {
					fmt.Fprintln(out, "Usage: /location <place>")
					continue
				}
				if err := c.sessions.SetDefaultLocation(ctx, sessionID, place); err != nil {
					return fmt.Errorf("setting location: %w", err)
				}
				fmt.Fprintf(out, "Default location set to %s.\n", place)
			default:
				res := c.dispatcher.Handle(ctx, sessionID, line)
				logger.Debug("Exchange finished", "state", res.State, "intent", res.Intent.String())
				printReplies(out, res)
			}

			if ctx.Err() != nil {
				return nil
			}
		}
		return scanner.Err()
	})
}
