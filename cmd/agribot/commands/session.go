package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

const historyTimeLayout = "2006-01-02 15:04"

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print a session's conversation",
		Long: `Print every recorded turn of a session, oldest first.

Examples:
  agribot history --session farm`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}
}

func runHistory(cmd *cobra.Command, _ []string) error {
	sessionID, err := resolveSession(true)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr())

	sessions, closeStore, err := openSessions(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	turns, err := sessions.History(cmd.Context(), sessionID)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(turns) == 0 {
		fmt.Fprintf(out, "No history for session %s.\n", sessionFlag)
		return nil
	}
	for _, t := range turns {
		fmt.Fprintf(out, "[%s] %s:\n%s\n\n", t.Timestamp.Local().Format(historyTimeLayout), t.Role, t.Text)
	}
	return nil
}

// NewLogoutCmd creates the logout command.
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear a session's conversation",
		Long: `Delete a session and its history.

Examples:
  agribot logout --session farm`,
		Args: cobra.NoArgs,
		RunE: runLogout,
	}
}

func runLogout(cmd *cobra.Command, _ []string) error {
	sessionID, err := resolveSession(true)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr())

	sessions, closeStore, err := openSessions(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	if err := sessions.Logout(cmd.Context(), sessionID); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s cleared.\n", sessionFlag)
	return nil
}
