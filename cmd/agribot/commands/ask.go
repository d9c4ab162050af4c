package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/agribot/internal/apperr"
	"github.com/ashureev/agribot/internal/dispatch"
	"github.com/ashureev/agribot/internal/domain"
	"github.com/ashureev/agribot/internal/weather"
	"github.com/spf13/cobra"
)

// NewAskCmd creates the single-exchange command.
func NewAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <message>",
		Short: "Ask one question",
		Long: `Run one exchange and print the replies.

Pass --session to continue an earlier conversation, e.g. to ask for a
breakdown of the last forecast.

Examples:
  agribot ask "what is the weather in Jos"
  agribot ask --session farm "weather in Jos"
  agribot ask --session farm "breakdown"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" {
		return errors.New("message cannot be empty")
	}
	sessionID, err := resolveSession(false)
	if err != nil {
		return err
	}

	return withCore(cmd, func(ctx context.Context, c *core, logger *slog.Logger) error {
		logger.Debug("Using session", "session_id", sessionID)
		res := c.dispatcher.Handle(ctx, sessionID, message)
		printReplies(cmd.OutOrStdout(), res)
		if !res.OK() {
			logger.Debug("Exchange failed", "kind", res.Kind.String(), "state", res.State)
		}
		return nil
	})
}

// NewForecastCmd creates the forecast command. It bypasses the conversation
// and records nothing.
func NewForecastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forecast <location>",
		Short: "Print the 5-day forecast for a location",
		Long: `Fetch the 5-day forecast in 3-hour steps and print it as a table.
Nothing is added to any conversation history.

Examples:
  agribot forecast Lagos
  agribot forecast "Port Harcourt"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runForecast,
	}
}

func runForecast(cmd *cobra.Command, args []string) error {
	location := strings.TrimSpace(strings.Join(args, " "))
	if location == "" {
		return errors.New("location cannot be empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr())

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}

	records, err := dispatch.Invoke(cmd.Context(), cfg.ChatTimeout, func(ctx context.Context) ([]domain.ForecastRecord, error) {
		return provider.Fetch(ctx, location)
	})
	if err != nil {
		_, msg := apperr.Report(logger, err, "location", location)
		return errors.New(msg)
	}
	fmt.Fprintln(cmd.OutOrStdout(), weather.FormatTable(records))
	return nil
}
