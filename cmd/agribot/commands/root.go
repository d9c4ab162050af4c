// Package commands implements the agribot command-line client.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ashureev/agribot/internal/app"
	"github.com/ashureev/agribot/internal/config"
	"github.com/ashureev/agribot/internal/dispatch"
	"github.com/ashureev/agribot/internal/domain"
	"github.com/ashureev/agribot/internal/weather"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	sessionFlag string
)

var errSessionRequired = errors.New("--session is required for this command")

type exchanger interface {
	Handle(ctx context.Context, sessionID, message string) dispatch.Result
}

type sessionStore interface {
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Logout(ctx context.Context, sessionID string) error
	SetDefaultLocation(ctx context.Context, sessionID, location string) error
}

// core is what the conversational commands run against.
type core struct {
	dispatcher exchanger
	sessions   sessionStore
	close      func() error
}

// Constructors, replaced in tests.
var (
	buildCore    = defaultBuildCore
	openSessions = defaultOpenSessions
	newProvider  = defaultNewProvider
)

func defaultBuildCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &core{dispatcher: a.Dispatcher, sessions: a.Sessions, close: a.Close}, nil
}

func defaultOpenSessions(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sessionStore, func() error, error) {
	repo, sessions, err := app.OpenSessions(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return sessions, repo.Close, nil
}

func defaultNewProvider(cfg *config.Config, logger *slog.Logger) (weather.Provider, error) {
	if cfg.Weather.APIKey == "" {
		return nil, fmt.Errorf("%w: set WEATHER", config.ErrMissingCredentials)
	}
	p, err := app.NewProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agribot",
		Short: "Farming assistant in your terminal",
		Long: `Agribot answers questions about crops, pests and disease, soil health,
livestock and sustainable farming, and gives 5-day weather forecasts.

Configuration is read from the environment (or a .env file): WEATHER and
GEMINI hold the API keys, STORE_DRIVER and DB_PATH select where history is kept.

Examples:
  agribot chat
  agribot ask "how do I control fall armyworm?"
  agribot ask --session farm "weather in Kano"
  agribot forecast Ibadan
  agribot history --session farm`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log diagnostics to stderr")
	cmd.PersistentFlags().StringVarP(&sessionFlag, "session", "s", "", "Session name to continue (default: a new session)")

	cmd.AddCommand(NewChatCmd())
	cmd.AddCommand(NewAskCmd())
	cmd.AddCommand(NewForecastCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewLogoutCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// resolveSession maps --session to a session key, or mints a fresh one.
func resolveSession(required bool) (string, error) {
	if name := strings.TrimSpace(sessionFlag); name != "" {
		return "cli:" + name, nil
	}
	if required {
		return "", errSessionRequired
	}
	return "cli:" + uuid.NewString(), nil
}

func printReplies(w io.Writer, res dispatch.Result) {
	for _, reply := range res.Replies {
		fmt.Fprintln(w, reply)
		fmt.Fprintln(w)
	}
}

// withCore loads configuration, builds the core and runs fn against it.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, c *core, logger *slog.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr())

	ctx := cmd.Context()
	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("starting agribot: %w", err)
	}
	defer func() {
		if closeErr := c.close(); closeErr != nil {
			logger.Error("Failed to close store", "error", closeErr)
		}
	}()
	return fn(ctx, c, logger)
}
