package agent

import (
	"context"

	"github.com/ashureev/agribot/internal/domain"
)

// Engine generates a conversational reply for a message given the prior history.
// Implementations fail with an apperr.KindEngine error on transport, auth or
// quota problems and return the context error when ctx ends first.
type Engine interface {
	Generate(ctx context.Context, message string, history []domain.Turn) (string, error)
}

// Ensure OpenAIEngine implements Engine.
var _ Engine = (*OpenAIEngine)(nil)
