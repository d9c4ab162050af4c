// Package agent implements the conversational engine adapter.
package agent

import "fmt"

// Defaults match the generation settings the assistant was tuned with.
const (
	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel       = "gemini-1.5-flash"
	DefaultTemperature = 1.0
	DefaultTopP        = 0.95
	DefaultMaxTokens   = 8192
)

// Config holds engine configuration.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float32
	TopP         float32
	MaxTokens    int
	SystemPrompt string
}

// DefaultConfig returns the default engine configuration for apiKey.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:       apiKey,
		BaseURL:      DefaultBaseURL,
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		TopP:         DefaultTopP,
		MaxTokens:    DefaultMaxTokens,
		SystemPrompt: SystemPrompt,
	}
}

// BreakdownPrompt builds the request that asks the engine to explain a forecast table.
func BreakdownPrompt(location, table string) string {
	return fmt.Sprintf("Here is the 5-day weather forecast for %s:\n\n%s\n\n"+
		"Can you provide a detailed explanation of this weather data, including what each column "+
		"represents and any notable trends or observations?", location, table)
}
