// Package intent holds the heuristic message classifier and location
// extractor. Both are plain string heuristics, not parsers.
package intent

import (
	"strings"
)

// Intent tags a message as weather-seeking or general.
type Intent int

const (
	// General routes to the conversational engine.
	General Intent = iota
	// Weather routes to the forecast provider.
	Weather
)

func (i Intent) String() string {
	if i == Weather {
		return "weather"
	}
	return "general"
}

// Classifier decides the intent of a message.
type Classifier interface {
	Classify(message string) Intent
}

// DefaultKeywords are matched as case-insensitive substrings.
var DefaultKeywords = []string{"weather", "forecast", "temperature", "rain", "sun", "cloud", "humidity"}

// DefaultPhrases are explicit request phrases matched before the keyword scan.
var DefaultPhrases = []string{"5 day forecast in", "breakdown the weather"}

// KeywordClassifier matches a fixed keyword and phrase set. A single match is
// enough for Weather; false positives are acceptable because the forecast path
// reports unknown locations gracefully.
type KeywordClassifier struct {
	keywords []string
	phrases  []string
}

// NewKeywordClassifier returns a classifier over the default keywords and phrases.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{keywords: DefaultKeywords, phrases: DefaultPhrases}
}

// Classify implements Classifier.
func (c *KeywordClassifier) Classify(message string) Intent {
	lower := strings.ToLower(message)
	if strings.TrimSpace(lower) == "" {
		return General
	}
	for _, p := range c.phrases {
		if strings.Contains(lower, p) {
			return Weather
		}
	}
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			return Weather
		}
	}
	return General
}

// IsKeyword reports whether word is exactly one of the weather keywords.
func (c *KeywordClassifier) IsKeyword(word string) bool {
	word = strings.ToLower(strings.TrimSpace(word))
	for _, k := range c.keywords {
		if word == k {
			return true
		}
	}
	return false
}

var defaultClassifier = NewKeywordClassifier()

// Classify classifies message with the default keyword classifier.
func Classify(message string) Intent {
	return defaultClassifier.Classify(message)
}

// IsWeatherKeyword reports whether word is a bare weather keyword.
func IsWeatherKeyword(word string) bool {
	return defaultClassifier.IsKeyword(word)
}

// ContainsBreakdown reports whether the message asks for an explanation of a forecast.
func ContainsBreakdown(message string) bool {
	return strings.Contains(strings.ToLower(message), "breakdown")
}
