package intent

import "strings"

// LocationExtractor pulls a place name out of a weather message.
type LocationExtractor interface {
	Extract(message string) (string, bool)
}

// DefaultIndicators are scanned in message order; the first one followed by
// at least one token wins.
var DefaultIndicators = []string{"in", "for", "at", "near", "around"}

const trailingPunct = "?!.,;:"

// IndicatorExtractor implements the positional indicator heuristic.
//
// Everything after the first indicator is joined, so a second indicator and
// the words after it end up inside the location ("rain in lagos at night"
// yields "lagos at night"). With no indicator the last token is returned.
type IndicatorExtractor struct {
	indicators map[string]struct{}
}

// NewIndicatorExtractor returns an extractor over the default indicators.
func NewIndicatorExtractor() *IndicatorExtractor {
	set := make(map[string]struct{}, len(DefaultIndicators))
	for _, w := range DefaultIndicators {
		set[w] = struct{}{}
	}
	return &IndicatorExtractor{indicators: set}
}

// Extract implements LocationExtractor. It reports false only for an empty message.
func (e *IndicatorExtractor) Extract(message string) (string, bool) {
	words := strings.Fields(strings.ToLower(message))
	if len(words) == 0 {
		return "", false
	}

	for i, w := range words {
		if _, ok := e.indicators[w]; ok && i+1 < len(words) {
			return trimLocation(strings.Join(words[i+1:], " ")), true
		}
	}
	return trimLocation(words[len(words)-1]), true
}

func trimLocation(loc string) string {
	loc = strings.TrimSpace(loc)
	if trimmed := strings.TrimRight(loc, trailingPunct); trimmed != "" {
		return trimmed
	}
	return loc
}

var defaultExtractor = NewIndicatorExtractor()

// ExtractLocation extracts a location with the default indicator set.
func ExtractLocation(message string) (string, bool) {
	return defaultExtractor.Extract(message)
}
