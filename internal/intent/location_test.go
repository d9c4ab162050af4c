package intent

import "testing"

func TestExtractLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		message string
		want    string
		ok      bool
	}{
		{"5 day forecast in Lagos", "lagos", true},
		{"weather near Kano state", "kano state", true},
		{"sunny", "sunny", true},
		{"", "", false},
		{"   ", "", false},
		{"forecast for  Port   Harcourt ", "port harcourt", true},
		{"rain in lagos at night", "lagos at night", true},
		{"what is the weather in Abuja?", "abuja", true},
		// an indicator with nothing after it is ignored
		{"weather in", "in", true},
		{"?", "?", true},
		{"weather AROUND Jos", "jos", true},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got, ok := ExtractLocation(tt.message)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractLocation(%q) = (%q, %v), want (%q, %v)", tt.message, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestExtractNonEmptyForNonEmptyMessages(t *testing.T) {
	t.Parallel()

	messages := []string{"a", "weather", "in", "in for at", "forecast in x", "hello there!", "...", "near"}
	for _, m := range messages {
		loc, ok := ExtractLocation(m)
		if !ok || loc == "" {
			t.Errorf("ExtractLocation(%q) = (%q, %v), want non-empty", m, loc, ok)
		}
	}
}
