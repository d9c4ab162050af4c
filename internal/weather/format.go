package weather

import (
	"strconv"
	"strings"

	"github.com/ashureev/agribot/internal/domain"
)

const (
	tableHeader    = "| Date/Time | Description | Temperature (°C) |"
	tableSeparator = "|---|---|---|"
	timeLayout     = "2006-01-02 15:04"
)

// FormatTable renders records as a markdown table, one row per record in the
// order given. Temperatures are printed as the provider wrote them.
func FormatTable(records []domain.ForecastRecord) string {
	lines := make([]string, 0, len(records)+2)
	lines = append(lines, tableHeader, tableSeparator)
	for _, r := range records {
		lines = append(lines, "| "+r.Timestamp.Format(timeLayout)+" | "+r.Condition+" | "+temperature(r)+" |")
	}
	return strings.Join(lines, "\n")
}

func temperature(r domain.ForecastRecord) string {
	if r.TemperatureText != "" {
		return r.TemperatureText
	}
	return strconv.FormatFloat(r.TemperatureC, 'f', -1, 64)
}
