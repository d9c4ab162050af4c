package domain

import "time"

// ForecastRecord is one provider time slot. OpenWeatherMap supplies 3-hour
// slots over five days, so a full response holds up to 40 records.
type ForecastRecord struct {
	Timestamp    time.Time
	Condition    string
	TemperatureC float64
	// TemperatureText is the temperature exactly as the upstream payload wrote it.
	TemperatureText string
}
