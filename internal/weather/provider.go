// Package weather fetches five-day forecasts from OpenWeatherMap and renders
// them as a markdown table.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/agribot/internal/apperr"
	"github.com/ashureev/agribot/internal/domain"
)

// DefaultBaseURL is the OpenWeatherMap 5 day / 3 hour forecast endpoint.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/forecast"

// maxBodySize bounds the payload read from the provider. A full 40 slot
// response is well under 64KB.
const maxBodySize = 1 << 20

var errMissingAPIKey = errors.New("weather API key is required")

// Provider fetches the forecast records for a location in provider order.
type Provider interface {
	Fetch(ctx context.Context, location string) ([]domain.ForecastRecord, error)
}

// Config holds OpenWeatherMap client configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	Units      string
	Location   *time.Location
	HTTPClient *http.Client
}

// OpenWeatherMap implements Provider against the OpenWeatherMap REST API.
type OpenWeatherMap struct {
	apiKey  string
	baseURL string
	units   string
	loc     *time.Location
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenWeatherMap creates a provider. Timestamps are rendered in cfg.Location,
// defaulting to the process local zone.
func NewOpenWeatherMap(cfg Config, logger *slog.Logger) (*OpenWeatherMap, error) {
	if cfg.APIKey == "" {
		return nil, errMissingAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &OpenWeatherMap{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		units:   cfg.Units,
		loc:     cfg.Location,
		client:  cfg.HTTPClient,
		logger:  logger,
	}, nil
}

// envelope is the subset of the forecast payload that is read. Cod is a
// string on success and most errors but a number on some auth errors.
type envelope struct {
	Cod     json.RawMessage `json:"cod"`
	Message json.RawMessage `json:"message"`
	List    *[]slot         `json:"list"`
}

type slot struct {
	Dt   int64 `json:"dt"`
	Main *struct {
		Temp json.Number `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

// Fetch implements Provider.
func (p *OpenWeatherMap) Fetch(ctx context.Context, location string) ([]domain.ForecastRecord, error) {
	const op = "weather.fetch"

	q := url.Values{}
	q.Set("appid", p.apiKey)
	q.Set("q", location)
	q.Set("units", p.units)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, apperr.New(apperr.KindProviderTransport, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.New(apperr.KindProviderTransport, op, redactKey(err, p.apiKey))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Debug("failed to close weather response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, apperr.New(apperr.KindProviderTransport, op, fmt.Errorf("read body: %w", err))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, apperr.Errorf(apperr.KindProviderTransport, op, "unexpected status %d", resp.StatusCode)
		}
		return nil, apperr.New(apperr.KindProviderParse, op, fmt.Errorf("decode payload: %w", err))
	}

	cod := normalizeCod(env.Cod)
	switch cod {
	case "200":
	case "404":
		return nil, apperr.Errorf(apperr.KindProviderNotFound, op, "location %q: %s", location, rawText(env.Message))
	case "400":
		return nil, apperr.Errorf(apperr.KindProviderBadRequest, op, "location %q: %s", location, rawText(env.Message))
	case "":
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, apperr.Errorf(apperr.KindProviderTransport, op, "unexpected status %d", resp.StatusCode)
		}
		return nil, apperr.Errorf(apperr.KindProviderParse, op, "payload has no cod field")
	default:
		return nil, apperr.Errorf(apperr.KindProviderTransport, op, "provider returned cod %s: %s", cod, rawText(env.Message))
	}

	if env.List == nil {
		return nil, apperr.Errorf(apperr.KindProviderParse, op, "payload has no list field")
	}

	records := make([]domain.ForecastRecord, 0, len(*env.List))
	for i, s := range *env.List {
		rec, err := p.toRecord(s)
		if err != nil {
			return nil, apperr.New(apperr.KindProviderParse, op, fmt.Errorf("slot %d: %w", i, err))
		}
		records = append(records, rec)
	}

	p.logger.Debug("weather forecast fetched", "location", location, "slots", len(records))
	return records, nil
}

func (p *OpenWeatherMap) toRecord(s slot) (domain.ForecastRecord, error) {
	if s.Dt == 0 {
		return domain.ForecastRecord{}, errors.New("missing dt")
	}
	if s.Main == nil || s.Main.Temp == "" {
		return domain.ForecastRecord{}, errors.New("missing main.temp")
	}
	if len(s.Weather) == 0 {
		return domain.ForecastRecord{}, errors.New("missing weather[0]")
	}
	temp, err := s.Main.Temp.Float64()
	if err != nil {
		return domain.ForecastRecord{}, fmt.Errorf("parse temp: %w", err)
	}
	return domain.ForecastRecord{
		Timestamp:       time.Unix(s.Dt, 0).In(p.loc),
		Condition:       s.Weather[0].Description,
		TemperatureC:    temp,
		TemperatureText: s.Main.Temp.String(),
	}, nil
}

func normalizeCod(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return strings.TrimSpace(unq)
	}
	return s
}

func rawText(raw json.RawMessage) string {
	if unq, err := strconv.Unquote(string(raw)); err == nil {
		return unq
	}
	return string(raw)
}

// redactKey keeps the API key out of logged transport errors, which embed the request URL.
func redactKey(err error, key string) error {
	msg := err.Error()
	if key == "" || !strings.Contains(msg, key) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, key, "REDACTED"))
}
