package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agribot/internal/apperr"
	"github.com/ashureev/agribot/internal/domain"
	"github.com/ashureev/agribot/internal/intent"
	"github.com/ashureev/agribot/internal/session"
	"github.com/ashureev/agribot/internal/store"
	"github.com/ashureev/agribot/internal/weather"
)

type engineCall struct {
	message string
	history []domain.Turn
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []engineCall
	reply func(ctx context.Context, message string) (string, error)
}

func (f *fakeEngine) Generate(ctx context.Context, message string, history []domain.Turn) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, engineCall{message: message, history: domain.CloneTurns(history)})
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(ctx, message)
	}
	return "engine: " + message, nil
}

func (f *fakeEngine) Calls() []engineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engineCall(nil), f.calls...)
}

type fakeProvider struct {
	mu        sync.Mutex
	locations []string
	fetch     func(ctx context.Context, location string) ([]domain.ForecastRecord, error)
}

func (f *fakeProvider) Fetch(ctx context.Context, location string) ([]domain.ForecastRecord, error) {
	f.mu.Lock()
	f.locations = append(f.locations, location)
	f.mu.Unlock()
	if f.fetch != nil {
		return f.fetch(ctx, location)
	}
	return sampleRecords(), nil
}

func (f *fakeProvider) Locations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.locations...)
}

func sampleRecords() []domain.ForecastRecord {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []domain.ForecastRecord{
		{Timestamp: ts, Condition: "clear sky", TemperatureC: 31.2, TemperatureText: "31.2"},
		{Timestamp: ts.Add(3 * time.Hour), Condition: "light rain", TemperatureC: 27, TemperatureText: "27"},
	}
}

type harness struct {
	d        *Dispatcher
	engine   *fakeEngine
	provider *fakeProvider
	sessions *session.Manager
	repo     *store.MemoryStore
}

func newHarness(t *testing.T, deadline time.Duration, defaultLocation string) *harness {
	t.Helper()
	repo := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := session.NewManager(repo, defaultLocation, logger)
	h := &harness{engine: &fakeEngine{}, provider: &fakeProvider{}, sessions: mgr, repo: repo}
	d, err := New(Options{
		Provider: h.provider,
		Engine:   h.engine,
		Sessions: mgr,
		Deadline: deadline,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.d = d
	return h
}

func (h *harness) history(t *testing.T, id string) []domain.Turn {
	t.Helper()
	turns, err := h.sessions.Snapshot(context.Background(), id)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return turns
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := New(Options{}); !errors.Is(err, errNilDependency) {
		t.Errorf("New(empty) error = %v, want errNilDependency", err)
	}
}

func TestHandle_GeneralExchange(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second, "")

	res := h.d.Handle(context.Background(), "s1", "How do I plant cassava?")
	if !res.OK() || res.Intent != intent.General {
		t.Fatalf("Handle() = %+v, want completed general", res)
	}
	if len(res.Replies) != 1 || res.Replies[0] != "engine: How do I plant cassava?" {
		t.Errorf("Replies = %q", res.Replies)
	}

	history := h.history(t, "s1")
	if len(history) != 2 || history[0].Role != domain.RoleUser || history[1].Text != res.Replies[0] {
		t.Errorf("history = %+v", history)
	}

	// Second exchange sees the first as context.
	h.d.Handle(context.Background(), "s1", "And yams?")
	calls := h.engine.Calls()
	if len(calls) != 2 || len(calls[1].history) != 2 {
		t.Fatalf("second call history len = %d, want 2", len(calls[1].history))
	}
}

func TestHandle_WeatherExchange(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second, "")

	res := h.d.Handle(context.Background(), "s1", "What is the weather in Lagos?")
	if !res.OK() || res.Intent != intent.Weather {
		t.Fatalf("Handle() = %+v, want completed weather", res)
	}
	if got := h.provider.Locations(); len(got) != 1 || got[0] != "lagos" {
		t.Errorf("provider locations = %q, want [lagos]", got)
	}
	want := weather.FormatTable(sampleRecords())
	if len(res.Replies) != 1 || res.Replies[0] != want {
		t.Errorf("Replies = %q, want table", res.Replies)
	}
	if len(h.engine.Calls()) != 0 {
		t.Error("engine called on plain weather exchange")
	}

	sess, _ := h.repo.GetSession(context.Background(), "s1")
	if sess.LastForecast == nil || sess.LastForecast.Table != want {
		t.Errorf("LastForecast = %+v, want remembered table", sess.LastForecast)
	}
}

func TestHandle_ProviderNotFoundSkipsEngine(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second, "")
	h.provider.fetch = func(context.Context, string) ([]domain.ForecastRecord, error) {
		return nil, apperr.Errorf(apperr.KindProviderNotFound, "fetch", "city not found")
	}

	res := h.d.Handle(context.Background(), "s1", "breakdown the weather in Atlantis")
	if res.State != StateFailed || res.Kind != apperr.KindProviderNotFound {
		t.Fatalf("Handle() = %+v, want failed not-found", res)
	}
	if len(res.Replies) != 1 || res.Replies[0] != "Location not found." {
		t.Errorf("Replies = %q", res.Replies)
	}
	if n := len(h.engine.Calls()); n != 0 {
		t.Errorf("engine calls = %d, want 0", n)
	}

	history := h.history(t, "s1")
	if len(history) != 2 || history[1].Text != "Location not found." {
		t.Errorf("history = %+v", history)
	}
}

func TestHandle_ProviderErrorsMapToFixedMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind apperr.Kind
		want string
	}{
		{apperr.KindProviderBadRequest, apperr.MsgProviderBadQuery},
		{apperr.KindProviderTransport, apperr.MsgProviderTransport},
		{apperr.KindProviderParse, apperr.MsgProviderParse},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, time.Second, "")
			h.provider.fetch = func(context.Context, string) ([]domain.ForecastRecord, error) {
				return nil, apperr.Errorf(tt.kind, "fetch", "secret upstream detail")
			}
			res := h.d.Handle(context.Background(), "s1", "rain in Kano")
			if res.Kind != tt.kind || res.Replies[0] != tt.want {
				t.Errorf("Handle() = %+v, want %q", res, tt.want)
			}
			if strings.Contains(res.Text(), "secret") {
				t.Error("internal detail leaked into reply")
			}
		})
	}
}

func TestHandle_MissingLocation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second, "")

	res := h.d.Handle(context.Background(), "s1", "weather")
	if res.Kind != apperr.KindMissingLocation || res.Replies[0] != "Please specify a location." {
		t.Fatalf("Handle() = %+v, want missing location", res)
	}
	if res.State != StateCompleted {
		t.Errorf("State = %q, want %q", res.State, StateCompleted)
	}
	if res.OK() {
		t.Error("OK() = true for a missing location reply")
	}
	if len(h.engine.Calls()) != 0 {
		t.Error("engine called without a location")
	}
	if len(h.provider.Locations()) != 0 {
		t.Error("provider called without a location")
	}
	if history := h.history(t, "s1"); len(history) != 2 {
		t.Errorf("history len = %d, want 2", len(history))
	}
}

func TestHandle_DefaultLocationFallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second, "")
	if err := h.sessions.SetDefaultLocation(context.Background(), "s1", "Ibadan"); err != nil {
		t.Fatalf("SetDefaultLocation() error = %v", err)
	}

	res := h.d.Handle(context.Background(), "s1", "what is the weather")
	if !res.OK() || res.Location != "Ibadan" {
		t.Fatalf("Handle() = %+v, want completed for Ibadan", res)
	}
	if got := h.provider.Locations(); len(got) != 1 || got[0] != "Ibadan" {
		t.Errorf("provider locations = %q", got)
	}
}

func TestHandle_Timeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 30*time.Millisecond, "")
	h.engine.reply = func(ctx context.Context, _ string) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	start := time.Now()
	res := h.d.Handle(context.Background(), "s1", "tell me about maize")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Handle() took %s, want to return near the deadline", elapsed)
	}
	if res.State != StateTimedOut || res.Kind != apperr.KindTimeout {
		t.Fatalf("Handle() = %+v, want timed out", res)
	}
	if res.Replies[0] != apperr.MsgTimeout {
		t.Errorf("reply = %q, want timeout message", res.Replies[0])
	}

	history := h.history(t, "s1")
	if len(history) != 2 || history[0].Text != "tell me about maize" || history[1].Text != apperr.MsgTimeout {
		t.Errorf("history = %+v, want user turn paired with timeout message", history)
	}
}

func TestHandle_TimeoutIgnoresOpThatNeverReturns(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 20*time.Millisecond, "")
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	h.provider.fetch = func(context.Context, string) ([]domain.ForecastRecord, error) {
		<-block
		return sampleRecords(), nil
	}

	res := h.d.Handle(context.Background(), "s1", "forecast for Jos")
	if res.State != StateTimedOut {
		t.Fatalf("State = %s, want timed_out", res.State)
	}
}

func TestHandle_EngineErrorIsNotEchoed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second, "")
	h.engine.reply = func(context.Context, string) (string, error) {
		return "", apperr.Errorf(apperr.KindEngine, "generate", "api key sk-123 rejected")
	}

	res := h.d.Handle(context.Background(), "s1", "hello")
	if res.Kind != apperr.KindEngine || res.Replies[0] != apperr.MsgEngine {
		t.Fatalf("Handle() = %+v, want engine error", res)
	}
	if strings.Contains(res.Text(), "sk-123") {
		t.Error("engine error text leaked into reply")
	}
}

func TestHandle_SameExchangeBreakdown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second, "")

	res := h.d.Handle(context.Background(), "s1", "Breakdown the weather in Lagos")
	if !res.OK() || len(res.Replies) != 2 {
		t.Fatalf("Handle() = %+v, want table plus explanation", res)
	}
	table := weather.FormatTable(sampleRecords())
	if res.Replies[0] != table {
		t.Errorf("first reply = %q, want table", res.Replies[0])
	}

	calls := h.engine.Calls()
	if len(calls) != 1 {
		t.Fatalf("engine calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].message, table) || !strings.Contains(calls[0].message, "lagos") {
		t.Errorf("breakdown prompt not seeded with table: %q", calls[0].message)
	}
	seeded := calls[0].history
	if len(seeded) != 2 || seeded[1].Text != table {
		t.Errorf("breakdown history = %+v, want request and table", seeded)
	}

	history := h.history(t, "s1")
	if len(history) != 3 {
		t.Fatalf("history len = %d, want user + 2 assistant turns", len(history))
	}
}

func TestHandle_NextMessageBreakdown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second, "")
	ctx := context.Background()

	h.d.Handle(ctx, "s1", "forecast for Abuja")
	table := weather.FormatTable(sampleRecords())

	res := h.d.Handle(ctx, "s1", "can I get a breakdown?")
	if !res.OK() {
		t.Fatalf("Handle() = %+v, want completed", res)
	}
	calls := h.engine.Calls()
	if len(calls) != 1 {
		t.Fatalf("engine calls = %d, want exactly 1", len(calls))
	}
	if !strings.Contains(calls[0].message, table) {
		t.Errorf("follow-up prompt missing table: %q", calls[0].message)
	}
	if n := len(h.provider.Locations()); n != 1 {
		t.Errorf("provider calls = %d, want 1 (no refetch)", n)
	}

	// The remembered table is consumed.
	h.d.Handle(ctx, "s1", "another breakdown please")
	if n := len(h.engine.Calls()); n != 2 {
		t.Fatalf("engine calls = %d, want 2", n)
	}
	if strings.Contains(h.engine.Calls()[1].message, table) {
		t.Error("stale forecast reused after an intervening exchange")
	}
}

func TestHandle_BreakdownNamingNewPlaceRefetches(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second, "")
	ctx := context.Background()

	h.d.Handle(ctx, "s1", "forecast for Abuja")
	res := h.d.Handle(ctx, "s1", "breakdown the weather in Kano")
	if !res.OK() || len(res.Replies) != 2 {
		t.Fatalf("Handle() = %+v, want fresh table and explanation", res)
	}
	if got := h.provider.Locations(); len(got) != 2 || got[1] != "kano" {
		t.Errorf("provider locations = %q", got)
	}
}

func TestHandle_FailedWeatherClearsRememberedForecast(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second, "")
	ctx := context.Background()

	h.d.Handle(ctx, "s1", "forecast for Abuja")
	h.d.Handle(ctx, "s1", "hello there")

	sess, _ := h.repo.GetSession(ctx, "s1")
	if sess.LastForecast != nil {
		t.Errorf("LastForecast = %+v, want cleared after general exchange", sess.LastForecast)
	}
}

func TestHandle_AlternationAcrossMixedExchanges(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 20*time.Millisecond, "")
	h.engine.reply = func(ctx context.Context, msg string) (string, error) {
		if strings.Contains(msg, "slow") {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	}
	ctx := context.Background()

	msgs := []string{"hi", "weather", "slow question", "rain in Jos", "thanks"}
	for _, m := range msgs {
		h.d.Handle(ctx, "s1", m)
	}

	history := h.history(t, "s1")
	if len(history) != 2*len(msgs) {
		t.Fatalf("history len = %d, want %d", len(history), 2*len(msgs))
	}
	for i, turn := range history {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		if turn.Role != want {
			t.Fatalf("history[%d] role = %s, want %s", i, turn.Role, want)
		}
	}
}

func TestHandle_ConcurrentSessionsRunInParallel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2*time.Second, "")
	h.engine.reply = func(context.Context, string) (string, error) {
		time.Sleep(100 * time.Millisecond)
		return "ok", nil
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.d.Handle(context.Background(), fmt.Sprintf("s%d", i), "hello")
		}(i)
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > 450*time.Millisecond {
		t.Errorf("5 sessions took %s, want parallel execution", elapsed)
	}
}

func TestHandle_SameSessionQueues(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2*time.Second, "")
	var active, maxActive int
	var mu sync.Mutex
	h.engine.reply = func(context.Context, string) (string, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return "ok", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.d.Handle(context.Background(), "shared", fmt.Sprintf("msg %d", i))
		}(i)
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent exchanges for one session = %d, want 1", maxActive)
	}
	if n := len(h.history(t, "shared")); n != 8 {
		t.Errorf("history len = %d, want 8", n)
	}
}

func TestHandle_CancelledRequestStillCommits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second, "")
	ctx, cancel := context.WithCancel(context.Background())
	h.engine.reply = func(callCtx context.Context, _ string) (string, error) {
		cancel()
		<-callCtx.Done()
		return "", callCtx.Err()
	}

	res := h.d.Handle(ctx, "s1", "hello")
	if res.OK() {
		t.Fatalf("Handle() = %+v, want failure", res)
	}
	if n := len(h.history(t, "s1")); n != 2 {
		t.Errorf("history len = %d, want 2", n)
	}
}
