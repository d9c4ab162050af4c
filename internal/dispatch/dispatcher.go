// Package dispatch routes one user message through classification, the
// forecast or conversational path and history commit.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/agribot/internal/agent"
	"github.com/ashureev/agribot/internal/apperr"
	"github.com/ashureev/agribot/internal/domain"
	"github.com/ashureev/agribot/internal/intent"
	"github.com/ashureev/agribot/internal/session"
	"github.com/ashureev/agribot/internal/weather"
)

// DefaultDeadline bounds every external call.
const DefaultDeadline = 50 * time.Second

// State is a step of the per-exchange state machine.
type State string

const (
	StateReceived         State = "received"
	StateClassified       State = "classified"
	StateRoutingWeather   State = "routing_weather"
	StateRoutingGeneral   State = "routing_general"
	StateAwaitingExternal State = "awaiting_external"
	StateCompleted        State = "completed"
	StateTimedOut         State = "timed_out"
	StateFailed           State = "failed"
)

// Terminal reports whether s ends an exchange.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTimedOut || s == StateFailed
}

var errNilDependency = errors.New("dispatcher dependency is nil")

// Result is what a front-end shows for one exchange. Replies holds one entry
// per committed assistant turn. Kind is meaningful only when OK is false: a
// weather request without any location completes with KindMissingLocation.
type Result struct {
	Replies  []string
	Intent   intent.Intent
	State    State
	Kind     apperr.Kind
	Location string
}

// OK reports whether the exchange completed without an error reply.
func (r Result) OK() bool {
	return r.State == StateCompleted && r.Kind != apperr.KindMissingLocation
}

// Text joins the replies for front-ends that show a single message.
func (r Result) Text() string {
	return strings.Join(r.Replies, "\n\n")
}

// Options wires a Dispatcher.
type Options struct {
	Classifier intent.Classifier
	Extractor  intent.LocationExtractor
	Provider   weather.Provider
	Engine     agent.Engine
	Sessions   *session.Manager
	Deadline   time.Duration
	Logger     *slog.Logger
}

// Dispatcher runs exchanges. It is safe for concurrent use; exchanges for the
// same session are queued by the session manager.
type Dispatcher struct {
	classifier intent.Classifier
	extractor  intent.LocationExtractor
	provider   weather.Provider
	engine     agent.Engine
	sessions   *session.Manager
	deadline   time.Duration
	logger     *slog.Logger
}

// New creates a Dispatcher. Classifier and Extractor default to the keyword
// and indicator heuristics.
func New(opts Options) (*Dispatcher, error) {
	if opts.Provider == nil || opts.Engine == nil || opts.Sessions == nil {
		return nil, errNilDependency
	}
	if opts.Classifier == nil {
		opts.Classifier = intent.NewKeywordClassifier()
	}
	if opts.Extractor == nil {
		opts.Extractor = intent.NewIndicatorExtractor()
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		classifier: opts.Classifier,
		extractor:  opts.Extractor,
		provider:   opts.Provider,
		engine:     opts.Engine,
		sessions:   opts.Sessions,
		deadline:   opts.Deadline,
		logger:     opts.Logger,
	}, nil
}

// Deadline returns the bound applied to each external call.
func (d *Dispatcher) Deadline() time.Duration {
	return d.deadline
}

// exchange carries the working state of one Handle call.
type exchange struct {
	sessionID string
	message   string
	user      domain.Turn
	sess      *domain.Session
	state     State
	log       *slog.Logger
}

func (x *exchange) to(s State) {
	x.log.Debug("exchange state", "from", x.state, "to", s)
	x.state = s
}

// Handle processes one message for sessionID. Every failure is converted into
// a fixed user-safe reply; Handle never returns a raw error.
func (d *Dispatcher) Handle(ctx context.Context, sessionID, message string) Result {
	start := time.Now()
	x := &exchange{
		sessionID: sessionID,
		message:   message,
		user:      domain.UserTurn(message),
		state:     StateReceived,
		log:       d.logger.With("session_id", sessionID),
	}

	release, err := d.sessions.Acquire(ctx, sessionID)
	if err != nil {
		kind, msg := apperr.Report(x.log, err, "stage", "acquire")
		return Result{Replies: []string{msg}, State: StateFailed, Kind: kind}
	}
	defer release()

	x.sess, err = d.sessions.Open(ctx, sessionID)
	if err != nil {
		kind, msg := apperr.Report(x.log, err, "stage", "open_session")
		return Result{Replies: []string{msg}, State: StateFailed, Kind: kind}
	}

	history, err := d.sessions.Snapshot(ctx, sessionID)
	if err != nil {
		kind, msg := apperr.Report(x.log, err, "stage", "snapshot")
		return Result{Replies: []string{msg}, State: StateFailed, Kind: kind}
	}

	it := d.classifier.Classify(message)
	x.to(StateClassified)

	var res Result
	switch {
	case d.isBreakdownFollowUp(x.sess, it, message):
		x.to(StateRoutingGeneral)
		res = d.breakdownFollowUp(ctx, x, history)
	case it == intent.Weather:
		x.to(StateRoutingWeather)
		res = d.weatherExchange(ctx, x, history)
	default:
		x.to(StateRoutingGeneral)
		res = d.generalExchange(ctx, x, history)
	}
	res.Intent = it
	x.to(res.State)

	d.commit(ctx, x, res)

	x.log.Info("exchange finished",
		"intent", it.String(),
		"state", res.State,
		"replies", len(res.Replies),
		"duration_ms", time.Since(start).Milliseconds())
	return res
}

// isBreakdownFollowUp reports whether message asks to explain the table from
// the immediately preceding weather exchange without naming a new place.
func (d *Dispatcher) isBreakdownFollowUp(sess *domain.Session, it intent.Intent, message string) bool {
	if sess.LastForecast == nil || !intent.ContainsBreakdown(message) {
		return false
	}
	if it != intent.Weather {
		return true
	}
	loc, ok := d.extractLocation(message)
	return !ok || strings.EqualFold(loc, sess.LastForecast.Location)
}

// extractLocation returns the place named in message. A bare weather keyword
// or the trigger word itself does not count as a place.
func (d *Dispatcher) extractLocation(message string) (string, bool) {
	loc, ok := d.extractor.Extract(message)
	if !ok {
		return "", false
	}
	loc = strings.TrimSpace(loc)
	if loc == "" || intent.IsWeatherKeyword(loc) || strings.EqualFold(loc, "breakdown") {
		return "", false
	}
	return loc, true
}

func (d *Dispatcher) weatherExchange(ctx context.Context, x *exchange, history []domain.Turn) Result {
	location, ok := d.extractLocation(x.message)
	if !ok {
		location = strings.TrimSpace(x.sess.DefaultLocation)
	}
	if location == "" {
		// The exchange completes with the prompt for a location.
		x.sess.LastForecast = nil
		err := apperr.Errorf(apperr.KindMissingLocation, "route_weather", "no location in %q and no default", x.message)
		kind, msg := apperr.Report(x.log, err, "stage", string(x.state))
		return Result{Replies: []string{msg}, State: StateCompleted, Kind: kind}
	}
	x.log = x.log.With("location", location)

	x.to(StateAwaitingExternal)
	records, err := Invoke(ctx, d.deadline, func(ctx context.Context) ([]domain.ForecastRecord, error) {
		return d.provider.Fetch(ctx, location)
	})
	if err != nil {
		x.sess.LastForecast = nil
		res := d.failure(x, err, nil)
		res.Location = location
		return res
	}

	table := weather.FormatTable(records)
	x.sess.LastForecast = &domain.ForecastContext{Location: location, Table: table, FetchedAt: time.Now().UTC()}
	res := Result{Replies: []string{table}, State: StateCompleted, Location: location}

	if !intent.ContainsBreakdown(x.message) {
		return res
	}

	// Same-exchange breakdown: the engine sees the request and the table as
	// the latest turns of the conversation.
	seeded := append(domain.CloneTurns(history), x.user, domain.AssistantTurn(table))
	explanation, err := d.generate(ctx, x, agent.BreakdownPrompt(location, table), seeded)
	if err != nil {
		failed := d.failure(x, err, res.Replies)
		failed.Location = location
		return failed
	}
	res.Replies = append(res.Replies, explanation)
	return res
}

func (d *Dispatcher) breakdownFollowUp(ctx context.Context, x *exchange, history []domain.Turn) Result {
	last := x.sess.LastForecast
	x.sess.LastForecast = nil
	x.log.Debug("explaining remembered forecast", "location", last.Location)

	reply, err := d.generate(ctx, x, agent.BreakdownPrompt(last.Location, last.Table), history)
	if err != nil {
		res := d.failure(x, err, nil)
		res.Location = last.Location
		return res
	}
	return Result{Replies: []string{reply}, State: StateCompleted, Location: last.Location}
}

func (d *Dispatcher) generalExchange(ctx context.Context, x *exchange, history []domain.Turn) Result {
	x.sess.LastForecast = nil
	reply, err := d.generate(ctx, x, x.message, history)
	if err != nil {
		return d.failure(x, err, nil)
	}
	return Result{Replies: []string{reply}, State: StateCompleted}
}

func (d *Dispatcher) generate(ctx context.Context, x *exchange, prompt string, history []domain.Turn) (string, error) {
	x.to(StateAwaitingExternal)
	return Invoke(ctx, d.deadline, func(ctx context.Context) (string, error) {
		return d.engine.Generate(ctx, prompt, history)
	})
}

// failure converts err into its fixed reply, appended after any replies the
// exchange already produced.
func (d *Dispatcher) failure(x *exchange, err error, prior []string) Result {
	kind, msg := apperr.Report(x.log, err, "stage", string(x.state))
	state := StateFailed
	if kind == apperr.KindTimeout {
		state = StateTimedOut
	}
	replies := make([]string, 0, len(prior)+1)
	replies = append(replies, prior...)
	replies = append(replies, msg)
	return Result{Replies: replies, State: state, Kind: kind}
}

// commit records the user turn with one assistant turn per reply and saves
// the forecast memory. Storage failures are logged; the reply still reaches
// the user.
func (d *Dispatcher) commit(ctx context.Context, x *exchange, res Result) {
	// A cancelled request still records the exchange.
	ctx = context.WithoutCancel(ctx)

	assistant := make([]domain.Turn, 0, len(res.Replies))
	for _, r := range res.Replies {
		assistant = append(assistant, domain.AssistantTurn(r))
	}
	if err := d.sessions.Commit(ctx, x.sessionID, x.user, assistant...); err != nil {
		x.log.Error("failed to commit exchange", "error", err)
	}
	if err := d.sessions.Save(ctx, x.sess); err != nil {
		x.log.Error("failed to save session", "error", err)
	}
}
