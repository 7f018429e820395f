package orchestrator

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/crewkit/internal/ratelimit"
)

// DefaultRateLimitMaxWait bounds how long an agent waits for a rate slot
// before the run fails with RateLimitTimeout.
const DefaultRateLimitMaxWait = 2 * time.Minute

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*options)

type options struct {
	logger           logrus.FieldLogger
	events           *EventEmitter
	metrics          *Metrics
	toolTimeout      time.Duration
	rateLimitMaxWait time.Duration
	clock            ratelimit.Clock
	now              func() time.Time
	maxTokens        int
}

func defaultOptions() options {
	return options{
		rateLimitMaxWait: DefaultRateLimitMaxWait,
		now:              time.Now,
	}
}

// WithLogger sets the logger used by the orchestrator and its agents.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithEvents routes run events to e. The caller owns e and closes it.
func WithEvents(e *EventEmitter) Option {
	return func(o *options) { o.events = e }
}

// WithMetrics records run metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithToolTimeout bounds every tool call. Zero keeps tools.DefaultTimeout.
func WithToolTimeout(d time.Duration) Option {
	return func(o *options) { o.toolTimeout = d }
}

// WithRateLimitMaxWait bounds how long an agent waits for a rate slot.
// Zero waits indefinitely.
func WithRateLimitMaxWait(d time.Duration) Option {
	return func(o *options) { o.rateLimitMaxWait = d }
}

// WithClock replaces the clock behind rate limiting and date injection.
func WithClock(c ratelimit.Clock) Option {
	return func(o *options) {
		o.clock = c
		o.now = c.Now
	}
}

// WithMaxTokens caps every completion call.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}
