package metrics

import "time"

// Sink records tagtimer metrics.
// All methods are fire-and-forget: implementations must not block or return errors.
type Sink interface {
	// Dispatch schedulers, labelled by scheduler name ("api", "telegrams").
	TicketEnqueued(scheduler string)
	TicketDispatched(scheduler, category string, wait, exec time.Duration, err error)
	QueueDepth(scheduler string, depth int)
	AwaitTimeout(scheduler string)

	// Estimator.
	SampleRecorded(seconds float64)
	WindowAverage(seconds float64, size int)
	FeedEvent(outcome string)

	// Watch alerts and world ingest.
	AlertOutcome(outcome string)
	WorldIngested(nations, regions int)
}

// FeedEvent outcomes.
const (
	FeedMatched     = "matched"
	FeedIgnored     = "ignored"
	FeedUnknownUnit = "unknown_unit"
	FeedStale       = "stale"
	FeedFailed      = "failed"
)

// AlertOutcome values.
const (
	AlertQueued  = "queued"
	AlertSkipped = "skipped"
	AlertFailed  = "failed"
)
