package metrics

import "time"

// NoopSink is used when metrics are disabled so callers never nil-check.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) TicketEnqueued(string)                                                {}
func (NoopSink) TicketDispatched(string, string, time.Duration, time.Duration, error) {}
func (NoopSink) QueueDepth(string, int)                                               {}
func (NoopSink) AwaitTimeout(string)                                                  {}
func (NoopSink) SampleRecorded(float64)                                               {}
func (NoopSink) WindowAverage(float64, int)                                           {}
func (NoopSink) FeedEvent(string)                                                     {}
func (NoopSink) AlertOutcome(string)                                                  {}
func (NoopSink) WorldIngested(int, int)                                               {}

var _ Sink = NoopSink{}

// OrNoop returns s, or a NoopSink when s is nil.
func OrNoop(s Sink) Sink {
	if s == nil {
		return NoopSink{}
	}
	return s
}
