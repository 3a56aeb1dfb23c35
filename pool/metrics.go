package pool

import "time"

// Metrics receives pool instrumentation events. Implementations must be safe
// for concurrent use; observability/prometheus provides one.
type Metrics interface {
	// AttemptStarted is called right before a fetch attempt.
	AttemptStarted()
	// AttemptFinished is called when a fetch attempt returns or is abandoned.
	AttemptFinished(d time.Duration, err error)
	// ItemFinished is called once per item with its terminal outcome.
	ItemFinished(o Outcome, d time.Duration)
	// Retried is called before each retry.
	Retried()
	// RateWaited reports the time spent acquiring a call permit.
	RateWaited(d time.Duration)
	// QueueDepth reports the approximate number of queued items.
	QueueDepth(n int)
}

type noopMetrics struct{}

func (noopMetrics) AttemptStarted()                      {}
func (noopMetrics) AttemptFinished(time.Duration, error) {}
func (noopMetrics) ItemFinished(Outcome, time.Duration)  {}
func (noopMetrics) Retried()                             {}
func (noopMetrics) RateWaited(time.Duration)             {}
func (noopMetrics) QueueDepth(int)                       {}
