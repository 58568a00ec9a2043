package httpclient

import "time"

// Request outcomes reported to Metrics.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeError  = "error"
)

// Metrics receives events from the client.
// Methods are called on the request path and must not block.
type Metrics interface {
	// RequestCompleted is called once per network round trip.
	RequestCompleted(method, outcome string, duration time.Duration)
	// RequestShared is called for every caller of a GET that was shared
	// with at least one other caller.
	RequestShared()
	// RefreshIssued is called when a background refresh request is started.
	RefreshIssued()
}

// NoopMetrics ignores all events.
type NoopMetrics struct{}

func (NoopMetrics) RequestCompleted(string, string, time.Duration) {}
func (NoopMetrics) RequestShared()                                 {}
func (NoopMetrics) RefreshIssued()                                 {}
