package usecase

// Metrics receives session lifecycle counters. Implementations must be safe
// for concurrent use; a nil-safe no-op is installed by default.
type Metrics interface {
	SessionJoined()
	SessionPenalized()
	SessionFinished(cause string)
	ViolationRecorded(kind string)
}

type nopMetrics struct{}

func (nopMetrics) SessionJoined()           {}
func (nopMetrics) SessionPenalized()        {}
func (nopMetrics) SessionFinished(string)   {}
func (nopMetrics) ViolationRecorded(string) {}
