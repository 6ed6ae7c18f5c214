package domain

import "time"

// IntegrityPolicy carries the per-exam thresholds that turn accumulated
// violations into a penalization. Values come from exam configuration with
// service-level defaults applied; they are never hard-coded in the state
// machine.
type IntegrityPolicy struct {
	// HighSeverityLimit is the number of high-severity events tolerated
	// before the session is penalized.
	HighSeverityLimit int
	// CumulativeLimit is the total number of events (any severity) tolerated
	// before the session is penalized.
	CumulativeLimit int
	// HeartbeatInterval is the cadence the student client is expected to
	// report at.
	HeartbeatInterval time.Duration
	// MissedHeartbeatFactor is the multiple of HeartbeatInterval after which
	// silence counts as an implicit disconnect violation.
	MissedHeartbeatFactor int
	// GracePeriod extends the duration window for late heartbeats.
	GracePeriod time.Duration
}

// ShouldPenalize evaluates the violation log against the policy thresholds.
func (p IntegrityPolicy) ShouldPenalize(violations []Violation) bool {
	if len(violations) == 0 {
		return false
	}
	high := 0
	for _, v := range violations {
		if v.Kind.Severity() == SeverityHigh {
			high++
		}
	}
	if p.HighSeverityLimit > 0 && high >= p.HighSeverityLimit {
		return true
	}
	return p.CumulativeLimit > 0 && len(violations) >= p.CumulativeLimit
}

// SilenceThreshold returns how long the monitor waits without a heartbeat
// before treating the session as disconnected.
func (p IntegrityPolicy) SilenceThreshold() time.Duration {
	factor := p.MissedHeartbeatFactor
	if factor <= 0 {
		factor = 3
	}
	if p.HeartbeatInterval <= 0 {
		return 0
	}
	return time.Duration(factor) * p.HeartbeatInterval
}

// ExamDefinition is the read-only reference entity owned by the authoring
// subsystem. The session core never mutates it.
type ExamDefinition struct {
	ID              string
	Title           string
	Token           string
	Duration        time.Duration
	Shuffle         bool
	Active          bool
	AllowRetakes    bool
	EligibleClasses []string
	Policy          IntegrityPolicy
}

// EligibleFor reports whether students of the given class may join.
func (e ExamDefinition) EligibleFor(classID string) bool {
	for _, id := range e.EligibleClasses {
		if id == classID {
			return true
		}
	}
	return false
}

// Deadline returns the fixed submission deadline for an attempt that joined at
// the given moment. Administrative rejoin restores access, not time, so the
// deadline never moves after the join.
func (e ExamDefinition) Deadline(joinedAt time.Time) time.Time {
	return joinedAt.Add(e.Duration)
}

// Student is roster reference data: identity plus class membership used for
// eligibility checks and report rows.
type Student struct {
	ID        string
	Number    string
	Name      string
	ClassID   string
	ClassName string
	GradeName string
}
