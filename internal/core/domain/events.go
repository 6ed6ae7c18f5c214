package domain

import "time"

// SessionJoinedEvent is published when a student is admitted into a fresh
// attempt (not on idempotent resumes).
type SessionJoinedEvent struct {
	EventID   string
	SessionID string
	ExamID    string
	StudentID string
	JoinedAt  time.Time
	IPAddress *string
	Metadata  map[string]any
}

// SessionPenalizedEvent is published when the violation log crosses the
// exam's penalization threshold.
type SessionPenalizedEvent struct {
	EventID        string
	SessionID      string
	ExamID         string
	StudentID      string
	Kind           ViolationKind
	ViolationCount int
	PenalizedAt    time.Time
	Metadata       map[string]any
}

// SessionFinishedEvent is published on any ACTIVE/PENALIZED to DONE closure.
// Cause is the transition event that closed the attempt (submit, timeout, or
// admin_finish).
type SessionFinishedEvent struct {
	EventID    string
	SessionID  string
	ExamID     string
	StudentID  string
	Cause      Event
	FinishedAt time.Time
	FinishedBy string
	Metadata   map[string]any
}

// SessionRetakenEvent is published after a retake purged the prior attempt and
// reopened the session.
type SessionRetakenEvent struct {
	EventID   string
	SessionID string
	ExamID    string
	StudentID string
	RetakenAt time.Time
	RetakenBy string
	Metadata  map[string]any
}

// OverrideAudit is the append-only compliance record written for every
// administrative override, independent of the session row.
type OverrideAudit struct {
	ID          string
	SessionID   string
	Operation   Event
	Operator    string
	BeforeState SessionState
	AfterState  SessionState
	At          time.Time
}
