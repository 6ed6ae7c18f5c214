package domain

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle state of one exam attempt. Absence of a
// session row means the student has not joined.
type SessionState string

const (
	StateActive    SessionState = "active"
	StatePenalized SessionState = "penalized"
	StateDone      SessionState = "done"
)

// Event names a requested state transition. Used in transition errors so admin
// tooling can explain exactly what was attempted against which state.
type Event string

const (
	EventJoin        Event = "join"
	EventHeartbeat   Event = "heartbeat"
	EventViolation   Event = "violation"
	EventSubmit      Event = "submit"
	EventTimeout     Event = "timeout"
	EventAdminFinish Event = "admin_finish"
	EventAdminRejoin Event = "admin_rejoin"
	EventAdminRetake Event = "admin_retake"
)

// TransitionError reports a guard rejection: the session was in Current when
// Requested was attempted. The state machine is total but rejecting; no guard
// failure ever mutates the session.
type TransitionError struct {
	Current   SessionState
	Requested Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %s not allowed in state %s", e.Requested, e.Current)
}

func invalidTransition(current SessionState, requested Event) error {
	return &TransitionError{Current: current, Requested: requested}
}

// Session is one student's attempt record for one exam. At most one live
// (active or penalized) session exists per (exam, student); done sessions are
// retained for reporting and only an administrative retake reopens one.
type Session struct {
	ID            string
	ExamID        string
	StudentID     string
	State         SessionState
	JoinedAt      time.Time
	LastHeartbeat time.Time
	FinishedAt    *time.Time
	Violations    []Violation
	// StateVersion increments on every committed transition and backs the
	// compare-and-swap write path.
	StateVersion int64
	IP           *string
	UserAgent    *string
}

// NewSession creates a fresh ACTIVE attempt joined at the given moment.
func NewSession(id, examID, studentID string, at time.Time, ip, userAgent *string) Session {
	return Session{
		ID:            id,
		ExamID:        examID,
		StudentID:     studentID,
		State:         StateActive,
		JoinedAt:      at,
		LastHeartbeat: at,
		StateVersion:  1,
		IP:            ip,
		UserAgent:     userAgent,
	}
}

// IsLive reports whether the session still occupies the live slot for its
// (exam, student) pair.
func (s Session) IsLive() bool {
	return s.State == StateActive || s.State == StatePenalized
}

// ViolationCount returns the size of the append-only violation log.
func (s Session) ViolationCount() int {
	return len(s.Violations)
}

// Deadline returns the fixed submission deadline under the given exam
// duration.
func (s Session) Deadline(duration time.Duration) time.Time {
	return s.JoinedAt.Add(duration)
}

// Expired reports whether the attempt's duration has elapsed at the supplied
// moment. Rejoin does not reset JoinedAt, so the deadline is unaffected by
// administrative intervention.
func (s Session) Expired(at time.Time, duration time.Duration) bool {
	return !at.Before(s.Deadline(duration))
}

// Heartbeat records a liveness signal on an ACTIVE session. Stale timestamps
// are tolerated: the freshest wall-clock value wins, so reordered heartbeats
// commute.
func (s *Session) Heartbeat(at time.Time) error {
	if s.State != StateActive {
		return invalidTransition(s.State, EventHeartbeat)
	}
	if at.After(s.LastHeartbeat) {
		s.LastHeartbeat = at
	}
	return nil
}

// RecordViolation appends to the violation log and re-evaluates the
// penalization policy. Sub-threshold events leave the session ACTIVE; the
// count only ever grows while the session is live. Returns true when this
// event crossed the threshold.
func (s *Session) RecordViolation(v Violation, policy IntegrityPolicy) (bool, error) {
	if s.State != StateActive {
		return false, invalidTransition(s.State, EventViolation)
	}
	s.Violations = append(s.Violations, v)
	if policy.ShouldPenalize(s.Violations) {
		s.State = StatePenalized
		return true, nil
	}
	return false, nil
}

// Submit finishes an ACTIVE session at the student's request.
func (s *Session) Submit(at time.Time) error {
	if s.State != StateActive {
		return invalidTransition(s.State, EventSubmit)
	}
	s.finish(at)
	return nil
}

// Timeout finishes a live session whose duration elapsed. Hard timeout is the
// one closure that never waits for an operator.
func (s *Session) Timeout(at time.Time) error {
	if !s.IsLive() {
		return invalidTransition(s.State, EventTimeout)
	}
	s.finish(at)
	return nil
}

// AdminFinish forces a live session to DONE, e.g. an operator ending an
// attempt early.
func (s *Session) AdminFinish(at time.Time) error {
	if !s.IsLive() {
		return invalidTransition(s.State, EventAdminFinish)
	}
	s.finish(at)
	return nil
}

// AdminRejoin re-admits a PENALIZED student. The violation log is preserved
// for audit; the heartbeat clock is refreshed so the liveness check does not
// fire the moment the student resumes.
func (s *Session) AdminRejoin(at time.Time) error {
	if s.State != StatePenalized {
		return invalidTransition(s.State, EventAdminRejoin)
	}
	s.State = StateActive
	if at.After(s.LastHeartbeat) {
		s.LastHeartbeat = at
	}
	return nil
}

// AdminRetake reopens a DONE session as a fresh attempt: violation history is
// zeroed, the join clock restarts, and the finish marker clears. Callers must
// purge the prior attempt's answer artifacts before invoking this, so a fresh
// ACTIVE session is never visible alongside stale answers.
func (s *Session) AdminRetake(at time.Time) error {
	if s.State != StateDone {
		return invalidTransition(s.State, EventAdminRetake)
	}
	s.State = StateActive
	s.JoinedAt = at
	s.LastHeartbeat = at
	s.FinishedAt = nil
	s.Violations = nil
	return nil
}

func (s *Session) finish(at time.Time) {
	s.State = StateDone
	finished := at
	s.FinishedAt = &finished
}
