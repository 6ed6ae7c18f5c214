package domain

import (
	"fmt"
	"time"
)

// Severity ranks how strongly a violation signals cheating.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityHigh
)

// String returns the wire representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ViolationKind is a closed set of integrity signals the student client (or the
// monitor itself) can report. Free-form kinds are rejected at the boundary so
// the penalization policy stays exhaustive.
type ViolationKind string

const (
	ViolationTabBlur        ViolationKind = "tab_blur"
	ViolationFullscreenExit ViolationKind = "fullscreen_exit"
	ViolationMultiTab       ViolationKind = "multi_tab"
	ViolationDevTools       ViolationKind = "devtools_open"
	ViolationDisconnected   ViolationKind = "disconnected"
)

var violationSeverities = map[ViolationKind]Severity{
	ViolationTabBlur:        SeverityLow,
	ViolationFullscreenExit: SeverityHigh,
	ViolationMultiTab:       SeverityHigh,
	ViolationDevTools:       SeverityHigh,
	ViolationDisconnected:   SeverityLow,
}

// Severity returns the fixed severity rank for the kind.
func (k ViolationKind) Severity() Severity {
	return violationSeverities[k]
}

// Valid reports whether the kind belongs to the closed set.
func (k ViolationKind) Valid() bool {
	_, ok := violationSeverities[k]
	return ok
}

// ParseViolationKind validates a client-supplied kind string.
func ParseViolationKind(raw string) (ViolationKind, error) {
	kind := ViolationKind(raw)
	if !kind.Valid() {
		return "", fmt.Errorf("unknown violation kind %q", raw)
	}
	return kind, nil
}

// Violation is one detected integrity event on a session. The violation log is
// append-only while the session is live.
type Violation struct {
	Kind ViolationKind `json:"kind"`
	At   time.Time     `json:"at"`
}
