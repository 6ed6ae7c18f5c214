package domain

import "time"

// ReportRow is one line of the admin exam report: every eligible student with
// their most recent attempt, or no attempt at all. Sessionless rows render as
// "not joined" on the dashboard.
type ReportRow struct {
	Student        Student
	SessionID      *string
	State          *SessionState
	JoinedAt       *time.Time
	FinishedAt     *time.Time
	ViolationCount int
	IP             *string
	UserAgent      *string
}

// SessionFilter scopes a report listing.
type SessionFilter struct {
	ExamID  string
	ClassID string
	Search  string
	Page    int
	Limit   int
}

// Normalize clamps paging values to sane bounds.
func (f SessionFilter) Normalize() SessionFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 10
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return f
}

// Offset returns the row offset for the normalized page.
func (f SessionFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// ReportPage is a paginated report slice with the totals the dashboard table
// renders.
type ReportPage struct {
	Rows       []ReportRow
	TotalData  int
	TotalPages int
}
