package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/edukita/cbt-session-service/internal/core/domain"
)

var overrideBase = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func overrideExam() domain.ExamDefinition {
	return domain.ExamDefinition{
		ID:              "exam-1",
		Title:           "Biology Quiz",
		Token:           "BIO26",
		Duration:        30 * time.Minute,
		Active:          true,
		EligibleClasses: []string{"class-1"},
		Policy: domain.IntegrityPolicy{
			HighSeverityLimit: 2,
			CumulativeLimit:   5,
			HeartbeatInterval: 30 * time.Second,
		},
	}
}

func newOverrideFixture(t *testing.T, now time.Time, sessions ...domain.Session) (*OverrideService, *fakeSessionRepository, *fakeAuditRepository, *fakeAnswerPurger, *fakeEventPublisher) {
	t.Helper()
	repo := newFakeSessionRepository(sessions...)
	audit := &fakeAuditRepository{}
	purger := &fakeAnswerPurger{}
	events := &fakeEventPublisher{}
	service := NewOverrideService(repo, newFakeExamRepository(overrideExam()), audit, purger, events, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return now }).
		WithHeartbeatCache(newFakeHeartbeatCache())
	return service, repo, audit, purger, events
}

func TestOverrideService_FinishClosesLiveSession(t *testing.T) {
	session := domain.NewSession("sess-1", "exam-1", "student-1", overrideBase, nil, nil)
	now := overrideBase.Add(10 * time.Minute)
	service, repo, audit, _, events := newOverrideFixture(t, now, session)

	updated, err := service.Finish(context.Background(), "sess-1", "admin-1")
	if err != nil {
		t.Fatalf("Finish returned error: %v", err)
	}
	if updated.State != domain.StateDone {
		t.Fatalf("expected done, got %s", updated.State)
	}
	if updated.FinishedAt == nil || !updated.FinishedAt.Equal(now) {
		t.Errorf("expected finish at %v, got %v", now, updated.FinishedAt)
	}
	if repo.sessions["sess-1"].State != domain.StateDone {
		t.Errorf("expected persisted state done")
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.Operation != domain.EventAdminFinish || entry.Operator != "admin-1" {
		t.Errorf("unexpected audit entry %+v", entry)
	}
	if entry.BeforeState != domain.StateActive || entry.AfterState != domain.StateDone {
		t.Errorf("audit must record the transition, got %s -> %s", entry.BeforeState, entry.AfterState)
	}
	if len(events.finished) != 1 || events.finished[0].Cause != domain.EventAdminFinish {
		t.Errorf("expected one admin finish event")
	}
}

func TestOverrideService_FinishPenalizedSession(t *testing.T) {
	session := domain.NewSession("sess-1", "exam-1", "student-1", overrideBase, nil, nil)
	session.State = domain.StatePenalized
	service, _, _, _, _ := newOverrideFixture(t, overrideBase.Add(10*time.Minute), session)

	updated, err := service.Finish(context.Background(), "sess-1", "admin-1")
	if err != nil {
		t.Fatalf("Finish returned error: %v", err)
	}
	if updated.State != domain.StateDone {
		t.Fatalf("expected done, got %s", updated.State)
	}
}

func TestOverrideService_FinishExpiredSessionRecordsTimeout(t *testing.T) {
	session := domain.NewSession("sess-1", "exam-1", "student-1", overrideBase, nil, nil)
	now := overrideBase.Add(45 * time.Minute)
	service, _, _, _, events := newOverrideFixture(t, now, session)

	updated, err := service.Finish(context.Background(), "sess-1", "admin-1")
	if err != nil {
		t.Fatalf("Finish returned error: %v", err)
	}
	deadline := overrideBase.Add(30 * time.Minute)
	if updated.FinishedAt == nil || !updated.FinishedAt.Equal(deadline) {
		t.Errorf("expected finish at deadline %v, got %v", deadline, updated.FinishedAt)
	}
	if len(events.finished) != 1 || events.finished[0].Cause != domain.EventTimeout {
		t.Errorf("expected the closure recorded as a timeout")
	}
}

func TestOverrideService_FinishRejectsDoneSession(t *testing.T) {
	session := domain.NewSession("sess-1", "exam-1", "student-1", overrideBase, nil, nil)
	finished := overrideBase.Add(5 * time.Minute)
	session.State = domain.StateDone
	session.FinishedAt = &finished
	service, _, audit, _, _ := newOverrideFixture(t, overrideBase.Add(10*time.Minute), session)

	_, err := service.Finish(context.Background(), "sess-1", "admin-1")
	te, ok := AsTransitionError(err)
	if !ok {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.Current != domain.StateDone || te.Requested != domain.EventAdminFinish {
		t.Errorf("unexpected transition error %+v", te)
	}
	if len(audit.entries) != 0 {
		t.Errorf("rejected override must not write audit")
	}
}

func TestOverrideService_RejectsBlankOperator(t *testing.T) {
	session := domain.NewSession("sess-1", "exam-1", "student-1", overrideBase, nil, nil)
	service, _, _, _, _ := newOverrideFixture(t, overrideBase, session)

	if _, err := service.Finish(context.Background(), "sess-1", "  "); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("Finish: expected ErrNotAuthorized, got %v", err)
	}
	if _, err := service.Rejoin(context.Background(), "sess-1", ""); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("Rejoin: expected ErrNotAuthorized, got %v", err)
	}
	if _, err := service.Retake(context.Background(), "sess-1", ""); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("Retake: expected ErrNotAuthorized, got %v", err)
	}
}

func TestOverrideService_UnknownSession(t *testing.T) {
	service, _, _, _, _ := newOverrideFixture(t, overrideBase)

	if _, err := service.Finish(context.Background(), "missing", "admin-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestOverrideService_RejoinRestoresPenalizedSession(t *testing.T) {
	session := domain.NewSession("sess-1", "exam-1", "student-1", overrideBase, nil, nil)
	session.State = domain.StatePenalized
	session.Violations = []domain.Violation{
		{Kind: domain.ViolationFullscreenExit, At: overrideBase.Add(time.Minute)},
		{Kind: domain.ViolationMultiTab, At: overrideBase.Add(2 * time.Minute)},
	}
	session.LastHeartbeat = overrideBase.Add(2 * time.Minute)
	now := overrideBase.Add(10 * time.Minute)
	service, _, audit, _, _ := newOverrideFixture(t, now, session)

	updated, err := service.Rejoin(context.Background(), "sess-1", "admin-1")
	if err != nil {
		t.Fatalf("Rejoin returned error: %v", err)
	}
	if updated.State != domain.StateActive {
		t.Fatalf("expected active, got %s", updated.State)
	}
	if updated.ViolationCount() != 2 {
		t.Errorf("rejoin must preserve the violation log, got %d entries", updated.ViolationCount())
	}
	if !updated.JoinedAt.Equal(overrideBase) {
		t.Errorf("rejoin must not move the deadline")
	}
	if !updated.LastHeartbeat.Equal(now) {
		t.Errorf("rejoin must refresh the heartbeat clock")
	}
	if len(audit.entries) != 1 || audit.entries[0].Operation != domain.EventAdminRejoin {
		t.Errorf("expected rejoin audit entry")
	}
}

func TestOverrideService_RejoinExpiredSessionTimesOut(t *testing.T) {
	session := domain.NewSession("sess-1", "exam-1", "student-1", overrideBase, nil, nil)
	session.State = domain.StatePenalized
	now := overrideBase.Add(45 * time.Minute)
	service, repo, audit, _, _ := newOverrideFixture(t, now, session)

	_, err := service.Rejoin(context.Background(), "sess-1", "admin-1")
	te, ok := AsTransitionError(err)
	if !ok {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.Current != domain.StateDone {
		t.Errorf("expected rejection against done, got %s", te.Current)
	}
	if repo.sessions["sess-1"].State != domain.StateDone {
		t.Errorf("expected expired session finalized")
	}
	if len(audit.entries) != 0 {
		t.Errorf("failed rejoin must not write audit")
	}
}

func TestOverrideService_RejoinRejectsActiveSession(t *testing.T) {
	session := domain.NewSession("sess-1", "exam-1", "student-1", overrideBase, nil, nil)
	service, _, _, _, _ := newOverrideFixture(t, overrideBase.Add(5*time.Minute), session)

	_, err := service.Rejoin(context.Background(), "sess-1", "admin-1")
	te, ok := AsTransitionError(err)
	if !ok {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.Current != domain.StateActive || te.Requested != domain.EventAdminRejoin {
		t.Errorf("unexpected transition error %+v", te)
	}
}

func TestOverrideService_RetakeReopensDoneSession(t *testing.T) {
	session := domain.NewSession("sess-1", "exam-1", "student-1", overrideBase.Add(-time.Hour), nil, nil)
	finished := overrideBase.Add(-30 * time.Minute)
	session.State = domain.StateDone
	session.FinishedAt = &finished
	session.Violations = []domain.Violation{{Kind: domain.ViolationTabBlur, At: overrideBase.Add(-50 * time.Minute)}}
	service, repo, audit, purger, events := newOverrideFixture(t, overrideBase, session)

	updated, err := service.Retake(context.Background(), "sess-1", "admin-1")
	if err != nil {
		t.Fatalf("Retake returned error: %v", err)
	}
	if updated.State != domain.StateActive {
		t.Fatalf("expected active, got %s", updated.State)
	}
	if updated.ViolationCount() != 0 {
		t.Errorf("retake must clear the violation log")
	}
	if !updated.JoinedAt.Equal(overrideBase) {
		t.Errorf("retake must restart the attempt clock")
	}
	if updated.FinishedAt != nil {
		t.Errorf("retake must clear the finish marker")
	}
	if purger.calls != 1 {
		t.Errorf("expected one answer purge, got %d", purger.calls)
	}
	stored := repo.sessions["sess-1"]
	if stored.State != domain.StateActive || stored.ViolationCount() != 0 {
		t.Errorf("expected reset persisted")
	}
	if len(audit.entries) != 1 || audit.entries[0].Operation != domain.EventAdminRetake {
		t.Errorf("expected retake audit entry")
	}
	if len(events.retaken) != 1 {
		t.Errorf("expected one retaken event, got %d", len(events.retaken))
	}
}

func TestOverrideService_RetakeRejectsLiveSession(t *testing.T) {
	session := domain.NewSession("sess-1", "exam-1", "student-1", overrideBase, nil, nil)
	service, _, _, purger, _ := newOverrideFixture(t, overrideBase.Add(5*time.Minute), session)

	_, err := service.Retake(context.Background(), "sess-1", "admin-1")
	te, ok := AsTransitionError(err)
	if !ok {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.Current != domain.StateActive || te.Requested != domain.EventAdminRetake {
		t.Errorf("unexpected transition error %+v", te)
	}
	if purger.calls != 0 {
		t.Errorf("guard rejection must not purge answers")
	}
}

func TestOverrideService_RetakeAbortsWhenPurgeFails(t *testing.T) {
	session := domain.NewSession("sess-1", "exam-1", "student-1", overrideBase.Add(-time.Hour), nil, nil)
	finished := overrideBase.Add(-30 * time.Minute)
	session.State = domain.StateDone
	session.FinishedAt = &finished
	service, repo, audit, purger, _ := newOverrideFixture(t, overrideBase, session)
	purger.fail = errors.New("scoring subsystem down")

	_, err := service.Retake(context.Background(), "sess-1", "admin-1")
	if !errors.Is(err, ErrPurgeFailed) {
		t.Fatalf("expected ErrPurgeFailed, got %v", err)
	}
	stored := repo.sessions["sess-1"]
	if stored.State != domain.StateDone {
		t.Errorf("failed purge must leave the session unchanged")
	}
	if stored.FinishedAt == nil || !stored.FinishedAt.Equal(finished) {
		t.Errorf("failed purge must not touch the finish marker")
	}
	if len(audit.entries) != 0 {
		t.Errorf("aborted retake must not write audit")
	}
}
