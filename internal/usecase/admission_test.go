package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/repository"
)

var admissionBase = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func admissionExam() domain.ExamDefinition {
	return domain.ExamDefinition{
		ID:              "exam-1",
		Title:           "Mathematics Midterm",
		Token:           "MATH26",
		Duration:        30 * time.Minute,
		Active:          true,
		EligibleClasses: []string{"class-1"},
		Policy: domain.IntegrityPolicy{
			HighSeverityLimit:     2,
			CumulativeLimit:       5,
			HeartbeatInterval:     30 * time.Second,
			MissedHeartbeatFactor: 3,
			GracePeriod:           5 * time.Minute,
		},
	}
}

func admissionStudent() domain.Student {
	return domain.Student{
		ID:      "student-1",
		Number:  "2026-0001",
		Name:    "Siti Rahma",
		ClassID: "class-1",
	}
}

func newAdmissionFixture(t *testing.T, sessions ...domain.Session) (*AdmissionService, *fakeSessionRepository, *fakeEventPublisher, *fakeHeartbeatCache) {
	t.Helper()
	repo := newFakeSessionRepository(sessions...)
	events := &fakeEventPublisher{}
	cache := newFakeHeartbeatCache()
	service := NewAdmissionService(repo, newFakeExamRepository(admissionExam()), newFakeRosterRepository(admissionStudent()), events, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return admissionBase }).
		WithHeartbeatCache(cache)
	return service, repo, events, cache
}

func TestAdmissionService_JoinCreatesSession(t *testing.T) {
	service, repo, events, cache := newAdmissionFixture(t)

	session, exam, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{IP: "10.0.0.7", UserAgent: "Firefox"})
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if exam.ID != "exam-1" {
		t.Fatalf("expected exam-1, got %s", exam.ID)
	}
	if session.State != domain.StateActive {
		t.Fatalf("expected active session, got %s", session.State)
	}
	if !session.JoinedAt.Equal(admissionBase) {
		t.Errorf("expected joined at %v, got %v", admissionBase, session.JoinedAt)
	}
	if session.IP == nil || *session.IP != "10.0.0.7" {
		t.Errorf("expected client IP recorded")
	}
	if repo.createCalls != 1 {
		t.Errorf("expected one create, got %d", repo.createCalls)
	}
	if len(events.joined) != 1 {
		t.Fatalf("expected one joined event, got %d", len(events.joined))
	}
	if events.joined[0].SessionID != session.ID {
		t.Errorf("joined event references wrong session")
	}
	if _, ok := cache.values[session.ID]; !ok {
		t.Errorf("expected heartbeat cache primed")
	}
}

func TestAdmissionService_JoinRejectsBadToken(t *testing.T) {
	service, _, _, _ := newAdmissionFixture(t)

	if _, _, err := service.Join(context.Background(), "WRONG", "student-1", ClientMeta{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, _, err := service.Join(context.Background(), "  ", "student-1", ClientMeta{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for blank token, got %v", err)
	}
}

func TestAdmissionService_JoinRejectsInactiveExam(t *testing.T) {
	exam := admissionExam()
	exam.Active = false
	repo := newFakeSessionRepository()
	service := NewAdmissionService(repo, newFakeExamRepository(exam), newFakeRosterRepository(admissionStudent()), &fakeEventPublisher{}, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return admissionBase })

	if _, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for inactive exam, got %v", err)
	}
}

func TestAdmissionService_JoinRejectsIneligibleClass(t *testing.T) {
	student := admissionStudent()
	student.ClassID = "class-9"
	repo := newFakeSessionRepository()
	service := NewAdmissionService(repo, newFakeExamRepository(admissionExam()), newFakeRosterRepository(student), &fakeEventPublisher{}, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return admissionBase })

	if _, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{}); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	if _, _, err := service.Join(context.Background(), "MATH26", "student-unknown", ClientMeta{}); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible for unknown student, got %v", err)
	}
}

func TestAdmissionService_JoinResumesActiveSession(t *testing.T) {
	existing := domain.NewSession("sess-1", "exam-1", "student-1", admissionBase.Add(-10*time.Minute), nil, nil)
	service, repo, events, _ := newAdmissionFixture(t, existing)

	session, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{})
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if session.ID != "sess-1" {
		t.Fatalf("expected resume of sess-1, got %s", session.ID)
	}
	if repo.createCalls != 0 {
		t.Errorf("resume must not create a new row")
	}
	if len(events.joined) != 0 {
		t.Errorf("resume must not publish a joined event")
	}
}

func TestAdmissionService_JoinRejectsPenalizedSession(t *testing.T) {
	existing := domain.NewSession("sess-1", "exam-1", "student-1", admissionBase.Add(-10*time.Minute), nil, nil)
	existing.State = domain.StatePenalized
	service, _, _, _ := newAdmissionFixture(t, existing)

	if _, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{}); !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("expected ErrSessionLocked, got %v", err)
	}
}

func TestAdmissionService_JoinRejectsCompletedExam(t *testing.T) {
	existing := domain.NewSession("sess-1", "exam-1", "student-1", admissionBase.Add(-2*time.Hour), nil, nil)
	finished := admissionBase.Add(-90 * time.Minute)
	existing.State = domain.StateDone
	existing.FinishedAt = &finished
	service, _, _, _ := newAdmissionFixture(t, existing)

	if _, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{}); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestAdmissionService_JoinFinalizesExpiredSession(t *testing.T) {
	joined := admissionBase.Add(-45 * time.Minute)
	existing := domain.NewSession("sess-1", "exam-1", "student-1", joined, nil, nil)
	service, repo, _, _ := newAdmissionFixture(t, existing)

	_, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{})
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted after lazy timeout, got %v", err)
	}

	stored := repo.sessions["sess-1"]
	if stored.State != domain.StateDone {
		t.Fatalf("expected stored session finalized, got %s", stored.State)
	}
	deadline := joined.Add(30 * time.Minute)
	if stored.FinishedAt == nil || !stored.FinishedAt.Equal(deadline) {
		t.Errorf("expected finish stamped at deadline %v, got %v", deadline, stored.FinishedAt)
	}
}

func TestAdmissionService_JoinAllowsRetakeWhenConfigured(t *testing.T) {
	exam := admissionExam()
	exam.AllowRetakes = true
	done := domain.NewSession("sess-1", "exam-1", "student-1", admissionBase.Add(-2*time.Hour), nil, nil)
	finished := admissionBase.Add(-90 * time.Minute)
	done.State = domain.StateDone
	done.FinishedAt = &finished

	repo := newFakeSessionRepository(done)
	events := &fakeEventPublisher{}
	service := NewAdmissionService(repo, newFakeExamRepository(exam), newFakeRosterRepository(admissionStudent()), events, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return admissionBase })

	session, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{})
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if session.ID == "sess-1" {
		t.Fatalf("expected a fresh attempt row")
	}
	if session.State != domain.StateActive {
		t.Fatalf("expected active session, got %s", session.State)
	}
	if len(events.joined) != 1 {
		t.Errorf("expected joined event for the new attempt")
	}
}

func TestAdmissionService_JoinRecoversFromDuplicateRace(t *testing.T) {
	winner := domain.NewSession("sess-winner", "exam-1", "student-1", admissionBase.Add(-time.Minute), nil, nil)
	repo := newFakeSessionRepository(winner)
	repo.latestMisses = 1
	repo.createErr = repository.ErrDuplicate
	service := NewAdmissionService(repo, newFakeExamRepository(admissionExam()), newFakeRosterRepository(admissionStudent()), &fakeEventPublisher{}, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return admissionBase })

	session, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{})
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if session.ID != "sess-winner" {
		t.Fatalf("expected to resume the race winner, got %s", session.ID)
	}
}

func TestAdmissionService_JoinDuplicateRaceWinnerAlreadyDone(t *testing.T) {
	winner := domain.NewSession("sess-winner", "exam-1", "student-1", admissionBase.Add(-time.Minute), nil, nil)
	finished := admissionBase.Add(-time.Second)
	winner.State = domain.StateDone
	winner.FinishedAt = &finished

	repo := newFakeSessionRepository(winner)
	repo.latestMisses = 1
	repo.createErr = repository.ErrDuplicate
	service := NewAdmissionService(repo, newFakeExamRepository(admissionExam()), newFakeRosterRepository(admissionStudent()), &fakeEventPublisher{}, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return admissionBase })

	_, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{})
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("a closed attempt must never come back as a join response, got %v", err)
	}
}

func TestAdmissionService_JoinDuplicateRaceRetakesWhenAllowed(t *testing.T) {
	exam := admissionExam()
	exam.AllowRetakes = true
	winner := domain.NewSession("sess-winner", "exam-1", "student-1", admissionBase.Add(-time.Minute), nil, nil)
	finished := admissionBase.Add(-time.Second)
	winner.State = domain.StateDone
	winner.FinishedAt = &finished

	repo := newFakeSessionRepository(winner)
	repo.latestMisses = 1
	repo.createErr = repository.ErrDuplicate
	repo.createErrs = 1
	service := NewAdmissionService(repo, newFakeExamRepository(exam), newFakeRosterRepository(admissionStudent()), &fakeEventPublisher{}, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return admissionBase })

	session, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{})
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if session.ID == "sess-winner" {
		t.Fatalf("expected a fresh attempt row, got the closed winner")
	}
	if session.State != domain.StateActive {
		t.Fatalf("expected active session, got %s", session.State)
	}
	if repo.createCalls != 2 {
		t.Errorf("expected the admit re-issued once, got %d creates", repo.createCalls)
	}
}

func TestAdmissionService_JoinSurfacesStoreExhaustion(t *testing.T) {
	joined := admissionBase.Add(-45 * time.Minute)
	existing := domain.NewSession("sess-1", "exam-1", "student-1", joined, nil, nil)
	repo := newFakeSessionRepository(existing)
	repo.mutateErr = repository.ErrStaleState
	service := NewAdmissionService(repo, newFakeExamRepository(admissionExam()), newFakeRosterRepository(admissionStudent()), &fakeEventPublisher{}, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return admissionBase })

	_, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if repo.mutateCalls != defaultStoreAttempts {
		t.Errorf("expected %d attempts, got %d", defaultStoreAttempts, repo.mutateCalls)
	}
}

func TestAdmissionService_JoinRetriesStaleState(t *testing.T) {
	joined := admissionBase.Add(-45 * time.Minute)
	existing := domain.NewSession("sess-1", "exam-1", "student-1", joined, nil, nil)
	repo := newFakeSessionRepository(existing)
	repo.mutateErr = repository.ErrStaleState
	repo.mutateErrs = 2
	service := NewAdmissionService(repo, newFakeExamRepository(admissionExam()), newFakeRosterRepository(admissionStudent()), &fakeEventPublisher{}, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return admissionBase })

	_, _, err := service.Join(context.Background(), "MATH26", "student-1", ClientMeta{})
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected lazy timeout to land on the third attempt, got %v", err)
	}
	if repo.mutateCalls != 3 {
		t.Errorf("expected 3 mutate attempts, got %d", repo.mutateCalls)
	}
}
