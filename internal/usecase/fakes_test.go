package usecase

import (
	"context"
	"sort"
	"time"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/core/port"
	"github.com/edukita/cbt-session-service/internal/repository"
)

type fakeSessionRepository struct {
	sessions map[string]*domain.Session

	createErr    error
	createErrs   int
	mutateErr    error
	mutateErrs   int
	latestMisses int
	createCalls  int
	mutateCalls  int
	latestCalls  int
	reportPage   *domain.ReportPage
	reportFilter domain.SessionFilter

	// race simulates a concurrent writer winning the version check: on the
	// matching Mutate attempt the closure runs, then race mutates the stored
	// row and the commit fails with ErrStaleState.
	raceAttempt int
	race        func(stored *domain.Session)
}

func newFakeSessionRepository(sessions ...domain.Session) *fakeSessionRepository {
	repo := &fakeSessionRepository{sessions: make(map[string]*domain.Session)}
	for i := range sessions {
		sessionCopy := sessions[i]
		if sessionCopy.StateVersion <= 0 {
			sessionCopy.StateVersion = 1
		}
		repo.sessions[sessionCopy.ID] = &sessionCopy
	}
	return repo
}

func copySession(session *domain.Session) *domain.Session {
	copied := *session
	if session.FinishedAt != nil {
		finishedAt := *session.FinishedAt
		copied.FinishedAt = &finishedAt
	}
	copied.Violations = append([]domain.Violation(nil), session.Violations...)
	return &copied
}

func (f *fakeSessionRepository) Create(ctx context.Context, session domain.Session) error {
	f.createCalls++
	if f.createErr != nil && (f.createErrs == 0 || f.createCalls <= f.createErrs) {
		return f.createErr
	}
	for _, existing := range f.sessions {
		if existing.ExamID == session.ExamID && existing.StudentID == session.StudentID && existing.IsLive() {
			return repository.ErrDuplicate
		}
	}
	f.sessions[session.ID] = copySession(&session)
	return nil
}

func (f *fakeSessionRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copySession(session), nil
}

func (f *fakeSessionRepository) Latest(ctx context.Context, examID, studentID string) (*domain.Session, error) {
	f.latestCalls++
	if f.latestCalls <= f.latestMisses {
		return nil, repository.ErrNotFound
	}
	var latest *domain.Session
	for _, session := range f.sessions {
		if session.ExamID != examID || session.StudentID != studentID {
			continue
		}
		if latest == nil || session.JoinedAt.After(latest.JoinedAt) {
			latest = session
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return copySession(latest), nil
}

func (f *fakeSessionRepository) Mutate(ctx context.Context, sessionID string, fn port.MutateFunc) (*domain.Session, error) {
	f.mutateCalls++
	if f.mutateErr != nil && (f.mutateErrs == 0 || f.mutateCalls <= f.mutateErrs) {
		return nil, f.mutateErr
	}
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	working := copySession(session)
	if err := fn(working); err != nil {
		return nil, err
	}
	if f.race != nil && f.mutateCalls == f.raceAttempt {
		f.race(session)
		session.StateVersion++
		return nil, repository.ErrStaleState
	}
	working.StateVersion++
	f.sessions[sessionID] = copySession(working)
	return copySession(working), nil
}

func (f *fakeSessionRepository) ListExpired(ctx context.Context, at time.Time, limit int) ([]domain.Session, error) {
	var expired []domain.Session
	for _, session := range f.sessions {
		if session.IsLive() {
			expired = append(expired, *copySession(session))
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].JoinedAt.Before(expired[j].JoinedAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (f *fakeSessionRepository) ListReport(ctx context.Context, filter domain.SessionFilter) (*domain.ReportPage, error) {
	f.reportFilter = filter
	if f.reportPage != nil {
		return f.reportPage, nil
	}
	return &domain.ReportPage{Rows: []domain.ReportRow{}}, nil
}

type fakeExamRepository struct {
	exams map[string]*domain.ExamDefinition
}

func newFakeExamRepository(exams ...domain.ExamDefinition) *fakeExamRepository {
	repo := &fakeExamRepository{exams: make(map[string]*domain.ExamDefinition)}
	for i := range exams {
		examCopy := exams[i]
		repo.exams[examCopy.ID] = &examCopy
	}
	return repo
}

func (f *fakeExamRepository) GetByToken(ctx context.Context, token string) (*domain.ExamDefinition, error) {
	for _, exam := range f.exams {
		if exam.Token == token {
			examCopy := *exam
			return &examCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeExamRepository) GetByID(ctx context.Context, examID string) (*domain.ExamDefinition, error) {
	exam, ok := f.exams[examID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	examCopy := *exam
	return &examCopy, nil
}

type fakeRosterRepository struct {
	students map[string]*domain.Student
}

func newFakeRosterRepository(students ...domain.Student) *fakeRosterRepository {
	repo := &fakeRosterRepository{students: make(map[string]*domain.Student)}
	for i := range students {
		studentCopy := students[i]
		repo.students[studentCopy.ID] = &studentCopy
	}
	return repo
}

func (f *fakeRosterRepository) GetStudent(ctx context.Context, studentID string) (*domain.Student, error) {
	student, ok := f.students[studentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	studentCopy := *student
	return &studentCopy, nil
}

type fakeEventPublisher struct {
	joined    []domain.SessionJoinedEvent
	penalized []domain.SessionPenalizedEvent
	finished  []domain.SessionFinishedEvent
	retaken   []domain.SessionRetakenEvent
	fail      error
}

func (f *fakeEventPublisher) PublishSessionJoined(ctx context.Context, event domain.SessionJoinedEvent) error {
	if f.fail != nil {
		return f.fail
	}
	f.joined = append(f.joined, event)
	return nil
}

func (f *fakeEventPublisher) PublishSessionPenalized(ctx context.Context, event domain.SessionPenalizedEvent) error {
	if f.fail != nil {
		return f.fail
	}
	f.penalized = append(f.penalized, event)
	return nil
}

func (f *fakeEventPublisher) PublishSessionFinished(ctx context.Context, event domain.SessionFinishedEvent) error {
	if f.fail != nil {
		return f.fail
	}
	f.finished = append(f.finished, event)
	return nil
}

func (f *fakeEventPublisher) PublishSessionRetaken(ctx context.Context, event domain.SessionRetakenEvent) error {
	if f.fail != nil {
		return f.fail
	}
	f.retaken = append(f.retaken, event)
	return nil
}

type fakeAuditRepository struct {
	entries []domain.OverrideAudit
	fail    error
}

func (f *fakeAuditRepository) Record(ctx context.Context, entry domain.OverrideAudit) error {
	if f.fail != nil {
		return f.fail
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeAnswerPurger struct {
	calls int
	fail  error
}

func (f *fakeAnswerPurger) PurgeAnswers(ctx context.Context, examID, studentID string) error {
	f.calls++
	if f.fail != nil {
		return f.fail
	}
	return nil
}

type fakeHeartbeatCache struct {
	values  map[string]time.Time
	deletes []string
}

func newFakeHeartbeatCache() *fakeHeartbeatCache {
	return &fakeHeartbeatCache{values: make(map[string]time.Time)}
}

func (f *fakeHeartbeatCache) SetLastHeartbeat(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error {
	f.values[sessionID] = at
	return nil
}

func (f *fakeHeartbeatCache) GetLastHeartbeat(ctx context.Context, sessionID string) (time.Time, bool, error) {
	at, ok := f.values[sessionID]
	return at, ok, nil
}

func (f *fakeHeartbeatCache) DeleteLastHeartbeat(ctx context.Context, sessionID string) error {
	delete(f.values, sessionID)
	f.deletes = append(f.deletes, sessionID)
	return nil
}

var (
	_ port.SessionRepository = (*fakeSessionRepository)(nil)
	_ port.ExamRepository    = (*fakeExamRepository)(nil)
	_ port.RosterRepository  = (*fakeRosterRepository)(nil)
	_ port.EventPublisher    = (*fakeEventPublisher)(nil)
	_ port.AuditRepository   = (*fakeAuditRepository)(nil)
	_ port.AnswerPurger      = (*fakeAnswerPurger)(nil)
	_ port.HeartbeatCache    = (*fakeHeartbeatCache)(nil)
)
