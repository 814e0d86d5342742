package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chronoflow/timetracker/internal/config"
	"github.com/chronoflow/timetracker/internal/repository"
	"github.com/chronoflow/timetracker/internal/session"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*repository.Session
	failList bool
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]*repository.Session)}
}

func (f *fakeSessionStore) put(s *repository.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
}

func (f *fakeSessionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeSessionStore) Create(ctx context.Context, s *repository.Session) error {
	f.put(s)
	return nil
}

func (f *fakeSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*repository.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) GetActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*repository.Session, error) {
	return nil, nil
}

func (f *fakeSessionStore) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

func (f *fakeSessionStore) MarkInactive(ctx context.Context, id uuid.UUID, reason string) error {
	return nil
}

func (f *fakeSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return repository.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessionStore) DeleteBatch(ctx context.Context, ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := f.sessions[id]; ok {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionStore) List(ctx context.Context, afterID uuid.UUID, limit int) ([]*repository.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, errors.New("store unavailable")
	}
	var out []*repository.Session
	for _, s := range f.sessions {
		if s.ID.String() > afterID.String() {
			cp := *s
			out = append(out, &cp)
		}
	}
	// Id order so pagination terminates.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ID.String() < out[i].ID.String() {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSessionStore) DeleteDefunctForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	return 0, nil
}

type fakeSettingsStore struct{}

func (f *fakeSettingsStore) GetOrCreate(ctx context.Context, userID string) (*repository.UserSecuritySettings, error) {
	return &repository.UserSecuritySettings{
		UserID:                 userID,
		SessionTimeoutMinutes:  repository.DefaultSessionTimeoutMinutes,
		AllowMultipleSessions:  true,
		MaxFailedAttempts:      repository.DefaultMaxFailedAttempts,
		LockoutDurationMinutes: repository.DefaultLockoutDurationMinutes,
	}, nil
}

func (f *fakeSettingsStore) Update(ctx context.Context, s *repository.UserSecuritySettings) error {
	return nil
}

func (f *fakeSettingsStore) IncrementFailedAttempts(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

func (f *fakeSettingsStore) ResetFailedAttempts(ctx context.Context, userID string) error {
	return nil
}

func (f *fakeSettingsStore) SetLockout(ctx context.Context, userID string, until time.Time) error {
	return nil
}

func (f *fakeSettingsStore) RecordPasswordChange(ctx context.Context, userID string, at time.Time) error {
	return nil
}

type fakeHistoryStore struct {
	expired    int64
	deleteErr  error
	deleteRuns int
}

func (f *fakeHistoryStore) Add(ctx context.Context, entry *repository.PasswordHistoryEntry) error {
	return nil
}

func (f *fakeHistoryStore) GetRecent(ctx context.Context, userID string, limit int) ([]*repository.PasswordHistoryEntry, error) {
	return nil, nil
}

func (f *fakeHistoryStore) PruneUser(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (f *fakeHistoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.deleteRuns++
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.expired, nil
}

func newTestJob(store *fakeSessionStore, history *fakeHistoryStore) *Job {
	lifecycle := session.NewLifecycleManager(store, &fakeSettingsStore{}, 24*time.Hour, 0, 0, nil)
	cfg := config.SweepConfig{
		Interval: time.Hour,
		PageSize: 10,
		Enabled:  true,
	}
	return NewJob(lifecycle, history, cfg, nil)
}

func seedSession(store *fakeSessionStore, mutate func(*repository.Session)) uuid.UUID {
	now := time.Now().UTC()
	s := &repository.Session{
		ID:             uuid.New(),
		UserID:         "user-1",
		LoginTime:      now.Add(-time.Hour),
		LastActivity:   now.Add(-time.Minute),
		ExpiresAt:      now.Add(12 * time.Hour),
		IsActive:       true,
		TimeoutMinutes: repository.DefaultSessionTimeoutMinutes,
		IPAddress:      "203.0.113.10",
		UserAgent:      "Mozilla/5.0",
	}
	if mutate != nil {
		mutate(s)
	}
	store.put(s)
	return s.ID
}

func TestRunNow_DeletesDefunctSessions(t *testing.T) {
	store := newFakeSessionStore()
	history := &fakeHistoryStore{expired: 3}
	job := newTestJob(store, history)

	now := time.Now().UTC()
	healthy := seedSession(store, nil)
	seedSession(store, func(s *repository.Session) {
		s.ExpiresAt = now.Add(-time.Hour)
	})
	seedSession(store, func(s *repository.Session) {
		s.IsActive = false
	})
	seedSession(store, func(s *repository.Session) {
		s.LoginTime = now.Add(-31 * 24 * time.Hour)
	})

	result, err := job.RunNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.SessionsScanned != 4 {
		t.Errorf("scanned: got %d, want 4", result.SessionsScanned)
	}
	if result.SessionsDeleted != 3 {
		t.Errorf("deleted: got %d, want 3", result.SessionsDeleted)
	}
	if result.HistoryDeleted != 3 {
		t.Errorf("history deleted: got %d, want 3", result.HistoryDeleted)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}

	if result.ByReason["expired"] != 1 || result.ByReason["inactive"] != 1 || result.ByReason["orphaned"] != 1 {
		t.Errorf("unexpected reason breakdown: %v", result.ByReason)
	}

	if _, err := store.GetByID(context.Background(), healthy); err != nil {
		t.Error("healthy session must survive the sweep")
	}
	if store.count() != 1 {
		t.Errorf("remaining sessions: got %d, want 1", store.count())
	}
}

func TestRunNow_NothingToDelete(t *testing.T) {
	store := newFakeSessionStore()
	history := &fakeHistoryStore{}
	job := newTestJob(store, history)

	seedSession(store, nil)
	seedSession(store, nil)

	result, err := job.RunNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SessionsDeleted != 0 {
		t.Errorf("deleted: got %d, want 0", result.SessionsDeleted)
	}
	if history.deleteRuns != 1 {
		t.Error("history prune must run even when no sessions are defunct")
	}
}

func TestRunNow_ScanFailureAborts(t *testing.T) {
	store := newFakeSessionStore()
	store.failList = true
	history := &fakeHistoryStore{}
	job := newTestJob(store, history)

	if _, err := job.RunNow(context.Background()); err == nil {
		t.Fatal("expected scan failure to abort the run")
	}
	if history.deleteRuns != 0 {
		t.Error("history prune must not run after an aborted scan")
	}
}

func TestRunNow_HistoryPruneFailureIsNonFatal(t *testing.T) {
	store := newFakeSessionStore()
	history := &fakeHistoryStore{deleteErr: errors.New("store unavailable")}
	job := newTestJob(store, history)

	seedSession(store, func(s *repository.Session) {
		s.IsActive = false
	})

	result, err := job.RunNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SessionsDeleted != 1 {
		t.Errorf("deleted: got %d, want 1", result.SessionsDeleted)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected the prune failure recorded, got %v", result.Errors)
	}
}

func TestStartStop(t *testing.T) {
	store := newFakeSessionStore()
	job := newTestJob(store, &fakeHistoryStore{})

	if err := job.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !job.IsRunning() {
		t.Error("expected job running after start")
	}
	if err := job.Start(); err == nil {
		t.Error("expected second start to fail")
	}

	// The immediate run on start should record a result.
	deadline := time.Now().Add(2 * time.Second)
	for job.LastResult() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if job.LastResult() == nil {
		t.Error("expected a sweep result after start")
	}

	job.Stop()
	if job.IsRunning() {
		t.Error("expected job stopped")
	}
}

func TestStart_Disabled(t *testing.T) {
	store := newFakeSessionStore()
	lifecycle := session.NewLifecycleManager(store, &fakeSettingsStore{}, 24*time.Hour, 0, 0, nil)
	job := NewJob(lifecycle, &fakeHistoryStore{}, config.SweepConfig{Enabled: false}, nil)

	if err := job.Start(); err != nil {
		t.Fatalf("disabled start: %v", err)
	}
	if job.IsRunning() {
		t.Error("disabled job must not run")
	}
}
