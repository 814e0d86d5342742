package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	appctx "github.com/chronoflow/timetracker/internal/context"
)

// testEnvelope mirrors the API response envelope for assertions.
type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestRouter(repo *mockSessionRepository, asUser string) http.Handler {
	mgr := newTestManager(repo, newMockSettingsRepository())
	handler := NewHandler(mgr, nil)

	r := chi.NewRouter()
	if asUser != "" {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				ctx := context.WithValue(req.Context(), appctx.UserIDKey, asUser)
				next.ServeHTTP(w, req.WithContext(ctx))
			})
		})
	}
	RegisterRoutes(r, handler)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path, body, userAgent, ip string) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if ip != "" {
		req.RemoteAddr = ip + ":51234"
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not a valid envelope: %v (%s)", err, rec.Body.String())
	}
	return rec, env
}

func TestSessionCreate_Returns201(t *testing.T) {
	repo := newMockSessionRepository()
	router := newTestRouter(repo, "user-1")

	rec, env := doRequest(t, router, http.MethodPost, "/users/user-1/sessions", "", "Mozilla/5.0", "203.0.113.10")

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !env.Success {
		t.Error("expected success envelope")
	}

	var view SessionView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("bad session view: %v", err)
	}
	if !view.IsCurrent {
		t.Error("freshly created session should be current")
	}
	if view.IPAddress != "203.0.113.10" {
		t.Errorf("expected request IP recorded, got %q", view.IPAddress)
	}
}

func TestSessionCreate_OtherUserForbidden(t *testing.T) {
	repo := newMockSessionRepository()
	router := newTestRouter(repo, "user-1")

	rec, env := doRequest(t, router, http.MethodPost, "/users/user-2/sessions", "", "Mozilla/5.0", "203.0.113.10")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "UNAUTHORIZED_ACCESS" {
		t.Errorf("expected UNAUTHORIZED_ACCESS error, got %+v", env.Error)
	}
}

func TestSessionCreate_NoIdentityUnauthorized(t *testing.T) {
	repo := newMockSessionRepository()
	router := newTestRouter(repo, "")

	rec, _ := doRequest(t, router, http.MethodPost, "/users/user-1/sessions", "", "Mozilla/5.0", "203.0.113.10")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSessionList_CurrentFirst(t *testing.T) {
	repo := newMockSessionRepository()
	now := time.Now().UTC()

	other := testSession("user-1", now)
	other.UserAgent = "curl/8.0"
	repo.put(other)

	mine := testSession("user-1", now.Add(-time.Minute))
	mine.UserAgent = "Mozilla/5.0"
	repo.put(mine)

	router := newTestRouter(repo, "user-1")
	rec, env := doRequest(t, router, http.MethodGet, "/users/user-1/sessions", "", "Mozilla/5.0", "203.0.113.10")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var data struct {
		Sessions []SessionView `json:"sessions"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("bad list payload: %v", err)
	}
	if len(data.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(data.Sessions))
	}
	if !data.Sessions[0].IsCurrent || data.Sessions[0].ID != mine.ID {
		t.Error("expected the current session listed first")
	}
	if data.Sessions[1].IsCurrent {
		t.Error("only one session may be current")
	}
}

func TestSessionTerminate_OtherSession(t *testing.T) {
	repo := newMockSessionRepository()
	now := time.Now().UTC()

	current := testSession("user-1", now)
	current.UserAgent = "Mozilla/5.0"
	repo.put(current)

	other := testSession("user-1", now.Add(-time.Minute))
	other.UserAgent = "curl/8.0"
	repo.put(other)

	router := newTestRouter(repo, "user-1")
	rec, env := doRequest(t, router, http.MethodDelete,
		"/users/user-1/sessions/"+other.ID.String(), "", "Mozilla/5.0", "203.0.113.10")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if data["sessionId"] != other.ID.String() {
		t.Errorf("expected terminated session id echoed, got %q", data["sessionId"])
	}
	if _, err := repo.GetByID(context.Background(), other.ID); err == nil {
		t.Error("expected session removed from store")
	}
}

func TestSessionTerminate_CurrentRefused(t *testing.T) {
	repo := newMockSessionRepository()
	now := time.Now().UTC()

	current := testSession("user-1", now)
	current.UserAgent = "Mozilla/5.0"
	repo.put(current)

	router := newTestRouter(repo, "user-1")
	rec, env := doRequest(t, router, http.MethodDelete,
		"/users/user-1/sessions/"+current.ID.String(), "", "Mozilla/5.0", "203.0.113.10")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "CANNOT_TERMINATE_CURRENT_SESSION" {
		t.Errorf("expected CANNOT_TERMINATE_CURRENT_SESSION, got %+v", env.Error)
	}
	if _, err := repo.GetByID(context.Background(), current.ID); err != nil {
		t.Error("current session must survive the refused terminate")
	}
}

func TestSessionTerminate_ForeignSessionReadsAsAbsent(t *testing.T) {
	repo := newMockSessionRepository()
	now := time.Now().UTC()

	foreign := testSession("user-2", now)
	repo.put(foreign)

	router := newTestRouter(repo, "user-1")
	rec, env := doRequest(t, router, http.MethodDelete,
		"/users/user-1/sessions/"+foreign.ID.String(), "", "Mozilla/5.0", "203.0.113.10")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's session, got %d", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "SESSION_NOT_FOUND" {
		t.Errorf("expected SESSION_NOT_FOUND, got %+v", env.Error)
	}
}

func TestSessionTerminate_MalformedID(t *testing.T) {
	repo := newMockSessionRepository()
	router := newTestRouter(repo, "user-1")

	rec, _ := doRequest(t, router, http.MethodDelete,
		"/users/user-1/sessions/not-a-uuid", "", "Mozilla/5.0", "203.0.113.10")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed id, got %d", rec.Code)
	}
}

func TestHeartbeat_AdvancesActivity(t *testing.T) {
	repo := newMockSessionRepository()
	now := time.Now().UTC()

	s := testSession("user-1", now.Add(-time.Hour))
	repo.put(s)

	router := newTestRouter(repo, "user-1")
	rec, _ := doRequest(t, router, http.MethodPost,
		"/users/user-1/sessions/"+s.ID.String()+"/heartbeat", "", "Mozilla/5.0", "203.0.113.10")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	got, _ := repo.GetByID(context.Background(), s.ID)
	if !got.LastActivity.After(now.Add(-time.Hour)) {
		t.Error("heartbeat did not advance last activity")
	}
}

func TestHeartbeat_StoreErrorIsNot404(t *testing.T) {
	repo := newMockSessionRepository()
	now := time.Now().UTC()

	s := testSession("user-1", now)
	repo.put(s)
	repo.failReads = true

	router := newTestRouter(repo, "user-1")
	rec, env := doRequest(t, router, http.MethodPost,
		"/users/user-1/sessions/"+s.ID.String()+"/heartbeat", "", "Mozilla/5.0", "203.0.113.10")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on store failure, got %d", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "STORE_UNAVAILABLE" {
		t.Errorf("expected STORE_UNAVAILABLE, got %+v", env.Error)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	repo := newMockSessionRepository()
	now := time.Now().UTC()

	s := testSession("user-1", now)
	s.UserAgent = "Mozilla/5.0"
	repo.put(s)

	router := newTestRouter(repo, "user-1")

	rec, env := doRequest(t, router, http.MethodPost, "/logout", "", "Mozilla/5.0", "203.0.113.10")
	if rec.Code != http.StatusOK {
		t.Fatalf("first logout: expected 200, got %d", rec.Code)
	}
	var data map[string]string
	json.Unmarshal(env.Data, &data)
	if data["sessionId"] != s.ID.String() {
		t.Errorf("expected deleted session id echoed, got %q", data["sessionId"])
	}

	// Second logout finds nothing to delete but still succeeds.
	rec, _ = doRequest(t, router, http.MethodPost, "/logout", "", "Mozilla/5.0", "203.0.113.10")
	if rec.Code != http.StatusOK {
		t.Fatalf("second logout: expected 200, got %d", rec.Code)
	}
}
