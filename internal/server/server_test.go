package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soldercli/solder/internal/config"
	"github.com/soldercli/solder/internal/engine"
	"github.com/soldercli/solder/internal/store"
	"github.com/soldercli/solder/pkg/models"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func serverConfig() *config.Config {
	return &config.Config{
		Env: "test",
		Sync: config.SyncSettings{
			Enabled:         true,
			AcceptedStatus:  "status-accepted",
			RequiredRole:    "role-manager",
			SummaryTemplate: "[TRK-{{.ID}}] {{.Title}}",
		},
		Jira: config.JiraSettings{
			BaseURL:    "https://example.atlassian.net",
			Email:      "bot@example.com",
			APIToken:   "token",
			ProjectKey: "ABC",
			IssueType:  "Task",
		},
		Tracker: config.TrackerSettings{
			BaseURL: "https://tracker.example.com",
			Token:   "tracker-token",
		},
	}
}

func newTestServer(t *testing.T, webhookToken string) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	eng := engine.New(config.StaticProvider{Config: serverConfig()}, st)
	return New(eng, st, config.ServerSettings{
		ListenAddr:   ":0",
		WebhookToken: webhookToken,
	}), st
}

// firingEvent is a delivery that satisfies every trigger condition.
func firingEvent(id int64) map[string]any {
	return map[string]any{
		"before": map[string]any{
			"id": id, "project_id": "proj-1", "status_id": "status-new",
			"title": "Fix login",
		},
		"after": map[string]any{
			"id": id, "project_id": "proj-1", "status_id": "status-accepted",
			"title": "Fix login", "description": "Steps to reproduce",
		},
		"actor": map[string]any{
			"id": "user-9",
			"memberships": []map[string]any{
				{"project_id": "proj-1", "role_id": "role-manager"},
			},
		},
	}
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeOutcome(t *testing.T, w *httptest.ResponseRecorder) engine.Outcome {
	t.Helper()
	var out engine.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode outcome from %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := getJSON(t, srv.Router(), "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHookQueuesJob(t *testing.T) {
	srv, st := newTestServer(t, "hook-secret")
	router := srv.Router()

	w := postJSON(t, router, "/hooks/issue-saved", firingEvent(42),
		map[string]string{"X-Solder-Token": "hook-secret"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	out := decodeOutcome(t, w)
	if !out.Queued || out.Reason != engine.ReasonQueued {
		t.Errorf("outcome = %+v", out)
	}

	job, err := st.GetJob(context.Background(), 42)
	if err != nil {
		t.Fatalf("job not stored: %v", err)
	}
	if job.Payload.Title != "Fix login" {
		t.Errorf("payload = %+v", job.Payload)
	}
}

func TestHookAcceptsNonFiringEvents(t *testing.T) {
	srv, _ := newTestServer(t, "")
	router := srv.Router()

	// Re-save inside the accepted status: no edge, nothing queued, still 202.
	event := firingEvent(7)
	event["before"].(map[string]any)["status_id"] = "status-accepted"

	w := postJSON(t, router, "/hooks/issue-saved", event, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	out := decodeOutcome(t, w)
	if out.Queued || out.Reason != "no_edge" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestHookTokenCheck(t *testing.T) {
	srv, st := newTestServer(t, "hook-secret")
	router := srv.Router()

	w := postJSON(t, router, "/hooks/issue-saved", firingEvent(42),
		map[string]string{"X-Solder-Token": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", w.Code)
	}

	w = postJSON(t, router, "/hooks/issue-saved", firingEvent(42), nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d", w.Code)
	}

	if _, err := st.GetJob(context.Background(), 42); err == nil {
		t.Error("unauthenticated delivery must not queue a job")
	}
}

func TestHookRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, "")
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/hooks/issue-saved",
		bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("garbage body: status = %d", w.Code)
	}

	// A delivery with no after snapshot is undecidable.
	w = postJSON(t, router, "/hooks/issue-saved", map[string]any{
		"actor": map[string]any{"id": "user-1"},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing after: status = %d", w.Code)
	}
}

func TestJobsAPI(t *testing.T) {
	srv, st := newTestServer(t, "")
	router := srv.Router()
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	for _, id := range []int64{1, 2, 3} {
		if won, err := st.Claim(ctx, id, models.JobPayload{Title: fmt.Sprintf("job %d", id)}, now); err != nil || !won {
			t.Fatalf("claim %d: won=%v err=%v", id, won, err)
		}
	}
	// Job 3 fails terminally.
	if won, err := st.MarkInFlight(ctx, 3, "w1", now); err != nil || !won {
		t.Fatalf("mark in flight: %v", err)
	}
	if ok, err := st.MarkTerminal(ctx, 3, "w1", "jira API returned 400", now); err != nil || !ok {
		t.Fatalf("mark terminal: %v", err)
	}

	w := getJSON(t, router, "/api/jobs")
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d", w.Code)
	}
	var list struct {
		Jobs  []jobDTO `json:"jobs"`
		Count int      `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 3 {
		t.Errorf("count = %d, want 3", list.Count)
	}

	w = getJSON(t, router, "/api/jobs?state=failed_terminal")
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode filtered list: %v", err)
	}
	if list.Count != 1 || list.Jobs[0].ObjectID != 3 {
		t.Errorf("filtered list = %+v", list)
	}
	if list.Jobs[0].LastError != "jira API returned 400" {
		t.Errorf("last_error = %q", list.Jobs[0].LastError)
	}

	w = getJSON(t, router, "/api/jobs?state=bogus")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad state: status = %d", w.Code)
	}

	w = getJSON(t, router, "/api/jobs/2")
	if w.Code != http.StatusOK {
		t.Fatalf("show: status = %d", w.Code)
	}
	var job jobDTO
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.ObjectID != 2 || job.State != "pending" {
		t.Errorf("job = %+v", job)
	}

	w = getJSON(t, router, "/api/jobs/999")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing job: status = %d", w.Code)
	}

	w = getJSON(t, router, "/api/jobs/abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d", w.Code)
	}
}
