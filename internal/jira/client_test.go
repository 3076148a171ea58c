package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/soldercli/solder/internal/config"
)

func testSettings(baseURL string) config.JiraSettings {
	return config.JiraSettings{
		BaseURL:    baseURL,
		Email:      "bot@example.com",
		APIToken:   "test-token",
		ProjectKey: "ABC",
		IssueType:  "Task",
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(testSettings(srv.URL))
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return client
}

func TestNewClientCredentialValidation(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*config.JiraSettings)
		wantError bool
	}{
		{
			name:   "All credentials provided",
			mutate: func(s *config.JiraSettings) {},
		},
		{
			name:      "Missing URL",
			mutate:    func(s *config.JiraSettings) { s.BaseURL = "" },
			wantError: true,
		},
		{
			name:      "Missing email",
			mutate:    func(s *config.JiraSettings) { s.Email = "" },
			wantError: true,
		},
		{
			name:      "Missing token",
			mutate:    func(s *config.JiraSettings) { s.APIToken = "" },
			wantError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			settings := testSettings("https://example.atlassian.net")
			tc.mutate(&settings)

			_, err := NewClient(settings)
			if (err != nil) != tc.wantError {
				t.Errorf("Expected error: %v, got error: %v", tc.wantError, err)
			}
			if tc.wantError && err != nil && !strings.Contains(err.Error(), "JIRA_") {
				t.Errorf("Error should name the missing variables, got: %v", err)
			}
		})
	}
}

func TestCreateIssuePayload(t *testing.T) {
	var gotBody map[string]any
	var gotAuth, gotPath, gotMethod string

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"10001","key":"ABC-123","self":"https://example/rest/api/3/issue/10001"}`)
	}))

	key, err := client.CreateIssue(context.Background(), CreateRequest{
		ProjectKey:  "ABC",
		IssueType:   "Task",
		Summary:     "[4217] Fix login timeout",
		Description: "First line\n\nSecond paragraph",
		Extra:       map[string]any{"labels": []string{"solder"}},
	})
	if err != nil {
		t.Fatalf("CreateIssue error: %v", err)
	}
	if key != "ABC-123" {
		t.Errorf("key = %q, want ABC-123", key)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/rest/api/3/issue" {
		t.Errorf("path = %s, want /rest/api/3/issue", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("auth = %q, want Basic", gotAuth)
	}

	fields, ok := gotBody["fields"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing fields object: %v", gotBody)
	}
	if project, _ := fields["project"].(map[string]any); project["key"] != "ABC" {
		t.Errorf("project = %v, want key ABC", fields["project"])
	}
	if issuetype, _ := fields["issuetype"].(map[string]any); issuetype["name"] != "Task" {
		t.Errorf("issuetype = %v, want name Task", fields["issuetype"])
	}
	if fields["summary"] != "[4217] Fix login timeout" {
		t.Errorf("summary = %v", fields["summary"])
	}
	if labels, _ := fields["labels"].([]any); len(labels) != 1 || labels[0] != "solder" {
		t.Errorf("extra fields not merged: %v", fields["labels"])
	}

	// Description must be an ADF document, not a bare string.
	desc, ok := fields["description"].(map[string]any)
	if !ok {
		t.Fatalf("description = %T, want ADF object", fields["description"])
	}
	if desc["type"] != "doc" {
		t.Errorf("description type = %v, want doc", desc["type"])
	}
	content, _ := desc["content"].([]any)
	if len(content) != 3 {
		t.Errorf("ADF paragraphs = %d, want 3 (text, blank, text)", len(content))
	}
}

func TestCreateIssueOmitsEmptyDescription(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"10001","key":"ABC-124"}`)
	}))

	_, err := client.CreateIssue(context.Background(), CreateRequest{
		ProjectKey: "ABC",
		IssueType:  "Task",
		Summary:    "No body",
	})
	if err != nil {
		t.Fatalf("CreateIssue error: %v", err)
	}

	fields := gotBody["fields"].(map[string]any)
	if _, present := fields["description"]; present {
		t.Error("empty description must be omitted from the payload")
	}
}

func TestCreateIssueErrorClassification(t *testing.T) {
	testCases := []struct {
		name        string
		status      int
		body        string
		rateLimited bool
		authFailed  bool
		transient   bool
		permanent   bool
		kind        string
	}{
		{
			name:        "Rate limited",
			status:      http.StatusTooManyRequests,
			body:        `{"errorMessages":["Rate limit exceeded"]}`,
			rateLimited: true,
			transient:   true,
			kind:        "rate_limited",
		},
		{
			name:       "Bad credentials",
			status:     http.StatusUnauthorized,
			authFailed: true,
			transient:  true,
			kind:       "auth",
		},
		{
			name:       "Forbidden",
			status:     http.StatusForbidden,
			authFailed: true,
			transient:  true,
			kind:       "auth",
		},
		{
			name:      "Validation failure",
			status:    http.StatusBadRequest,
			body:      `{"errors":{"summary":"Summary is required"}}`,
			permanent: true,
			kind:      "permanent",
		},
		{
			name:      "Server error",
			status:    http.StatusInternalServerError,
			transient: true,
			kind:      "server",
		},
		{
			name:      "Gateway timeout",
			status:    http.StatusGatewayTimeout,
			transient: true,
			kind:      "server",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))

			_, err := client.CreateIssue(context.Background(), CreateRequest{
				ProjectKey: "ABC", IssueType: "Task", Summary: "x",
			})
			if err == nil {
				t.Fatal("expected error")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %T (%v), want *APIError", err, err)
			}
			if apiErr.StatusCode != tc.status {
				t.Errorf("status = %d, want %d", apiErr.StatusCode, tc.status)
			}
			if apiErr.RateLimited() != tc.rateLimited {
				t.Errorf("RateLimited() = %v, want %v", apiErr.RateLimited(), tc.rateLimited)
			}
			if apiErr.AuthFailed() != tc.authFailed {
				t.Errorf("AuthFailed() = %v, want %v", apiErr.AuthFailed(), tc.authFailed)
			}
			if apiErr.Transient() != tc.transient {
				t.Errorf("Transient() = %v, want %v", apiErr.Transient(), tc.transient)
			}
			if apiErr.Permanent() != tc.permanent {
				t.Errorf("Permanent() = %v, want %v", apiErr.Permanent(), tc.permanent)
			}
			if apiErr.Kind() != tc.kind {
				t.Errorf("Kind() = %q, want %q", apiErr.Kind(), tc.kind)
			}
			if tc.body != "" && !strings.Contains(apiErr.Error(), tc.body) {
				t.Errorf("error should carry the response body: %v", apiErr)
			}
		})
	}
}

// The client must make exactly one HTTP attempt per call; retrying is the
// worker's job.
func TestCreateIssueSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.CreateIssue(context.Background(), CreateRequest{
		ProjectKey: "ABC", IssueType: "Task", Summary: "x",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("HTTP attempts = %d, want 1", calls.Load())
	}
}

func TestCheckProject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/project/ABC", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"key":"ABC","name":"Alpha","issueTypes":[{"id":"1","name":"Bug"},{"id":"2","name":"Task"}]}`)
	})
	client := newTestClient(t, mux)

	if err := client.CheckProject(context.Background(), "ABC", "Task"); err != nil {
		t.Errorf("CheckProject(Task) error: %v", err)
	}

	// Case differences in the configured type name are tolerated.
	if err := client.CheckProject(context.Background(), "ABC", "task"); err != nil {
		t.Errorf("CheckProject(task) error: %v", err)
	}

	err := client.CheckProject(context.Background(), "ABC", "Epic")
	if err == nil {
		t.Fatal("expected error for unavailable issue type")
	}
	if !strings.Contains(err.Error(), "Epic") || !strings.Contains(err.Error(), "Bug") {
		t.Errorf("error should name the missing and available types: %v", err)
	}
}

func TestCheckProjectAuthFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := client.CheckProject(context.Background(), "ABC", "Task")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.AuthFailed() {
		t.Errorf("err = %v, want auth APIError", err)
	}
}
