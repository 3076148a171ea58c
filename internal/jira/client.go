// Package jira creates issues in the external Jira site.
//
// The client performs exactly one HTTP attempt per call; retry policy belongs
// to the worker. Failures carry their HTTP status so callers can tell
// rate-limit and auth problems apart from the rest.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	jira "github.com/andygrunwald/go-jira"
	"github.com/soldercli/solder/internal/config"
)

// Client handles interactions with the JIRA API.
type Client struct {
	client *jira.Client
}

// CreateRequest describes the issue to create. Extra carries additional
// keyed fields (labels, custom fields) that are merged into the request
// without disturbing the core ones.
type CreateRequest struct {
	ProjectKey  string
	IssueType   string
	Summary     string
	Description string
	Extra       map[string]any
}

// NewClient creates a new JIRA client from a configuration snapshot.
func NewClient(settings config.JiraSettings) (*Client, error) {
	if settings.BaseURL == "" || settings.Email == "" || settings.APIToken == "" {
		return nil, fmt.Errorf("jira configuration incomplete: JIRA_URL, JIRA_EMAIL and JIRA_API_TOKEN are required")
	}

	// Jira Cloud authenticates API calls with email + API token over Basic auth
	tp := jira.BasicAuthTransport{
		Username: settings.Email,
		Password: settings.APIToken,
	}

	client, err := jira.NewClient(tp.Client(), settings.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}

	return &Client{client: client}, nil
}

// CreateIssue performs a single creation attempt against the v3 API and
// returns the new issue key. The description is converted to Atlassian
// Document Format, which the v3 endpoint requires for rich-text fields.
func (c *Client) CreateIssue(ctx context.Context, req CreateRequest) (string, error) {
	fields := map[string]any{
		"project":   map[string]any{"key": req.ProjectKey},
		"issuetype": map[string]any{"name": req.IssueType},
		"summary":   req.Summary,
	}
	if req.Description != "" {
		fields["description"] = textToADF(req.Description)
	}
	for k, v := range req.Extra {
		fields[k] = v
	}

	payload := map[string]any{"fields": fields}

	httpReq, err := c.client.NewRequestWithContext(ctx, http.MethodPost, "rest/api/3/issue", payload)
	if err != nil {
		return "", fmt.Errorf("build create request: %w", err)
	}

	// Create response only returns id, key, self.
	var created struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Self string `json:"self"`
	}
	resp, err := c.client.Do(httpReq, &created)
	if err != nil {
		return "", classify(resp, err)
	}
	if created.Key == "" {
		return "", fmt.Errorf("create response missing issue key")
	}

	return created.Key, nil
}

// CheckProject verifies that the configured project exists and offers the
// configured issue type. Used by the doctor command; a credential problem
// surfaces here as an APIError just as it would during a create.
func (c *Client) CheckProject(ctx context.Context, projectKey, issueType string) error {
	project, resp, err := c.client.Project.GetWithContext(ctx, projectKey)
	if err != nil {
		return classify(resp, err)
	}

	names := make([]string, 0, len(project.IssueTypes))
	for _, t := range project.IssueTypes {
		if strings.EqualFold(t.Name, issueType) {
			return nil
		}
		names = append(names, t.Name)
	}

	return fmt.Errorf("issue type %q not available in project %q (available: %s)",
		issueType, projectKey, strings.Join(names, ", "))
}
