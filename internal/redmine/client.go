// Package redmine provides a client for the external issue tracker's REST API.
package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jwhitfield/trackbridge/internal/config"
	"github.com/jwhitfield/trackbridge/internal/logging"
	"github.com/jwhitfield/trackbridge/pkg/models"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetryTime   = 45 * time.Second
)

// Client encapsulates the external tracker's REST API. Authentication is a
// per-request API key header, so re-authenticating between phases is a
// fresh probe rather than a session renewal.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client from configuration. The connection is not
// probed here; Authenticate does that at the start of a run.
func NewClient(cfg *config.Config) (*Client, error) {
	if err := config.ValidateRedmineConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to load external tracker configuration: %w", err)
	}

	logging.Info("external tracker configuration",
		"url", cfg.Redmine.URL,
		"api_key", logging.MaskSensitive(cfg.Redmine.APIKey))

	return &Client{
		baseURL:    strings.TrimRight(cfg.Redmine.URL, "/"),
		apiKey:     cfg.Redmine.APIKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

var errNotFound = fmt.Errorf("not found")

// request sends one API call, retrying transient transport faults and 5xx
// responses with exponential backoff. 4xx responses are permanent.
func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	return c.send(ctx, method, c.baseURL+path, payload, "application/json")
}

func (c *Client) send(ctx context.Context, method, fullURL string, payload []byte, contentType string) ([]byte, error) {
	var respBody []byte
	operation := func() error {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("X-Redmine-API-Key", c.apiKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("server error: %s (status %d)", string(respBody), resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(errNotFound)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// Validation errors arrive as 422 with an "errors" array; keep the
			// full body for the log stream.
			return backoff.Permanent(fmt.Errorf("API error: %s (status %d)", string(respBody), resp.StatusCode))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxRetryTime
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return respBody, nil
}

// decode unmarshals a response, logging the raw payload on a fault so a
// malformed response can be diagnosed without re-running.
func decode(path string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		logging.Error("failed to decode external tracker response",
			"path", path, "error", err, "payload", string(data))
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

// Authenticate verifies the API key by fetching the account it belongs to.
func (c *Client) Authenticate(ctx context.Context) error {
	data, err := c.request(ctx, http.MethodGet, "/users/current.json", nil)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	var wrapper struct {
		User wireUser `json:"user"`
	}
	if err := decode("/users/current.json", data, &wrapper); err != nil {
		return err
	}

	logging.Info("external tracker authentication successful",
		"login", wrapper.User.Login)
	return nil
}

// ProjectByIdentifier resolves a project by its string identifier. A missing
// project resolves to nil so callers can apply the skip policy.
func (c *Client) ProjectByIdentifier(ctx context.Context, identifier string) (*models.ExternalProject, error) {
	path := "/projects/" + url.PathEscape(identifier) + ".json"
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		if err == errNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching project %q: %w", identifier, err)
	}

	var wrapper struct {
		Project wireProject `json:"project"`
	}
	if err := decode(path, data, &wrapper); err != nil {
		return nil, err
	}
	return &models.ExternalProject{
		ID:         wrapper.Project.ID,
		Identifier: wrapper.Project.Identifier,
		Name:       wrapper.Project.Name,
	}, nil
}

// Issues lists one page of a project's issues updated since the given time,
// regardless of status. offset is 0-based.
func (c *Client) Issues(ctx context.Context, projectID int, updatedSince time.Time, offset, limit int) ([]models.Issue, error) {
	query := url.Values{}
	query.Set("project_id", fmt.Sprintf("%d", projectID))
	query.Set("status_id", "*")
	query.Set("updated_on", ">="+updatedSince.UTC().Format(time.RFC3339))
	query.Set("offset", fmt.Sprintf("%d", offset))
	query.Set("limit", fmt.Sprintf("%d", limit))
	query.Set("sort", "id")

	path := "/issues.json?" + query.Encode()
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing issues for project %d: %w", projectID, err)
	}

	var wrapper struct {
		Issues []wireIssue `json:"issues"`
	}
	if err := decode(path, data, &wrapper); err != nil {
		return nil, err
	}

	issues := make([]models.Issue, 0, len(wrapper.Issues))
	for _, w := range wrapper.Issues {
		issues = append(issues, w.toModel())
	}
	return issues, nil
}

// IssueByID fetches one issue with its journals, relations and attachments.
func (c *Client) IssueByID(ctx context.Context, issueID int) (*models.Issue, error) {
	path := fmt.Sprintf("/issues/%d.json?include=journals,relations,attachments", issueID)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching issue %d: %w", issueID, err)
	}

	var wrapper struct {
		Issue wireIssue `json:"issue"`
	}
	if err := decode(path, data, &wrapper); err != nil {
		return nil, err
	}
	issue := wrapper.Issue.toModel()
	return &issue, nil
}

// CreateIssue creates an issue and returns it with server-assigned ids.
func (c *Client) CreateIssue(ctx context.Context, issue *models.Issue) (*models.Issue, error) {
	payload := struct {
		Issue wireIssueRequest `json:"issue"`
	}{Issue: toRequest(issue)}

	data, err := c.request(ctx, http.MethodPost, "/issues.json", payload)
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}

	var wrapper struct {
		Issue wireIssue `json:"issue"`
	}
	if err := decode("/issues.json", data, &wrapper); err != nil {
		return nil, err
	}
	created := wrapper.Issue.toModel()
	return &created, nil
}

// AddIssueNote appends one note to an issue.
func (c *Client) AddIssueNote(ctx context.Context, issueID int, notes string) error {
	payload := struct {
		Issue struct {
			Notes string `json:"notes"`
		} `json:"issue"`
	}{}
	payload.Issue.Notes = notes

	path := fmt.Sprintf("/issues/%d.json", issueID)
	if _, err := c.request(ctx, http.MethodPut, path, payload); err != nil {
		return fmt.Errorf("adding note to issue %d: %w", issueID, err)
	}
	return nil
}

// VersionByID fetches one version. A missing version resolves to nil so the
// caller can detect that a mapped version was deleted remotely.
func (c *Client) VersionByID(ctx context.Context, versionID int) (*models.Version, error) {
	path := fmt.Sprintf("/versions/%d.json", versionID)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		if err == errNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching version %d: %w", versionID, err)
	}

	var wrapper struct {
		Version wireVersion `json:"version"`
	}
	if err := decode(path, data, &wrapper); err != nil {
		return nil, err
	}
	return versionToModel(wrapper.Version), nil
}

// CreateVersion creates a version in a project.
func (c *Client) CreateVersion(ctx context.Context, projectID int, version *models.Version) (*models.Version, error) {
	payload := struct {
		Version struct {
			Name    string    `json:"name"`
			Status  string    `json:"status,omitempty"`
			DueDate *wireDate `json:"due_date,omitempty"`
		} `json:"version"`
	}{}
	payload.Version.Name = version.Name
	payload.Version.Status = version.Status
	payload.Version.DueDate = wireDatePtr(version.DueDate)

	path := fmt.Sprintf("/projects/%d/versions.json", projectID)
	data, err := c.request(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, fmt.Errorf("creating version %q in project %d: %w", version.Name, projectID, err)
	}

	var wrapper struct {
		Version wireVersion `json:"version"`
	}
	if err := decode(path, data, &wrapper); err != nil {
		return nil, err
	}
	return versionToModel(wrapper.Version), nil
}

func versionToModel(w wireVersion) *models.Version {
	version := &models.Version{
		ID:      w.ID,
		Name:    w.Name,
		Status:  w.Status,
		DueDate: datePtr(w.DueDate),
	}
	if w.Project != nil {
		version.ProjectID = w.Project.ID
	}
	return version
}

// CreateRelation links two issues.
func (c *Client) CreateRelation(ctx context.Context, issueID, issueToID int, relationType string) error {
	payload := struct {
		Relation struct {
			IssueToID    int    `json:"issue_to_id"`
			RelationType string `json:"relation_type"`
		} `json:"relation"`
	}{}
	payload.Relation.IssueToID = issueToID
	payload.Relation.RelationType = relationType

	path := fmt.Sprintf("/issues/%d/relations.json", issueID)
	if _, err := c.request(ctx, http.MethodPost, path, payload); err != nil {
		return fmt.Errorf("creating relation %d -> %d: %w", issueID, issueToID, err)
	}
	return nil
}

// UploadFile pushes raw file content and returns the token to reference it
// from a subsequent issue create/update.
func (c *Client) UploadFile(ctx context.Context, fileName string, data []byte) (models.Upload, error) {
	path := "/uploads.json?filename=" + url.QueryEscape(fileName)
	respBody, err := c.send(ctx, http.MethodPost, c.baseURL+path, data, "application/octet-stream")
	if err != nil {
		return models.Upload{}, fmt.Errorf("uploading file %q: %w", fileName, err)
	}

	var wrapper struct {
		Upload struct {
			Token string `json:"token"`
		} `json:"upload"`
	}
	if err := decode(path, respBody, &wrapper); err != nil {
		return models.Upload{}, err
	}
	return models.Upload{Token: wrapper.Upload.Token, FileName: fileName}, nil
}

// AttachUploads binds previously uploaded files to an issue.
func (c *Client) AttachUploads(ctx context.Context, issueID int, uploads []models.Upload) error {
	if len(uploads) == 0 {
		return nil
	}

	payload := struct {
		Issue struct {
			Uploads []wireUpload `json:"uploads"`
		} `json:"issue"`
	}{}
	for _, u := range uploads {
		payload.Issue.Uploads = append(payload.Issue.Uploads, wireUpload{
			Token:       u.Token,
			Filename:    u.FileName,
			ContentType: u.ContentType,
		})
	}

	path := fmt.Sprintf("/issues/%d.json", issueID)
	if _, err := c.request(ctx, http.MethodPut, path, payload); err != nil {
		return fmt.Errorf("attaching uploads to issue %d: %w", issueID, err)
	}
	return nil
}

// DownloadAttachment fetches an attachment's content by its absolute URL as
// returned in the issue's attachment list.
func (c *Client) DownloadAttachment(ctx context.Context, contentURL string) ([]byte, error) {
	data, err := c.send(ctx, http.MethodGet, contentURL, nil, "application/json")
	if err != nil {
		return nil, fmt.Errorf("downloading attachment %s: %w", contentURL, err)
	}
	return data, nil
}

// UserByID fetches a user account; a missing user resolves to nil, not an
// error, so callers can treat it as a resolution miss.
func (c *Client) UserByID(ctx context.Context, userID int) (*models.ExternalUser, error) {
	path := fmt.Sprintf("/users/%d.json", userID)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		if err == errNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching user %d: %w", userID, err)
	}

	var wrapper struct {
		User wireUser `json:"user"`
	}
	if err := decode(path, data, &wrapper); err != nil {
		return nil, err
	}
	return userToModel(wrapper.User), nil
}

// UserByLogin looks up a user account by login; a missing user resolves to
// nil, not an error.
func (c *Client) UserByLogin(ctx context.Context, login string) (*models.ExternalUser, error) {
	path := "/users.json?name=" + url.QueryEscape(login)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("searching user %q: %w", login, err)
	}

	var wrapper struct {
		Users []wireUser `json:"users"`
	}
	if err := decode(path, data, &wrapper); err != nil {
		return nil, err
	}

	// The name filter matches substrings; require an exact login match.
	for _, u := range wrapper.Users {
		if strings.EqualFold(u.Login, login) {
			return userToModel(u), nil
		}
	}
	return nil, nil
}

func userToModel(w wireUser) *models.ExternalUser {
	return &models.ExternalUser{
		ID:        w.ID,
		Login:     w.Login,
		FirstName: w.FirstName,
		LastName:  w.LastName,
		Mail:      w.Mail,
	}
}

// IssueURL returns the browser URL of an issue, used in back-link documents
// on the internal side.
func (c *Client) IssueURL(issueID int) string {
	return fmt.Sprintf("%s/issues/%d", c.baseURL, issueID)
}
