// Package spira provides a client for the internal tracking system's REST API.
package spira

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

	// servicePath is the REST entry point under the application web root.
	servicePath = "/Services/v5_0/RestService.svc/"
)

// Client encapsulates the internal system's REST API. A client is bound to
// one set of credentials; project scope is carried per call.
type Client struct {
	webRoot    string
	login      string
	apiKey     string
	httpClient *http.Client

	productName string
}

// NewClient creates a client from configuration. The connection is not
// probed here; Authenticate does that at the start of a run.
func NewClient(cfg *config.Config) (*Client, error) {
	if err := config.ValidateSpiraConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to load internal system configuration: %w", err)
	}

	logging.Info("internal system configuration",
		"url", cfg.Spira.URL,
		"login", cfg.Spira.Login,
		"api_key", logging.MaskSensitive(cfg.Spira.APIKey))

	return &Client{
		webRoot:     strings.TrimRight(cfg.Spira.URL, "/"),
		login:       cfg.Spira.Login,
		apiKey:      cfg.Spira.APIKey,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		productName: "SpiraTest",
	}, nil
}

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

	var respBody []byte
	operation := func() error {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.webRoot+servicePath+path, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("username", c.login)
		req.Header.Set("api-key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")
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
			// Validation faults arrive as 4xx with per-field messages in the
			// body; keep the full text for the log stream.
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

var errNotFound = fmt.Errorf("not found")

// decode unmarshals a response, logging the raw payload on a fault so a
// malformed response can be diagnosed without re-running.
func decode(path string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		logging.Error("failed to decode internal system response",
			"path", path, "error", err, "payload", string(data))
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

// Authenticate verifies the credentials by listing the projects visible to
// the sync account. The API is stateless per request, so this doubles as the
// between-phases session refresh.
func (c *Client) Authenticate(ctx context.Context) error {
	data, err := c.request(ctx, http.MethodGet, "projects", nil)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	var projects []struct {
		ProjectID int    `json:"ProjectId"`
		Name      string `json:"Name"`
	}
	if err := decode("projects", data, &projects); err != nil {
		return err
	}

	logging.Info("internal system authentication successful",
		"login", c.login, "projects_visible", len(projects))
	return nil
}

// ConnectProject verifies the sync account can see the project.
func (c *Client) ConnectProject(ctx context.Context, projectID int) error {
	_, err := c.request(ctx, http.MethodGet, fmt.Sprintf("projects/%d", projectID), nil)
	if err != nil {
		return fmt.Errorf("connecting to project %d: %w", projectID, err)
	}
	return nil
}

// IncidentCount returns the number of incidents created after the given time.
func (c *Client) IncidentCount(ctx context.Context, projectID int, createdAfter time.Time) (int, error) {
	path := fmt.Sprintf("projects/%d/incidents/count?creation-date=%s",
		projectID, url.QueryEscape(createdAfter.UTC().Format(time.RFC3339)))
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("counting incidents for project %d: %w", projectID, err)
	}

	var count int
	if err := decode(path, data, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Incidents retrieves one page of incidents created after the given time.
// startRow is 1-based.
func (c *Client) Incidents(ctx context.Context, projectID int, createdAfter time.Time, startRow, pageSize int) ([]models.Incident, error) {
	path := fmt.Sprintf("projects/%d/incidents/recent?creation-date=%s&start-row=%d&number-rows=%d",
		projectID, url.QueryEscape(createdAfter.UTC().Format(time.RFC3339)), startRow, pageSize)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing incidents for project %d: %w", projectID, err)
	}

	var remote []remoteIncident
	if err := decode(path, data, &remote); err != nil {
		return nil, err
	}

	incidents := make([]models.Incident, 0, len(remote))
	for _, r := range remote {
		incidents = append(incidents, r.toModel())
	}
	return incidents, nil
}

// IncidentByID fetches a single incident.
func (c *Client) IncidentByID(ctx context.Context, projectID, incidentID int) (*models.Incident, error) {
	path := fmt.Sprintf("projects/%d/incidents/%d", projectID, incidentID)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching incident %d: %w", incidentID, err)
	}

	var remote remoteIncident
	if err := decode(path, data, &remote); err != nil {
		return nil, err
	}
	incident := remote.toModel()
	return &incident, nil
}

// CreateIncident creates an incident and returns it with server-assigned ids.
func (c *Client) CreateIncident(ctx context.Context, incident *models.Incident) (*models.Incident, error) {
	path := fmt.Sprintf("projects/%d/incidents", incident.ProjectID)
	data, err := c.request(ctx, http.MethodPost, path, fromModel(incident))
	if err != nil {
		return nil, fmt.Errorf("creating incident: %w", err)
	}

	var remote remoteIncident
	if err := decode(path, data, &remote); err != nil {
		return nil, err
	}
	created := remote.toModel()
	return &created, nil
}

// UpdateIncident updates an incident in place.
func (c *Client) UpdateIncident(ctx context.Context, incident *models.Incident) error {
	path := fmt.Sprintf("projects/%d/incidents/%d", incident.ProjectID, incident.ID)
	if _, err := c.request(ctx, http.MethodPut, path, fromModel(incident)); err != nil {
		return fmt.Errorf("updating incident %d: %w", incident.ID, err)
	}
	return nil
}

// Comments lists an incident's comments.
func (c *Client) Comments(ctx context.Context, projectID, incidentID int) ([]models.IncidentComment, error) {
	path := fmt.Sprintf("projects/%d/incidents/%d/comments", projectID, incidentID)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing comments for incident %d: %w", incidentID, err)
	}

	var remote []remoteComment
	if err := decode(path, data, &remote); err != nil {
		return nil, err
	}

	comments := make([]models.IncidentComment, 0, len(remote))
	for _, r := range remote {
		comment := models.IncidentComment{
			IncidentID: r.ArtifactID,
			CreatorID:  r.UserID,
			Text:       r.Text,
		}
		if r.CommentID != nil {
			comment.ID = *r.CommentID
		}
		if r.CreationDate != nil {
			comment.CreatedAt = r.CreationDate.UTC()
		}
		comments = append(comments, comment)
	}
	return comments, nil
}

// AddComment appends one comment to an incident.
func (c *Client) AddComment(ctx context.Context, projectID int, comment models.IncidentComment) error {
	path := fmt.Sprintf("projects/%d/incidents/%d/comments", projectID, comment.IncidentID)
	payload := []remoteComment{{
		ArtifactID:   comment.IncidentID,
		UserID:       comment.CreatorID,
		Text:         comment.Text,
		CreationDate: wcfPtr(&comment.CreatedAt),
	}}
	if _, err := c.request(ctx, http.MethodPost, path, payload); err != nil {
		return fmt.Errorf("adding comment to incident %d: %w", comment.IncidentID, err)
	}
	return nil
}

// ReleaseByID fetches a single release.
func (c *Client) ReleaseByID(ctx context.Context, projectID, releaseID int) (*models.Release, error) {
	path := fmt.Sprintf("projects/%d/releases/%d", projectID, releaseID)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching release %d: %w", releaseID, err)
	}

	var remote remoteRelease
	if err := decode(path, data, &remote); err != nil {
		return nil, err
	}
	return releaseToModel(remote), nil
}

// CreateRelease creates a release and returns it with server-assigned ids.
func (c *Client) CreateRelease(ctx context.Context, release *models.Release) (*models.Release, error) {
	path := fmt.Sprintf("projects/%d/releases", release.ProjectID)
	payload := remoteRelease{
		ProjectID:     release.ProjectID,
		Name:          release.Name,
		VersionNumber: release.VersionNumber,
		Active:        release.Active,
		StartDate:     wcfPtr(release.StartDate),
		EndDate:       wcfPtr(release.EndDate),
	}
	data, err := c.request(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, fmt.Errorf("creating release: %w", err)
	}

	var remote remoteRelease
	if err := decode(path, data, &remote); err != nil {
		return nil, err
	}
	return releaseToModel(remote), nil
}

func releaseToModel(r remoteRelease) *models.Release {
	release := &models.Release{
		ProjectID:     r.ProjectID,
		Name:          r.Name,
		VersionNumber: r.VersionNumber,
		Active:        r.Active,
		StartDate:     timePtr(r.StartDate),
		EndDate:       timePtr(r.EndDate),
	}
	if r.ReleaseID != nil {
		release.ID = *r.ReleaseID
	}
	return release
}

// CustomProperties lists the custom property definitions configured for an
// artifact type in a project.
func (c *Client) CustomProperties(ctx context.Context, projectID int, artifactType models.ArtifactType) ([]models.CustomPropertyDefinition, error) {
	path := fmt.Sprintf("projects/%d/custom-properties/%d", projectID, int(artifactType))
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing custom properties for project %d: %w", projectID, err)
	}

	var remote []remotePropertyDefinition
	if err := decode(path, data, &remote); err != nil {
		return nil, err
	}

	defs := make([]models.CustomPropertyDefinition, 0, len(remote))
	for _, r := range remote {
		defs = append(defs, models.CustomPropertyDefinition{
			PropertyID: r.CustomPropertyID,
			Name:       r.Name,
			Type:       models.CustomPropertyType(r.CustomPropertyTypeID),
		})
	}
	return defs, nil
}

// Attachments lists the documents attached to an incident.
func (c *Client) Attachments(ctx context.Context, projectID, incidentID int) ([]models.Attachment, error) {
	path := fmt.Sprintf("projects/%d/artifact-types/%d/artifacts/%d/documents",
		projectID, int(models.ArtifactTypeIncident), incidentID)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing attachments for incident %d: %w", incidentID, err)
	}

	var remote []remoteDocument
	if err := decode(path, data, &remote); err != nil {
		return nil, err
	}

	attachments := make([]models.Attachment, 0, len(remote))
	for _, r := range remote {
		att := models.Attachment{
			FileName: r.FilenameOrURL,
			Size:     r.Size,
			IsURL:    r.AttachmentType == 2,
		}
		if r.AttachmentID != nil {
			att.ID = *r.AttachmentID
		}
		attachments = append(attachments, att)
	}
	return attachments, nil
}

// OpenAttachment downloads a document's binary content.
func (c *Client) OpenAttachment(ctx context.Context, projectID, attachmentID int) ([]byte, error) {
	path := fmt.Sprintf("projects/%d/documents/%d/open", projectID, attachmentID)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening attachment %d: %w", attachmentID, err)
	}

	var content []byte
	if err := decode(path, data, &content); err != nil {
		return nil, err
	}
	return content, nil
}

// AddFileAttachment attaches a file to an incident.
func (c *Client) AddFileAttachment(ctx context.Context, projectID, incidentID int, fileName string, data []byte) error {
	path := fmt.Sprintf("projects/%d/documents/file", projectID)
	payload := remoteDocument{
		FilenameOrURL:  fileName,
		Size:           len(data),
		AttachmentType: 1,
		ArtifactTypeID: int(models.ArtifactTypeIncident),
		ArtifactID:     incidentID,
		BinaryData:     data,
	}
	if _, err := c.request(ctx, http.MethodPost, path, payload); err != nil {
		return fmt.Errorf("attaching file %q to incident %d: %w", fileName, incidentID, err)
	}
	return nil
}

// AddWebLink attaches a URL document to an incident.
func (c *Client) AddWebLink(ctx context.Context, projectID, incidentID int, linkURL, description string) error {
	path := fmt.Sprintf("projects/%d/documents/url", projectID)
	payload := remoteDocument{
		FilenameOrURL:  linkURL,
		AttachmentType: 2,
		ArtifactTypeID: int(models.ArtifactTypeIncident),
		ArtifactID:     incidentID,
		Description:    description,
	}
	if _, err := c.request(ctx, http.MethodPost, path, payload); err != nil {
		return fmt.Errorf("attaching web link to incident %d: %w", incidentID, err)
	}
	return nil
}

// Associations lists an incident's artifact links.
func (c *Client) Associations(ctx context.Context, projectID, incidentID int) ([]models.Association, error) {
	path := fmt.Sprintf("projects/%d/associations?artifact-type=%d&artifact-id=%d",
		projectID, int(models.ArtifactTypeIncident), incidentID)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing associations for incident %d: %w", incidentID, err)
	}

	var remote []remoteAssociation
	if err := decode(path, data, &remote); err != nil {
		return nil, err
	}

	assocs := make([]models.Association, 0, len(remote))
	for _, r := range remote {
		assoc := models.Association{
			SourceArtType: models.ArtifactType(r.SourceArtifactTypeID),
			SourceID:      r.SourceArtifactID,
			DestArtType:   models.ArtifactType(r.DestArtifactTypeID),
			DestID:        r.DestArtifactID,
			Comment:       r.Comment,
			CreatorID:     r.CreatorID,
			CreationDate:  timePtr(r.CreationDate),
		}
		if r.ArtifactLinkID != nil {
			assoc.ID = *r.ArtifactLinkID
		}
		assocs = append(assocs, assoc)
	}
	return assocs, nil
}

// CreateAssociation links two artifacts.
func (c *Client) CreateAssociation(ctx context.Context, projectID int, assoc models.Association) error {
	path := fmt.Sprintf("projects/%d/associations", projectID)
	payload := remoteAssociation{
		SourceArtifactTypeID: int(assoc.SourceArtType),
		SourceArtifactID:     assoc.SourceID,
		DestArtifactTypeID:   int(assoc.DestArtType),
		DestArtifactID:       assoc.DestID,
		Comment:              assoc.Comment,
	}
	if _, err := c.request(ctx, http.MethodPost, path, payload); err != nil {
		return fmt.Errorf("creating association %d -> %d: %w", assoc.SourceID, assoc.DestID, err)
	}
	return nil
}

// UserByID fetches a user account; a missing user resolves to nil, not an
// error, so callers can treat it as a resolution miss.
func (c *Client) UserByID(ctx context.Context, userID int) (*models.User, error) {
	path := fmt.Sprintf("users/%d", userID)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		if err == errNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching user %d: %w", userID, err)
	}
	return userToModel(path, data)
}

// UserByLogin fetches a user account by username; a missing user resolves to
// nil, not an error.
func (c *Client) UserByLogin(ctx context.Context, login string) (*models.User, error) {
	path := "users/usernames/" + url.PathEscape(login)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		if err == errNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching user %q: %w", login, err)
	}
	return userToModel(path, data)
}

func userToModel(path string, data []byte) (*models.User, error) {
	var remote remoteUser
	if err := decode(path, data, &remote); err != nil {
		return nil, err
	}
	return &models.User{
		ID:       remote.UserID,
		Login:    remote.UserName,
		FullName: remote.FullName,
		Email:    remote.Email,
	}, nil
}

// ProductName returns the internal system's product name for back-links.
func (c *Client) ProductName() string {
	return c.productName
}

// IncidentURL returns the browser URL of an incident, used in back-link
// documents on the external side.
func (c *Client) IncidentURL(projectID, incidentID int) string {
	return fmt.Sprintf("%s/%d/Incident/%d.aspx", c.webRoot, projectID, incidentID)
}
