package redmine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwhitfield/trackbridge/pkg/models"
)

const dateLayout = "2006-01-02"

// wireDate handles the tracker's date-only fields (start_date, due_date).
type wireDate struct {
	time.Time
}

func (d wireDate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.UTC().Format(dateLayout) + `"`), nil
}

func (d *wireDate) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date value %s", s)
	}
	parsed, err := time.Parse(dateLayout, s[1:len(s)-1])
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	d.Time = parsed.UTC()
	return nil
}

func datePtr(d *wireDate) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	utc := d.UTC()
	return &utc
}

func wireDatePtr(t *time.Time) *wireDate {
	if t == nil {
		return nil
	}
	return &wireDate{*t}
}

// ref is the tracker's {"id": n, "name": "..."} association shape.
type ref struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

func refID(r *ref) *int {
	if r == nil {
		return nil
	}
	id := r.ID
	return &id
}

// wireCustomField carries a custom field whose value is either a single
// string or an array of strings, depending on the field's multiplicity.
type wireCustomField struct {
	ID       int
	Name     string
	Multiple bool
	Value    string
	Values   []string
}

func (f *wireCustomField) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       int             `json:"id"`
		Name     string          `json:"name"`
		Multiple bool            `json:"multiple"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.ID = raw.ID
	f.Name = raw.Name
	f.Multiple = raw.Multiple

	if len(raw.Value) == 0 || string(raw.Value) == "null" {
		return nil
	}
	if raw.Value[0] == '[' {
		f.Multiple = true
		return json.Unmarshal(raw.Value, &f.Values)
	}
	return json.Unmarshal(raw.Value, &f.Value)
}

func (f wireCustomField) MarshalJSON() ([]byte, error) {
	var value any = f.Value
	if f.Multiple {
		values := f.Values
		if values == nil {
			values = []string{}
		}
		value = values
	}
	return json.Marshal(struct {
		ID    int `json:"id"`
		Value any `json:"value"`
	}{ID: f.ID, Value: value})
}

// wireIssue is the tracker's issue payload as returned by the API.
type wireIssue struct {
	ID             int               `json:"id"`
	Project        *ref              `json:"project"`
	Tracker        *ref              `json:"tracker"`
	Status         *ref              `json:"status"`
	Priority       *ref              `json:"priority"`
	Author         *ref              `json:"author"`
	AssignedTo     *ref              `json:"assigned_to"`
	FixedVersion   *ref              `json:"fixed_version"`
	Subject        string            `json:"subject"`
	Description    string            `json:"description"`
	StartDate      *wireDate         `json:"start_date"`
	DueDate        *wireDate         `json:"due_date"`
	DoneRatio      int               `json:"done_ratio"`
	EstimatedHours *float64          `json:"estimated_hours"`
	CreatedOn      *time.Time        `json:"created_on"`
	UpdatedOn      *time.Time        `json:"updated_on"`
	CustomFields   []wireCustomField `json:"custom_fields"`
	Journals       []wireJournal     `json:"journals"`
	Relations      []wireRelation    `json:"relations"`
	Attachments    []wireAttachment  `json:"attachments"`
}

type wireJournal struct {
	ID        int       `json:"id"`
	User      *ref      `json:"user"`
	Notes     string    `json:"notes"`
	CreatedOn time.Time `json:"created_on"`
}

type wireRelation struct {
	ID           int    `json:"id"`
	IssueID      int    `json:"issue_id"`
	IssueToID    int    `json:"issue_to_id"`
	RelationType string `json:"relation_type"`
}

type wireAttachment struct {
	ID         int    `json:"id"`
	Filename   string `json:"filename"`
	Filesize   int    `json:"filesize"`
	ContentURL string `json:"content_url"`
}

// wireIssueRequest is the shape for issue creation. Associations are flat ids
// on the way in, unlike the nested refs the API returns.
type wireIssueRequest struct {
	ProjectID      int               `json:"project_id"`
	TrackerID      *int              `json:"tracker_id,omitempty"`
	StatusID       *int              `json:"status_id,omitempty"`
	PriorityID     *int              `json:"priority_id,omitempty"`
	AuthorID       *int              `json:"author_id,omitempty"`
	AssignedToID   *int              `json:"assigned_to_id,omitempty"`
	FixedVersionID *int              `json:"fixed_version_id,omitempty"`
	Subject        string            `json:"subject"`
	Description    string            `json:"description,omitempty"`
	StartDate      *wireDate         `json:"start_date,omitempty"`
	DueDate        *wireDate         `json:"due_date,omitempty"`
	DoneRatio      int               `json:"done_ratio,omitempty"`
	EstimatedHours *float64          `json:"estimated_hours,omitempty"`
	CustomFields   []wireCustomField `json:"custom_fields,omitempty"`
	Uploads        []wireUpload      `json:"uploads,omitempty"`
}

type wireUpload struct {
	Token       string `json:"token"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

type wireVersion struct {
	ID      int       `json:"id"`
	Project *ref      `json:"project"`
	Name    string    `json:"name"`
	Status  string    `json:"status"`
	DueDate *wireDate `json:"due_date"`
}

type wireUser struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Mail      string `json:"mail"`
}

type wireProject struct {
	ID         int    `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

func (w wireIssue) toModel() models.Issue {
	issue := models.Issue{
		ID:             w.ID,
		Subject:        w.Subject,
		Description:    w.Description,
		TrackerID:      refID(w.Tracker),
		StatusID:       refID(w.Status),
		PriorityID:     refID(w.Priority),
		AuthorID:       refID(w.Author),
		AssignedToID:   refID(w.AssignedTo),
		FixedVersionID: refID(w.FixedVersion),
		StartDate:      datePtr(w.StartDate),
		DueDate:        datePtr(w.DueDate),
		EstimatedHours: w.EstimatedHours,
		DoneRatio:      w.DoneRatio,
		CreatedOn:      w.CreatedOn,
		UpdatedOn:      w.UpdatedOn,
	}
	if w.Project != nil {
		issue.ProjectID = w.Project.ID
	}
	for _, f := range w.CustomFields {
		issue.CustomFields = append(issue.CustomFields, models.IssueCustomField{
			FieldID:  f.ID,
			Name:     f.Name,
			Multiple: f.Multiple,
			Value:    f.Value,
			Values:   f.Values,
		})
	}
	for _, j := range w.Journals {
		issue.Journals = append(issue.Journals, models.Journal{
			ID:        j.ID,
			UserID:    refID(j.User),
			Notes:     j.Notes,
			CreatedOn: j.CreatedOn.UTC(),
		})
	}
	for _, r := range w.Relations {
		issue.Relations = append(issue.Relations, models.IssueRelation{
			ID:        r.ID,
			IssueID:   r.IssueID,
			IssueToID: r.IssueToID,
			Type:      r.RelationType,
		})
	}
	for _, a := range w.Attachments {
		issue.Attachments = append(issue.Attachments, models.IssueAttachment{
			ID:         a.ID,
			FileName:   a.Filename,
			FileSize:   a.Filesize,
			ContentURL: a.ContentURL,
		})
	}
	return issue
}

func toRequest(issue *models.Issue) wireIssueRequest {
	req := wireIssueRequest{
		ProjectID:      issue.ProjectID,
		TrackerID:      issue.TrackerID,
		StatusID:       issue.StatusID,
		PriorityID:     issue.PriorityID,
		AuthorID:       issue.AuthorID,
		AssignedToID:   issue.AssignedToID,
		FixedVersionID: issue.FixedVersionID,
		Subject:        issue.Subject,
		Description:    issue.Description,
		StartDate:      wireDatePtr(issue.StartDate),
		DueDate:        wireDatePtr(issue.DueDate),
		DoneRatio:      issue.DoneRatio,
		EstimatedHours: issue.EstimatedHours,
	}
	for _, f := range issue.CustomFields {
		req.CustomFields = append(req.CustomFields, wireCustomField{
			ID:       f.FieldID,
			Multiple: f.Multiple,
			Value:    f.Value,
			Values:   f.Values,
		})
	}
	for _, u := range issue.Uploads {
		req.Uploads = append(req.Uploads, wireUpload{
			Token:       u.Token,
			Filename:    u.FileName,
			ContentType: u.ContentType,
		})
	}
	return req
}
