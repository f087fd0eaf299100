package spira

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jwhitfield/trackbridge/pkg/models"
)

// wcfTime handles the service's WCF-style JSON date encoding
// ("/Date(1585715600000-0500)/"), falling back to RFC 3339 when the server
// is configured for ISO dates. All values are normalized to UTC.
type wcfTime struct {
	time.Time
}

var wcfDatePattern = regexp.MustCompile(`^\\?/Date\((-?\d+)(?:[+-]\d{4})?\)\\?/$`)

func (t wcfTime) MarshalJSON() ([]byte, error) {
	ms := t.UTC().UnixMilli()
	return []byte(fmt.Sprintf(`"\/Date(%d)\/"`, ms)), nil
}

func (t *wcfTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date value %s", s)
	}
	s = s[1 : len(s)-1]

	if m := wcfDatePattern.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid WCF date %q: %w", s, err)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

func wcfPtr(t *time.Time) *wcfTime {
	if t == nil {
		return nil
	}
	return &wcfTime{*t}
}

func timePtr(t *wcfTime) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// remoteIncident is the service's incident payload.
type remoteIncident struct {
	IncidentID        *int                   `json:"IncidentId"`
	ProjectID         int                    `json:"ProjectId"`
	Name              string                 `json:"Name"`
	Description       string                 `json:"Description"`
	IncidentStatusID  *int                   `json:"IncidentStatusId"`
	IncidentTypeID    *int                   `json:"IncidentTypeId"`
	PriorityID        *int                   `json:"PriorityId"`
	SeverityID        *int                   `json:"SeverityId"`
	OpenerID          *int                   `json:"OpenerId"`
	OwnerID           *int                   `json:"OwnerId"`
	DetectedReleaseID *int                   `json:"DetectedReleaseId"`
	ResolvedReleaseID *int                   `json:"ResolvedReleaseId"`
	EstimatedEffort   *int                   `json:"EstimatedEffort"`
	ActualEffort      *int                   `json:"ActualEffort"`
	ProjectedEffort   *int                   `json:"ProjectedEffort"`
	RemainingEffort   *int                   `json:"RemainingEffort"`
	CompletionPercent int                    `json:"CompletionPercent"`
	CreationDate      *wcfTime               `json:"CreationDate"`
	LastUpdateDate    wcfTime                `json:"LastUpdateDate"`
	StartDate         *wcfTime               `json:"StartDate"`
	ClosedDate        *wcfTime               `json:"ClosedDate"`
	CustomProperties  []remoteCustomProperty `json:"CustomProperties"`
}

type remoteCustomProperty struct {
	PropertyNumber   int      `json:"PropertyNumber"`
	Definition       *remotePropertyDefinition `json:"Definition,omitempty"`
	StringValue      *string  `json:"StringValue"`
	IntegerValue     *int     `json:"IntegerValue"`
	DecimalValue     *float64 `json:"DecimalValue"`
	BooleanValue     *bool    `json:"BooleanValue"`
	DateTimeValue    *wcfTime `json:"DateTimeValue"`
	IntegerListValue []int    `json:"IntegerListValue"`
}

type remotePropertyDefinition struct {
	CustomPropertyID int    `json:"CustomPropertyId"`
	Name             string `json:"Name"`
	CustomPropertyTypeID int `json:"CustomPropertyTypeId"`
}

type remoteComment struct {
	CommentID  *int     `json:"CommentId"`
	ArtifactID int      `json:"ArtifactId"`
	UserID     *int     `json:"UserId"`
	Text       string   `json:"Text"`
	CreationDate *wcfTime `json:"CreationDate"`
}

type remoteRelease struct {
	ReleaseID     *int     `json:"ReleaseId"`
	ProjectID     int      `json:"ProjectId"`
	Name          string   `json:"Name"`
	VersionNumber string   `json:"VersionNumber"`
	Active        bool     `json:"Active"`
	StartDate     *wcfTime `json:"StartDate"`
	EndDate       *wcfTime `json:"EndDate"`
}

type remoteDocument struct {
	AttachmentID   *int   `json:"AttachmentId"`
	FilenameOrURL  string `json:"FilenameOrUrl"`
	Size           int    `json:"Size"`
	AttachmentType int    `json:"AttachmentTypeId"` // 1 = file, 2 = url
	ArtifactTypeID int    `json:"ArtifactTypeId"`
	ArtifactID     int    `json:"ArtifactId"`
	Description    string `json:"Description"`
	BinaryData     []byte `json:"BinaryData,omitempty"`
}

type remoteAssociation struct {
	ArtifactLinkID       *int     `json:"ArtifactLinkId"`
	SourceArtifactTypeID int      `json:"SourceArtifactTypeId"`
	SourceArtifactID     int      `json:"SourceArtifactId"`
	DestArtifactTypeID   int      `json:"DestArtifactTypeId"`
	DestArtifactID       int      `json:"DestArtifactId"`
	Comment              string   `json:"Comment"`
	CreatorID            *int     `json:"CreatorId"`
	CreationDate         *wcfTime `json:"CreationDate"`
}

type remoteUser struct {
	UserID   int    `json:"UserId"`
	UserName string `json:"UserName"`
	FullName string `json:"FullName"`
	Email    string `json:"EmailAddress"`
}

func (r remoteIncident) toModel() models.Incident {
	incident := models.Incident{
		ProjectID:              r.ProjectID,
		Name:                   r.Name,
		Description:            r.Description,
		StatusID:               r.IncidentStatusID,
		TypeID:                 r.IncidentTypeID,
		PriorityID:             r.PriorityID,
		SeverityID:             r.SeverityID,
		OpenerID:               r.OpenerID,
		OwnerID:                r.OwnerID,
		DetectedReleaseID:      r.DetectedReleaseID,
		ResolvedReleaseID:      r.ResolvedReleaseID,
		EstimatedEffortMinutes: r.EstimatedEffort,
		ActualEffortMinutes:    r.ActualEffort,
		ProjectedEffortMinutes: r.ProjectedEffort,
		RemainingEffortMinutes: r.RemainingEffort,
		CompletionPercent:      r.CompletionPercent,
		CreationDate:           timePtr(r.CreationDate),
		LastUpdateDate:         r.LastUpdateDate.UTC(),
		StartDate:              timePtr(r.StartDate),
		ClosedDate:             timePtr(r.ClosedDate),
	}
	if r.IncidentID != nil {
		incident.ID = *r.IncidentID
	}
	for _, p := range r.CustomProperties {
		value := models.CustomPropertyValue{
			PropertyID:       p.PropertyNumber,
			StringValue:      p.StringValue,
			IntegerValue:     p.IntegerValue,
			DecimalValue:     p.DecimalValue,
			BooleanValue:     p.BooleanValue,
			DateValue:        timePtr(p.DateTimeValue),
			IntegerListValue: p.IntegerListValue,
		}
		if p.Definition != nil {
			value.Type = models.CustomPropertyType(p.Definition.CustomPropertyTypeID)
		}
		incident.CustomProperties = append(incident.CustomProperties, value)
	}
	return incident
}

func fromModel(incident *models.Incident) remoteIncident {
	r := remoteIncident{
		ProjectID:         incident.ProjectID,
		Name:              incident.Name,
		Description:       incident.Description,
		IncidentStatusID:  incident.StatusID,
		IncidentTypeID:    incident.TypeID,
		PriorityID:        incident.PriorityID,
		SeverityID:        incident.SeverityID,
		OpenerID:          incident.OpenerID,
		OwnerID:           incident.OwnerID,
		DetectedReleaseID: incident.DetectedReleaseID,
		ResolvedReleaseID: incident.ResolvedReleaseID,
		EstimatedEffort:   incident.EstimatedEffortMinutes,
		ActualEffort:      incident.ActualEffortMinutes,
		ProjectedEffort:   incident.ProjectedEffortMinutes,
		RemainingEffort:   incident.RemainingEffortMinutes,
		CompletionPercent: incident.CompletionPercent,
		CreationDate:      wcfPtr(incident.CreationDate),
		LastUpdateDate:    wcfTime{incident.LastUpdateDate},
		StartDate:         wcfPtr(incident.StartDate),
		ClosedDate:        wcfPtr(incident.ClosedDate),
	}
	if incident.ID != 0 {
		id := incident.ID
		r.IncidentID = &id
	}
	for _, p := range incident.CustomProperties {
		r.CustomProperties = append(r.CustomProperties, remoteCustomProperty{
			PropertyNumber:   p.PropertyID,
			StringValue:      p.StringValue,
			IntegerValue:     p.IntegerValue,
			DecimalValue:     p.DecimalValue,
			BooleanValue:     p.BooleanValue,
			DateTimeValue:    wcfPtr(p.DateValue),
			IntegerListValue: p.IntegerListValue,
		})
	}
	return r
}
