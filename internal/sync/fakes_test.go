package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/jwhitfield/trackbridge/pkg/models"
)

// fakeInternal is an in-memory InternalClient. Zero values behave like an
// empty but healthy system; tests set error fields to force faults.
type fakeInternal struct {
	incidents   map[int]*models.Incident
	comments    map[int][]models.IncidentComment
	releases    map[int]*models.Release
	users       map[int]*models.User
	usersByName map[string]*models.User
	defs        []models.CustomPropertyDefinition
	attachments map[int][]models.Attachment
	fileContent map[int][]byte
	assocs      map[int][]models.Association

	createdIncidents []*models.Incident
	updatedIncidents []*models.Incident
	createdReleases  []*models.Release
	addedComments    []models.IncidentComment
	webLinks         []string
	addedFiles       []string
	createdAssocs    []models.Association

	nextIncidentID int
	nextReleaseID  int

	authCalls    int
	connectCalls int

	authErr           error
	connectErr        error
	countErr          error
	listErr           error
	getErr            error
	createIncidentErr error
	updateErr         error
	commentsErr       error
	defsErr           error
}

func newFakeInternal() *fakeInternal {
	return &fakeInternal{
		incidents:      make(map[int]*models.Incident),
		comments:       make(map[int][]models.IncidentComment),
		releases:       make(map[int]*models.Release),
		users:          make(map[int]*models.User),
		usersByName:    make(map[string]*models.User),
		attachments:    make(map[int][]models.Attachment),
		fileContent:    make(map[int][]byte),
		assocs:         make(map[int][]models.Association),
		nextIncidentID: 1000,
		nextReleaseID:  500,
	}
}

func (f *fakeInternal) addIncident(inc models.Incident) {
	copied := inc
	f.incidents[inc.ID] = &copied
}

func (f *fakeInternal) Authenticate(context.Context) error {
	f.authCalls++
	return f.authErr
}

func (f *fakeInternal) ConnectProject(context.Context, int) error {
	f.connectCalls++
	return f.connectErr
}

func (f *fakeInternal) IncidentCount(_ context.Context, _ int, createdAfter time.Time) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	count := 0
	for _, inc := range f.incidents {
		if inc.CreationDate == nil || !inc.CreationDate.Before(createdAfter) {
			count++
		}
	}
	return count, nil
}

func (f *fakeInternal) Incidents(_ context.Context, _ int, createdAfter time.Time, startRow, pageSize int) ([]models.Incident, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var all []models.Incident
	for id := 0; id < 100000 && len(all) < len(f.incidents); id++ {
		if inc, ok := f.incidents[id]; ok {
			if inc.CreationDate == nil || !inc.CreationDate.Before(createdAfter) {
				all = append(all, *inc)
			}
		}
	}
	if startRow > len(all) {
		return nil, nil
	}
	end := startRow - 1 + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[startRow-1 : end], nil
}

func (f *fakeInternal) IncidentByID(_ context.Context, _ int, incidentID int) (*models.Incident, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	inc, ok := f.incidents[incidentID]
	if !ok {
		return nil, fmt.Errorf("incident %d not found", incidentID)
	}
	copied := *inc
	return &copied, nil
}

func (f *fakeInternal) CreateIncident(_ context.Context, incident *models.Incident) (*models.Incident, error) {
	if f.createIncidentErr != nil {
		return nil, f.createIncidentErr
	}
	created := *incident
	created.ID = f.nextIncidentID
	f.nextIncidentID++
	f.incidents[created.ID] = &created
	f.createdIncidents = append(f.createdIncidents, &created)
	return &created, nil
}

func (f *fakeInternal) UpdateIncident(_ context.Context, incident *models.Incident) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	copied := *incident
	f.incidents[incident.ID] = &copied
	f.updatedIncidents = append(f.updatedIncidents, &copied)
	return nil
}

func (f *fakeInternal) Comments(_ context.Context, _ int, incidentID int) ([]models.IncidentComment, error) {
	if f.commentsErr != nil {
		return nil, f.commentsErr
	}
	return f.comments[incidentID], nil
}

func (f *fakeInternal) AddComment(_ context.Context, _ int, comment models.IncidentComment) error {
	f.comments[comment.IncidentID] = append(f.comments[comment.IncidentID], comment)
	f.addedComments = append(f.addedComments, comment)
	return nil
}

func (f *fakeInternal) ReleaseByID(_ context.Context, _ int, releaseID int) (*models.Release, error) {
	rel, ok := f.releases[releaseID]
	if !ok {
		return nil, fmt.Errorf("release %d not found", releaseID)
	}
	copied := *rel
	return &copied, nil
}

func (f *fakeInternal) CreateRelease(_ context.Context, release *models.Release) (*models.Release, error) {
	created := *release
	created.ID = f.nextReleaseID
	f.nextReleaseID++
	f.releases[created.ID] = &created
	f.createdReleases = append(f.createdReleases, &created)
	return &created, nil
}

func (f *fakeInternal) CustomProperties(context.Context, int, models.ArtifactType) ([]models.CustomPropertyDefinition, error) {
	if f.defsErr != nil {
		return nil, f.defsErr
	}
	return f.defs, nil
}

func (f *fakeInternal) Attachments(_ context.Context, _ int, incidentID int) ([]models.Attachment, error) {
	return f.attachments[incidentID], nil
}

func (f *fakeInternal) OpenAttachment(_ context.Context, _ int, attachmentID int) ([]byte, error) {
	data, ok := f.fileContent[attachmentID]
	if !ok {
		return nil, fmt.Errorf("attachment %d not found", attachmentID)
	}
	return data, nil
}

func (f *fakeInternal) AddFileAttachment(_ context.Context, _ int, incidentID int, fileName string, _ []byte) error {
	f.addedFiles = append(f.addedFiles, fmt.Sprintf("%d:%s", incidentID, fileName))
	return nil
}

func (f *fakeInternal) AddWebLink(_ context.Context, _ int, incidentID int, url, _ string) error {
	f.webLinks = append(f.webLinks, fmt.Sprintf("%d:%s", incidentID, url))
	return nil
}

func (f *fakeInternal) Associations(_ context.Context, _ int, incidentID int) ([]models.Association, error) {
	return f.assocs[incidentID], nil
}

func (f *fakeInternal) CreateAssociation(_ context.Context, _ int, assoc models.Association) error {
	f.createdAssocs = append(f.createdAssocs, assoc)
	return nil
}

func (f *fakeInternal) UserByID(_ context.Context, userID int) (*models.User, error) {
	return f.users[userID], nil
}

func (f *fakeInternal) UserByLogin(_ context.Context, login string) (*models.User, error) {
	return f.usersByName[login], nil
}

func (f *fakeInternal) ProductName() string {
	return "InternalTracker"
}

func (f *fakeInternal) IncidentURL(projectID, incidentID int) string {
	return fmt.Sprintf("https://internal.example.com/%d/Incident/%d.aspx", projectID, incidentID)
}

// fakeExternal is an in-memory ExternalClient.
type fakeExternal struct {
	project     *models.ExternalProject
	issues      map[int]*models.Issue
	versions    map[int]*models.Version
	users       map[int]*models.ExternalUser
	usersByName map[string]*models.ExternalUser
	files       map[string][]byte

	createdIssues   []*models.Issue
	notes           map[int][]string
	createdVersions []*models.Version
	relations       []models.IssueRelation
	uploads         []models.Upload
	attached        map[int][]models.Upload

	nextIssueID   int
	nextVersionID int

	authCalls int

	authErr      error
	projectErr   error
	listErr      error
	getErr       error
	createErr    error
	noteErr      error
	versionErr   error
}

func newFakeExternal() *fakeExternal {
	return &fakeExternal{
		project:       &models.ExternalProject{ID: 77, Identifier: "bridge", Name: "Bridge"},
		issues:        make(map[int]*models.Issue),
		versions:      make(map[int]*models.Version),
		users:         make(map[int]*models.ExternalUser),
		usersByName:   make(map[string]*models.ExternalUser),
		files:         make(map[string][]byte),
		notes:         make(map[int][]string),
		attached:      make(map[int][]models.Upload),
		nextIssueID:   9000,
		nextVersionID: 300,
	}
}

func (f *fakeExternal) addIssue(issue models.Issue) {
	copied := issue
	f.issues[issue.ID] = &copied
}

func (f *fakeExternal) Authenticate(context.Context) error {
	f.authCalls++
	return f.authErr
}

func (f *fakeExternal) ProjectByIdentifier(_ context.Context, identifier string) (*models.ExternalProject, error) {
	if f.projectErr != nil {
		return nil, f.projectErr
	}
	if f.project != nil && f.project.Identifier == identifier {
		copied := *f.project
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeExternal) Issues(_ context.Context, projectID int, updatedSince time.Time, offset, limit int) ([]models.Issue, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var all []models.Issue
	for id := 0; id < 100000 && len(all) < len(f.issues); id++ {
		if issue, ok := f.issues[id]; ok {
			if issue.ProjectID != projectID {
				continue
			}
			if issue.UpdatedOn != nil && issue.UpdatedOn.Before(updatedSince) {
				continue
			}
			all = append(all, *issue)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeExternal) IssueByID(_ context.Context, issueID int) (*models.Issue, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	issue, ok := f.issues[issueID]
	if !ok {
		return nil, fmt.Errorf("issue %d not found", issueID)
	}
	copied := *issue
	return &copied, nil
}

func (f *fakeExternal) CreateIssue(_ context.Context, issue *models.Issue) (*models.Issue, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	created := *issue
	created.ID = f.nextIssueID
	f.nextIssueID++
	f.issues[created.ID] = &created
	f.createdIssues = append(f.createdIssues, &created)
	return &created, nil
}

func (f *fakeExternal) AddIssueNote(_ context.Context, issueID int, notes string) error {
	if f.noteErr != nil {
		return f.noteErr
	}
	f.notes[issueID] = append(f.notes[issueID], notes)
	return nil
}

func (f *fakeExternal) VersionByID(_ context.Context, versionID int) (*models.Version, error) {
	if f.versionErr != nil {
		return nil, f.versionErr
	}
	version, ok := f.versions[versionID]
	if !ok {
		return nil, nil
	}
	copied := *version
	return &copied, nil
}

func (f *fakeExternal) CreateVersion(_ context.Context, projectID int, version *models.Version) (*models.Version, error) {
	if f.versionErr != nil {
		return nil, f.versionErr
	}
	created := *version
	created.ID = f.nextVersionID
	created.ProjectID = projectID
	f.nextVersionID++
	f.versions[created.ID] = &created
	f.createdVersions = append(f.createdVersions, &created)
	return &created, nil
}

func (f *fakeExternal) CreateRelation(_ context.Context, issueID, issueToID int, relationType string) error {
	f.relations = append(f.relations, models.IssueRelation{IssueID: issueID, IssueToID: issueToID, Type: relationType})
	return nil
}

func (f *fakeExternal) UploadFile(_ context.Context, fileName string, data []byte) (models.Upload, error) {
	token := fmt.Sprintf("token-%d", len(f.uploads)+1)
	upload := models.Upload{Token: token, FileName: fileName}
	f.uploads = append(f.uploads, upload)
	f.files[token] = data
	return upload, nil
}

func (f *fakeExternal) AttachUploads(_ context.Context, issueID int, uploads []models.Upload) error {
	f.attached[issueID] = append(f.attached[issueID], uploads...)
	return nil
}

func (f *fakeExternal) DownloadAttachment(_ context.Context, contentURL string) ([]byte, error) {
	data, ok := f.files[contentURL]
	if !ok {
		return nil, fmt.Errorf("no content at %s", contentURL)
	}
	return data, nil
}

func (f *fakeExternal) UserByID(_ context.Context, userID int) (*models.ExternalUser, error) {
	return f.users[userID], nil
}

func (f *fakeExternal) UserByLogin(_ context.Context, login string) (*models.ExternalUser, error) {
	return f.usersByName[login], nil
}

func (f *fakeExternal) IssueURL(issueID int) string {
	return fmt.Sprintf("https://external.example.com/issues/%d", issueID)
}

// fakeRepo is an in-memory MappingRepository.
type fakeRepo struct {
	projects    []models.ProjectMapping
	artifacts   []models.ArtifactMapping
	fieldValues []models.FieldValueMapping
	props       []models.CustomPropertyMapping
	propValues  []models.CustomPropertyValueMapping
	userLinks   []models.UserMapping

	addCalls    int
	removeCalls int

	projectsErr error
	addErr      error
}

func (f *fakeRepo) ProjectMappings(context.Context) ([]models.ProjectMapping, error) {
	if f.projectsErr != nil {
		return nil, f.projectsErr
	}
	return f.projects, nil
}

func (f *fakeRepo) ArtifactMappings(_ context.Context, projectID int, artifactType models.ArtifactType) ([]models.ArtifactMapping, error) {
	var out []models.ArtifactMapping
	for _, m := range f.artifacts {
		if m.ProjectID == projectID && m.ArtifactType == artifactType {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) FieldValueMappings(_ context.Context, projectID int) ([]models.FieldValueMapping, error) {
	var out []models.FieldValueMapping
	for _, m := range f.fieldValues {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) CustomPropertyMappings(_ context.Context, projectID int, artifactType models.ArtifactType) ([]models.CustomPropertyMapping, error) {
	var out []models.CustomPropertyMapping
	for _, m := range f.props {
		if m.ProjectID == projectID && m.ArtifactType == artifactType {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) CustomPropertyValueMappings(_ context.Context, projectID int) ([]models.CustomPropertyValueMapping, error) {
	var out []models.CustomPropertyValueMapping
	for _, m := range f.propValues {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) UserMappings(context.Context) ([]models.UserMapping, error) {
	return f.userLinks, nil
}

func (f *fakeRepo) AddArtifactMappings(_ context.Context, mappings []models.ArtifactMapping) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.addCalls++
	for _, m := range mappings {
		exists := false
		for _, have := range f.artifacts {
			if have.ProjectID == m.ProjectID && have.ArtifactType == m.ArtifactType && have.InternalID == m.InternalID {
				exists = true
				break
			}
		}
		if !exists {
			f.artifacts = append(f.artifacts, m)
		}
	}
	return nil
}

func (f *fakeRepo) RemoveArtifactMappings(_ context.Context, mappings []models.ArtifactMapping) error {
	f.removeCalls++
	for _, m := range mappings {
		kept := f.artifacts[:0]
		for _, have := range f.artifacts {
			if have.ProjectID == m.ProjectID && have.ArtifactType == m.ArtifactType && have.InternalID == m.InternalID {
				continue
			}
			kept = append(kept, have)
		}
		f.artifacts = kept
	}
	return nil
}

func intPtr(v int) *int          { return &v }
func strPtr(v string) *string    { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool       { return &v }
func timeValPtr(t time.Time) *time.Time { return &t }
