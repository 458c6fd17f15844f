package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parks-console/internal/models"
	"github.com/noah-isme/parks-console/internal/repository"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
)

func employeesDef() models.PageDefinition {
	return models.PageDefinition{
		ID:       "employees",
		Resource: "employees",
		PageSize: 2,
		Fields: []models.FieldSpec{
			{Name: "id", Type: models.FieldNumber},
			{Name: "fullName", Label: "Nombre", Type: models.FieldString, Required: true, Rules: "max=120"},
			{Name: "email", Label: "Correo", Type: models.FieldString, Required: true, Rules: "email"},
			{Name: "phone", Type: models.FieldString},
			{Name: "departmentId", Type: models.FieldNumber},
			{Name: "status", Type: models.FieldString, Rules: "omitempty,oneof=active inactive"},
			{Name: "hireDate", Type: models.FieldDate},
		},
		Filters: []models.FilterSpec{
			{Name: "search", Kind: models.FilterSearch, Fields: []string{"fullName", "email"}},
			{Name: "status", Kind: models.FilterEquals, Fields: []string{"status"}},
		},
		Columns: []models.ColumnSpec{{Header: "Nombre", Field: "fullName"}, {Header: "Correo", Field: "email"}},
		Import: &models.ImportSpec{
			Enabled:  true,
			Required: []string{"fullName", "email"},
			Defaults: map[string]string{"status": "active"},
			Synonyms: []models.FieldSynonyms{{Field: "departmentId", Matches: []string{"departamento"}}},
		},
		Roles: models.RoleSpec{Write: []models.UserRole{models.RoleAdmin, models.RoleHR}, Import: []models.UserRole{models.RoleAdmin}},
	}
}

type fakeCreator struct {
	mu        sync.Mutex
	bulkErr   error
	bulkCalls [][]models.Record
	results   func(records []models.Record) []models.RowResult
	created   []models.Record
	failEmail string
}

func (f *fakeCreator) BulkCreate(ctx context.Context, session *models.Session, resource string, records []models.Record) ([]models.RowResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls = append(f.bulkCalls, records)
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	if f.results != nil {
		return f.results(records), nil
	}
	out := make([]models.RowResult, len(records))
	for i := range records {
		out[i] = models.RowResult{Row: i, Success: true, ID: fmt.Sprintf("new-%d", i)}
	}
	return out, nil
}

func (f *fakeCreator) Create(ctx context.Context, session *models.Session, resource string, payload models.Record) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if payload["email"] == f.failEmail {
		return nil, appErrors.Clone(appErrors.ErrMutationFailed, "email already registered")
	}
	f.created = append(f.created, payload)
	out := payload.Clone()
	out["id"] = float64(len(f.created))
	return out, nil
}

func TestAutoMapUsesSynonyms(t *testing.T) {
	mapping := AutoMap([]string{"Nombre", "Correo Electrónico", "xyz123", "Departamento asignado", "Teléfono móvil"}, employeesDef())

	assert.Equal(t, "fullName", mapping["Nombre"])
	assert.Equal(t, "email", mapping["Correo Electrónico"])
	assert.Equal(t, "", mapping["xyz123"])
	assert.Equal(t, "departmentId", mapping["Departamento asignado"])
	assert.Equal(t, "phone", mapping["Teléfono móvil"])
}

func TestAutoMapAssignsEachFieldOnce(t *testing.T) {
	mapping := AutoMap([]string{"Email personal", "Correo trabajo"}, employeesDef())

	assert.Equal(t, "email", mapping["Email personal"])
	assert.Equal(t, "", mapping["Correo trabajo"])
}

func TestAutoMapIgnoresUndeclaredBuiltins(t *testing.T) {
	def := employeesDef()
	mapping := AutoMap([]string{"Dirección"}, def)
	assert.Equal(t, "", mapping["Dirección"])

	mapping = AutoMap([]string{"Dirección"}, models.PageDefinition{})
	assert.Equal(t, "address", mapping["Dirección"])
}

func TestImportPrepareBuildsPreview(t *testing.T) {
	svc := NewImportService(nil, nil, nil, ImportConfig{})
	var b strings.Builder
	b.WriteString("Nombre,Correo Electrónico,xyz123\n")
	for i := 1; i <= 7; i++ {
		fmt.Fprintf(&b, "Persona %d,p%d@parks.org,zzz\n", i, i)
	}

	draft, err := svc.Prepare(employeesDef(), "staff.csv", strings.NewReader(b.String()), nil)
	require.NoError(t, err)

	preview := svc.Preview(draft)
	assert.Equal(t, 7, preview.TotalRows)
	assert.Len(t, preview.SampleRows, 5)
	assert.Equal(t, "Persona 1", preview.SampleRows[0]["Nombre"])
	assert.Equal(t, []string{"xyz123"}, preview.Unmapped)
	assert.Equal(t, "email", preview.Mapping["Correo Electrónico"])
}

func TestImportPrepareRejectsMissingRequiredColumn(t *testing.T) {
	svc := NewImportService(nil, nil, nil, ImportConfig{})

	_, err := svc.Prepare(employeesDef(), "staff.csv", strings.NewReader("Nombre,xyz123\nAna,1"), nil)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrCSVParse.Code, appErr.Code)
	assert.Equal(t, "required column is missing", appErr.Details["email"])
}

func TestImportPrepareAcceptsManualMapping(t *testing.T) {
	svc := NewImportService(nil, nil, nil, ImportConfig{})

	draft, err := svc.Prepare(employeesDef(), "staff.csv", strings.NewReader("Nombre,Contacto\nAna,ana@parks.org"), models.ImportMapping{"Contacto": "email"})
	require.NoError(t, err)
	assert.Equal(t, "email", draft.Mapping["Contacto"])
}

func TestImportPrepareRejectsBadFiles(t *testing.T) {
	svc := NewImportService(nil, nil, nil, ImportConfig{})

	_, err := svc.Prepare(employeesDef(), "empty.csv", strings.NewReader(""), nil)
	assert.True(t, errors.Is(err, appErrors.ErrCSVParse))

	_, err = svc.Prepare(employeesDef(), "ragged.csv", strings.NewReader("Nombre,Correo\nAna"), nil)
	assert.True(t, errors.Is(err, appErrors.ErrCSVParse))

	def := employeesDef()
	def.Import = nil
	_, err = svc.Prepare(def, "staff.csv", strings.NewReader("Nombre,Correo\nAna,a@b.co"), nil)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestImportRemapValidates(t *testing.T) {
	svc := NewImportService(nil, nil, nil, ImportConfig{})
	draft, err := svc.Prepare(employeesDef(), "staff.csv", strings.NewReader("Nombre,Correo,Otro\nAna,a@b.co,x"), nil)
	require.NoError(t, err)

	err = svc.Remap(employeesDef(), draft, models.ImportMapping{"Nombre": "fullName", "Otro": "email"})
	require.NoError(t, err)
	assert.Equal(t, "email", draft.Mapping["Otro"])
	assert.Equal(t, "", draft.Mapping["Correo"])

	err = svc.Remap(employeesDef(), draft, models.ImportMapping{"Nombre": "fullName"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	err = svc.Remap(employeesDef(), draft, models.ImportMapping{"Nombre": "fullName", "Correo": "email", "Otro": "email"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestImportMapRowsReportsPerRowFailures(t *testing.T) {
	svc := NewImportService(nil, nil, nil, ImportConfig{})
	csv := "Nombre,Correo,xyz123,Departamento,Ingreso\n" +
		"Ana,ana@parks.org,junk,5,15/03/2023\n" +
		",luis@parks.org,junk,7,\n" +
		"Eva,not-an-email,junk,x,\n"
	def := employeesDef()
	def.Import.Synonyms = append(def.Import.Synonyms, models.FieldSynonyms{Field: "hireDate", Matches: []string{"ingreso"}})

	draft, err := svc.Prepare(def, "staff.csv", strings.NewReader(csv), nil)
	require.NoError(t, err)

	rows, failures := svc.MapRows(def, draft)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Row)
	assert.Equal(t, models.Record{"fullName": "Ana", "email": "ana@parks.org", "departmentId": 5.0, "hireDate": "2023-03-15", "status": "active"}, rows[0].Record)
	_, leaked := rows[0].Record["xyz123"]
	assert.False(t, leaked)

	require.Len(t, failures, 2)
	assert.Equal(t, models.RowFailure{Row: 2, Field: "fullName", Message: "is required"}, failures[0])
	assert.Equal(t, models.RowFailure{Row: 3, Field: "departmentId", Message: "must be a number"}, failures[1])
}

func TestImportCommitKeepsPartialSuccess(t *testing.T) {
	svc := NewImportService(nil, nil, nil, ImportConfig{})
	creator := &fakeCreator{results: func(records []models.Record) []models.RowResult {
		return []models.RowResult{
			{Row: 0, Success: true, ID: "a"},
			{Row: 1, Success: false, Error: "duplicate email"},
		}
	}}
	csv := "Nombre,Correo\nAna,ana@parks.org\nLuis,luis@parks.org\nEva,bad\n"
	draft, err := svc.Prepare(employeesDef(), "staff.csv", strings.NewReader(csv), nil)
	require.NoError(t, err)

	report, err := svc.Commit(context.Background(), &models.Session{UserID: "u-1"}, employeesDef(), draft, creator)
	require.NoError(t, err)

	require.Len(t, creator.bulkCalls, 1)
	assert.Len(t, creator.bulkCalls[0], 2)
	assert.Equal(t, 3, report.TotalRows)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 2, report.FailureCount)
	assert.Equal(t, []string{"a"}, report.CreatedIDs)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, 2, report.Failures[0].Row)
	assert.Equal(t, "duplicate email", report.Failures[0].Message)
	assert.Equal(t, 3, report.Failures[1].Row)
	assert.Equal(t, "email", report.Failures[1].Field)
}

func TestImportCommitFallsBackToSingleCreates(t *testing.T) {
	svc := NewImportService(nil, nil, nil, ImportConfig{FallbackConcurrency: 2})
	creator := &fakeCreator{bulkErr: repository.ErrBulkUnsupported, failEmail: "luis@parks.org"}
	csv := "Nombre,Correo\nAna,ana@parks.org\nLuis,luis@parks.org\nEva,eva@parks.org\n"
	draft, err := svc.Prepare(employeesDef(), "staff.csv", strings.NewReader(csv), nil)
	require.NoError(t, err)

	report, err := svc.Commit(context.Background(), nil, employeesDef(), draft, creator)
	require.NoError(t, err)
	assert.True(t, report.Fallback)
	assert.Equal(t, 2, report.SuccessCount)
	assert.Equal(t, 1, report.FailureCount)
	assert.Equal(t, models.RowFailure{Row: 2, Message: "email already registered"}, report.Failures[0])
	assert.Len(t, creator.created, 2)
}

func TestImportCommitPropagatesBatchFailure(t *testing.T) {
	svc := NewImportService(nil, nil, nil, ImportConfig{})
	creator := &fakeCreator{bulkErr: appErrors.Clone(appErrors.ErrMutationFailed, "service unavailable")}
	draft, err := svc.Prepare(employeesDef(), "staff.csv", strings.NewReader("Nombre,Correo\nAna,ana@parks.org"), nil)
	require.NoError(t, err)

	_, err = svc.Commit(context.Background(), nil, employeesDef(), draft, creator)
	assert.True(t, errors.Is(err, appErrors.ErrMutationFailed))
}
