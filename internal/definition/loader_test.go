package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parks-console/internal/models"
)

func TestLoaderLoadDirShippedPages(t *testing.T) {
	defs, err := NewLoader(nil).LoadDir("../../configs/pages")
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	reg := NewRegistry(defs)
	employees, ok := reg.Get("employees")
	require.True(t, ok)
	assert.Equal(t, "employees", employees.CollectionKey())
	assert.Equal(t, 10, employees.PageSize)
	assert.NotEmpty(t, employees.SourceFile)

	status := findFilter(t, employees, "status")
	assert.Equal(t, models.FilterEquals, status.Kind)
	assert.Equal(t, []string{"status"}, status.Fields)
}

func TestLoaderParseNormalizesDefaults(t *testing.T) {
	def, err := NewLoader(nil).Parse([]byte(`
id: incomes
resource: /accounting/incomes/
fields:
  - {name: date, type: date}
  - {name: concept}
filters:
  - {name: period, kind: range, fields: [date]}
  - {name: categoryId}
`))
	require.NoError(t, err)

	assert.Equal(t, "accounting/incomes", def.Resource)
	assert.Equal(t, 10, def.PageSize)
	assert.Equal(t, models.FieldString, def.Fields[1].Type)
	assert.Equal(t, models.GranularityDay, def.Filters[0].Granularity)
	assert.Equal(t, models.FilterEquals, def.Filters[1].Kind)
	assert.Equal(t, []string{"categoryId"}, def.Filters[1].Fields)
}

func TestLoaderRejectsInvalidDefinitions(t *testing.T) {
	loader := NewLoader(nil)

	_, err := loader.LoadDir("testdata/invalid")
	require.Error(t, err)

	cases := map[string]string{
		"missing resource":  "id: x\n",
		"bad field type":    "id: x\nresource: x\nfields: [{name: a, type: money}]\n",
		"equals two fields": "id: x\nresource: x\nfilters: [{name: a, kind: equals, fields: [b, c]}]\n",
		"bad column format": "id: x\nresource: x\ncolumns: [{header: A, field: a, format: currency}]\n",
		"import undeclared": "id: x\nresource: x\nimport: {enabled: true, required: [email]}\n",
		"malformed yaml":    "id: [x\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loader.Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestRegistryDependentsOf(t *testing.T) {
	reg := NewRegistry([]models.PageDefinition{
		{ID: "employees", Resource: "employees", Dependents: []string{"department-summary"}},
		{ID: "employees-archive", Resource: "employees", Dependents: []string{"department-summary", "archive"}},
		{ID: "trees", Resource: "trees"},
	})

	assert.Equal(t, []string{"employees", "department-summary", "archive"}, reg.DependentsOf("employees"))
	assert.Equal(t, []string{"trees"}, reg.DependentsOf("trees"))

	ids := make([]string, 0)
	for _, def := range reg.All() {
		ids = append(ids, def.ID)
	}
	assert.Equal(t, []string{"employees", "employees-archive", "trees"}, ids)
}

func findFilter(t *testing.T, def models.PageDefinition, name string) models.FilterSpec {
	t.Helper()
	for _, f := range def.Filters {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("filter %q not found", name)
	return models.FilterSpec{}
}
