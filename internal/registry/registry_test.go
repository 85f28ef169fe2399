package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalogue = `
recordTypes:
  - name: court-cases
    pageSize: 500
    source:
      countPath: /court-cases/ids
      idsPath: /court-cases/ids
      fetchPath: /court-cases
      byContainerPath: /bookings/court-cases
      containerIdKey: bookingId
    target:
      createPath: /court-case
      recordPath: /court-case
      movePath: /court-case/move
  - name: adjudications
    source:
      countPath: /adjudications/ids
      idsPath: /adjudications/ids
      fetchPath: /adjudications
    target:
      createPath: /adjudication
      recordPath: /adjudication
`

func TestParseCatalogue(t *testing.T) {
	c, err := Parse([]byte(sampleCatalogue))
	require.NoError(t, err)
	assert.Equal(t, []string{"court-cases", "adjudications"}, c.Names())

	rt, ok := c.Get("court-cases")
	require.True(t, ok)
	assert.Equal(t, 500, rt.PageSize)

	ep := rt.Endpoints()
	assert.Equal(t, "/court-cases/ids", ep.CountPath)
	assert.Equal(t, "/court-case/move", ep.MovePath)
	assert.Equal(t, "bookingId", ep.ContainerIDKey)

	_, ok = c.Get("unknown")
	assert.False(t, ok)
}

func TestParseRejectsInvalidCatalogues(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"empty", "recordTypes: []", "no recordTypes"},
		{"missing name", `
recordTypes:
  - source: {countPath: /a, idsPath: /a, fetchPath: /a}
    target: {createPath: /b, recordPath: /b}
`, "name is required"},
		{"duplicate name", `
recordTypes:
  - name: x
    source: {countPath: /a, idsPath: /a, fetchPath: /a}
    target: {createPath: /b, recordPath: /b}
  - name: x
    source: {countPath: /a, idsPath: /a, fetchPath: /a}
    target: {createPath: /b, recordPath: /b}
`, "duplicate name"},
		{"missing source paths", `
recordTypes:
  - name: x
    source: {countPath: /a}
    target: {createPath: /b, recordPath: /b}
`, "fetchPath are required"},
		{"missing target paths", `
recordTypes:
  - name: x
    source: {countPath: /a, idsPath: /a, fetchPath: /a}
    target: {createPath: /b}
`, "recordPath are required"},
		{"not yaml", "recordTypes: [", "parse record types"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
