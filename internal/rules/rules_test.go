package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/kyc-engine/internal/model"
)

func TestLoadEmbeddedCatalog(t *testing.T) {
	catalog, err := Load()
	require.NoError(t, err)
	assert.Positive(t, catalog.Version)

	codes := catalog.SupportedCountries()
	assert.Contains(t, codes, "PK")
	assert.Contains(t, codes, "IN")
	assert.Contains(t, codes, "GB")
	assert.Contains(t, codes, "AE")
}

func TestForCountry(t *testing.T) {
	catalog, err := Load()
	require.NoError(t, err)

	rs, err := catalog.ForCountry("pk")
	require.NoError(t, err)
	assert.Equal(t, "PK", rs.Code)

	_, err = catalog.ForCountry("ZZ")
	assert.ErrorIs(t, err, ErrUnsupportedCountry)
}

func TestPakistanRuleSet(t *testing.T) {
	catalog, err := Load()
	require.NoError(t, err)
	rs, err := catalog.ForCountry("PK")
	require.NoError(t, err)

	id := rs.Document("national_id_card")
	require.NotNil(t, id)
	assert.True(t, id.Identity)
	assert.True(t, id.ExpiryCheck)
	assert.True(t, id.RequiresSide(model.SideFront))
	assert.True(t, id.RequiresSide(model.SideBack))

	bill := rs.Document("utility_bill")
	require.NotNil(t, bill)
	assert.True(t, bill.AddressProof)
	assert.Equal(t, 90, bill.MaxAgeDays)

	cnic := rs.Field("cnic")
	require.NotNil(t, cnic)
	assert.True(t, cnic.IdentityNum)
	assert.True(t, cnic.MatchesPattern("12345-1234567-1"))
	assert.True(t, cnic.MatchesPattern("1234512345671"))
	assert.False(t, cnic.MatchesPattern("12345"))
}

func TestCrossCheckDefaults(t *testing.T) {
	catalog, err := Load()
	require.NoError(t, err)

	for _, code := range catalog.SupportedCountries() {
		rs, err := catalog.ForCountry(code)
		require.NoError(t, err)
		for _, f := range rs.CrossCheckFields() {
			assert.Positive(t, f.Importance, "%s/%s: cross-check fields default to importance 1", code, f.Name)
			assert.NotEmpty(t, f.DocumentField, "%s/%s: cross-check fields need a document field", code, f.Name)
		}
	}
}

func TestLoadFileInvalidCatalog(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing version",
			yaml:    "countries: []\n",
			wantErr: "version",
		},
		{
			name: "duplicate country",
			yaml: `version: 1
countries:
  - code: PK
    name: Pakistan
    documents:
      - {type: a, name: A, sides: [front]}
  - code: PK
    name: Pakistan again
    documents:
      - {type: a, name: A, sides: [front]}
`,
			wantErr: "duplicate country",
		},
		{
			name: "bad pattern",
			yaml: `version: 1
countries:
  - code: PK
    name: Pakistan
    documents:
      - {type: a, name: A, sides: [front]}
    fields:
      - {name: f, type: text, pattern: "(["}
`,
			wantErr: "bad pattern",
		},
		{
			name: "address proof without max age",
			yaml: `version: 1
countries:
  - code: PK
    name: Pakistan
    documents:
      - {type: bill, name: Bill, sides: [front], address_proof: true}
`,
			wantErr: "max_age_days",
		},
		{
			name: "no identity document",
			yaml: `version: 1
countries:
  - code: PK
    name: Pakistan
    documents:
      - {type: bill, name: Bill, sides: [front], address_proof: true, max_age_days: 90}
`,
			wantErr: "no identity document",
		},
		{
			name: "conditional targets unknown document",
			yaml: `version: 1
countries:
  - code: PK
    name: Pakistan
    documents:
      - {type: a, name: A, sides: [front]}
    conditional_rules:
      - {when_field: x, equals: "true", require_document: nope, reason: r}
`,
			wantErr: "unknown document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "catalog.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			_, err := LoadFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/nonexistent/catalog.yaml")
	assert.Error(t, err)
}
