package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogue.yaml")
	content := `components:
  billing:
    owner: acme
    repo: billing-service
  gateway:
    owner: acme
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := Load(path, "github.com")
	require.NoError(t, err)

	entry, ok := reg.Lookup("billing")
	require.True(t, ok)
	assert.Equal(t, "acme", entry.Owner)
	assert.Equal(t, "billing-service", entry.Repo)

	// Repo defaults to the component name.
	entry, ok = reg.Lookup("gateway")
	require.True(t, ok)
	assert.Equal(t, "gateway", entry.Repo)

	assert.Equal(t, "https://github.com/acme/billing-service", reg.CanonicalURL("billing"))
	assert.Equal(t, "", reg.CanonicalURL("unknown"))
}

func TestLookupCaseInsensitive(t *testing.T) {
	reg := NewFromEntries(map[string]Entry{"Billing": {Owner: "acme"}}, "github.com")
	_, ok := reg.Lookup("billing")
	assert.True(t, ok)
	_, ok = reg.Lookup("BILLING")
	assert.True(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "github.com")
	require.Error(t, err)
}

func TestComponentsListsAll(t *testing.T) {
	reg := NewFromEntries(map[string]Entry{
		"billing": {Owner: "acme"},
		"gateway": {Owner: "acme"},
	}, "github.com")
	assert.ElementsMatch(t, []string{"billing", "gateway"}, reg.Components())
}
