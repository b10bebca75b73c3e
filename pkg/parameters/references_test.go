package parameters_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsstore/pkg/parameters"
	"github.com/systmms/dsstore/pkg/provider"
)

func TestParseSecretReferences(t *testing.T) {
	t.Parallel()

	text := `{
  "db": "${secret.projects/p/secrets/db-pass/versions/latest}",
  "api": "${secret.projects/p/locations/us-east1/secrets/api-key/versions/3}",
  "again": "${secret.projects/p/secrets/db-pass/versions/latest}",
  "bad": "${secret.db-pass}",
  "plain": "${HOME}"
}`
	refs := parameters.ParseSecretReferences(text)
	require.Len(t, refs, 3)

	assert.Equal(t, "db-pass", refs[0].Name)
	assert.Error(t, refs[0].Err)

	assert.Equal(t, "projects/p/locations/us-east1/secrets/api-key/versions/3", refs[1].Name)
	require.NoError(t, refs[1].Err)
	assert.Equal(t, "us-east1", refs[1].Path.Location)
	assert.Equal(t, "api-key", refs[1].Path.ID)
	assert.Equal(t, "3", refs[1].Version)

	assert.Equal(t, "${secret.projects/p/secrets/db-pass/versions/latest}", refs[2].Placeholder)
	assert.Equal(t, provider.KindSecret, refs[2].Path.Kind)
	assert.Equal(t, "latest", refs[2].Version)
}

func TestParseSecretReferences_None(t *testing.T) {
	t.Parallel()

	assert.Empty(t, parameters.ParseSecretReferences("port: 8080"))
	assert.Empty(t, parameters.ParseSecretReferences(""))
}
