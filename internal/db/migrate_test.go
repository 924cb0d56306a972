package db

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationVersionsOrdersSQLFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_products.sql": {Data: []byte("SELECT 1;")},
		"migrations/002_sessions.sql": {Data: []byte("SELECT 1;")},
		"migrations/README.md":        {Data: []byte("notes")},
		"migrations/archive/old.sql":  {Data: []byte("SELECT 1;")},
	}

	versions, err := migrationVersions(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"002_sessions.sql", "010_products.sql"}, versions)
}

func TestMigrationVersionsMissingDir(t *testing.T) {
	_, err := migrationVersions(fstest.MapFS{})
	assert.Error(t, err)
}

func TestEmbeddedSchemaCreatesAuthTables(t *testing.T) {
	versions, err := migrationVersions(migrationFiles)
	require.NoError(t, err)
	require.NotEmpty(t, versions)

	script, err := fs.ReadFile(migrationFiles, "migrations/"+versions[0])
	require.NoError(t, err)

	for _, table := range []string{"users", "auth_login_attempts", "auth_sessions", "auth_password_resets", "products"} {
		assert.True(t, strings.Contains(string(script), "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
}
