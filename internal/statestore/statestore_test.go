package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffcloud/skiff/internal/provisioning"
)

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	store := New(filepath.Join(t.TempDir(), "env", "state.yaml"))

	rs := provisioning.NewResourceSet("webapp", "a1b2c3", "us-east-1")
	rs.VPCID = "vpc-123"
	rs.SubnetIDs = []string{"subnet-1", "subnet-2"}
	rs.InstanceID = "i-456"

	require.NoError(t, store.Save(rs))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, rs, loaded)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	store := New(filepath.Join(t.TempDir(), "state.yaml"))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Empty())
}

func TestLoad_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vpc_id: [broken"), 0o600))

	_, err := New(path).Load()
	assert.Error(t, err)
}

func TestSave_RestrictedPermissions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.yaml")
	store := New(path)
	require.NoError(t, store.Save(provisioning.NewResourceSet("webapp", "a1b2c3", "us-east-1")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSave_Overwrites(t *testing.T) {
	t.Parallel()

	store := New(filepath.Join(t.TempDir(), "state.yaml"))

	rs := provisioning.NewResourceSet("webapp", "a1b2c3", "us-east-1")
	rs.VPCID = "vpc-123"
	require.NoError(t, store.Save(rs))

	rs.Reset()
	require.NoError(t, store.Save(rs))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Empty())
	assert.Equal(t, "webapp", loaded.AppName)
}
