package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/claudia-memory/claudia/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withTestRegistry redirects HOME to a tempdir so Registry tests never
// touch the operator's real ~/.claudia/registry.json.
func withTestRegistry(t *testing.T) *Registry {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home) // Windows fallback for os.UserHomeDir
	reg, err := NewRegistry()
	require.NoError(t, err)
	return reg
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := withTestRegistry(t)

	entry := RegistryEntry{
		ProjectHash:  utils.ProjectHash("/tmp/project-a"),
		ProjectDir:   "/tmp/project-a",
		DatabasePath: "/tmp/project-a/db.sqlite",
		PID:          os.Getpid(),
		Version:      "test",
		StartedAt:    time.Now(),
	}
	require.NoError(t, reg.Register(entry))

	daemons, err := reg.List()
	require.NoError(t, err)
	require.Len(t, daemons, 1)
	assert.Equal(t, entry.ProjectHash, daemons[0].ProjectHash)
	assert.True(t, daemons[0].Alive)
}

func TestRegistryPrunesDeadPID(t *testing.T) {
	reg := withTestRegistry(t)

	require.NoError(t, reg.Register(RegistryEntry{
		ProjectHash: "deadhash0001",
		PID:         999999, // astronomically unlikely to be a live PID
		StartedAt:   time.Now(),
	}))

	daemons, err := reg.List()
	require.NoError(t, err)
	assert.Empty(t, daemons)
}

func TestRegistryUnregister(t *testing.T) {
	reg := withTestRegistry(t)

	entry := RegistryEntry{ProjectHash: "samplehash01", PID: os.Getpid(), StartedAt: time.Now()}
	require.NoError(t, reg.Register(entry))
	require.NoError(t, reg.Unregister(entry.ProjectHash, entry.PID))

	daemons, err := reg.List()
	require.NoError(t, err)
	assert.Empty(t, daemons)
}

func TestFindByProjectDirNotFound(t *testing.T) {
	reg := withTestRegistry(t)

	_, err := reg.FindByProjectDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestIsProcessAlive(t *testing.T) {
	assert.True(t, isProcessAlive(os.Getpid()))
	assert.False(t, isProcessAlive(999999))
	assert.False(t, isProcessAlive(0))
}
