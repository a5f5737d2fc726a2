package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateJob(newJob("j1", "h1")))
	_, err = s.ClaimNextQueued()
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob("j1", "/data/bundles/j1.zip"))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	job, err := reopened.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, "/data/bundles/j1.zip", job.ResultLocation)

	found, err := reopened.FindCompletedByBriefHash("h1")
	require.NoError(t, err)
	assert.Equal(t, "j1", found.ID)
}

func TestSQLiteStoreHealthCheck(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	assert.NoError(t, s.HealthCheck())
	require.NoError(t, s.Close())
	assert.Error(t, s.HealthCheck())
}

func TestNewStoreSelectsBackend(t *testing.T) {
	s, err := NewStore(Config{Type: "memory"})
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)

	s, err = NewStore(Config{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "jobs.db")})
	require.NoError(t, err)
	_, ok = s.(*SQLiteStore)
	assert.True(t, ok)
	s.Close()

	_, err = NewStore(Config{Type: "mongodb"})
	assert.Error(t, err)
}
