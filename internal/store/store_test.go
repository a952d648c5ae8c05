package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestOpenMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	s, path := openTemp(t)
	settings := s.Settings()
	assert.Equal(t, "admin", settings.AdminUsername)
	assert.Equal(t, "admin", settings.AdminPassword)
	assert.Equal(t, "sk-123456", settings.ApiKey)
	assert.Equal(t, "url", settings.ImageMode)
	assert.Len(t, settings.SyncToken, 48)
	// defaults are persisted right away so the sync token survives restarts
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenCorruptFileUsesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.List())
	assert.Equal(t, "admin", s.Settings().AdminUsername)
}

func TestAccountID(t *testing.T) {
	t.Parallel()

	id := AccountID("g.a000psid-value")
	assert.Len(t, id, 16)
	assert.Equal(t, id, AccountID("g.a000psid-value"))
	assert.NotEqual(t, id, AccountID("other"))
}

func TestUpsertResetsHealth(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	a, err := s.Upsert("psid-1", "ts-1", map[string]string{"NID": "x"}, "work")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, a.Status)

	s.UpdateHealth(a.ID, StatusExpired, 3, 0, 100)
	got, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, StatusExpired, got.Status)

	a2, err := s.Upsert("psid-1", "ts-2", nil, "")
	require.NoError(t, err)
	assert.Equal(t, a.ID, a2.ID)
	assert.Equal(t, StatusHealthy, a2.Status)
	assert.Equal(t, 0, a2.Failures)
	assert.Equal(t, "work", a2.Label)
	assert.Equal(t, "ts-2", a2.Psidts)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.json")
	s, err := Open(path)
	require.NoError(t, err)
	a, err := s.Upsert("psid-1", "ts", nil, "")
	require.NoError(t, err)
	token := s.Settings().SyncToken
	s.BumpUse(a.ID)

	s2, err := Open(path)
	require.NoError(t, err)
	got, ok := s2.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, "psid-1", got.Psid)
	assert.Equal(t, int64(1), got.UseCount)
	assert.Equal(t, token, s2.Settings().SyncToken)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	a, err := s.Upsert("psid-1", "", nil, "")
	require.NoError(t, err)
	assert.True(t, s.Delete(a.ID))
	assert.False(t, s.Delete(a.ID))
	_, ok := s.Get(a.ID)
	assert.False(t, ok)
}

func TestUpdateSettingsKeepsBlankFields(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	before := s.Settings()
	require.NoError(t, s.UpdateSettings(Settings{BaseUrl: "https://api.example.com", ImageMode: "b64"}))
	after := s.Settings()
	assert.Equal(t, before.AdminUsername, after.AdminUsername)
	assert.Equal(t, before.AdminPassword, after.AdminPassword)
	assert.Equal(t, before.ApiKey, after.ApiKey)
	assert.Equal(t, before.SyncToken, after.SyncToken)
	assert.Equal(t, "https://api.example.com", after.BaseUrl)
	assert.Equal(t, "b64", after.ImageMode)
}

func TestRegenSyncToken(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	before := s.Settings().SyncToken
	token, err := s.RegenSyncToken()
	require.NoError(t, err)
	assert.Len(t, token, 48)
	assert.NotEqual(t, before, token)
	assert.Equal(t, token, s.Settings().SyncToken)
}

func TestUpdatePsidtsSyncsCookieMap(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	a, err := s.Upsert("psid-1", "old", map[string]string{"__Secure-1PSIDTS": "old"}, "")
	require.NoError(t, err)
	s.UpdatePsidts(a.ID, "new")
	got, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, "new", got.Psidts)
	assert.Equal(t, "new", got.Cookies["__Secure-1PSIDTS"])
}
