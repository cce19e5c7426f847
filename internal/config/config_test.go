package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesDefaultsOnMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")
	m, err := Load(path)
	require.NoError(t, err)
	cfg := m.Get()
	require.Equal(t, "Mesh-Citadel", cfg.BBS.SystemName)
	require.Equal(t, 300, cfg.BBS.MaxMessagesPerRoom)
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
bbs:
  system_name: Test Board
  max_rooms: 10
`)
	m, err := Load(path)
	require.NoError(t, err)
	cfg := m.Get()
	require.Equal(t, "Test Board", cfg.BBS.SystemName)
	require.Equal(t, 10, cfg.BBS.MaxRooms)
	require.Equal(t, 300, cfg.BBS.MaxMessagesPerRoom) // untouched default
}

func TestLoad_EnvOverridesWinOverFile(t *testing.T) {
	path := writeTempConfig(t, `
bbs:
  system_name: Test Board
`)
	t.Setenv("CITADEL_BBS__SYSTEM_NAME", "Env Board")
	t.Setenv("CITADEL_TRANSPORT__MESHCORE__ADVERT_INTERVAL", "12")

	m, err := Load(path)
	require.NoError(t, err)
	cfg := m.Get()
	require.Equal(t, "Env Board", cfg.BBS.SystemName)
	require.Equal(t, 12, cfg.Transport.MeshCore.AdvertInterval)
}

func TestReload_RejectsRebootOnlyKeyChange(t *testing.T) {
	path := writeTempConfig(t, `
bbs:
  max_rooms: 10
`)
	m, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
bbs:
  max_rooms: 20
`), 0o644))

	err = m.Reload()
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_rooms")
	require.Equal(t, 10, m.Get().BBS.MaxRooms) // unchanged
}

func TestReload_AppliesNonRebootOnlyChange(t *testing.T) {
	path := writeTempConfig(t, `
bbs:
  system_name: Original
`)
	m, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
bbs:
  system_name: Updated
`), 0o644))

	require.NoError(t, m.Reload())
	require.Equal(t, "Updated", m.Get().BBS.SystemName)
}
