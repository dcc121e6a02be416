package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bamsammich/linkback/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	configDir := filepath.Join(dir, "linkback")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.Workers)
	assert.Nil(t, cfg.Defaults.Verify)
	assert.Nil(t, cfg.Defaults.Compare)
}

func TestLoad_FullConfig(t *testing.T) {
	writeConfig(t, `
[defaults]
workers = 12
compare = "content"
modify_window = "2s"
bwlimit = "50M"
verify = true
manifest = false
ignore_file = ".backupignore"
preserve_owner = true
metrics_file = "/var/lib/node_exporter/linkback.prom"
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	d := cfg.Defaults
	require.NotNil(t, d.Workers)
	assert.Equal(t, 12, *d.Workers)
	require.NotNil(t, d.Compare)
	assert.Equal(t, "content", *d.Compare)
	require.NotNil(t, d.ModifyWindow)
	assert.Equal(t, "2s", *d.ModifyWindow)
	require.NotNil(t, d.BWLimit)
	assert.Equal(t, "50M", *d.BWLimit)
	require.NotNil(t, d.Verify)
	assert.True(t, *d.Verify)
	require.NotNil(t, d.Manifest)
	assert.False(t, *d.Manifest)
	require.NotNil(t, d.IgnoreFile)
	assert.Equal(t, ".backupignore", *d.IgnoreFile)
	require.NotNil(t, d.PreserveOwner)
	assert.True(t, *d.PreserveOwner)
	require.NotNil(t, d.MetricsFile)
	assert.Equal(t, "/var/lib/node_exporter/linkback.prom", *d.MetricsFile)
}

func TestLoad_PartialConfig(t *testing.T) {
	writeConfig(t, `
[defaults]
workers = 4
`)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Defaults.Workers)
	assert.Equal(t, 4, *cfg.Defaults.Workers)
	assert.Nil(t, cfg.Defaults.Verify)
	assert.Nil(t, cfg.Defaults.BWLimit)
}

func TestLoad_InvalidTOML(t *testing.T) {
	writeConfig(t, `[defaults
workers = `)

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_UnknownKey(t *testing.T) {
	writeConfig(t, `
[defaults]
wrokers = 4
`)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrokers")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"workers":       "[defaults]\nworkers = 0\n",
		"compare":       "[defaults]\ncompare = \"checksum\"\n",
		"modify_window": "[defaults]\nmodify_window = \"soon\"\n",
		"negative":      "[defaults]\nmodify_window = \"-1s\"\n",
		"bwlimit":       "[defaults]\nbwlimit = \"fast\"\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			writeConfig(t, content)
			_, err := config.Load()
			require.Error(t, err)
		})
	}
}

func TestPath_Fallback(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".config", "linkback", "config.toml"), config.Path())
}
