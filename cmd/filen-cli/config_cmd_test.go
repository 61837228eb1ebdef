package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/CrispStrobe/filen-cli-go/internal/config"
)

func TestValidateSettingKey(t *testing.T) {
	assert.NoError(t, validateSettingKey("concurrency"))
	assert.Error(t, validateSettingKey("not_a_real_key"))
}

func TestSettingFieldReadsEachKey(t *testing.T) {
	s := config.Settings{
		Concurrency:       4,
		ConflictPolicy:    "newer",
		PreserveTimestamp: true,
		BackendBaseURL:    "https://example.test",
		LogLevel:          "debug",
	}
	v, err := settingField(s, "concurrency")
	require.NoError(t, err)
	assert.Equal(t, "4", v)

	v, err = settingField(s, "preserve_timestamp")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	_, err = settingField(s, "bogus")
	assert.Error(t, err)
}

func TestSetConfigYAMLWritesAndPreservesOtherKeys(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, setConfigYAML(dir, "log_level", "debug"))
	require.NoError(t, setConfigYAML(dir, "concurrency", "8"))
	require.NoError(t, setConfigYAML(dir, "preserve_timestamp", "false"))

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))

	assert.Equal(t, "debug", doc["log_level"])
	assert.Equal(t, 8, doc["concurrency"])
	assert.Equal(t, false, doc["preserve_timestamp"])

	loader, err := config.NewLoader(dir)
	require.NoError(t, err)
	settings, err := loader.Settings()
	require.NoError(t, err)
	assert.Equal(t, 8, settings.Concurrency)
	assert.Equal(t, "debug", settings.LogLevel)
	assert.False(t, settings.PreserveTimestamp)
}

func TestSetConfigYAMLRejectsBadInt(t *testing.T) {
	dir := t.TempDir()
	err := setConfigYAML(dir, "concurrency", "not-a-number")
	assert.Error(t, err)
}
