// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "./flight_datasets", cfg.Root)
	assert.Equal(t, "0.0.0.0:33000", cfg.Listen)
	assert.Equal(t, "snappy", cfg.Compression)
	assert.Equal(t, "/flight", cfg.HTTPPrefix)
	assert.Empty(t, cfg.HTTPListen)
	assert.False(t, cfg.OtelStdout)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfigFile(t, "flightstore.yaml",
		"root: /data/sets\nlisten: 127.0.0.1:4000\ncompression: zstd\nhttp_listen: 127.0.0.1:4001\nhttp_compression_level: 3\nlog_format: json\n")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/data/sets", cfg.Root)
	assert.Equal(t, "127.0.0.1:4000", cfg.Listen)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.Equal(t, "127.0.0.1:4001", cfg.HTTPListen)
	assert.Equal(t, 3, cfg.HTTPCompressionLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "INFO", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "flightstore.toml", "root = \"/from/file\"\nserver_id = \"file\"\n")
	t.Setenv("FLIGHTSTORE_ROOT", "/from/env")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Root)
	assert.Equal(t, "file", cfg.ServerID)
}

func TestFlagsOverrideEnvOnlyWhenSet(t *testing.T) {
	t.Setenv("FLIGHTSTORE_LISTEN", "127.0.0.1:5000")
	t.Setenv("FLIGHTSTORE_ROOT", "/from/env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--root", "/from/flag", "--otel-stdout"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.Root)
	assert.Equal(t, "127.0.0.1:5000", cfg.Listen)
	assert.True(t, cfg.OtelStdout)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Root = " "
	cfg.Listen = "no-port"
	cfg.HTTPCompressionLevel = 9
	cfg.Compression = "lzma"
	cfg.LogLevel = "loud"
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"root", "no-port", "http_compression_level", "lzma", "loud", "xml"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateSharedListenAddress(t *testing.T) {
	cfg := Default()
	cfg.HTTPListen = cfg.Listen
	require.ErrorContains(t, cfg.Validate(), "both")
}
