package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestFindBinaryExplicitPath(t *testing.T) {
	path := writeExecutable(t, t.TempDir(), "ffmpeg")

	got, err := FindBinary("ffmpeg", path, "")
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestFindBinaryExplicitPathNotExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	_, err := FindBinary("ffmpeg", path, "")
	assert.Error(t, err)
}

func TestFindBinaryEnvOverride(t *testing.T) {
	path := writeExecutable(t, t.TempDir(), "ffmpeg")
	t.Setenv("PLAYOUT_TEST_FFMPEG", path)

	got, err := FindBinary("ffmpeg", "", "PLAYOUT_TEST_FFMPEG")
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestFindBinaryNotFound(t *testing.T) {
	_, err := FindBinary("definitely-not-a-real-binary-name", "", "")
	assert.Error(t, err)
}

func TestIsExecutable(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, isExecutable(dir))
	assert.False(t, isExecutable(filepath.Join(dir, "missing")))

	path := writeExecutable(t, dir, "tool")
	assert.True(t, isExecutable(path))
}
