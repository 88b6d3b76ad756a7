package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, Commit, info.Commit)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestString(t *testing.T) {
	s := String()
	assert.True(t, strings.HasPrefix(s, ApplicationName))
	assert.Contains(t, s, Version)
}

func TestShort(t *testing.T) {
	s := Short()
	assert.True(t, strings.HasPrefix(s, ApplicationName))
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, ApplicationName+"/"+Version, UserAgent())
}

func TestIsSnapshot(t *testing.T) {
	// Default dev build is always a snapshot.
	assert.True(t, IsSnapshot())
	assert.False(t, IsRelease())
}
