package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Size
	}{
		{"1024", 1024},
		{"512MB", 512 * MB},
		{"512 MB", 512 * MB},
		{"1.5GB", 1536 * MB},
		{"500kb", 500 * KB},
		{"2GiB", 2 * GB},
		{"1g", GB},
		{"0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "MB", "12XB", "five MB"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("bogus") })
	assert.Equal(t, GB, MustParse("1GB"))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input Size
		want  string
	}{
		{0, "0B"},
		{512, "512B"},
		{KB, "1KB"},
		{512 * MB, "512MB"},
		{1536 * MB, "1.5GB"},
		{-2 * GB, "-2GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.input))
		})
	}
}

func TestStringer(t *testing.T) {
	assert.Equal(t, "512MB", (512 * MB).String())
	assert.Equal(t, int64(1024), KB.Bytes())
}
