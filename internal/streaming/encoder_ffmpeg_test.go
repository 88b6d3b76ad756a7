package streaming

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSegmentListLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantName string
		wantDur  time.Duration
		wantOK   bool
	}{
		{
			name:     "valid line",
			line:     "seg_00000.ts,0.000000,6.006000",
			wantName: "seg_00000.ts",
			wantDur:  time.Duration(6.006 * float64(time.Second)),
			wantOK:   true,
		},
		{
			name:     "mid stream segment",
			line:     "seg_00003.ts,18.018000,24.024000",
			wantName: "seg_00003.ts",
			wantDur:  time.Duration(6.006 * float64(time.Second)),
			wantOK:   true,
		},
		{name: "missing fields", line: "seg_00000.ts", wantOK: false},
		{name: "non numeric", line: "seg.ts,abc,def", wantOK: false},
		{name: "end before start", line: "seg.ts,10.0,4.0", wantOK: false},
		{name: "empty", line: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, dur, ok := parseSegmentListLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantName, name)
				assert.InDelta(t, tt.wantDur.Seconds(), dur.Seconds(), 0.001)
			}
		})
	}
}

func TestParseEncodingSpeed(t *testing.T) {
	tests := []struct {
		line string
		want float64
	}{
		{"frame=  120 fps= 30 q=28.0 size=    1024KiB time=00:00:04.00 bitrate=2097.2kbits/s speed=1.02x", 1.02},
		{"speed=0.5x", 0.5},
		{"speed= 12.3x", 12.3},
		{"speed=N/A", 0},
		{"no speed here", 0},
		{"", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseEncodingSpeed(tt.line), "line: %q", tt.line)
	}
}

func TestScanLinesWithCR(t *testing.T) {
	input := "line1\rline2\nline3\r\nline4"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanLinesWithCR)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"line1", "line2", "line3", "line4"}, lines)
}

func TestEncoderErrorMessage(t *testing.T) {
	err := &EncoderError{ExitCode: 1, Stderr: []string{
		"[libx264 @ 0x55] something",
		"Conversion failed!",
	}}
	assert.Equal(t, "encoder exited with code 1: Conversion failed!", err.Error())

	bare := &EncoderError{ExitCode: 137}
	assert.Equal(t, "encoder exited with code 137", bare.Error())
}

func TestStopBeforeStartIsNoOp(t *testing.T) {
	enc := &ffmpegEncoder{}
	enc.Stop(time.Millisecond)
}
