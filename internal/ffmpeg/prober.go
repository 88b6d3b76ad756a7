package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult contains the raw ffprobe output.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	NumStreams     int               `json:"nb_streams"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	Profile       string            `json:"profile"`
	CodecType     string            `json:"codec_type"` // video, audio, subtitle, data
	Width         int               `json:"width,omitempty"`
	Height        int               `json:"height,omitempty"`
	PixFmt        string            `json:"pix_fmt,omitempty"`
	Level         int               `json:"level,omitempty"`
	SampleRate    string            `json:"sample_rate,omitempty"`
	Channels      int               `json:"channels,omitempty"`
	ChannelLayout string            `json:"channel_layout,omitempty"`
	RFrameRate    string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate  string            `json:"avg_frame_rate,omitempty"`
	BitRate       string            `json:"bit_rate,omitempty"`
	Disposition   ProbeDisposition  `json:"disposition,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// ProbeDisposition contains stream disposition flags.
type ProbeDisposition struct {
	Default int `json:"default"`
	Forced  int `json:"forced"`
}

// VideoInfo describes the selected video stream of a source.
type VideoInfo struct {
	Codec     string  `json:"codec"`
	Profile   string  `json:"profile,omitempty"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Framerate float64 `json:"framerate,omitempty"`
	Bitrate   int     `json:"bitrate,omitempty"` // bits/second
	PixFmt    string  `json:"pix_fmt,omitempty"`
}

// AudioInfo describes the selected audio stream of a source.
type AudioInfo struct {
	Codec         string `json:"codec"`
	Channels      int    `json:"channels"`
	ChannelLayout string `json:"channel_layout,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Bitrate       int    `json:"bitrate,omitempty"` // bits/second
}

// SourceInfo is the probed view of a media source that playback
// decisions are made from.
type SourceInfo struct {
	Container string        `json:"container"`
	Duration  time.Duration `json:"duration"` // zero for live sources
	SizeBytes int64         `json:"size_bytes,omitempty"`
	Bitrate   int           `json:"bitrate,omitempty"` // overall bits/second
	Video     *VideoInfo    `json:"video,omitempty"`
	Audio     *AudioInfo    `json:"audio,omitempty"`
	Live      bool          `json:"live"`
}

// HasVideo returns true when the source carries a video stream.
func (s *SourceInfo) HasVideo() bool {
	return s.Video != nil
}

// HasAudio returns true when the source carries an audio stream.
func (s *SourceInfo) HasAudio() bool {
	return s.Audio != nil
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new media prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe probes a media path or URL and returns the raw ffprobe result.
func (p *Prober) Probe(ctx context.Context, input string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}

	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}

	args = append(args, input)

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	return &result, nil
}

// ProbeSource probes a media path and returns the simplified source view.
func (p *Prober) ProbeSource(ctx context.Context, input string) (*SourceInfo, error) {
	result, err := p.Probe(ctx, input)
	if err != nil {
		return nil, err
	}
	return Simplify(result), nil
}

// Simplify converts a raw probe result to the simplified source view.
// When multiple streams of a type exist, the default-flagged one wins,
// falling back to the first.
func Simplify(result *ProbeResult) *SourceInfo {
	info := &SourceInfo{
		Container: result.Format.FormatName,
	}

	if result.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
			info.Duration = time.Duration(dur * float64(time.Second))
		}
	}
	if result.Format.Size != "" {
		if size, err := strconv.ParseInt(result.Format.Size, 10, 64); err == nil {
			info.SizeBytes = size
		}
	}
	if result.Format.BitRate != "" {
		if br, err := strconv.Atoi(result.Format.BitRate); err == nil {
			info.Bitrate = br
		}
	}

	info.Live = info.Duration == 0 ||
		strings.Contains(result.Format.FormatName, "hls") ||
		strings.Contains(result.Format.FormatName, "mpegts")

	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			if info.Video != nil && stream.Disposition.Default != 1 {
				continue
			}
			video := &VideoInfo{
				Codec:   stream.CodecName,
				Profile: stream.Profile,
				Width:   stream.Width,
				Height:  stream.Height,
				PixFmt:  stream.PixFmt,
			}
			if stream.AvgFrameRate != "" {
				video.Framerate = parseFramerate(stream.AvgFrameRate)
			}
			if video.Framerate == 0 && stream.RFrameRate != "" {
				video.Framerate = parseFramerate(stream.RFrameRate)
			}
			if stream.BitRate != "" {
				if br, err := strconv.Atoi(stream.BitRate); err == nil {
					video.Bitrate = br
				}
			}
			info.Video = video

		case "audio":
			if info.Audio != nil && stream.Disposition.Default != 1 {
				continue
			}
			audio := &AudioInfo{
				Codec:         stream.CodecName,
				Channels:      stream.Channels,
				ChannelLayout: stream.ChannelLayout,
			}
			if stream.SampleRate != "" {
				if sr, err := strconv.Atoi(stream.SampleRate); err == nil {
					audio.SampleRate = sr
				}
			}
			if stream.BitRate != "" {
				if br, err := strconv.Atoi(stream.BitRate); err == nil {
					audio.Bitrate = br
				}
			}
			info.Audio = audio
		}
	}

	return info
}

// parseFramerate parses an ffprobe rational like "30000/1001" or "25/1".
func parseFramerate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
