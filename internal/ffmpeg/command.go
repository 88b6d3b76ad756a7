package ffmpeg

import (
	"fmt"
	"strconv"
	"time"
)

// SegmentFormat selects the container for produced segments.
type SegmentFormat string

const (
	// SegmentFormatMPEGTS produces MPEG-TS segments (HLS default).
	SegmentFormatMPEGTS SegmentFormat = "mpegts"
	// SegmentFormatFMP4 produces fragmented MP4 segments (DASH, HLS fMP4).
	SegmentFormatFMP4 SegmentFormat = "fmp4"
)

// EncodeParams describes a segmented encode of one source into one
// quality rendition.
type EncodeParams struct {
	// Input is the source path or URL.
	Input string

	// StartAt seeks the input before encoding. Zero starts from the head.
	StartAt time.Duration

	// OutputPattern is the segment filename pattern, e.g. "seg_%05d.ts".
	OutputPattern string

	// SegmentDuration is the target duration of each segment.
	SegmentDuration time.Duration

	// Format selects the segment container.
	Format SegmentFormat

	// CopyVideo passes the video stream through unchanged.
	CopyVideo bool
	// VideoCodec is the encoder name when not copying, e.g. "libx264".
	VideoCodec string
	// VideoBitrate is the target video bitrate in bits/second.
	VideoBitrate int
	// MaxHeight scales the video down to this height, preserving aspect
	// ratio. Zero keeps the source resolution.
	MaxHeight int
	// Preset is the encoder preset, e.g. "veryfast".
	Preset string

	// CopyAudio passes the audio stream through unchanged.
	CopyAudio bool
	// AudioCodec is the encoder name when not copying, e.g. "aac".
	AudioCodec string
	// AudioBitrate is the target audio bitrate in bits/second.
	AudioBitrate int
	// AudioChannels downmixes to this channel count. Zero keeps the source.
	AudioChannels int
}

// Args builds the ffmpeg argument list for a segmented encode. Completed
// segments are reported line-by-line on stdout via the CSV segment list
// ("name,start,end"), which is the completion signal consumers scan for.
func (p *EncodeParams) Args() []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}

	if p.StartAt > 0 {
		args = append(args, "-ss", formatSeekPosition(p.StartAt))
	}

	args = append(args, "-i", p.Input)

	// First video and audio stream; audio is optional.
	args = append(args, "-map", "0:v:0", "-map", "0:a:0?")

	if p.CopyVideo {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args, "-c:v", p.VideoCodec)
		if p.VideoBitrate > 0 {
			bitrate := strconv.Itoa(p.VideoBitrate)
			args = append(args,
				"-b:v", bitrate,
				"-maxrate", bitrate,
				"-bufsize", strconv.Itoa(p.VideoBitrate*2),
			)
		}
		if p.MaxHeight > 0 {
			// -2 keeps the width divisible by two for yuv420p.
			args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", p.MaxHeight))
		}
		if p.Preset != "" {
			args = append(args, "-preset", p.Preset)
		}
		// Segment boundaries need keyframes at predictable intervals.
		args = append(args, "-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", int(p.SegmentDuration.Seconds())))
	}

	if p.CopyAudio {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", p.AudioCodec)
		if p.AudioBitrate > 0 {
			args = append(args, "-b:a", strconv.Itoa(p.AudioBitrate))
		}
		if p.AudioChannels > 0 {
			args = append(args, "-ac", strconv.Itoa(p.AudioChannels))
		}
	}

	args = append(args, "-f", "segment",
		"-segment_time", strconv.Itoa(int(p.SegmentDuration.Seconds())),
		"-segment_list", "pipe:1",
		"-segment_list_type", "csv",
		"-reset_timestamps", "1",
	)

	if p.Format == SegmentFormatFMP4 {
		args = append(args, "-segment_format", "mp4",
			"-segment_format_options", "movflags=+frag_keyframe+empty_moov+default_base_moof")
	} else {
		args = append(args, "-segment_format", "mpegts")
	}

	args = append(args, p.OutputPattern)
	return args
}

// formatSeekPosition renders a duration as ffmpeg seek seconds.
func formatSeekPosition(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
