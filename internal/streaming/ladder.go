package streaming

import (
	"slices"
	"strings"

	"github.com/playout-media/playout/internal/ffmpeg"
)

// ClientCapabilities describes what a client reported it can play.
// Empty slices and zero values mean "no constraint".
type ClientCapabilities struct {
	// VideoCodecs the client can decode, e.g. ["h264", "hevc"].
	VideoCodecs []string `json:"video_codecs,omitempty"`

	// AudioCodecs the client can decode, e.g. ["aac", "ac3"].
	AudioCodecs []string `json:"audio_codecs,omitempty"`

	// Containers the client can demux for direct play, e.g. ["mp4", "matroska"].
	Containers []string `json:"containers,omitempty"`

	// MaxHeight is the tallest video the client wants, 0 for unlimited.
	MaxHeight int `json:"max_height,omitempty"`

	// MaxBitrate is the client's bandwidth ceiling in bits/second, 0 for
	// unlimited.
	MaxBitrate int `json:"max_bitrate,omitempty"`

	// AllowDirectPlay permits serving the source bytes unmodified.
	AllowDirectPlay bool `json:"allow_direct_play"`
}

// Decision is the outcome of playback selection for one source and client.
type Decision struct {
	// DirectPlay is true when the source is served unmodified.
	DirectPlay bool `json:"direct_play"`

	// Profile is the selected rendition when transcoding.
	Profile Profile `json:"profile,omitempty"`

	// Reason explains the decision for logging and diagnostics.
	Reason string `json:"reason"`
}

// Selector picks between direct play and a ladder profile.
type Selector struct {
	ladder []Profile
}

// NewSelector creates a Selector over the given ladder. The ladder must be
// ordered from highest to lowest quality; pass DefaultLadder() for the
// built-in one.
func NewSelector(ladder []Profile) *Selector {
	return &Selector{ladder: ladder}
}

// Ladder returns the selector's profiles, highest quality first.
func (s *Selector) Ladder() []Profile {
	return s.ladder
}

// ByName returns the named profile.
func (s *Selector) ByName(name string) (Profile, bool) {
	for _, p := range s.ladder {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// NextLower returns the profile one rung below the named one. Used for
// degradation on encoder failure retries.
func (s *Selector) NextLower(name string) (Profile, bool) {
	for i, p := range s.ladder {
		if p.Name == name && i+1 < len(s.ladder) {
			return s.ladder[i+1], true
		}
	}
	return Profile{}, false
}

// Decide selects direct play or a transcode profile for the probed source
// and the client's capabilities.
func (s *Selector) Decide(source *ffmpeg.SourceInfo, caps ClientCapabilities) (Decision, error) {
	if !source.HasVideo() && !source.HasAudio() {
		return Decision{}, ErrUnsupportedCodec
	}

	reason, ok := s.directPlayable(source, caps)
	if ok {
		return Decision{DirectPlay: true, Reason: reason}, nil
	}

	profile, err := s.selectProfile(source, caps)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Profile: profile, Reason: reason}, nil
}

// directPlayable checks whether the source can be served unmodified. The
// returned reason explains the first failing check.
func (s *Selector) directPlayable(source *ffmpeg.SourceInfo, caps ClientCapabilities) (string, bool) {
	if !caps.AllowDirectPlay {
		return "direct play not requested", false
	}
	if source.Live {
		return "live sources require segmented delivery", false
	}
	if len(caps.Containers) > 0 && !containerSupported(source.Container, caps.Containers) {
		return "container not supported by client", false
	}
	if source.HasVideo() {
		if len(caps.VideoCodecs) > 0 && !slices.Contains(caps.VideoCodecs, source.Video.Codec) {
			return "video codec not supported by client", false
		}
		if caps.MaxHeight > 0 && source.Video.Height > caps.MaxHeight {
			return "source exceeds client max height", false
		}
	}
	if source.HasAudio() {
		if len(caps.AudioCodecs) > 0 && !slices.Contains(caps.AudioCodecs, source.Audio.Codec) {
			return "audio codec not supported by client", false
		}
	}
	if caps.MaxBitrate > 0 && source.Bitrate > caps.MaxBitrate {
		return "source bitrate exceeds client ceiling", false
	}
	return "source playable as-is", true
}

// selectProfile picks the highest ladder rung that fits the source and the
// client constraints.
func (s *Selector) selectProfile(source *ffmpeg.SourceInfo, caps ClientCapabilities) (Profile, error) {
	if len(caps.VideoCodecs) > 0 && source.HasVideo() {
		supported := false
		for _, p := range s.ladder {
			if slices.Contains(caps.VideoCodecs, encoderCodecName(p.VideoCodec)) {
				supported = true
				break
			}
		}
		if !supported {
			return Profile{}, ErrUnsupportedCodec
		}
	}

	sourceHeight := 0
	if source.HasVideo() {
		sourceHeight = source.Video.Height
	}

	for _, p := range s.ladder {
		// Never upscale past the source.
		if sourceHeight > 0 && p.MaxHeight > sourceHeight {
			continue
		}
		if caps.MaxHeight > 0 && p.MaxHeight > caps.MaxHeight {
			continue
		}
		if caps.MaxBitrate > 0 && p.Bitrate() > caps.MaxBitrate {
			continue
		}
		return p, nil
	}

	// Every rung was above a constraint; serve the lowest one rather than
	// refusing playback.
	if len(s.ladder) > 0 {
		return s.ladder[len(s.ladder)-1], nil
	}
	return Profile{}, ErrUnsupportedCodec
}

// containerSupported matches a client container name against ffprobe's
// comma-separated format list, e.g. "mov,mp4,m4a,3gp,3g2,mj2".
func containerSupported(formatName string, containers []string) bool {
	for _, part := range strings.Split(formatName, ",") {
		if slices.Contains(containers, strings.TrimSpace(part)) {
			return true
		}
	}
	return false
}

// encoderCodecName maps an ffmpeg encoder name to the codec it produces.
func encoderCodecName(encoder string) string {
	switch encoder {
	case "libx264", "h264_nvenc", "h264_qsv", "h264_vaapi":
		return "h264"
	case "libx265", "hevc_nvenc", "hevc_qsv", "hevc_vaapi":
		return "hevc"
	case "libvpx-vp9":
		return "vp9"
	case "libaom-av1", "libsvtav1":
		return "av1"
	default:
		return encoder
	}
}
