// Package streaming implements the playback delivery engine: quality
// profile selection, transcode jobs and their worker pool, the in-memory
// segment store, playback sessions, and manifest generation.
package streaming

// Profile is a quality rendition a source can be transcoded to.
type Profile struct {
	// Name identifies the profile, e.g. "720p".
	Name string `json:"name"`

	// MaxHeight is the output video height. Sources shorter than this are
	// never upscaled.
	MaxHeight int `json:"max_height"`

	// VideoBitrate is the target video bitrate in bits/second.
	VideoBitrate int `json:"video_bitrate"`

	// AudioBitrate is the target audio bitrate in bits/second.
	AudioBitrate int `json:"audio_bitrate"`

	// VideoCodec is the ffmpeg encoder used for video.
	VideoCodec string `json:"video_codec"`

	// AudioCodec is the ffmpeg encoder used for audio.
	AudioCodec string `json:"audio_codec"`

	// Preset is the encoder speed/quality preset.
	Preset string `json:"preset"`
}

// Bitrate returns the combined video+audio bitrate in bits/second.
func (p Profile) Bitrate() int {
	return p.VideoBitrate + p.AudioBitrate
}

// DefaultLadder returns the built-in quality ladder, ordered from highest
// to lowest quality.
func DefaultLadder() []Profile {
	return []Profile{
		{Name: "2160p", MaxHeight: 2160, VideoBitrate: 25_000_000, AudioBitrate: 256_000, VideoCodec: "libx264", AudioCodec: "aac", Preset: "veryfast"},
		{Name: "1080p", MaxHeight: 1080, VideoBitrate: 8_000_000, AudioBitrate: 192_000, VideoCodec: "libx264", AudioCodec: "aac", Preset: "veryfast"},
		{Name: "720p", MaxHeight: 720, VideoBitrate: 5_000_000, AudioBitrate: 128_000, VideoCodec: "libx264", AudioCodec: "aac", Preset: "veryfast"},
		{Name: "480p", MaxHeight: 480, VideoBitrate: 2_500_000, AudioBitrate: 128_000, VideoCodec: "libx264", AudioCodec: "aac", Preset: "veryfast"},
		{Name: "360p", MaxHeight: 360, VideoBitrate: 1_000_000, AudioBitrate: 96_000, VideoCodec: "libx264", AudioCodec: "aac", Preset: "veryfast"},
	}
}
