package streaming

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"
)

// ManifestConfig carries the knobs manifest generation depends on.
type ManifestConfig struct {
	// SegmentDuration is the target segment duration, advertised as the
	// HLS target duration and the DASH segment duration.
	SegmentDuration time.Duration

	// LiveWindowSegments is the sliding window size for live playlists.
	LiveWindowSegments int
}

// HLSMediaPlaylist renders the media playlist for a job. Completed jobs
// produce a VOD playlist listing every segment with an endlist; running
// jobs produce an event-style playlist that grows as segments appear; live
// sources get a sliding window.
func HLSMediaPlaylist(cfg ManifestConfig, store *SegmentStore, live bool) []byte {
	segments := store.Snapshot()
	complete := store.Completed()

	if live && cfg.LiveWindowSegments > 0 && len(segments) > cfg.LiveWindowSegments {
		segments = segments[len(segments)-cfg.LiveWindowSegments:]
	}

	// Byte-budget eviction can drop the head of the stream, so the
	// sequence number follows the first resident segment.
	mediaSequence := 0
	if len(segments) > 0 {
		mediaSequence = segments[0].Index
	}

	var buf bytes.Buffer
	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&buf, "#EXT-X-TARGETDURATION:%d\n", int(cfg.SegmentDuration.Seconds()+0.5))
	fmt.Fprintf(&buf, "#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence)

	if !live {
		if complete {
			buf.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
		} else {
			buf.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")
		}
	}

	for _, seg := range segments {
		fmt.Fprintf(&buf, "#EXTINF:%.3f,\n", seg.Duration.Seconds())
		fmt.Fprintf(&buf, "segment%d.ts\n", seg.Index)
	}

	if complete {
		buf.WriteString("#EXT-X-ENDLIST\n")
	}

	return buf.Bytes()
}

// HLSMasterPlaylist renders the multivariant playlist referencing one
// media playlist per ladder profile. mediaURI formats the playlist URI for
// a profile name.
func HLSMasterPlaylist(ladder []Profile, mediaURI func(profileName string) string) []byte {
	var buf bytes.Buffer
	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:3\n")

	for _, p := range ladder {
		// 16:9 is assumed for advertised resolution; players only use it
		// as a selection hint.
		width := p.MaxHeight * 16 / 9
		fmt.Fprintf(&buf, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=\"%s\"\n",
			p.Bitrate(), width, p.MaxHeight, p.Name)
		buf.WriteString(mediaURI(p.Name))
		buf.WriteByte('\n')
	}

	return buf.Bytes()
}

// mpd is the root element of a DASH manifest.
type mpd struct {
	XMLName              xml.Name  `xml:"MPD"`
	Xmlns                string    `xml:"xmlns,attr"`
	Profiles             string    `xml:"profiles,attr"`
	Type                 string    `xml:"type,attr"`
	MinBufferTime        string    `xml:"minBufferTime,attr"`
	MediaPresentationDur string    `xml:"mediaPresentationDuration,attr,omitempty"`
	Period               mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	ID             string          `xml:"id,attr"`
	AdaptationSets []mpdAdaptation `xml:"AdaptationSet"`
}

type mpdAdaptation struct {
	ContentType      string              `xml:"contentType,attr"`
	SegmentAlignment bool                `xml:"segmentAlignment,attr"`
	Representations  []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID              string         `xml:"id,attr"`
	MimeType        string         `xml:"mimeType,attr"`
	Codecs          string         `xml:"codecs,attr,omitempty"`
	Bandwidth       int            `xml:"bandwidth,attr"`
	Height          int            `xml:"height,attr,omitempty"`
	SegmentTemplate mpdSegmentTmpl `xml:"SegmentTemplate"`
}

type mpdSegmentTmpl struct {
	Media       string `xml:"media,attr"`
	Duration    int    `xml:"duration,attr"`
	Timescale   int    `xml:"timescale,attr"`
	StartNumber int    `xml:"startNumber,attr"`
}

// DASHManifest renders a minimal single-period MPD for a job's rendition.
// totalDuration is zero for live sources, which produces a dynamic
// manifest.
func DASHManifest(cfg ManifestConfig, profile Profile, totalDuration time.Duration, mediaPattern string) ([]byte, error) {
	manifestType := "static"
	presentationDur := formatISODuration(totalDuration)
	if totalDuration == 0 {
		manifestType = "dynamic"
		presentationDur = ""
	}

	doc := mpd{
		Xmlns:                "urn:mpeg:dash:schema:mpd:2011",
		Profiles:             "urn:mpeg:dash:profile:isoff-live:2011",
		Type:                 manifestType,
		MinBufferTime:        formatISODuration(cfg.SegmentDuration),
		MediaPresentationDur: presentationDur,
		Period: mpdPeriod{
			ID: "0",
			AdaptationSets: []mpdAdaptation{
				{
					ContentType:      "video",
					SegmentAlignment: true,
					Representations: []mpdRepresentation{
						{
							ID:        profile.Name,
							MimeType:  "video/mp4",
							Codecs:    "avc1.64001f",
							Bandwidth: profile.Bitrate(),
							Height:    profile.MaxHeight,
							SegmentTemplate: mpdSegmentTmpl{
								Media:       mediaPattern,
								Duration:    int(cfg.SegmentDuration.Seconds()),
								Timescale:   1,
								StartNumber: 0,
							},
						},
					},
				},
			},
		},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling MPD: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// formatISODuration renders a duration as ISO 8601, e.g. "PT6S".
func formatISODuration(d time.Duration) string {
	secs := d.Seconds()
	if secs == float64(int64(secs)) {
		return fmt.Sprintf("PT%dS", int64(secs))
	}
	return fmt.Sprintf("PT%.3fS", secs)
}
