// Package media extracts technical metadata from uploaded files and renders
// derived representations: thumbnails, sized variants and video preview
// clips. Image work happens in-process; video and audio probing shell out to
// ffprobe/ffmpeg when they are installed.
package media

import (
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies an asset by its media family.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindOther Kind = "other"
)

var extKinds = map[string]Kind{
	".jpg": KindImage, ".jpeg": KindImage, ".png": KindImage,
	".gif": KindImage, ".webp": KindImage, ".bmp": KindImage,
	".tif": KindImage, ".tiff": KindImage,

	".mp4": KindVideo, ".mov": KindVideo, ".mkv": KindVideo,
	".webm": KindVideo, ".avi": KindVideo, ".m4v": KindVideo,

	".mp3": KindAudio, ".m4a": KindAudio, ".flac": KindAudio,
	".ogg": KindAudio, ".wav": KindAudio, ".aac": KindAudio,
}

// DetectKind classifies a file by its extension.
func DetectKind(filename string) Kind {
	if k, ok := extKinds[strings.ToLower(filepath.Ext(filename))]; ok {
		return k
	}
	return KindOther
}

// Metadata holds the technical properties extracted from a media file.
// Fields that do not apply to the asset's kind stay zero.
type Metadata struct {
	Kind   Kind   `json:"kind"`
	Format string `json:"format,omitempty"`

	// Visual properties (image and video).
	Width       int  `json:"width,omitempty"`
	Height      int  `json:"height,omitempty"`
	HasAlpha    bool `json:"hasAlpha,omitempty"`
	Orientation int  `json:"orientation,omitempty"`

	// Time-based properties (video and audio).
	Duration   time.Duration `json:"duration,omitempty"`
	Container  string        `json:"container,omitempty"`
	VideoCodec string        `json:"videoCodec,omitempty"`
	AudioCodec string        `json:"audioCodec,omitempty"`
	FrameRate  float64       `json:"frameRate,omitempty"`
	BitRate    int64         `json:"bitRate,omitempty"`

	// Audio tags, best effort.
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Year   int    `json:"year,omitempty"`

	// Camera metadata, best effort. Empty map when the file carries none.
	EXIF map[string]string `json:"exif,omitempty"`
}

// RenderedVariant is the output of a single variant or thumbnail render.
type RenderedVariant struct {
	Data    []byte
	Width   int
	Height  int
	Format  string
	Quality int
}
