package media

import (
	"io"
	"strings"

	"github.com/dhowden/tag"
)

// ReadAudioTags merges ID3/MP4/FLAC tags into meta. Tag reading is best
// effort: untagged or unreadable files leave the fields empty.
func ReadAudioTags(r io.ReadSeeker, meta *Metadata) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return
	}

	m, err := tag.ReadFrom(r)
	if err != nil {
		return
	}

	meta.Title = m.Title()
	meta.Artist = m.Artist()
	meta.Album = m.Album()
	meta.Year = m.Year()
	if meta.Format == "" {
		meta.Format = strings.ToLower(string(m.FileType()))
	}
}

// CoverArt returns the embedded cover image bytes, or nil when the file
// carries none.
func CoverArt(r io.ReadSeeker) []byte {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil
	}

	m, err := tag.ReadFrom(r)
	if err != nil {
		return nil
	}

	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil
	}
	return pic.Data
}
