package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dsoprea/go-exif/v3"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure"
	pngstructure "github.com/dsoprea/go-png-image-structure"
	riimage "github.com/dsoprea/go-utility/image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// exifTags is the curated set of camera tags worth keeping. Everything else
// in the EXIF block is dropped.
var exifTags = map[string]bool{
	"Make": true, "Model": true, "LensModel": true, "Software": true,
	"ExposureTime": true, "FNumber": true, "ISOSpeedRatings": true,
	"FocalLength": true, "Flash": true, "WhiteBalance": true,
	"DateTimeOriginal": true, "Orientation": true,
	"GPSLatitude": true, "GPSLatitudeRef": true,
	"GPSLongitude": true, "GPSLongitudeRef": true, "GPSAltitude": true,
}

// ExtractImageMetadata reads dimensions, format and alpha support from the
// image header, then attempts an EXIF pass. EXIF failures never fail the
// extraction; the camera fields just stay empty.
func ExtractImageMetadata(r io.ReadSeeker, filename string, size int64) (*Metadata, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}

	meta := &Metadata{
		Kind:     KindImage,
		Format:   format,
		Width:    cfg.Width,
		Height:   cfg.Height,
		HasAlpha: modelHasAlpha(cfg.ColorModel),
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind for exif: %w", err)
	}

	meta.EXIF = extractEXIF(r, strings.ToLower(filepath.Ext(filename)), size)
	if v, ok := meta.EXIF["Orientation"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			meta.Orientation = n
		}
	}
	return meta, nil
}

func modelHasAlpha(m color.Model) bool {
	switch m {
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model, color.AlphaModel, color.Alpha16Model:
		return true
	}
	// Paletted images may carry transparency; report alpha so downstream
	// consumers pick a lossless variant format when it matters.
	_, paletted := m.(color.Palette)
	return paletted
}

type exifParser interface {
	Parse(rs io.ReadSeeker, size int) (riimage.MediaContext, error)
}

func exifParserFor(ext string) exifParser {
	switch ext {
	case ".jpg", ".jpeg":
		return jpegstructure.NewJpegMediaParser()
	case ".png":
		return pngstructure.NewPngMediaParser()
	default:
		return nil
	}
}

// extractEXIF tries the format-aware parser first and falls back to a raw
// scan of the byte stream. Returns nil when the file carries no EXIF block.
func extractEXIF(r io.ReadSeeker, ext string, size int64) map[string]string {
	var raw []byte

	if parser := exifParserFor(ext); parser != nil {
		if mc, err := parser.Parse(r, int(size)); err == nil {
			_, raw, _ = mc.Exif()
		}
	}

	if len(raw) == 0 {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil
		}
		data, err := exif.SearchAndExtractExifWithReader(r)
		if err != nil {
			return nil
		}
		raw = data
	}

	entries, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return nil
	}

	tags := make(map[string]string)
	for _, entry := range entries {
		if !exifTags[entry.TagName] {
			continue
		}
		value := strings.ReplaceAll(entry.FormattedFirst, "\x00", "")
		if value != "" {
			tags[entry.TagName] = value
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// RenderThumbnail produces a 200x200 cover-cropped JPEG. The crop keeps the
// center of the image, so every thumbnail has the same square shape
// regardless of the source aspect ratio.
func RenderThumbnail(r io.Reader, quality int) (*RenderedVariant, error) {
	const edge = 200

	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fill(src, edge, edge, imaging.Center, imaging.Lanczos)
	return encodeJPEG(thumb, "thumbnail", quality)
}

// RenderVariant scales the image down to fit inside the preset's bounding
// box, preserving aspect ratio. Images already smaller than the box are
// re-encoded at the preset quality without upscaling.
func RenderVariant(r io.Reader, p Preset) (*RenderedVariant, error) {
	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	resized := imaging.Fit(src, p.Width, p.Height, imaging.Lanczos)
	return encodeJPEG(resized, p.Name, p.Quality)
}

func encodeJPEG(img image.Image, name string, quality int) (*RenderedVariant, error) {
	if quality < 1 || quality > 100 {
		quality = 85
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode %s jpeg: %w", name, err)
	}

	bounds := img.Bounds()
	return &RenderedVariant{
		Data:    buf.Bytes(),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Format:  "jpeg",
		Quality: quality,
	}, nil
}
