// Package filekey provides deterministic file addressing and content
// integrity hashing for stored objects.
//
// Keys have the shape prefix/YYYY/MM/<random-id>-<sanitized-name>. The random
// id guarantees uniqueness per call, so two uploads of the same filename in
// the same month never collide. The original name is preserved (sanitized and
// truncated) to keep keys human-traceable.
package filekey

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const (
	// IDLength is the number of random alphanumeric characters in a key.
	IDLength = 10

	// maxNameLength bounds the human-readable portion of a key.
	maxNameLength = 100
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Generate returns a new unique key for the given original filename under the
// given prefix. Every call returns a distinct key, even for identical inputs.
func Generate(prefix, originalFilename string) string {
	now := time.Now().UTC()
	name := SanitizeFilename(originalFilename)
	return path.Join(prefix,
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%s-%s", randomID(IDLength), name))
}

// SanitizeFilename replaces any character outside [A-Za-z0-9._-] with an
// underscore and caps the result. The extension survives truncation.
func SanitizeFilename(filename string) string {
	filename = path.Base(filename)
	if filename == "" || filename == "." || filename == "/" {
		return "file"
	}

	ext := path.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeChars.ReplaceAllString(base, "_")
	ext = unsafeChars.ReplaceAllString(ext, "_")

	if base == "" {
		base = "file"
	}
	if len(base)+len(ext) > maxNameLength {
		keep := maxNameLength - len(ext)
		if keep < 1 {
			keep = 1
		}
		if keep > len(base) {
			keep = len(base)
		}
		base = base[:keep]
	}

	return base + ext
}

// Derive returns the key for an object derived from fileKey: the variant
// name is appended to the base name and the extension is replaced by the
// derived format's. Derived keys are deterministic so a re-render overwrites
// the previous rendition.
func Derive(fileKey, variant, format string) string {
	dir := path.Dir(fileKey)
	base := strings.TrimSuffix(path.Base(fileKey), path.Ext(fileKey))

	ext := formatExt(format)
	name := fmt.Sprintf("%s_%s%s", base, variant, ext)
	if dir == "." {
		return name
	}
	return path.Join(dir, name)
}

func formatExt(format string) string {
	switch strings.ToLower(format) {
	case "", "jpeg", "jpg":
		return ".jpg"
	case "mpeg4", "mp4":
		return ".mp4"
	default:
		return "." + strings.ToLower(format)
	}
}

// Checksum returns the MD5 hex digest of data. It is used for integrity
// verification of stored objects, not for deduplication or control flow.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func randomID(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; panic keeps the
		// uniqueness invariant instead of silently reusing a zeroed id.
		panic(fmt.Sprintf("filekey: read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}
