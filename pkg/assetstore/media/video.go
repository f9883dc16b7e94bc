package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mediaforge/assetstore/pkg/assetstore"
)

// FFmpeg wraps the ffmpeg and ffprobe command-line tools. Both binaries are
// discovered on PATH at construction; a missing binary disables the wrapper
// rather than failing the whole service.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewFFmpeg locates ffmpeg and ffprobe, preferring the configured paths and
// falling back to a PATH lookup.
func NewFFmpeg(ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpeg {
	if logger == nil {
		logger = slog.Default()
	}

	f := &FFmpeg{
		ffmpegPath:  locateTool(ffmpegPath, "ffmpeg", logger),
		ffprobePath: locateTool(ffprobePath, "ffprobe", logger),
		logger:      logger,
	}
	return f
}

func locateTool(configured, name string, logger *slog.Logger) string {
	if configured != "" && configured != name {
		if _, err := os.Stat(configured); err == nil {
			return configured
		}
		logger.Warn("configured tool path not found, falling back to PATH lookup",
			"tool", name, "path", configured)
	}

	path, err := exec.LookPath(name)
	if err != nil {
		logger.Warn("tool not found on PATH, video/audio processing disabled", "tool", name)
		return ""
	}
	return path
}

// Available reports whether both binaries were found.
func (f *FFmpeg) Available() bool {
	return f.ffmpegPath != "" && f.ffprobePath != ""
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

func (f *FFmpeg) probe(ctx context.Context, path string) (*probeOutput, error) {
	if f.ffprobePath == "" {
		return nil, fmt.Errorf("ffprobe not available")
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe: %w (%s)", err, strings.TrimSpace(errBuf.String()))
	}

	var out probeOutput
	if err := json.Unmarshal(outBuf.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &out, nil
}

// ProbeVideo extracts dimensions, duration, container, codecs and frame rate
// from a video file. Files whose container holds no video stream yield
// ErrNoStreamFound.
func (f *FFmpeg) ProbeVideo(ctx context.Context, path string) (*Metadata, error) {
	out, err := f.probe(ctx, path)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{
		Kind:      KindVideo,
		Container: out.Format.FormatName,
		Duration:  parseSeconds(out.Format.Duration),
		BitRate:   parseInt64(out.Format.BitRate),
	}

	var found bool
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if !found {
				found = true
				meta.VideoCodec = s.CodecName
				meta.Width = s.Width
				meta.Height = s.Height
				meta.FrameRate = parseFrameRate(s.RFrameRate)
			}
		case "audio":
			if meta.AudioCodec == "" {
				meta.AudioCodec = s.CodecName
			}
		}
	}
	if !found {
		return nil, assetstore.ErrNoStreamFound
	}
	return meta, nil
}

// ProbeAudio extracts duration, container and codec from an audio file.
func (f *FFmpeg) ProbeAudio(ctx context.Context, path string) (*Metadata, error) {
	out, err := f.probe(ctx, path)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{
		Kind:      KindAudio,
		Container: out.Format.FormatName,
		Duration:  parseSeconds(out.Format.Duration),
		BitRate:   parseInt64(out.Format.BitRate),
	}

	for _, s := range out.Streams {
		if s.CodecType == "audio" {
			meta.AudioCodec = s.CodecName
			return meta, nil
		}
	}
	return nil, assetstore.ErrNoStreamFound
}

// Frame captures a single frame at the given offset as a JPEG, scaled to
// maxHeight with the width following the source aspect ratio.
func (f *FFmpeg) Frame(ctx context.Context, path string, offset time.Duration, maxHeight int) (*RenderedVariant, error) {
	if f.ffmpegPath == "" {
		return nil, fmt.Errorf("ffmpeg not available")
	}
	if maxHeight <= 0 {
		maxHeight = 400
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-ss", formatOffset(offset),
		"-i", path,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=-2:%d", maxHeight),
		"-f", "mjpeg",
		"-",
	)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame capture: %w (%s)", err, strings.TrimSpace(errBuf.String()))
	}
	if outBuf.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame data (%s)", strings.TrimSpace(errBuf.String()))
	}

	return &RenderedVariant{
		Data:   outBuf.Bytes(),
		Height: maxHeight,
		Format: "jpeg",
	}, nil
}

// PreviewClip renders a short H.264 sub-clip starting at offset, scaled to
// maxHeight, written to dstPath.
func (f *FFmpeg) PreviewClip(ctx context.Context, srcPath, dstPath string, offset, clipLen time.Duration, maxHeight int) error {
	if f.ffmpegPath == "" {
		return fmt.Errorf("ffmpeg not available")
	}
	if clipLen <= 0 {
		clipLen = 5 * time.Second
	}
	if maxHeight <= 0 {
		maxHeight = 480
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-ss", formatOffset(offset),
		"-i", srcPath,
		"-t", formatOffset(clipLen),
		"-vf", fmt.Sprintf("scale=-2:%d", maxHeight),
		"-c:v", "libx264",
		"-preset", "fast",
		"-movflags", "+faststart",
		"-an",
		"-y",
		dstPath,
	)

	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg preview clip: %w (%s)", err, strings.TrimSpace(errBuf.String()))
	}
	return nil
}

func formatOffset(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseFrameRate parses ffprobe's rational frame rate, e.g. "30000/1001".
func parseFrameRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
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
