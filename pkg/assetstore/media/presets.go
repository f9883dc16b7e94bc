package media

import (
	"fmt"
	"strconv"
	"strings"
)

// Preset names a bounding box and JPEG quality for a sized variant.
type Preset struct {
	Name    string
	Width   int
	Height  int
	Quality int
}

// DefaultPresets returns the built-in variant ladder.
func DefaultPresets() []Preset {
	return []Preset{
		{Name: "thumbnail", Width: 200, Height: 200, Quality: 85},
		{Name: "preview", Width: 640, Height: 640, Quality: 85},
		{Name: "web", Width: 1280, Height: 1280, Quality: 80},
		{Name: "mobile", Width: 720, Height: 720, Quality: 75},
	}
}

// ParsePresets parses a comma-separated preset list of the form
// "name:WxH:quality", e.g. "web:1280x1280:80,mobile:720x720:75".
func ParsePresets(s string) ([]Preset, error) {
	var presets []Preset
	seen := make(map[string]bool)

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("preset %q: want name:WxH:quality", part)
		}

		name := strings.TrimSpace(fields[0])
		if name == "" {
			return nil, fmt.Errorf("preset %q: empty name", part)
		}
		if seen[name] {
			return nil, fmt.Errorf("preset %q: duplicate name", name)
		}
		seen[name] = true

		dims := strings.SplitN(strings.ToLower(fields[1]), "x", 2)
		if len(dims) != 2 {
			return nil, fmt.Errorf("preset %q: dimensions must be WxH", part)
		}
		width, err := strconv.Atoi(dims[0])
		if err != nil || width <= 0 {
			return nil, fmt.Errorf("preset %q: invalid width %q", part, dims[0])
		}
		height, err := strconv.Atoi(dims[1])
		if err != nil || height <= 0 {
			return nil, fmt.Errorf("preset %q: invalid height %q", part, dims[1])
		}

		quality, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil || quality < 1 || quality > 100 {
			return nil, fmt.Errorf("preset %q: quality must be 1-100", part)
		}

		presets = append(presets, Preset{Name: name, Width: width, Height: height, Quality: quality})
	}

	if len(presets) == 0 {
		return nil, fmt.Errorf("no presets in %q", s)
	}
	return presets, nil
}
