// Package scene talks to the imagery broker and coordinates asynchronous scene activation.
package scene

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
)

// Status is the activation state reported by the broker.
type Status string

const (
	StatusInactive   Status = "INACTIVE"
	StatusActivating Status = "ACTIVATING"
	StatusActive     Status = "ACTIVE"
)

// ParseStatus normalises a broker status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusInactive, StatusActivating, StatusActive:
		return st, nil
	}
	return "", fmt.Errorf("unknown scene status %q", s)
}

// rank orders statuses along INACTIVE -> ACTIVATING -> ACTIVE.
func (s Status) rank() int {
	switch s {
	case StatusActivating:
		return 1
	case StatusActive:
		return 2
	}
	return 0
}

// Platforms with a known band layout.
const (
	PlatformPlanetScope = "planetscope"
	PlatformRapidEye    = "rapideye"
	PlatformLandsat     = "landsat"
	PlatformSentinel    = "sentinel"
)

// Scene is a satellite capture as reported by the broker.
type Scene struct {
	ID          string
	Platform    string
	ExternalID  string
	CapturedOn  time.Time
	CloudCover  float64
	Resolution  float64
	SensorName  string
	LocationURI string
	Status      Status
	Footprint   *geojson.Geometry
	Bands       map[string]string
	Tide        *float64
	TideMin24h  *float64
	TideMax24h  *float64
}

// ParseID splits "platform:externalID".
func ParseID(id string) (platform, externalID string, err error) {
	platform, externalID, ok := strings.Cut(id, ":")
	if !ok || platform == "" || externalID == "" {
		return "", "", fmt.Errorf("%w %q: want platform:id", ErrInvalidSceneID, id)
	}
	return strings.ToLower(platform), externalID, nil
}

// CheckPlatform fails with ErrUnsupportedPlatform for platforms without a known band layout.
func CheckPlatform(platform string) error {
	switch platform {
	case PlatformPlanetScope, PlatformRapidEye, PlatformLandsat, PlatformSentinel:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
}

// InputFile is one named input passed to the remote execution service.
type InputFile struct {
	Name string
	URL  string
}

// InputFiles lists the ordered inputs the algorithm expects for this scene's platform.
// Planet platforms ship a single multispectral asset; the archive platforms expose
// per-band files and the algorithm consumes coastal then SWIR1.
func InputFiles(s *Scene) ([]InputFile, error) {
	switch s.Platform {
	case PlatformPlanetScope, PlatformRapidEye:
		if s.LocationURI == "" {
			return nil, fmt.Errorf("scene %s has no asset location (status %s)", s.ID, s.Status)
		}
		return []InputFile{{Name: "multispectral.TIF", URL: s.LocationURI}}, nil
	case PlatformLandsat:
		return bandFiles(s, [2][2]string{{"coastal.TIF", "coastal"}, {"swir1.TIF", "swir1"}})
	case PlatformSentinel:
		return bandFiles(s, [2][2]string{{"coastal.JP2", "coastal"}, {"swir1.JP2", "swir1"}})
	}
	return nil, CheckPlatform(s.Platform)
}

func bandFiles(s *Scene, layout [2][2]string) ([]InputFile, error) {
	files := make([]InputFile, 0, len(layout))
	for _, l := range layout {
		url, ok := s.Bands[l[1]]
		if !ok || url == "" {
			return nil, fmt.Errorf("scene %s is missing band %q", s.ID, l[1])
		}
		files = append(files, InputFile{Name: l[0], URL: url})
	}
	return files, nil
}
