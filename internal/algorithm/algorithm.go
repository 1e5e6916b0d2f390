// Package algorithm resolves the analysis algorithms jobs can run.
package algorithm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sceneplane/internal/config"
)

// ErrUnknownAlgorithm is returned for ids missing from the directory.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// Algorithm is a runnable analysis on the remote execution service.
type Algorithm struct {
	ID            string
	Name          string
	Version       string
	ServiceID     string
	MaxCloudCover float64 // 0 disables the check
	Command       string
}

// Directory looks algorithms up by id.
type Directory interface {
	Get(ctx context.Context, id string) (*Algorithm, error)
}

// Catalog is a Directory backed by the configured algorithm list.
type Catalog struct {
	byID map[string]Algorithm
}

// NewCatalog builds a catalog from configuration entries.
func NewCatalog(entries []config.AlgorithmConfig) *Catalog {
	c := &Catalog{byID: make(map[string]Algorithm, len(entries))}
	for _, e := range entries {
		c.byID[e.ID] = Algorithm{
			ID:            e.ID,
			Name:          e.Name,
			Version:       e.Version,
			ServiceID:     e.ServiceID,
			MaxCloudCover: e.MaxCloudCover,
			Command:       e.Command,
		}
	}
	return c
}

// Get returns a copy of the algorithm registered under id.
func (c *Catalog) Get(_ context.Context, id string) (*Algorithm, error) {
	a, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, id)
	}
	return &a, nil
}

// Args builds the command line passed to the execution service.
func (a *Algorithm) Args(computeMask bool) []string {
	args := strings.Fields(a.Command)
	if computeMask {
		args = append(args, "--coastmask")
	}
	return args
}

// AcceptsCloudCover reports whether a scene with the given cloud cover fraction may be analysed.
func (a *Algorithm) AcceptsCloudCover(cover float64) bool {
	return a.MaxCloudCover <= 0 || cover <= a.MaxCloudCover
}
