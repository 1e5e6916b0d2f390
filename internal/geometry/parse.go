// Package geometry parses remote analysis results into individual feature geometries.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrInvalidPayload is returned for results that are not a usable geometry collection.
var ErrInvalidPayload = errors.New("invalid result payload")

// Parse splits a GeoJSON FeatureCollection (or bare GeometryCollection) into one
// encoded geometry per feature, in payload order. An empty collection yields no
// geometries; a null or malformed geometry fails the whole payload.
func Parse(data []byte) ([]json.RawMessage, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var geoms []orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		for i, f := range fc.Features {
			if f == nil || f.Geometry == nil {
				return nil, fmt.Errorf("%w: feature %d has no geometry", ErrInvalidPayload, i)
			}
			geoms = append(geoms, f.Geometry)
		}
	case "GeometryCollection":
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		coll, ok := g.Geometry().(orb.Collection)
		if !ok {
			return nil, fmt.Errorf("%w: not a geometry collection", ErrInvalidPayload)
		}
		for i, member := range coll {
			if member == nil {
				return nil, fmt.Errorf("%w: member %d is null", ErrInvalidPayload, i)
			}
			geoms = append(geoms, member)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected type %q", ErrInvalidPayload, head.Type)
	}

	out := make([]json.RawMessage, 0, len(geoms))
	for i, g := range geoms {
		enc, err := geojson.NewGeometry(g).MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("%w: encode geometry %d: %v", ErrInvalidPayload, i, err)
		}
		out = append(out, enc)
	}
	return out, nil
}
