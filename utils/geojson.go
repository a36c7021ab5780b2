package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	geo "github.com/nci/geometry"
)

var (
	ErrUnreadableGeoJSON   = errors.New("could not read GeoJSON")
	ErrUnsupportedGeometry = errors.New("geometry not supported, only Polygon or MultiPolygon features are available")
)

type rawFeature struct {
	Type     string          `json:"type"`
	Geometry json.RawMessage `json:"geometry"`
}

type rawFeatureCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

// ParseInputFeature extracts the polygon to clip from an uploaded
// GeoJSON document: the first feature of a FeatureCollection, or a
// single Feature. The feature is returned re-encoded without its
// properties. A feature with a null geometry is returned as is.
func ParseInputFeature(raw []byte) ([]byte, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableGeoJSON, err)
	}

	var featRaw json.RawMessage
	switch head.Type {
	case "FeatureCollection":
		var fc rawFeatureCollection
		if err := json.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableGeoJSON, err)
		}
		if len(fc.Features) == 0 {
			return nil, fmt.Errorf("%w: the FeatureCollection has no features", ErrUnreadableGeoJSON)
		}
		featRaw = fc.Features[0]
	case "Feature":
		featRaw = raw
	default:
		return nil, fmt.Errorf("%w: unexpected type %q", ErrUnreadableGeoJSON, head.Type)
	}

	var rf rawFeature
	if err := json.Unmarshal(featRaw, &rf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableGeoJSON, err)
	}
	if rf.Type != "Feature" {
		return nil, fmt.Errorf("%w: unexpected feature type %q", ErrUnreadableGeoJSON, rf.Type)
	}
	if isNullJSON(rf.Geometry) {
		return json.Marshal(&rawFeature{Type: "Feature", Geometry: json.RawMessage("null")})
	}

	var geomHead struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(rf.Geometry, &geomHead); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableGeoJSON, err)
	}
	if geomHead.Type != "Polygon" && geomHead.Type != "MultiPolygon" {
		return nil, ErrUnsupportedGeometry
	}

	var feat geo.Feature
	if err := json.Unmarshal(featRaw, &feat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableGeoJSON, err)
	}

	switch geom := feat.Geometry.(type) {
	case *geo.Polygon, *geo.MultiPolygon:
		return json.Marshal(&geo.Feature{Type: "Feature", Geometry: geom})
	default:
		return nil, ErrUnsupportedGeometry
	}
}

func isNullJSON(msg json.RawMessage) bool {
	trimmed := bytes.TrimSpace(msg)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
