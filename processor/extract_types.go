package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyWindow     = errors.New("raster window has no pixels")
	ErrInvalidGeometry = errors.New("invalid geometry")
)

// UnknownClassError reports a pixel value missing from the legend.
type UnknownClassError struct {
	PixelValue int
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("pixel value %d is not in the legend", e.PixelValue)
}

// Bounds is a geographic box laid out as
// [[min_lat, min_lon], [max_lat, max_lon]].
type Bounds [2][2]float64

func (b Bounds) MinX() float64 { return b[0][1] }
func (b Bounds) MinY() float64 { return b[0][0] }
func (b Bounds) MaxX() float64 { return b[1][1] }
func (b Bounds) MaxY() float64 { return b[1][0] }

// RasterWindow is the product of a windowed read. Data and Mask are
// row-major with Width*Height cells.
type RasterWindow struct {
	Data   []uint8
	Mask   []bool
	Bounds Bounds
	Width  int
	Height int
}

type Feature struct {
	Type       string                 `json:"type"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{Type: "FeatureCollection", Features: []*Feature{}}
}

// Properties returns the property maps of every feature in order.
func (fc *FeatureCollection) Properties() []map[string]interface{} {
	props := make([]map[string]interface{}, 0, len(fc.Features))
	for _, feat := range fc.Features {
		props = append(props, feat.Properties)
	}
	return props
}

// DefaultMaxSize asks the renderer for its configured window cap. A
// MaxSize of zero reads at native resolution.
const DefaultMaxSize = -1

type RenderParams struct {
	SrcPath string          `json:"src_path"`
	Feature json.RawMessage `json:"feature_geojson"`
	MaxSize int             `json:"max_size"`
	Year    int             `json:"year"`
}

// RenderResult is either an admission rejection carrying the measured
// area or a feature collection.
type RenderResult struct {
	Rejected   bool
	AreaHa     float64
	Collection *FeatureCollection
}

type rejection struct {
	Error  bool    `json:"error"`
	AreaHa float64 `json:"area_ha"`
}

func (r *RenderResult) MarshalJSON() ([]byte, error) {
	if r.Rejected {
		return json.Marshal(&rejection{Error: true, AreaHa: r.AreaHa})
	}
	if r.Collection == nil {
		return json.Marshal(NewFeatureCollection())
	}
	return json.Marshal(r.Collection)
}

func (r *RenderResult) UnmarshalJSON(data []byte) error {
	var probe struct {
		Error  bool    `json:"error"`
		AreaHa float64 `json:"area_ha"`
		Type   string  `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	if probe.Error {
		*r = RenderResult{Rejected: true, AreaHa: probe.AreaHa}
		return nil
	}
	if probe.Type != "FeatureCollection" {
		return fmt.Errorf("unexpected render result type: %q", probe.Type)
	}

	fc := NewFeatureCollection()
	if err := json.Unmarshal(data, fc); err != nil {
		return err
	}
	if fc.Features == nil {
		fc.Features = []*Feature{}
	}
	*r = RenderResult{Collection: fc}
	return nil
}

// Extractor renders the land-cover features of one polygon, locally
// or on a remote worker.
type Extractor interface {
	Render(ctx context.Context, params RenderParams) (*RenderResult, error)
}

// inputGeometry returns the geometry member of a GeoJSON Feature, or
// the document itself when it is a bare geometry. Nil means there is
// nothing to render.
func inputGeometry(feature json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(feature)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, nil
	}

	var head struct {
		Type     string          `json:"type"`
		Geometry json.RawMessage `json:"geometry"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}

	if head.Type != "Feature" {
		return trimmed, nil
	}

	geom := bytes.TrimSpace(head.Geometry)
	if len(geom) == 0 || bytes.Equal(geom, []byte("null")) {
		return nil, nil
	}
	return geom, nil
}
