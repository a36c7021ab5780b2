package processor

// #include "ogr_api.h"
// #cgo pkg-config: gdal
import "C"

import (
	"context"
	"fmt"

	"github.com/nci/vex/utils"
)

// Renderer runs the extraction pipeline: admission by area, windowed
// read, polygonization. It holds no per-request state and is safe for
// concurrent use.
type Renderer struct {
	MaxAreaHa float64
	MaxSize   int
	Precision int

	transformer *CoordinateTransformer
	area        *AreaCalculator
	reader      WindowReader
	polygonizer *Polygonizer
}

// NewRenderer builds a renderer from an immutable config snapshot. A
// nil reader selects the GDAL COG reader.
func NewRenderer(conf *utils.Config, legend utils.Legend, reader WindowReader) (*Renderer, error) {
	if len(legend) == 0 {
		return nil, fmt.Errorf("renderer needs a non empty legend")
	}

	transformer, err := NewCoordinateTransformer(conf.Extract.GeographicCRS, conf.Extract.ProjectedCRS)
	if err != nil {
		return nil, err
	}

	if reader == nil {
		reader = NewCOGReader(conf.Extract.GeographicCRS, conf.Extract.FloatPrecision)
	}

	area := NewAreaCalculator(transformer, conf.Extract.FloatPrecision)
	return &Renderer{
		MaxAreaHa:   conf.Extract.MaxAreaHa,
		MaxSize:     conf.Extract.MaxSize,
		Precision:   conf.Extract.FloatPrecision,
		transformer: transformer,
		area:        area,
		reader:      reader,
		polygonizer: NewPolygonizer(legend, area),
	}, nil
}

func (r *Renderer) Close() {
	r.transformer.Close()
}

// AreaHa measures the geometry of a GeoJSON Feature or geometry.
func (r *Renderer) AreaHa(feature []byte) (float64, error) {
	geomJSON, err := inputGeometry(feature)
	if err != nil {
		return 0, err
	}
	if geomJSON == nil {
		return 0, nil
	}
	return r.area.AreaHa(geomJSON)
}

func (r *Renderer) Render(ctx context.Context, params RenderParams) (*RenderResult, error) {
	geomJSON, err := inputGeometry(params.Feature)
	if err != nil {
		return nil, err
	}
	if geomJSON == nil {
		return &RenderResult{Collection: NewFeatureCollection()}, nil
	}

	geom, err := geometryFromJSON(geomJSON)
	if err != nil {
		return nil, err
	}
	defer C.OGR_G_DestroyGeometry(geom)

	if C.OGR_G_IsEmpty(geom) != 0 {
		return &RenderResult{Collection: NewFeatureCollection()}, nil
	}
	if !isPolygonal(geom) {
		return nil, utils.ErrUnsupportedGeometry
	}

	areaHa, err := r.area.areaOf(geom)
	if err != nil {
		return nil, err
	}
	if r.MaxAreaHa > 0 && areaHa > r.MaxAreaHa {
		return &RenderResult{Rejected: true, AreaHa: areaHa}, nil
	}

	maxSize := params.MaxSize
	if maxSize == DefaultMaxSize {
		maxSize = r.MaxSize
	}

	window, err := r.reader.ReadWindow(ctx, params.SrcPath, geomJSON, maxSize)
	if err != nil {
		return nil, fmt.Errorf("reading raster window from %s: %v", params.SrcPath, err)
	}
	if window == nil {
		return &RenderResult{AreaHa: areaHa, Collection: NewFeatureCollection()}, nil
	}

	transform, err := BuildTransform(window.Bounds, window.Width, window.Height, r.Precision)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("render cancelled: %v", ctx.Err())
	default:
	}

	fc, err := r.polygonizer.polygonize(geom, window, transform, params.Year)
	if err != nil {
		return nil, err
	}
	return &RenderResult{AreaHa: areaHa, Collection: fc}, nil
}
