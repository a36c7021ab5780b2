package processor

// #include "ogr_api.h"
// #cgo pkg-config: gdal
import "C"

import (
	"github.com/nci/vex/utils"
)

const squareMetersPerHectare = 10000.0

// AreaCalculator measures geographic geometries in hectares on the
// equal-area projection of its transformer.
type AreaCalculator struct {
	transformer *CoordinateTransformer
	precision   int
}

func NewAreaCalculator(transformer *CoordinateTransformer, precision int) *AreaCalculator {
	return &AreaCalculator{transformer: transformer, precision: precision}
}

func (a *AreaCalculator) areaOf(geom C.OGRGeometryH) (float64, error) {
	projected, err := a.transformer.transform(geom)
	if err != nil {
		return 0, err
	}
	defer C.OGR_G_DestroyGeometry(projected)

	area := float64(C.OGR_G_Area(projected)) / squareMetersPerHectare
	return utils.Round(area, a.precision), nil
}

// AreaHa returns the area in hectares of a GeoJSON geometry given in
// the geographic CRS.
func (a *AreaCalculator) AreaHa(geomJSON []byte) (float64, error) {
	geom, err := geometryFromJSON(geomJSON)
	if err != nil {
		return 0, err
	}
	defer C.OGR_G_DestroyGeometry(geom)
	return a.areaOf(geom)
}
