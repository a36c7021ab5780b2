package processor

// #include <stdlib.h>
// #include "gdal.h"
// #include "gdal_alg.h"
// #include "ogr_api.h"
// #include "cpl_error.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/nci/vex/utils"
)

const pixelValueField = "pixel_value"

// Polygonizer turns a classified raster window into land-cover
// features clipped to the requested polygon.
type Polygonizer struct {
	legend utils.Legend
	area   *AreaCalculator
}

func NewPolygonizer(legend utils.Legend, area *AreaCalculator) *Polygonizer {
	return &Polygonizer{legend: legend, area: area}
}

// Polygonize is polygonize for a GeoJSON geometry in the geographic
// CRS.
func (p *Polygonizer) Polygonize(geomJSON []byte, window *RasterWindow, transform AffineTransform, year int) (*FeatureCollection, error) {
	if len(geomJSON) == 0 {
		return NewFeatureCollection(), nil
	}

	geom, err := geometryFromJSON(geomJSON)
	if err != nil {
		return nil, err
	}
	defer C.OGR_G_DestroyGeometry(geom)

	return p.polygonize(geom, window, transform, year)
}

func (p *Polygonizer) polygonize(geom C.OGRGeometryH, window *RasterWindow, transform AffineTransform, year int) (*FeatureCollection, error) {
	if geom == nil || C.OGR_G_IsEmpty(geom) != 0 || window == nil {
		return NewFeatureCollection(), nil
	}

	nPixels := window.Width * window.Height
	if nPixels <= 0 {
		return nil, ErrEmptyWindow
	}
	if len(window.Data) != nPixels || len(window.Mask) != nPixels {
		return nil, fmt.Errorf("raster window of %dx%d has %d values and %d mask cells", window.Width, window.Height, len(window.Data), len(window.Mask))
	}

	hSrcDS, err := createMemRaster(window.Width, window.Height, 2, [6]float64(transform))
	if err != nil {
		return nil, err
	}
	defer C.GDALClose(hSrcDS)

	mask := make([]uint8, nPixels)
	for i, valid := range window.Mask {
		if valid {
			mask[i] = 255
		}
	}

	valueBand := C.GDALGetRasterBand(hSrcDS, C.int(1))
	maskBand := C.GDALGetRasterBand(hSrcDS, C.int(2))
	if gdalErr := C.GDALRasterIO(valueBand, C.GF_Write, 0, 0, C.int(window.Width), C.int(window.Height), unsafe.Pointer(&window.Data[0]), C.int(window.Width), C.int(window.Height), C.GDT_Byte, 0, 0); gdalErr != C.CE_None {
		return nil, fmt.Errorf("GDALRasterIO error writing pixel values: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}
	if gdalErr := C.GDALRasterIO(maskBand, C.GF_Write, 0, 0, C.int(window.Width), C.int(window.Height), unsafe.Pointer(&mask[0]), C.int(window.Width), C.int(window.Height), C.GDT_Byte, 0, 0); gdalErr != C.CE_None {
		return nil, fmt.Errorf("GDALRasterIO error writing mask: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}

	hVecDS, hLayer, err := createMemLayer()
	if err != nil {
		return nil, err
	}
	defer C.GDALClose(hVecDS)

	if gdalErr := C.GDALPolygonize(valueBand, maskBand, hLayer, 0, nil, nil, nil); gdalErr != C.CE_None {
		return nil, fmt.Errorf("GDALPolygonize error: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}

	fc := NewFeatureCollection()
	C.OGR_L_ResetReading(hLayer)
	for hFeat := C.OGR_L_GetNextFeature(hLayer); hFeat != nil; hFeat = C.OGR_L_GetNextFeature(hLayer) {
		feat, err := p.clipRegion(hFeat, geom, year)
		C.OGR_F_Destroy(hFeat)
		if err != nil {
			return nil, err
		}
		if feat != nil {
			fc.Features = append(fc.Features, feat)
		}
	}
	return fc, nil
}

// clipRegion intersects one polygonized region with the input polygon.
// It returns nil when they only share an edge or a vertex.
func (p *Polygonizer) clipRegion(hFeat C.OGRFeatureH, geom C.OGRGeometryH, year int) (*Feature, error) {
	pixelValue := int(C.OGR_F_GetFieldAsInteger(hFeat, 0))
	rec, found := p.legend.Lookup(pixelValue)
	if !found {
		return nil, &UnknownClassError{PixelValue: pixelValue}
	}

	region := C.OGR_F_GetGeometryRef(hFeat)
	if region == nil {
		return nil, nil
	}

	inters := C.OGR_G_Intersection(region, geom)
	if inters == nil {
		return nil, fmt.Errorf("intersection failed for pixel value %d: %s", pixelValue, C.GoString(C.CPLGetLastErrorMsg()))
	}
	defer C.OGR_G_DestroyGeometry(inters)

	clipped := polygonalPart(inters)
	if clipped == nil {
		return nil, nil
	}
	defer C.OGR_G_DestroyGeometry(clipped)

	areaHa, err := p.area.areaOf(clipped)
	if err != nil {
		return nil, err
	}

	geomJSON, err := geometryToJSON(clipped)
	if err != nil {
		return nil, err
	}

	props := make(map[string]interface{}, len(rec)+3)
	for k, v := range rec {
		props[k] = v
	}
	props["pixel_value"] = pixelValue
	props["area_ha"] = areaHa
	props["year"] = year

	return &Feature{Type: "Feature", Geometry: geomJSON, Properties: props}, nil
}

// createMemLayer creates an in-memory polygon layer with an integer
// pixel_value field. The caller closes the dataset.
func createMemLayer() (C.GDALDatasetH, C.OGRLayerH, error) {
	cCap := C.CString("DCAP_VECTOR")
	defer C.free(unsafe.Pointer(cCap))

	var vecDriver C.GDALDriverH
	for _, name := range []string{"Memory", "MEM"} {
		cName := C.CString(name)
		drv := C.GDALGetDriverByName(cName)
		C.free(unsafe.Pointer(cName))
		if drv != nil && C.GDALGetMetadataItem(C.GDALMajorObjectH(drv), cCap, nil) != nil {
			vecDriver = drv
			break
		}
	}
	if vecDriver == nil {
		return nil, nil, fmt.Errorf("Couldn't find an in-memory vector driver")
	}

	cDSName := C.CString("regions")
	defer C.free(unsafe.Pointer(cDSName))
	hDS := C.GDALCreate(vecDriver, cDSName, 0, 0, 0, C.GDT_Unknown, nil)
	if hDS == nil {
		return nil, nil, fmt.Errorf("Couldn't create memory vector dataset: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}

	hLayer := C.GDALDatasetCreateLayer(hDS, cDSName, nil, C.wkbPolygon, nil)
	if hLayer == nil {
		C.GDALClose(hDS)
		return nil, nil, fmt.Errorf("Couldn't create memory layer: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}

	cField := C.CString(pixelValueField)
	defer C.free(unsafe.Pointer(cField))
	hField := C.OGR_Fld_Create(cField, C.OFTInteger)
	defer C.OGR_Fld_Destroy(hField)
	if C.OGR_L_CreateField(hLayer, hField, C.int(1)) != C.OGRERR_NONE {
		C.GDALClose(hDS)
		return nil, nil, fmt.Errorf("Couldn't create field %s: %s", pixelValueField, C.GoString(C.CPLGetLastErrorMsg()))
	}
	return hDS, hLayer, nil
}
