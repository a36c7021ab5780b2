package processor

// #include <stdlib.h>
// #include "gdal.h"
// #include "gdal_alg.h"
// #include "gdalwarper.h"
// #include "ogr_api.h"
// #include "ogr_srs_api.h"
// #include "cpl_string.h"
// #include "cpl_error.h"
// #include "cpl_vsi.h"
// #cgo pkg-config: gdal
import "C"

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/nci/vex/utils"
)

// WindowReader reads the part of a raster covering a geographic
// GeoJSON geometry. A nil window with a nil error means the geometry
// does not intersect the raster.
type WindowReader interface {
	ReadWindow(ctx context.Context, srcPath string, geomJSON []byte, maxSize int) (*RasterWindow, error)
}

// COGReader reads windows of cloud optimised GeoTIFFs through GDAL.
// It keeps no state between reads.
type COGReader struct {
	GeographicCRS string
	Precision     int
}

func NewCOGReader(geographicCRS string, precision int) *COGReader {
	return &COGReader{GeographicCRS: geographicCRS, Precision: precision}
}

// GDALPath maps remote URLs onto GDAL virtual file systems.
func GDALPath(srcPath string) string {
	switch {
	case strings.HasPrefix(srcPath, "http://"), strings.HasPrefix(srcPath, "https://"):
		return "/vsicurl/" + srcPath
	case strings.HasPrefix(srcPath, "gs://"):
		return "/vsigs/" + strings.TrimPrefix(srcPath, "gs://")
	case strings.HasPrefix(srcPath, "s3://"):
		return "/vsis3/" + strings.TrimPrefix(srcPath, "s3://")
	default:
		return srcPath
	}
}

type pixelWindow struct {
	OffX, OffY     int
	CountX, CountY int
	OutX, OutY     int
}

// computePixelWindow converts an envelope in raster CRS into the
// smallest pixel window covering it, clamped to the raster. ok is
// false when the envelope misses the raster.
func computePixelWindow(geot [6]float64, xSize, ySize int, minX, minY, maxX, maxY float64) (pixelWindow, bool) {
	col0 := (minX - geot[0]) / geot[1]
	col1 := (maxX - geot[0]) / geot[1]
	row0 := (maxY - geot[3]) / geot[5]
	row1 := (minY - geot[3]) / geot[5]

	x0 := int(math.Max(0, math.Floor(math.Min(col0, col1))))
	x1 := int(math.Min(float64(xSize), math.Ceil(math.Max(col0, col1))))
	y0 := int(math.Max(0, math.Floor(math.Min(row0, row1))))
	y1 := int(math.Min(float64(ySize), math.Ceil(math.Max(row0, row1))))

	if x1 <= x0 || y1 <= y0 {
		return pixelWindow{}, false
	}

	w := pixelWindow{OffX: x0, OffY: y0, CountX: x1 - x0, CountY: y1 - y0}
	w.OutX, w.OutY = w.CountX, w.CountY
	return w, true
}

// limitSize scales the output so its longer side is at most maxSize.
func (w *pixelWindow) limitSize(maxSize int) {
	if maxSize <= 0 || (w.CountX <= maxSize && w.CountY <= maxSize) {
		return
	}

	if w.CountX >= w.CountY {
		w.OutX = maxSize
		w.OutY = int(math.Max(1, math.Round(float64(w.CountY)*float64(maxSize)/float64(w.CountX))))
	} else {
		w.OutY = maxSize
		w.OutX = int(math.Max(1, math.Round(float64(w.CountX)*float64(maxSize)/float64(w.CountY))))
	}
}

// geoTransform returns the transform of the output grid.
func (w *pixelWindow) geoTransform(geot [6]float64) [6]float64 {
	scaleX := float64(w.CountX) / float64(w.OutX)
	scaleY := float64(w.CountY) / float64(w.OutY)
	originX, originY := AffineTransform(geot).Apply(float64(w.OffX), float64(w.OffY))
	return [6]float64{
		originX,
		geot[1] * scaleX,
		geot[2] * scaleY,
		originY,
		geot[4] * scaleX,
		geot[5] * scaleY,
	}
}

func (r *COGReader) ReadWindow(ctx context.Context, srcPath string, geomJSON []byte, maxSize int) (*RasterWindow, error) {
	geom, err := geometryFromJSON(geomJSON)
	if err != nil {
		return nil, err
	}
	defer C.OGR_G_DestroyGeometry(geom)

	if C.OGR_G_IsEmpty(geom) != 0 {
		return nil, nil
	}

	gdalPath := GDALPath(srcPath)
	cPath := C.CString(gdalPath)
	defer C.free(unsafe.Pointer(cPath))

	ds := C.GDALOpen(cPath, C.GA_ReadOnly)
	if ds == nil {
		return nil, fmt.Errorf("GDAL could not open dataset: %s: %s", gdalPath, C.GoString(C.CPLGetLastErrorMsg()))
	}
	defer C.GDALClose(ds)

	geoSRS, err := newSpatialReference(r.GeographicCRS)
	if err != nil {
		return nil, err
	}
	defer C.OSRRelease(geoSRS)

	var dsSRS C.OGRSpatialReferenceH
	if projRef := C.GDALGetProjectionRef(ds); C.GoString(projRef) != "" {
		dsSRS, err = newSpatialReferenceFromWKT(projRef)
	} else {
		dsSRS, err = newSpatialReference(r.GeographicCRS)
	}
	if err != nil {
		return nil, err
	}
	defer func() { C.OSRRelease(dsSRS) }()

	// Polygons are traced on the grid that is read, so a projected
	// raster is resampled onto the geographic CRS first.
	if C.OSRIsSame(dsSRS, geoSRS) == 0 {
		vrt, err := warpedVRT(ds, geoSRS)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", srcPath, err)
		}
		defer C.GDALClose(vrt)
		ds = vrt

		C.OSRRelease(dsSRS)
		dsSRS = C.OSRClone(geoSRS)
	}

	var geot [6]float64
	if C.GDALGetGeoTransform(ds, (*C.double)(&geot[0])) != C.CE_None {
		return nil, fmt.Errorf("Couldn't get the geotransform from the source dataset %s", srcPath)
	}
	if geot[2] != 0 || geot[4] != 0 {
		return nil, fmt.Errorf("rotated rasters are not supported: %s", srcPath)
	}

	toRaster, err := newTransformerFromSRS(C.OSRClone(geoSRS), C.OSRClone(dsSRS))
	if err != nil {
		return nil, err
	}
	defer toRaster.Close()
	toRaster.SrcCRS, toRaster.DstCRS = r.GeographicCRS, "raster CRS"

	toGeo, err := newTransformerFromSRS(C.OSRClone(dsSRS), C.OSRClone(geoSRS))
	if err != nil {
		return nil, err
	}
	defer toGeo.Close()
	toGeo.SrcCRS, toGeo.DstCRS = "raster CRS", r.GeographicCRS

	rasterGeom, err := toRaster.transform(geom)
	if err != nil {
		return nil, err
	}
	defer C.OGR_G_DestroyGeometry(rasterGeom)

	var env C.OGREnvelope
	C.OGR_G_GetEnvelope(rasterGeom, &env)

	xSize := int(C.GDALGetRasterXSize(ds))
	ySize := int(C.GDALGetRasterYSize(ds))
	win, ok := computePixelWindow(geot, xSize, ySize, float64(env.MinX), float64(env.MinY), float64(env.MaxX), float64(env.MaxY))
	if !ok {
		return nil, nil
	}
	win.limitSize(maxSize)
	winGeot := win.geoTransform(geot)

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("window read cancelled: %v", ctx.Err())
	default:
	}

	band := C.GDALGetRasterBand(ds, C.int(1))
	nPixels := win.OutX * win.OutY
	data := make([]uint8, nPixels)
	if gdalErr := C.GDALRasterIO(band, C.GF_Read, C.int(win.OffX), C.int(win.OffY), C.int(win.CountX), C.int(win.CountY),
		unsafe.Pointer(&data[0]), C.int(win.OutX), C.int(win.OutY), C.GDT_Byte, 0, 0); gdalErr != C.CE_None {
		return nil, fmt.Errorf("GDALRasterIO error reading %s: %s", srcPath, C.GoString(C.CPLGetLastErrorMsg()))
	}

	valid := make([]uint8, nPixels)
	if C.GDALGetMaskFlags(band)&C.GMF_ALL_VALID != 0 {
		for i := range valid {
			valid[i] = 255
		}
	} else {
		maskBand := C.GDALGetMaskBand(band)
		if gdalErr := C.GDALRasterIO(maskBand, C.GF_Read, C.int(win.OffX), C.int(win.OffY), C.int(win.CountX), C.int(win.CountY),
			unsafe.Pointer(&valid[0]), C.int(win.OutX), C.int(win.OutY), C.GDT_Byte, 0, 0); gdalErr != C.CE_None {
			return nil, fmt.Errorf("GDALRasterIO error reading mask of %s: %s", srcPath, C.GoString(C.CPLGetLastErrorMsg()))
		}
	}

	inside, err := rasterizeGeometry(rasterGeom, win.OutX, win.OutY, winGeot)
	if err != nil {
		return nil, err
	}

	mask := make([]bool, nPixels)
	for i := range mask {
		mask[i] = valid[i] != 0 && inside[i] != 0
	}

	left, top := AffineTransform(winGeot).Apply(0, 0)
	right, bottom := AffineTransform(winGeot).Apply(float64(win.OutX), float64(win.OutY))

	minLon, minLat, maxLon, maxLat, err := toGeo.TransformBounds(
		utils.Round(left, r.Precision), utils.Round(bottom, r.Precision),
		utils.Round(right, r.Precision), utils.Round(top, r.Precision))
	if err != nil {
		return nil, err
	}

	bounds := Bounds{
		{utils.Round(minLat, r.Precision), utils.Round(minLon, r.Precision)},
		{utils.Round(maxLat, r.Precision), utils.Round(maxLon, r.Precision)},
	}

	return &RasterWindow{Data: data, Mask: mask, Bounds: bounds, Width: win.OutX, Height: win.OutY}, nil
}

// warpedVRT wraps ds in a nearest neighbour warped VRT in dstSRS. The
// VRT must be closed before ds.
func warpedVRT(ds C.GDALDatasetH, dstSRS C.OGRSpatialReferenceH) (C.GDALDatasetH, error) {
	var dstWKT *C.char
	if C.OSRExportToWkt(dstSRS, &dstWKT) != C.OGRERR_NONE {
		return nil, fmt.Errorf("could not export the geographic CRS: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}
	defer C.VSIFree(unsafe.Pointer(dstWKT))

	vrt := C.GDALAutoCreateWarpedVRT(ds, nil, dstWKT, C.GRA_NearestNeighbour, 0, nil)
	if vrt == nil {
		return nil, fmt.Errorf("GDALAutoCreateWarpedVRT failed: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}
	return vrt, nil
}

// rasterizeGeometry burns geom into a width x height grid with the
// given geotransform. Every pixel touched by the geometry is 255.
func rasterizeGeometry(geom C.OGRGeometryH, width, height int, geot [6]float64) ([]uint8, error) {
	hDstDS, err := createMemRaster(width, height, 1, geot)
	if err != nil {
		return nil, err
	}
	defer C.GDALClose(hDstDS)

	ic := C.OGR_G_Clone(geom)
	defer C.OGR_G_DestroyGeometry(ic)

	geomBurnValue := C.double(255)
	panBandList := []C.int{C.int(1)}
	pahGeomList := []C.OGRGeometryH{ic}

	cKey := C.CString("ALL_TOUCHED")
	defer C.free(unsafe.Pointer(cKey))
	cVal := C.CString("TRUE")
	defer C.free(unsafe.Pointer(cVal))
	opts := C.CSLSetNameValue(nil, cKey, cVal)
	defer C.CSLDestroy(opts)

	if gdalErr := C.GDALRasterizeGeometries(hDstDS, 1, &panBandList[0], 1, &pahGeomList[0], nil, nil, &geomBurnValue, opts, nil, nil); gdalErr != C.CE_None {
		return nil, fmt.Errorf("GDALRasterizeGeometries error: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}

	canvas := make([]uint8, width*height)
	band := C.GDALGetRasterBand(hDstDS, C.int(1))
	if gdalErr := C.GDALRasterIO(band, C.GF_Read, 0, 0, C.int(width), C.int(height), unsafe.Pointer(&canvas[0]), C.int(width), C.int(height), C.GDT_Byte, 0, 0); gdalErr != C.CE_None {
		return nil, fmt.Errorf("GDALRasterIO error reading rasterized mask: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}
	return canvas, nil
}

// createMemRaster creates a Byte MEM dataset. The caller closes it.
func createMemRaster(width, height, nBands int, geot [6]float64) (C.GDALDatasetH, error) {
	cDriver := C.CString("MEM")
	defer C.free(unsafe.Pointer(cDriver))
	memDriver := C.GDALGetDriverByName(cDriver)
	if memDriver == nil {
		return nil, fmt.Errorf("Couldn't find the MEM driver")
	}

	cName := C.CString("")
	defer C.free(unsafe.Pointer(cName))
	hDS := C.GDALCreate(memDriver, cName, C.int(width), C.int(height), C.int(nBands), C.GDT_Byte, nil)
	if hDS == nil {
		return nil, fmt.Errorf("Couldn't create memory raster: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}

	if gdalErr := C.GDALSetGeoTransform(hDS, (*C.double)(&geot[0])); gdalErr != C.CE_None {
		C.GDALClose(hDS)
		return nil, fmt.Errorf("Couldn't set the geotransform on the memory raster %v", gdalErr)
	}
	return hDS, nil
}
