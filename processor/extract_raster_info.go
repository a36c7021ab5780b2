package processor

// #include <stdlib.h>
// #include "gdal.h"
// #include "ogr_srs_api.h"
// #include "cpl_error.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/nci/vex/utils"
)

// RasterInfo summarises the first band of a coverage raster.
type RasterInfo struct {
	SrcPath      string     `json:"src_path"`
	Driver       string     `json:"driver"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	Bands        int        `json:"bands"`
	DataType     string     `json:"data_type"`
	CRS          string     `json:"crs"`
	GeoTransform [6]float64 `json:"geo_transform"`
	Bounds       Bounds     `json:"bounds"`
	NoData       *float64   `json:"nodata,omitempty"`
	BlockWidth   int        `json:"block_width"`
	BlockHeight  int        `json:"block_height"`
	Overviews    int        `json:"overviews"`
}

// Inspect reads the header of srcPath. Only metadata is fetched, no
// pixel block.
func (r *COGReader) Inspect(srcPath string) (*RasterInfo, error) {
	gdalPath := GDALPath(srcPath)
	cPath := C.CString(gdalPath)
	defer C.free(unsafe.Pointer(cPath))

	ds := C.GDALOpen(cPath, C.GA_ReadOnly)
	if ds == nil {
		return nil, fmt.Errorf("GDAL could not open dataset: %s: %s", gdalPath, C.GoString(C.CPLGetLastErrorMsg()))
	}
	defer C.GDALClose(ds)

	if C.GDALGetRasterCount(ds) < 1 {
		return nil, fmt.Errorf("dataset %s has no bands", srcPath)
	}

	info := &RasterInfo{
		SrcPath: srcPath,
		Driver:  C.GoString(C.GDALGetDriverShortName(C.GDALGetDatasetDriver(ds))),
		Width:   int(C.GDALGetRasterXSize(ds)),
		Height:  int(C.GDALGetRasterYSize(ds)),
		Bands:   int(C.GDALGetRasterCount(ds)),
		CRS:     r.GeographicCRS,
	}

	if C.GDALGetGeoTransform(ds, (*C.double)(&info.GeoTransform[0])) != C.CE_None {
		return nil, fmt.Errorf("Couldn't get the geotransform from the source dataset %s", srcPath)
	}

	band := C.GDALGetRasterBand(ds, C.int(1))
	info.DataType = C.GoString(C.GDALGetDataTypeName(C.GDALGetRasterDataType(band)))
	info.Overviews = int(C.GDALGetOverviewCount(band))

	var blockX, blockY C.int
	C.GDALGetBlockSize(band, &blockX, &blockY)
	info.BlockWidth, info.BlockHeight = int(blockX), int(blockY)

	var hasNoData C.int
	noData := float64(C.GDALGetRasterNoDataValue(band, &hasNoData))
	if hasNoData != 0 {
		info.NoData = &noData
	}

	geoSRS, err := newSpatialReference(r.GeographicCRS)
	if err != nil {
		return nil, err
	}
	defer C.OSRRelease(geoSRS)

	dsSRS := C.OSRClone(geoSRS)
	if projRef := C.GDALGetProjectionRef(ds); C.GoString(projRef) != "" {
		C.OSRRelease(dsSRS)
		if dsSRS, err = newSpatialReferenceFromWKT(projRef); err != nil {
			return nil, err
		}
	}
	defer C.OSRRelease(dsSRS)

	if authName := C.OSRGetAuthorityName(dsSRS, nil); authName != nil {
		if authCode := C.OSRGetAuthorityCode(dsSRS, nil); authCode != nil {
			info.CRS = C.GoString(authName) + ":" + C.GoString(authCode)
		}
	}

	toGeo, err := newTransformerFromSRS(C.OSRClone(dsSRS), C.OSRClone(geoSRS))
	if err != nil {
		return nil, err
	}
	defer toGeo.Close()

	geot := info.GeoTransform
	minX, maxY := geot[0], geot[3]
	maxX := geot[0] + float64(info.Width)*geot[1]
	minY := geot[3] + float64(info.Height)*geot[5]
	minLon, minLat, maxLon, maxLat, err := toGeo.TransformBounds(minX, minY, maxX, maxY)
	if err != nil {
		return nil, err
	}

	info.Bounds = Bounds{
		{utils.Round(minLat, r.Precision), utils.Round(minLon, r.Precision)},
		{utils.Round(maxLat, r.Precision), utils.Round(maxLon, r.Precision)},
	}
	return info, nil
}
