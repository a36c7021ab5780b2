package processor

// #include <stdlib.h>
// #include "ogr_api.h"
// #include "ogr_srs_api.h"
// #include "cpl_error.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// Points per edge when reprojecting a box.
const boundsDensifyPoints = 21

// CoordinateTransformer maps geometries from a source CRS into a target
// CRS, both with longitude/easting first. GDAL transformation objects
// are not re-entrant, so calls are serialised.
type CoordinateTransformer struct {
	SrcCRS string
	DstCRS string

	mu     sync.Mutex
	srcSRS C.OGRSpatialReferenceH
	dstSRS C.OGRSpatialReferenceH
	trans  C.OGRCoordinateTransformationH
}

func newSpatialReference(crs string) (C.OGRSpatialReferenceH, error) {
	hSRS := C.OSRNewSpatialReference(nil)
	cCRS := C.CString(crs)
	defer C.free(unsafe.Pointer(cCRS))

	if C.OSRSetFromUserInput(hSRS, cCRS) != C.OGRERR_NONE {
		C.OSRRelease(hSRS)
		return nil, fmt.Errorf("invalid CRS %q: %s", crs, C.GoString(C.CPLGetLastErrorMsg()))
	}
	C.OSRSetAxisMappingStrategy(hSRS, C.OAMS_TRADITIONAL_GIS_ORDER)
	return hSRS, nil
}

func newSpatialReferenceFromWKT(wkt *C.char) (C.OGRSpatialReferenceH, error) {
	hSRS := C.OSRNewSpatialReference(wkt)
	if hSRS == nil {
		return nil, fmt.Errorf("invalid dataset projection: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}
	C.OSRSetAxisMappingStrategy(hSRS, C.OAMS_TRADITIONAL_GIS_ORDER)
	return hSRS, nil
}

// NewCoordinateTransformer accepts anything OSRSetFromUserInput does,
// e.g. "EPSG:6933". An invalid CRS is a configuration error.
func NewCoordinateTransformer(srcCRS, dstCRS string) (*CoordinateTransformer, error) {
	srcSRS, err := newSpatialReference(srcCRS)
	if err != nil {
		return nil, err
	}
	dstSRS, err := newSpatialReference(dstCRS)
	if err != nil {
		C.OSRRelease(srcSRS)
		return nil, err
	}

	ct, err := newTransformerFromSRS(srcSRS, dstSRS)
	if err != nil {
		return nil, err
	}
	ct.SrcCRS = srcCRS
	ct.DstCRS = dstCRS
	return ct, nil
}

// newTransformerFromSRS takes ownership of both spatial references,
// releasing them on failure.
func newTransformerFromSRS(srcSRS, dstSRS C.OGRSpatialReferenceH) (*CoordinateTransformer, error) {
	trans := C.OCTNewCoordinateTransformation(srcSRS, dstSRS)
	if trans == nil {
		C.OSRRelease(srcSRS)
		C.OSRRelease(dstSRS)
		return nil, fmt.Errorf("could not create coordinate transformation: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}
	return &CoordinateTransformer{srcSRS: srcSRS, dstSRS: dstSRS, trans: trans}, nil
}

// transform returns a transformed clone of geom. The caller owns it.
func (ct *CoordinateTransformer) transform(geom C.OGRGeometryH) (C.OGRGeometryH, error) {
	clone := C.OGR_G_Clone(geom)

	ct.mu.Lock()
	errCode := C.OGR_G_Transform(clone, ct.trans)
	ct.mu.Unlock()

	if errCode != C.OGRERR_NONE {
		C.OGR_G_DestroyGeometry(clone)
		return nil, fmt.Errorf("failed to transform geometry from %s to %s: %s", ct.SrcCRS, ct.DstCRS, C.GoString(C.CPLGetLastErrorMsg()))
	}
	return clone, nil
}

// TransformBounds reprojects a box, densifying its edges so curved
// edges in the target CRS are fully enclosed.
func (ct *CoordinateTransformer) TransformBounds(minX, minY, maxX, maxY float64) (float64, float64, float64, float64, error) {
	var outMinX, outMinY, outMaxX, outMaxY C.double

	ct.mu.Lock()
	ok := C.OCTTransformBounds(ct.trans, C.double(minX), C.double(minY), C.double(maxX), C.double(maxY),
		&outMinX, &outMinY, &outMaxX, &outMaxY, C.int(boundsDensifyPoints))
	ct.mu.Unlock()

	if ok == 0 {
		return 0, 0, 0, 0, fmt.Errorf("failed to transform bounds from %s to %s: %s", ct.SrcCRS, ct.DstCRS, C.GoString(C.CPLGetLastErrorMsg()))
	}
	return float64(outMinX), float64(outMinY), float64(outMaxX), float64(outMaxY), nil
}

func (ct *CoordinateTransformer) Close() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if ct.trans != nil {
		C.OCTDestroyCoordinateTransformation(ct.trans)
		ct.trans = nil
	}
	if ct.srcSRS != nil {
		C.OSRRelease(ct.srcSRS)
		ct.srcSRS = nil
	}
	if ct.dstSRS != nil {
		C.OSRRelease(ct.dstSRS)
		ct.dstSRS = nil
	}
}
