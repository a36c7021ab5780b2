package processor

// #include <stdlib.h>
// #include "ogr_api.h"
// #include "cpl_error.h"
// #include "cpl_vsi.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"unsafe"
)

func geometryFromJSON(geomJSON []byte) (C.OGRGeometryH, error) {
	cGeom := C.CString(string(geomJSON))
	defer C.free(unsafe.Pointer(cGeom))

	geom := C.OGR_G_CreateGeometryFromJson(cGeom)
	if geom == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidGeometry, C.GoString(C.CPLGetLastErrorMsg()))
	}
	return geom, nil
}

func geometryToJSON(geom C.OGRGeometryH) ([]byte, error) {
	cJSON := C.OGR_G_ExportToJson(geom)
	if cJSON == nil {
		return nil, fmt.Errorf("could not export geometry to GeoJSON: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}
	defer C.VSIFree(unsafe.Pointer(cJSON))
	return []byte(C.GoString(cJSON)), nil
}

func isPolygonal(geom C.OGRGeometryH) bool {
	gType := C.OGR_GT_Flatten(C.OGR_G_GetGeometryType(geom))
	return gType == C.wkbPolygon || gType == C.wkbMultiPolygon
}

// polygonalPart returns the polygons of geom as a new geometry, or nil
// when geom has no polygonal area. Intersections of adjacent shapes may
// produce collections holding lines and points next to the polygons.
func polygonalPart(geom C.OGRGeometryH) C.OGRGeometryH {
	if geom == nil || C.OGR_G_IsEmpty(geom) != 0 {
		return nil
	}

	if isPolygonal(geom) {
		return C.OGR_G_Clone(geom)
	}

	if C.OGR_GT_Flatten(C.OGR_G_GetGeometryType(geom)) != C.wkbGeometryCollection {
		return nil
	}

	multi := C.OGR_G_CreateGeometry(C.wkbMultiPolygon)
	for i := 0; i < int(C.OGR_G_GetGeometryCount(geom)); i++ {
		sub := C.OGR_G_GetGeometryRef(geom, C.int(i))
		if C.OGR_G_IsEmpty(sub) != 0 {
			continue
		}
		switch C.OGR_GT_Flatten(C.OGR_G_GetGeometryType(sub)) {
		case C.wkbPolygon:
			C.OGR_G_AddGeometry(multi, sub)
		case C.wkbMultiPolygon:
			for j := 0; j < int(C.OGR_G_GetGeometryCount(sub)); j++ {
				C.OGR_G_AddGeometry(multi, C.OGR_G_GetGeometryRef(sub, C.int(j)))
			}
		}
	}

	if C.OGR_G_GetGeometryCount(multi) == 0 {
		C.OGR_G_DestroyGeometry(multi)
		return nil
	}
	return multi
}
