package utils

// #include "gdal.h"
// #include "gdal_frmts.h"
// #cgo pkg-config: gdal
import "C"

import (
	"os"
)

// InitGdal sets the GDAL configuration used for remote COG access
// and registers the drivers. Values already present in the
// environment win over these defaults.
func InitGdal() {
	setDefaultEnv("GDAL_PAM_ENABLED", "NO")
	setDefaultEnv("GDAL_DISABLE_READDIR_ON_OPEN", "EMPTY_DIR")
	setDefaultEnv("GDAL_CACHEMAX", "200")
	setDefaultEnv("GDAL_BAND_BLOCK_CACHE", "HASHSET")

	// Range requests against the bucket. Retries live here and not in
	// the extraction code.
	setDefaultEnv("GDAL_HTTP_MULTIPLEX", "YES")
	setDefaultEnv("GDAL_HTTP_MERGE_CONSECUTIVE_RANGES", "YES")
	setDefaultEnv("GDAL_HTTP_MAX_RETRY", "4")
	setDefaultEnv("GDAL_HTTP_RETRY_DELAY", "0.42")
	setDefaultEnv("GDAL_HTTP_VERSION", "2")
	setDefaultEnv("CPL_VSIL_CURL_ALLOWED_EXTENSIONS", ".tif,.TIF,.tiff")
	setDefaultEnv("CPL_VSIL_CURL_CACHE_SIZE", "200000000")
	setDefaultEnv("VSI_CACHE", "TRUE")
	setDefaultEnv("VSI_CACHE_SIZE", "5000000")

	setDefaultEnv("PROJ_NETWORK", "OFF")

	registerGDALDrivers()
}

func setDefaultEnv(envVar string, defaultVal string) {
	if _, ok := os.LookupEnv(envVar); !ok {
		os.Setenv(envVar, defaultVal)
	}
}

func registerGDALDrivers() {
	// Drivers are interrogated in a linear scan when opening a
	// dataset, so GTiff goes to the front of the list.
	var haveGTiff bool

	C.GDALAllRegister()
	for i := 0; i < int(C.GDALGetDriverCount()); i++ {
		driver := C.GDALGetDriver(C.int(i))
		if C.GoString(C.GDALGetDriverShortName(driver)) == "GTiff" {
			haveGTiff = true
			break
		}
	}

	if !haveGTiff {
		return
	}

	for C.GDALGetDriverCount() > 0 {
		C.GDALDeregisterDriver(C.GDALGetDriver(0))
	}

	C.GDALRegister_GTiff()
	C.GDALAllRegister()
}
