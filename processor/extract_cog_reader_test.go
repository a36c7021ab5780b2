package processor

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"testing"

	"github.com/nci/vex/utils"
)

// testdata/coverage_2022.tif is a 20x20 EPSG:4326 raster with 0.0004
// degree pixels anchored at (-47.932, -15.778). Columns 0-9 hold 3,
// columns 10-19 hold 15 and the last row is nodata (0).
const testRaster = "testdata/coverage_2022.tif"

// testdata/coverage_3857.tif holds the same classes on a 20x20 EPSG:3857
// grid of 45 m pixels anchored at (-47.932, -15.778). The class edge
// falls at longitude -47.92796.
const testProjectedRaster = "testdata/coverage_3857.tif"

func fixtureGeometry(t *testing.T) []byte {
	geomJSON, err := inputGeometry(json.RawMessage(fixtureFeature))
	if err != nil {
		t.Fatalf("invalid fixture: %v", err)
	}
	return geomJSON
}

func TestGDALPath(t *testing.T) {
	cases := map[string]string{
		"https://storage.googleapis.com/mapbiomas-public/brasil_coverage_2022.tif": "/vsicurl/https://storage.googleapis.com/mapbiomas-public/brasil_coverage_2022.tif",
		"gs://mapbiomas-public/brasil_coverage_2022.tif":                           "/vsigs/mapbiomas-public/brasil_coverage_2022.tif",
		"s3://bucket/coverage.tif":                                                 "/vsis3/bucket/coverage.tif",
		"/data/coverage.tif":                                                       "/data/coverage.tif",
	}
	for in, expected := range cases {
		if out := GDALPath(in); out != expected {
			t.Errorf("expecting %s, actual: %s", expected, out)
		}
	}
}

func TestComputePixelWindow(t *testing.T) {
	geot := [6]float64{0, 1, 0, 100, 0, -1}

	win, ok := computePixelWindow(geot, 100, 100, 10.5, 60.2, 20.1, 80.9)
	if !ok {
		t.Fatalf("window should intersect the raster")
	}
	if win.OffX != 10 || win.OffY != 19 || win.CountX != 11 || win.CountY != 21 {
		t.Errorf("unexpected window: %+v", win)
	}

	win, ok = computePixelWindow(geot, 100, 100, -10, 90, 5, 120)
	if !ok || win.OffX != 0 || win.OffY != 0 || win.CountX != 5 || win.CountY != 10 {
		t.Errorf("window should be clamped to the raster: %+v", win)
	}

	if _, ok = computePixelWindow(geot, 100, 100, 200, 10, 210, 20); ok {
		t.Errorf("window outside the raster should not intersect")
	}
}

func TestLimitSize(t *testing.T) {
	win := pixelWindow{CountX: 1000, CountY: 300, OutX: 1000, OutY: 300}
	win.limitSize(100)
	if win.OutX != 100 || win.OutY != 30 {
		t.Errorf("unexpected output size: %dx%d", win.OutX, win.OutY)
	}

	win = pixelWindow{CountX: 3, CountY: 900, OutX: 3, OutY: 900}
	win.limitSize(100)
	if win.OutX != 1 || win.OutY != 100 {
		t.Errorf("unexpected output size: %dx%d", win.OutX, win.OutY)
	}

	win = pixelWindow{CountX: 50, CountY: 20, OutX: 50, OutY: 20}
	win.limitSize(100)
	if win.OutX != 50 || win.OutY != 20 {
		t.Errorf("small windows should keep native resolution: %dx%d", win.OutX, win.OutY)
	}

	geot := win.geoTransform([6]float64{0, 1, 0, 100, 0, -1})
	if geot != [6]float64{0, 1, 0, 100, 0, -1} {
		t.Errorf("unexpected window transform: %v", geot)
	}

	win = pixelWindow{OffX: 5, OffY: 7, CountX: 10, CountY: 10, OutX: 5, OutY: 5}
	geot = win.geoTransform([6]float64{100, 2, 0, 50, 0, -2})
	if geot != [6]float64{110, 4, 0, 36, 0, -4} {
		t.Errorf("unexpected offset window transform: %v", geot)
	}
}

func TestCOGReaderLocalRaster(t *testing.T) {
	if _, err := os.Stat(testRaster); os.IsNotExist(err) {
		t.Skip("Test raster is unavailable. Skipping tests")
		return
	}

	reader := NewCOGReader(utils.DefaultGeographicCRS, utils.DefaultFloatPrecision)
	window, err := reader.ReadWindow(context.Background(), testRaster, fixtureGeometry(t), 0)
	if err != nil {
		t.Fatalf("ReadWindow failed: %v", err)
	}
	if window == nil {
		t.Fatalf("fixture should intersect the test raster")
	}

	if window.Width < 6 || window.Width > 9 || window.Height < 6 || window.Height > 8 {
		t.Errorf("window should only cover the fixture extent: %dx%d", window.Width, window.Height)
	}
	if len(window.Data) != window.Width*window.Height || len(window.Mask) != len(window.Data) {
		t.Fatalf("window buffers do not match its size")
	}

	nValid := 0
	for i, v := range window.Data {
		if v != 3 && v != 15 {
			t.Errorf("unexpected pixel value %d", v)
			break
		}
		if window.Mask[i] {
			nValid++
		}
	}
	if nValid == 0 || nValid == len(window.Mask) {
		t.Errorf("mask should follow the polygon outline, %d of %d cells valid", nValid, len(window.Mask))
	}

	b := window.Bounds
	if b.MinX() > -47.9301 || b.MaxX() < -47.9276 || b.MinY() > -15.7822 || b.MaxY() < -15.7799 {
		t.Errorf("window bounds %v do not cover the fixture", b)
	}
	for _, v := range []float64{b.MinX(), b.MinY(), b.MaxX(), b.MaxY()} {
		if v != utils.Round(v, utils.DefaultFloatPrecision) {
			t.Errorf("bound %v is not rounded", v)
		}
	}

	window, err = reader.ReadWindow(context.Background(), testRaster, fixtureGeometry(t), 4)
	if err != nil {
		t.Fatalf("ReadWindow failed: %v", err)
	}
	if window.Width > 4 || window.Height > 4 {
		t.Errorf("window should be capped to 4 pixels: %dx%d", window.Width, window.Height)
	}

	outside := []byte(`{"type":"Polygon","coordinates":[[[10,10],[11,10],[11,11],[10,10]]]}`)
	window, err = reader.ReadWindow(context.Background(), testRaster, outside, 0)
	if err != nil || window != nil {
		t.Errorf("polygon outside the raster should give no window, actual: %v, %v", window, err)
	}

	if _, err = reader.ReadWindow(context.Background(), "testdata/missing.tif", fixtureGeometry(t), 0); err == nil {
		t.Errorf("expecting error for missing raster")
	}
}

func TestRenderLocalRaster(t *testing.T) {
	if _, err := os.Stat(testRaster); os.IsNotExist(err) {
		t.Skip("Test raster is unavailable. Skipping tests")
		return
	}

	r := newTestRenderer(t, 1000, nil)
	defer r.Close()

	res, err := r.Render(context.Background(), RenderParams{SrcPath: testRaster, Feature: json.RawMessage(fixtureFeature), Year: 2022})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	var areaSum float64
	for _, feat := range res.Collection.Features {
		pv := feat.Properties["pixel_value"]
		if pv != 3 && pv != 15 {
			t.Errorf("unexpected pixel value %v", pv)
		}
		areaSum += feat.Properties["area_ha"].(float64)
	}
	if len(res.Collection.Features) < 2 {
		t.Errorf("fixture crosses both classes, actual features: %d", len(res.Collection.Features))
	}
	if math.Abs(areaSum-fixtureAreaHa) > 1e-3 {
		t.Errorf("feature areas %v should add up to the fixture area %v", areaSum, fixtureAreaHa)
	}
}

func TestCOGReaderProjectedRaster(t *testing.T) {
	if _, err := os.Stat(testProjectedRaster); os.IsNotExist(err) {
		t.Skip("Test raster is unavailable. Skipping tests")
		return
	}

	geomJSON := []byte(`{"type":"Polygon","coordinates":[[[-47.93,-15.78],[-47.926,-15.78],[-47.926,-15.782],[-47.93,-15.782],[-47.93,-15.78]]]}`)
	reader := NewCOGReader(utils.DefaultGeographicCRS, utils.DefaultFloatPrecision)
	window, err := reader.ReadWindow(context.Background(), testProjectedRaster, geomJSON, 0)
	if err != nil {
		t.Fatalf("ReadWindow failed: %v", err)
	}
	if window == nil {
		t.Fatalf("polygon should intersect the projected raster")
	}

	b := window.Bounds
	if b.MinX() < -47.9305 || b.MaxX() > -47.9255 || b.MinY() < -15.7825 || b.MaxY() > -15.7795 {
		t.Errorf("window bounds %v should be in degrees around the polygon", b)
	}

	pixelW := (b.MaxX() - b.MinX()) / float64(window.Width)
	if pixelW < 0.0003 || pixelW > 0.0005 {
		t.Errorf("expecting pixels of about 0.0004 degrees, actual %v", pixelW)
	}

	found := map[uint8]int{}
	for i, v := range window.Data {
		if !window.Mask[i] {
			continue
		}
		found[v]++
		lon := b.MinX() + (float64(i%window.Width)+0.5)*pixelW
		if lon < -47.9285 && v != 3 {
			t.Errorf("pixel at longitude %v should be class 3, actual %d", lon, v)
		}
		if lon > -47.9274 && v != 15 {
			t.Errorf("pixel at longitude %v should be class 15, actual %d", lon, v)
		}
	}
	if found[3] == 0 || found[15] == 0 {
		t.Errorf("polygon crosses both classes, actual: %v", found)
	}
}

func TestCOGReaderRemote(t *testing.T) {
	if len(os.Getenv("VEX_TEST_REMOTE")) == 0 {
		t.Skip("VEX_TEST_REMOTE is not set. Skipping tests that require network access")
		return
	}

	conf := utils.DefaultConfig()
	reader := NewCOGReader(conf.Extract.GeographicCRS, conf.Extract.FloatPrecision)
	window, err := reader.ReadWindow(context.Background(), conf.RasterURL(2022), fixtureGeometry(t), 0)
	if err != nil {
		t.Fatalf("ReadWindow failed: %v", err)
	}
	if window == nil || window.Width == 0 || window.Height == 0 {
		t.Errorf("expecting a non empty window, actual: %+v", window)
	}
}

func TestInspectLocalRaster(t *testing.T) {
	if _, err := os.Stat(testRaster); os.IsNotExist(err) {
		t.Skip("Test raster is unavailable. Skipping tests")
		return
	}

	reader := NewCOGReader(utils.DefaultGeographicCRS, utils.DefaultFloatPrecision)
	info, err := reader.Inspect(testRaster)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}

	if info.Driver != "GTiff" || info.Width != 20 || info.Height != 20 || info.Bands != 1 || info.DataType != "Byte" {
		t.Errorf("unexpected raster info: %+v", info)
	}
	if info.CRS != "EPSG:4326" {
		t.Errorf("expecting EPSG:4326, actual %s", info.CRS)
	}
	if info.NoData == nil || *info.NoData != 0 {
		t.Errorf("expecting nodata 0, actual %v", info.NoData)
	}

	expected := Bounds{{-15.786, -47.932}, {-15.778, -47.924}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(info.Bounds[i][j]-expected[i][j]) > 1e-6 {
				t.Errorf("expecting bounds %v, actual %v", expected, info.Bounds)
			}
		}
	}

	if _, err = reader.Inspect("testdata/missing.tif"); err == nil {
		t.Errorf("expecting an error for a missing raster")
	}
}
