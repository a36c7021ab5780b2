package processor

import (
	"errors"
	"math"
	"testing"

	"github.com/nci/vex/utils"
)

func newTestPolygonizer(t *testing.T) (*Polygonizer, func()) {
	transformer, err := NewCoordinateTransformer(utils.DefaultGeographicCRS, utils.DefaultProjectedCRS)
	if err != nil {
		t.Fatalf("failed to create transformer: %v", err)
	}
	area := NewAreaCalculator(transformer, utils.DefaultFloatPrecision)
	return NewPolygonizer(testLegend(), area), transformer.Close
}

func TestPolygonizeWindow(t *testing.T) {
	p, done := newTestPolygonizer(t)
	defer done()

	geomJSON, err := inputGeometry([]byte(fixtureFeature))
	if err != nil {
		t.Fatal(err)
	}
	window := testWindow(3, 15, 5)
	transform, err := BuildTransform(window.Bounds, window.Width, window.Height, utils.DefaultFloatPrecision)
	if err != nil {
		t.Fatal(err)
	}

	fc, err := p.Polygonize(geomJSON, window, transform, 2010)
	if err != nil {
		t.Fatalf("Polygonize failed: %v", err)
	}
	if len(fc.Features) == 0 {
		t.Fatalf("expecting features for both classes")
	}

	seen := map[interface{}]bool{}
	var total float64
	for _, feat := range fc.Features {
		props := feat.Properties
		seen[props["pixel_value"]] = true
		if props["year"] != 2010 {
			t.Errorf("unexpected year: %v", props["year"])
		}
		if _, found := props["hex_color"]; !found {
			t.Errorf("legend attributes should be copied: %v", props)
		}
		total += props["area_ha"].(float64)
	}
	if !seen[3] || !seen[15] {
		t.Errorf("expecting classes 3 and 15, actual: %v", seen)
	}
	if total > fixtureAreaHa+1e-4 || math.Abs(total-fixtureAreaHa) > 1e-3 {
		t.Errorf("class areas should add up to the input area %v, actual: %v", fixtureAreaHa, total)
	}
}

func TestPolygonizeEmptyInputs(t *testing.T) {
	p, done := newTestPolygonizer(t)
	defer done()

	window := testWindow(3, 3, 10)
	transform, _ := BuildTransform(window.Bounds, window.Width, window.Height, utils.DefaultFloatPrecision)

	fc, err := p.Polygonize(nil, window, transform, 2022)
	if err != nil || len(fc.Features) != 0 {
		t.Errorf("nil geometry should give an empty collection, actual: %v, %v", fc, err)
	}

	geomJSON, _ := inputGeometry([]byte(fixtureFeature))
	fc, err = p.Polygonize(geomJSON, nil, transform, 2022)
	if err != nil || len(fc.Features) != 0 {
		t.Errorf("nil window should give an empty collection, actual: %v, %v", fc, err)
	}

	bad := &RasterWindow{Data: []uint8{3}, Mask: []bool{true, true}, Bounds: testBounds, Width: 1, Height: 1}
	if _, err = p.Polygonize(geomJSON, bad, transform, 2022); err == nil {
		t.Errorf("expecting an error for inconsistent window buffers")
	}

	if _, err = p.Polygonize([]byte(`{"type":"Polygon"`), window, transform, 2022); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expecting ErrInvalidGeometry, actual: %v", err)
	}
}
