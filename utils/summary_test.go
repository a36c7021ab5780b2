package utils

import (
	"bytes"
	"strings"
	"testing"
)

func testProps() []map[string]interface{} {
	return []map[string]interface{}{
		{"pixel_value": 3, "class_name": "Forest Formation", "class_type": "Forest", "hex_color": "#1f8d49", "area_ha": 1.5, "year": 2022},
		{"pixel_value": 15, "class_name": "Pasture", "class_type": "Farming", "hex_color": "#edde8e", "area_ha": 2.0, "year": 2022},
		{"pixel_value": 3.0, "class_name": "Forest Formation", "class_type": "Forest", "hex_color": "#1f8d49", "area_ha": 1.0, "year": 2022},
		{"pixel_value": 33, "class_name": "River, Lake and Ocean", "area_ha": 0.5, "year": 2022},
	}
}

func TestSummariseClasses(t *testing.T) {
	rows, err := SummariseClasses(testProps(), 6)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expecting 3 classes, actual: %d", len(rows))
	}

	if rows[0].PixelValue != 3 || rows[0].Features != 2 || rows[0].AreaHa != 2.5 {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[1].PixelValue != 15 || rows[2].PixelValue != 33 {
		t.Errorf("rows are not sorted by area: %d, %d", rows[1].PixelValue, rows[2].PixelValue)
	}
	if rows[0].Percent != 50 || rows[1].Percent != 40 || rows[2].Percent != 10 {
		t.Errorf("unexpected percentages: %v, %v, %v", rows[0].Percent, rows[1].Percent, rows[2].Percent)
	}
}

func TestSummariseClassesErrors(t *testing.T) {
	if _, err := SummariseClasses([]map[string]interface{}{{"pixel_value": "3", "area_ha": 1.0}}, 6); err == nil {
		t.Errorf("expecting error for non numeric pixel value")
	}

	rows, err := SummariseClasses(nil, 6)
	if err != nil || len(rows) != 0 {
		t.Errorf("empty input should give empty summary, actual: %v, %v", rows, err)
	}
}

func TestRenderSummary(t *testing.T) {
	rows, err := SummariseClasses(testProps(), 6)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}

	var buf bytes.Buffer
	if err = RenderSummary(&buf, "../data/templates", "Land cover", 2022, rows); err != nil {
		t.Fatalf("render failed: %v", err)
	}

	html := buf.String()
	for _, expected := range []string{"Land cover 2022", "Forest Formation", "Pasture", "2.50", "5.00", "#edde8e"} {
		if !strings.Contains(html, expected) {
			t.Errorf("summary table is missing %q", expected)
		}
	}
	if strings.Index(html, "Forest Formation") > strings.Index(html, "Pasture") {
		t.Errorf("largest class should be listed first")
	}
}
