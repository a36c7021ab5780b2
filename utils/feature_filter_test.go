package utils

import (
	"testing"
)

func TestFeatureFilter(t *testing.T) {
	valid := []string{"pixel_value", "area_ha", "year", "class_name", "class_type"}

	filter, err := NewFeatureFilter("area_ha > 0.5 && class_type == 'Forest'", valid)
	if err != nil {
		t.Fatalf("failed to parse filter: %v", err)
	}

	cases := []struct {
		props    map[string]interface{}
		expected bool
	}{
		{map[string]interface{}{"area_ha": 1.25, "class_type": "Forest"}, true},
		{map[string]interface{}{"area_ha": 0.25, "class_type": "Forest"}, false},
		{map[string]interface{}{"area_ha": 3, "class_type": "Farming"}, false},
	}
	for _, c := range cases {
		match, err := filter.Match(c.props)
		if err != nil {
			t.Errorf("%v: %v", c.props, err)
			continue
		}
		if match != c.expected {
			t.Errorf("%v: expecting %v, actual: %v", c.props, c.expected, match)
		}
	}

	filter, err = NewFeatureFilter("pixel_value == 3", valid)
	if err != nil {
		t.Fatalf("failed to parse filter: %v", err)
	}
	if match, err := filter.Match(map[string]interface{}{"pixel_value": 3}); err != nil || !match {
		t.Errorf("int pixel value should match float literal, match: %v, err: %v", match, err)
	}
}

func TestFeatureFilterEmpty(t *testing.T) {
	filter, err := NewFeatureFilter("  ", nil)
	if err != nil || filter != nil {
		t.Fatalf("empty pattern should yield a nil filter, actual: %v, %v", filter, err)
	}
	if match, err := filter.Match(map[string]interface{}{}); err != nil || !match {
		t.Errorf("nil filter should match everything")
	}
}

func TestFeatureFilterErrors(t *testing.T) {
	valid := []string{"area_ha"}
	if _, err := NewFeatureFilter("perimeter > 3", valid); err == nil {
		t.Errorf("expecting error for unknown variable")
	}
	if _, err := NewFeatureFilter("area_ha >", valid); err == nil {
		t.Errorf("expecting error for malformed expression")
	}

	filter, err := NewFeatureFilter("area_ha + 1", valid)
	if err != nil {
		t.Fatalf("failed to parse filter: %v", err)
	}
	if _, err = filter.Match(map[string]interface{}{"area_ha": 1.0}); err == nil {
		t.Errorf("expecting error for non boolean result")
	}
}

func TestFilterVariables(t *testing.T) {
	legend := Legend{3: ClassRecord{"class_name": "Forest Formation", "hex_color": "#1f8d49"}}
	vars := FilterVariables(legend)
	expected := []string{"area_ha", "class_name", "hex_color", "pixel_value", "year"}
	if len(vars) != len(expected) {
		t.Fatalf("expecting %v, actual: %v", expected, vars)
	}
	for i := range expected {
		if vars[i] != expected[i] {
			t.Errorf("expecting %v, actual: %v", expected, vars)
			break
		}
	}
}
