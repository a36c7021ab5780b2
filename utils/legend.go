package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// ClassRecord holds the attributes of one land-cover class. Every key
// is copied verbatim into the properties of the features carrying the
// class pixel value.
type ClassRecord map[string]interface{}

func (c ClassRecord) str(key string) string {
	if v, ok := c[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func (c ClassRecord) ClassName() string { return c.str("class_name") }
func (c ClassRecord) ClassType() string { return c.str("class_type") }
func (c ClassRecord) HexColor() string  { return c.str("hex_color") }

var reservedAttributes = []string{"pixel_value", "area_ha", "year"}

// Legend maps a raster pixel value to its class record. It is read
// only once loaded.
type Legend map[int]ClassRecord

func (l Legend) Lookup(pixelValue int) (ClassRecord, bool) {
	rec, ok := l[pixelValue]
	return rec, ok
}

// PixelValues returns the legend keys in ascending order.
func (l Legend) PixelValues() []int {
	values := make([]int, 0, len(l))
	for v := range l {
		values = append(values, v)
	}
	sort.Ints(values)
	return values
}

// LoadLegend reads a legend from a YAML (.yaml, .yml) or JSON file
// keyed by pixel value.
func LoadLegend(legendFile string) (Legend, error) {
	raw, err := ioutil.ReadFile(legendFile)
	if err != nil {
		return nil, fmt.Errorf("Error while reading legend file: %s. Error: %v", legendFile, err)
	}

	legend := make(Legend)
	switch strings.ToLower(filepath.Ext(legendFile)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &legend)
	case ".json":
		err = json.Unmarshal(raw, &legend)
	default:
		return nil, fmt.Errorf("unsupported legend format: %s", legendFile)
	}
	if err != nil {
		return nil, fmt.Errorf("Error parsing legend document: %s. Error: %v", legendFile, err)
	}

	if len(legend) == 0 {
		return nil, fmt.Errorf("legend %s has no classes", legendFile)
	}

	for value, rec := range legend {
		if len(rec.ClassName()) == 0 {
			return nil, fmt.Errorf("legend %s: pixel value %d has no class_name", legendFile, value)
		}
		for _, key := range reservedAttributes {
			if _, found := rec[key]; found {
				return nil, fmt.Errorf("legend %s: pixel value %d redefines reserved attribute %s", legendFile, value, key)
			}
		}
	}
	return legend, nil
}
