package utils

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	fileName := filepath.Join(dir, name)
	if err := ioutil.WriteFile(fileName, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return fileName
}

func TestLoadLegend(t *testing.T) {
	legend, err := LoadLegend("../conf/legend.yaml")
	if err != nil {
		t.Fatalf("failed to load shipped legend: %v", err)
	}

	rec, ok := legend.Lookup(3)
	if !ok {
		t.Fatalf("pixel value 3 not found")
	}
	if rec.ClassName() != "Forest Formation" {
		t.Errorf("expecting Forest Formation, actual: %s", rec.ClassName())
	}
	if rec.HexColor() != "#1f8d49" {
		t.Errorf("unexpected colour: %s", rec.HexColor())
	}

	if _, ok = legend.Lookup(250); ok {
		t.Errorf("pixel value 250 should not be in the legend")
	}

	values := legend.PixelValues()
	for i := 1; i < len(values); i++ {
		if values[i-1] >= values[i] {
			t.Errorf("pixel values are not sorted: %v", values)
			break
		}
	}
}

func TestLoadLegendErrors(t *testing.T) {
	dir, err := ioutil.TempDir("", "vex_legend")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	jsonLegend := writeTempFile(t, dir, "legend.json", `{"3": {"class_name": "Forest Formation"}}`)
	legend, err := LoadLegend(jsonLegend)
	if err != nil {
		t.Fatalf("failed to load JSON legend: %v", err)
	}
	if rec, ok := legend.Lookup(3); !ok || rec.ClassName() != "Forest Formation" {
		t.Errorf("unexpected JSON legend: %v", legend)
	}

	cases := map[string]string{
		"empty.yaml":    "{}\n",
		"noname.yaml":   "3:\n  class_type: Forest\n",
		"reserved.yaml": "3:\n  class_name: Forest\n  area_ha: 1\n",
		"legend.txt":    "3: Forest\n",
	}
	for name, content := range cases {
		if _, err := LoadLegend(writeTempFile(t, dir, name, content)); err == nil {
			t.Errorf("%s: expecting error", name)
		}
	}

	if _, err := LoadLegend(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("expecting error for missing legend file")
	}
}
