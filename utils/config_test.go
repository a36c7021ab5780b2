package utils

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}

	years := config.Years()
	if len(years) != DefaultEndYear-DefaultStartYear+1 {
		t.Errorf("expecting %d years, actual: %d", DefaultEndYear-DefaultStartYear+1, len(years))
	}
	if years[0] != DefaultEndYear || years[len(years)-1] != DefaultStartYear {
		t.Errorf("years are not listed newest first: %v", years)
	}

	url := config.RasterURL(2022)
	expected := DefaultRasterURL + "/brasil_coverage_2022.tif"
	if url != expected {
		t.Errorf("expecting %s, actual: %s", expected, url)
	}

	if !config.HasYear(1985) || config.HasYear(1984) || config.HasYear(2023) {
		t.Errorf("year range check failed")
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	confDir, err := ioutil.TempDir("", "vex_conf")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(confDir)

	doc := `{
  "collection": {"raster_url": "https://example.org/coverage/", "start_year": 2000, "end_year": 2010},
  "extract": {"max_area_ha": 500}
}`
	if err = ioutil.WriteFile(filepath.Join(confDir, "config.json"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	if err = ioutil.WriteFile(filepath.Join(confDir, ".env"), []byte("MAPBIOMAS_END_YEAR=2005\n"), 0644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("MAX_POLYGON_CLIP_AREA_HA", "250.5")
	defer os.Unsetenv("MAX_POLYGON_CLIP_AREA_HA")
	defer os.Unsetenv("MAPBIOMAS_END_YEAR")

	config, err := LoadConfig(confDir, false)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Extract.MaxAreaHa != 250.5 {
		t.Errorf("environment should override config file max area, actual: %v", config.Extract.MaxAreaHa)
	}
	if config.Collection.StartYear != 2000 || config.Collection.EndYear != 2005 {
		t.Errorf("unexpected year range: %d-%d", config.Collection.StartYear, config.Collection.EndYear)
	}
	if config.Extract.FloatPrecision != DefaultFloatPrecision {
		t.Errorf("unset values should keep defaults, actual precision: %d", config.Extract.FloatPrecision)
	}
	if config.RasterURL(2001) != "https://example.org/coverage/brasil_coverage_2001.tif" {
		t.Errorf("unexpected raster url: %s", config.RasterURL(2001))
	}
	if config.LegendFile() != filepath.Join(confDir, DefaultLegendPath) {
		t.Errorf("legend path should resolve against the config dir, actual: %s", config.LegendFile())
	}
}

func TestLoadConfigReloadsEnvFile(t *testing.T) {
	confDir, err := ioutil.TempDir("", "vex_conf")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(confDir)
	defer os.Unsetenv("MAX_POLYGON_CLIP_AREA_HA")
	defer os.Unsetenv("FLOAT_PRECISION")

	envFile := filepath.Join(confDir, ".env")
	writeEnv := func(doc string) {
		if err := ioutil.WriteFile(envFile, []byte(doc), 0644); err != nil {
			t.Fatal(err)
		}
	}

	os.Setenv("FLOAT_PRECISION", "4")
	writeEnv("MAX_POLYGON_CLIP_AREA_HA=500\nFLOAT_PRECISION=2\n")
	config, err := LoadConfig(confDir, false)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Extract.MaxAreaHa != 500 {
		t.Errorf("expecting max area 500 from .env, actual: %v", config.Extract.MaxAreaHa)
	}
	if config.Extract.FloatPrecision != 4 {
		t.Errorf("environment should win over .env, actual precision: %d", config.Extract.FloatPrecision)
	}

	writeEnv("MAX_POLYGON_CLIP_AREA_HA=750\n")
	config, err = LoadConfig(confDir, false)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Extract.MaxAreaHa != 750 {
		t.Errorf("reload should pick up the edited .env, actual max area: %v", config.Extract.MaxAreaHa)
	}

	writeEnv("")
	config, err = LoadConfig(confDir, false)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Extract.MaxAreaHa != DefaultMaxAreaHa {
		t.Errorf("values removed from .env should fall back to defaults, actual max area: %v", config.Extract.MaxAreaHa)
	}
	if config.Extract.FloatPrecision != 4 {
		t.Errorf("environment value should survive reloads, actual precision: %d", config.Extract.FloatPrecision)
	}
}

func TestLoadConfigInvalidEnv(t *testing.T) {
	confDir, err := ioutil.TempDir("", "vex_conf")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(confDir)

	os.Setenv("FLOAT_PRECISION", "six")
	defer os.Unsetenv("FLOAT_PRECISION")

	if _, err = LoadConfig(confDir, false); err == nil {
		t.Errorf("expecting error for non numeric FLOAT_PRECISION")
	}
}

func TestValidateConfig(t *testing.T) {
	config := DefaultConfig()
	config.Collection.StartYear = 2023
	if err := config.Validate(); err == nil {
		t.Errorf("expecting error for start year after end year")
	}

	config = DefaultConfig()
	config.Collection.RasterPattern = "brasil_coverage.tif"
	if err := config.Validate(); err == nil {
		t.Errorf("expecting error for raster pattern without year")
	}

	config = DefaultConfig()
	config.Extract.FeatureAttributeAliases = []string{"Class"}
	if err := config.Validate(); err == nil {
		t.Errorf("expecting error for mismatched aliases")
	}

	config = DefaultConfig()
	config.Extract.CSVColumnAliases = []string{"Class"}
	if err := config.Validate(); err == nil {
		t.Errorf("expecting error for CSV aliases without columns")
	}
}
