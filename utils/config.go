package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
)

var EtcDir = "."
var DataDir = "."

const (
	DefaultRasterURL      = "https://storage.googleapis.com/mapbiomas-public/initiatives/brasil/collection_8/lclu/coverage"
	DefaultLegendURL      = "https://brasil.mapbiomas.org/wp-content/uploads/sites/4/2023/08/Legenda-Colecao-8-LEGEND-CODE.pdf"
	DefaultRasterPattern  = "brasil_coverage_%d.tif"
	DefaultStartYear      = 1985
	DefaultEndYear        = 2022
	DefaultMaxAreaHa      = 1000.0
	DefaultFloatPrecision = 6
	DefaultGeographicCRS  = "EPSG:4326"
	DefaultProjectedCRS   = "EPSG:6933"
	DefaultLegendPath     = "legend.yaml"
	DefaultMaxBodySize    = 10 * 1024 * 1024
	DefaultCacheTTL       = 24 * 3600
	ISOFormat             = "2006-01-02T15:04:05.000Z"
)

type ServiceConfig struct {
	Hostname    string   `json:"hostname"`
	WorkerNodes []string `json:"worker_nodes"`
	MemcacheURI string   `json:"memcache_uri"`
	CacheTTL    int32    `json:"cache_ttl"`
	MaxBodySize int64    `json:"max_body_size"`
	Concurrency int      `json:"concurrency"`
}

// CollectionConfig describes where the yearly land-cover rasters and
// their legend live.
type CollectionConfig struct {
	RasterURL     string `json:"raster_url"`
	RasterPattern string `json:"raster_pattern"`
	LegendURL     string `json:"legend_url"`
	LegendPath    string `json:"legend_path"`
	StartYear     int    `json:"start_year"`
	EndYear       int    `json:"end_year"`
}

// ExtractConfig holds the parameters trusted by the extraction
// pipeline. MaxSize caps the longer side of the raster window read,
// zero meaning native resolution. FeatureAttributes are the properties
// shown by clients; CSV exports carry every property unless CSVColumns
// is set.
type ExtractConfig struct {
	MaxAreaHa               float64  `json:"max_area_ha"`
	FloatPrecision          int      `json:"float_precision"`
	MaxSize                 int      `json:"max_size"`
	GeographicCRS           string   `json:"geographic_crs"`
	ProjectedCRS            string   `json:"projected_crs"`
	FeatureAttributes       []string `json:"feature_attributes"`
	FeatureAttributeAliases []string `json:"feature_attribute_aliases"`
	CSVColumns              []string `json:"csv_columns"`
	CSVColumnAliases        []string `json:"csv_column_aliases"`
}

// Config is the struct representing the configuration of the
// extraction service. A loaded Config is never modified: a reload
// produces a new value.
type Config struct {
	ServiceConfig ServiceConfig    `json:"service_config"`
	Collection    CollectionConfig `json:"collection"`
	Extract       ExtractConfig    `json:"extract"`

	configDir string
}

func DefaultConfig() *Config {
	return &Config{
		ServiceConfig: ServiceConfig{
			CacheTTL:    DefaultCacheTTL,
			MaxBodySize: DefaultMaxBodySize,
			Concurrency: 8,
		},
		Collection: CollectionConfig{
			RasterURL:     DefaultRasterURL,
			RasterPattern: DefaultRasterPattern,
			LegendURL:     DefaultLegendURL,
			LegendPath:    DefaultLegendPath,
			StartYear:     DefaultStartYear,
			EndYear:       DefaultEndYear,
		},
		Extract: ExtractConfig{
			MaxAreaHa:               DefaultMaxAreaHa,
			FloatPrecision:          DefaultFloatPrecision,
			GeographicCRS:           DefaultGeographicCRS,
			ProjectedCRS:            DefaultProjectedCRS,
			FeatureAttributes:       []string{"class_name", "area_ha", "year"},
			FeatureAttributeAliases: []string{"Class", "Area (ha)", "Year"},
		},
		configDir: ".",
	}
}

// LoadConfig builds a Config from the defaults, the optional
// config.json and .env files under confDir, and finally the
// environment.
func LoadConfig(confDir string, verbose bool) (*Config, error) {
	envFile := filepath.Join(confDir, ".env")
	if err := loadEnvFile(envFile, verbose); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	configFile := filepath.Join(confDir, "config.json")
	if _, err := os.Stat(configFile); err == nil {
		if verbose {
			log.Printf("Loading config file: %s", configFile)
		}
		if err := config.LoadConfigFile(configFile); err != nil {
			return nil, err
		}
	} else if verbose {
		log.Printf("No config file under %s, using defaults and environment", confDir)
	}
	config.configDir = confDir

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

var (
	envFileMu     sync.Mutex
	envFileValues = map[string]string{}
)

// loadEnvFile exports the variables of envFile into the process
// environment on every load. Variables set by the environment itself
// win. Keys dropped from the file since the previous load are unset.
func loadEnvFile(envFile string, verbose bool) error {
	values := map[string]string{}
	if _, err := os.Stat(envFile); err == nil {
		values, err = godotenv.Read(envFile)
		if err != nil {
			return fmt.Errorf("Error while loading env file: %s. Error: %v", envFile, err)
		}
		if verbose {
			log.Printf("Loaded env file: %s", envFile)
		}
	}

	envFileMu.Lock()
	defer envFileMu.Unlock()

	for key, prev := range envFileValues {
		if _, found := values[key]; found {
			continue
		}
		if cur, ok := os.LookupEnv(key); ok && cur == prev {
			os.Unsetenv(key)
		}
		delete(envFileValues, key)
	}

	for key, val := range values {
		cur, set := os.LookupEnv(key)
		prev, fromFile := envFileValues[key]
		if set && !(fromFile && cur == prev) {
			continue
		}
		os.Setenv(key, val)
		envFileValues[key] = val
	}
	return nil
}

// LoadConfigFile marshalls the config.json document on top of the
// values already present in config.
func (config *Config) LoadConfigFile(configFile string) error {
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	err = json.Unmarshal(cfg, config)
	if err != nil {
		return fmt.Errorf("Error at JSON parsing config document: %s. Error: %v", configFile, err)
	}
	return nil
}

func (config *Config) applyEnv() error {
	if val, ok := os.LookupEnv("URL_MAPBIOMAS"); ok {
		config.Collection.RasterURL = val
	}
	if val, ok := os.LookupEnv("URL_MAPBIOMAS_LEGEND"); ok {
		config.Collection.LegendURL = val
	}

	intEnv := map[string]*int{
		"MAPBIOMAS_START_YEAR": &config.Collection.StartYear,
		"MAPBIOMAS_END_YEAR":   &config.Collection.EndYear,
		"FLOAT_PRECISION":      &config.Extract.FloatPrecision,
		"VEX_MAX_SIZE":         &config.Extract.MaxSize,
	}
	for name, dst := range intEnv {
		if val, ok := os.LookupEnv(name); ok {
			v, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return fmt.Errorf("invalid %s: %v", name, err)
			}
			*dst = v
		}
	}

	if val, ok := os.LookupEnv("MAX_POLYGON_CLIP_AREA_HA"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_POLYGON_CLIP_AREA_HA: %v", err)
		}
		config.Extract.MaxAreaHa = v
	}
	return nil
}

func (config *Config) Validate() error {
	if len(strings.TrimSpace(config.Collection.RasterURL)) == 0 {
		return fmt.Errorf("collection raster_url must not be empty")
	}
	if strings.Count(config.Collection.RasterPattern, "%d") != 1 {
		return fmt.Errorf("collection raster_pattern must contain exactly one %%d: %q", config.Collection.RasterPattern)
	}
	if config.Collection.StartYear > config.Collection.EndYear {
		return fmt.Errorf("start year %d is after end year %d", config.Collection.StartYear, config.Collection.EndYear)
	}
	if config.Extract.FloatPrecision < 0 || config.Extract.FloatPrecision > 15 {
		return fmt.Errorf("float_precision must be within [0, 15], got %d", config.Extract.FloatPrecision)
	}
	if config.Extract.MaxSize < 0 {
		return fmt.Errorf("max_size must not be negative, got %d", config.Extract.MaxSize)
	}
	if len(config.Extract.FeatureAttributeAliases) > 0 && len(config.Extract.FeatureAttributeAliases) != len(config.Extract.FeatureAttributes) {
		return fmt.Errorf("feature_attribute_aliases has %d entries, feature_attributes has %d", len(config.Extract.FeatureAttributeAliases), len(config.Extract.FeatureAttributes))
	}
	if len(config.Extract.CSVColumnAliases) > 0 && len(config.Extract.CSVColumnAliases) != len(config.Extract.CSVColumns) {
		return fmt.Errorf("csv_column_aliases has %d entries, csv_columns has %d", len(config.Extract.CSVColumnAliases), len(config.Extract.CSVColumns))
	}
	if len(config.Extract.GeographicCRS) == 0 || len(config.Extract.ProjectedCRS) == 0 {
		return fmt.Errorf("geographic_crs and projected_crs must be set")
	}
	return nil
}

// RasterURL returns the location of the land-cover raster for year.
func (config *Config) RasterURL(year int) string {
	base := strings.TrimRight(config.Collection.RasterURL, "/")
	return base + "/" + fmt.Sprintf(config.Collection.RasterPattern, year)
}

// Years lists the selectable years, newest first.
func (config *Config) Years() []int {
	years := []int{}
	for y := config.Collection.EndYear; y >= config.Collection.StartYear; y-- {
		years = append(years, y)
	}
	return years
}

func (config *Config) HasYear(year int) bool {
	return year >= config.Collection.StartYear && year <= config.Collection.EndYear
}

// LegendFile resolves the legend path against the config directory.
func (config *Config) LegendFile() string {
	if filepath.IsAbs(config.Collection.LegendPath) {
		return config.Collection.LegendPath
	}
	return filepath.Join(config.configDir, config.Collection.LegendPath)
}

func DumpConfig(config *Config) (string, error) {
	configJSON, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", err
	}
	return string(configJSON), nil
}

// WatchConfig reloads the configuration on SIGHUP and hands the new
// snapshot to onReload. The previous snapshot stays valid for requests
// already holding it.
func WatchConfig(infoLog, errLog *log.Logger, confDir string, verbose bool, onReload func(*Config) error) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			infoLog.Println("Caught SIGHUP, reloading config...")
			config, err := LoadConfig(confDir, verbose)
			if err != nil {
				errLog.Printf("Error in loading config files: %v\n", err)
				continue
			}

			if err = onReload(config); err != nil {
				errLog.Printf("Error in applying reloaded config: %v\n", err)
			}
		}
	}()
}
