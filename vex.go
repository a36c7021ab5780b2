package main

/* vex is a web server extracting land-cover polygons from the
   MapBiomas yearly coverage rasters. A client posts a GeoJSON
   polygon and a year; the server reads the raster window under the
   polygon, polygonizes it and returns the classified features
   clipped to the polygon as GeoJSON or CSV, or a per-class summary.
   Configuration lives in config.json and the legend file under the
   config directory. Extractions run in process, or on the gRPC
   workers listed in worker_nodes. */

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/gomemcache/memcache"
	"github.com/nci/vex/metrics"
	proc "github.com/nci/vex/processor"
	"github.com/nci/vex/utils"
)

var (
	port            = flag.Int("p", 8080, "Server listening port.")
	serverDataDir   = flag.String("data_dir", utils.DataDir, "Server data directory.")
	serverConfigDir = flag.String("conf_dir", utils.EtcDir, "Server config directory.")
	serverLogDir    = flag.String("log_dir", "", "Metrics destination: '-' for stdout, a postgres:// DSN or a directory.")
	validateConfig  = flag.Bool("check_conf", false, "Validate server config files.")
	dumpConfig      = flag.Bool("dump_conf", false, "Dump server config files.")
	verbose         = flag.Bool("v", false, "Verbose mode for more server outputs.")
)

var (
	Error *log.Logger
	Info  *log.Logger
)

var metricsLogger metrics.Logger
var reExtractMap map[string]*regexp.Regexp
var mc *memcache.Client

// current holds the *service built from the latest config.
var current atomic.Value

const serviceCloseDelay = 10 * time.Minute
const summaryTitle = "MapBiomas land cover"

// service is an immutable snapshot of everything a request needs.
// A config reload builds a new one.
type service struct {
	config     *utils.Config
	legend     utils.Legend
	extractor  proc.Extractor
	filterVars []string
	cacheSalt  string
	remote     bool
	close      func()
}

func init() {
	rand.Seed(time.Now().UnixNano())

	Error = log.New(os.Stderr, "VEX: ", log.Ldate|log.Ltime|log.Lshortfile)
	Info = log.New(os.Stdout, "VEX: ", log.Ldate|log.Ltime|log.Lshortfile)

	reExtractMap = utils.CompileExtractRegexMap()
}

func newService(config *utils.Config) (*service, error) {
	legend, err := utils.LoadLegend(config.LegendFile())
	if err != nil {
		return nil, err
	}

	salt, err := extractDigest(config, legend)
	if err != nil {
		return nil, err
	}

	svc := &service{
		config:     config,
		legend:     legend,
		filterVars: utils.FilterVariables(legend),
		cacheSalt:  salt,
	}

	if len(config.ServiceConfig.WorkerNodes) > 0 {
		remote, err := proc.NewRemoteRenderer(config.ServiceConfig.WorkerNodes)
		if err != nil {
			return nil, err
		}
		svc.extractor = remote
		svc.remote = true
		svc.close = remote.Close
	} else {
		renderer, err := proc.NewRenderer(config, legend, nil)
		if err != nil {
			return nil, err
		}
		svc.extractor = renderer
		svc.close = renderer.Close
	}
	return svc, nil
}

func loadService() *service {
	return current.Load().(*service)
}

// swapService installs a snapshot built from config. The previous
// snapshot is closed once the requests holding it had time to finish.
func swapService(config *utils.Config) error {
	svc, err := newService(config)
	if err != nil {
		return err
	}

	old, _ := current.Load().(*service)
	current.Store(svc)
	if old != nil && old.close != nil {
		time.AfterFunc(serviceCloseDelay, old.close)
	}
	return nil
}

func setupMetricsLogger() {
	switch {
	case len(*serverLogDir) == 0:
	case *serverLogDir == "-":
		metricsLogger = metrics.NewStdoutLogger()
	case strings.HasPrefix(*serverLogDir, "postgres://") || strings.HasPrefix(*serverLogDir, "postgresql://"):
		table := "vex_metrics"
		if val, ok := os.LookupEnv("VEX_METRICS_TABLE"); ok && len(val) > 0 {
			table = val
		}
		logger, err := metrics.NewPostgresLogger(*serverLogDir, table, *verbose)
		if err != nil {
			Error.Printf("Error in opening metrics database: %v\n", err)
			panic(err)
		}
		metricsLogger = logger
	default:
		maxLogFileSize := int64(0)
		if val, ok := os.LookupEnv("VEX_MAX_LOG_FILE_SIZE"); ok {
			valInt, e := strconv.ParseInt(val, 10, 64)
			if e == nil {
				maxLogFileSize = valInt
			} else {
				Error.Printf("invalid VEX_MAX_LOG_FILE_SIZE: %v", e)
			}
		}

		maxLogFiles := -1
		if val, ok := os.LookupEnv("VEX_MAX_LOG_FILES"); ok {
			valInt, e := strconv.ParseInt(val, 10, 32)
			if e == nil {
				maxLogFiles = int(valInt)
			} else {
				Error.Printf("invalid VEX_MAX_LOG_FILES: %v", e)
			}
		}

		metricsLogger = metrics.NewFileLogger(*serverLogDir, maxLogFileSize, maxLogFiles, *verbose)
	}
}

// extractDigest hashes the settings an extraction result depends on
// besides its request. Each reloaded snapshot gets its own digest.
func extractDigest(config *utils.Config, legend utils.Legend) (string, error) {
	legendJSON, err := json.Marshal(legend)
	if err != nil {
		return "", fmt.Errorf("hashing legend: %v", err)
	}

	h := md5.New()
	fmt.Fprintf(h, "%g|%d|%d|%s|%s|", config.Extract.MaxAreaHa, config.Extract.FloatPrecision, config.Extract.MaxSize,
		config.Extract.GeographicCRS, config.Extract.ProjectedCRS)
	h.Write(legendJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// cacheKey identifies an extraction. Render is a pure function of
// these inputs and the settings digested in salt.
func cacheKey(salt string, params proc.RenderParams) string {
	h := md5.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|", salt, params.SrcPath, params.MaxSize, params.Year)
	h.Write(params.Feature)
	return hex.EncodeToString(h.Sum(nil))
}

func runExtract(ctx context.Context, svc *service, params proc.RenderParams, metricsCollector *metrics.MetricsCollector) (*proc.RenderResult, error) {
	extractInfo := metricsCollector.Info.Extract
	extractInfo.SrcPath = params.SrcPath
	extractInfo.Year = params.Year
	extractInfo.Remote = svc.remote

	t0 := time.Now()
	defer func() { extractInfo.Duration = time.Since(t0) }()

	var key string
	if mc != nil {
		key = cacheKey(svc.cacheSalt, params)
		if cached, err := mc.Get(key); err == nil {
			res := &proc.RenderResult{}
			if err = json.Unmarshal(cached.Value, res); err == nil {
				extractInfo.CacheHit = true
				return res, nil
			}
			Error.Printf("Discarding unreadable cache entry %s: %v\n", key, err)
		}
	}

	res, err := svc.extractor.Render(ctx, params)
	if err != nil {
		extractInfo.Error = err.Error()
		return nil, err
	}

	if mc != nil {
		if payload, err := json.Marshal(res); err == nil {
			// memcache may not retain the item, errors are not relevant
			mc.Set(&memcache.Item{Key: key, Value: payload, Expiration: svc.config.ServiceConfig.CacheTTL})
		}
	}
	return res, nil
}

type rejectionReply struct {
	Error     bool    `json:"error"`
	AreaHa    float64 `json:"area_ha"`
	MaxAreaHa float64 `json:"max_area_ha"`
}

// prepareExtract validates an /extract or /summary request and runs
// the extraction. It writes the error reply itself and returns nil
// when the request cannot proceed.
func prepareExtract(svc *service, w http.ResponseWriter, r *http.Request, defaultFormat string, metricsCollector *metrics.MetricsCollector) (*proc.RenderResult, utils.ExtractParams) {
	var params utils.ExtractParams
	if r.Method != "POST" {
		metricsCollector.Info.HTTPStatus = 405
		http.Error(w, "Only POST requests carrying a GeoJSON document are accepted", 405)
		return nil, params
	}

	query, err := utils.ParseQuery(r.URL.RawQuery)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, fmt.Sprintf("Failed to parse query: %v", err), 400)
		return nil, params
	}

	params, err = utils.ExtractParamsChecker(query, reExtractMap, svc.config, defaultFormat)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, fmt.Sprintf("Wrong parameters on URL: %s", err), 400)
		return nil, params
	}

	maxBodySize := svc.config.ServiceConfig.MaxBodySize
	if maxBodySize <= 0 {
		maxBodySize = utils.DefaultMaxBodySize
	}
	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		metricsCollector.Info.HTTPStatus = 413
		http.Error(w, fmt.Sprintf("Error reading request body: %v", err), 413)
		return nil, params
	}

	feature, err := utils.ParseInputFeature(body)
	if err != nil {
		if *verbose {
			Info.Printf("Rejected input: %v\n", err)
		}
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, err.Error(), 400)
		return nil, params
	}

	maxSize := svc.config.Extract.MaxSize
	if params.MaxSize != nil {
		maxSize = *params.MaxSize
	}

	renderParams := proc.RenderParams{
		SrcPath: svc.config.RasterURL(params.Year),
		Feature: feature,
		MaxSize: maxSize,
		Year:    params.Year,
	}

	res, err := runExtract(r.Context(), svc, renderParams, metricsCollector)
	if err != nil {
		status := 500
		var classErr *proc.UnknownClassError
		switch {
		case errors.Is(err, proc.ErrInvalidGeometry), errors.Is(err, utils.ErrUnsupportedGeometry):
			status = 400
		case errors.As(err, &classErr):
			Error.Printf("Legend does not cover the raster: %v\n", err)
		default:
			Error.Printf("Extraction of %s failed: %v\n", renderParams.SrcPath, err)
		}
		metricsCollector.Info.HTTPStatus = status
		http.Error(w, err.Error(), status)
		return nil, params
	}

	metricsCollector.Info.Extract.InputAreaHa = res.AreaHa
	if res.Rejected {
		Info.Printf("The requested area %.02f ha is too large.\n", res.AreaHa)
		metricsCollector.Info.Extract.Rejected = true
		metricsCollector.Info.HTTPStatus = 413
		writeJSON(w, 413, &rejectionReply{Error: true, AreaHa: res.AreaHa, MaxAreaHa: svc.config.Extract.MaxAreaHa})
		return nil, params
	}

	if res.Collection == nil {
		res.Collection = proc.NewFeatureCollection()
	}
	metricsCollector.Info.Extract.NumFeatures = len(res.Collection.Features)
	return res, params
}

func extractHandler(svc *service, w http.ResponseWriter, r *http.Request, metricsCollector *metrics.MetricsCollector) {
	res, params := prepareExtract(svc, w, r, utils.FormatGeoJSON, metricsCollector)
	if res == nil {
		return
	}

	filter, err := utils.NewFeatureFilter(params.Filter, svc.filterVars)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, err.Error(), 400)
		return
	}

	fc := proc.NewFeatureCollection()
	for _, feat := range res.Collection.Features {
		ok, err := filter.Match(feat.Properties)
		if err != nil {
			metricsCollector.Info.HTTPStatus = 400
			http.Error(w, err.Error(), 400)
			return
		}
		if ok {
			fc.Features = append(fc.Features, feat)
		}
	}

	switch params.Format {
	case utils.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="coverage_%d.csv"`, params.Year))
		err = utils.EncodeCSV(w, svc.config.Extract.CSVColumns, svc.config.Extract.CSVColumnAliases, fc.Properties())
		if err != nil {
			Error.Printf("CSV encoding error: %v\n", err)
		}
	case utils.FormatGeoJSON, utils.FormatJSON:
		writeJSON(w, 200, fc)
	default:
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, fmt.Sprintf("format %s is not available for /extract", params.Format), 400)
	}
}

func summaryHandler(svc *service, w http.ResponseWriter, r *http.Request, metricsCollector *metrics.MetricsCollector) {
	res, params := prepareExtract(svc, w, r, utils.FormatHTML, metricsCollector)
	if res == nil {
		return
	}

	rows, err := utils.SummariseClasses(res.Collection.Properties(), svc.config.Extract.FloatPrecision)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 500
		http.Error(w, err.Error(), 500)
		return
	}

	switch params.Format {
	case utils.FormatHTML:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err = utils.RenderSummary(w, filepath.Join(utils.DataDir, "templates"), summaryTitle, params.Year, rows)
		if err != nil {
			metricsCollector.Info.HTTPStatus = 500
			http.Error(w, err.Error(), 500)
		}
	case utils.FormatJSON:
		writeJSON(w, 200, rows)
	default:
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, fmt.Sprintf("format %s is not available for /summary", params.Format), 400)
	}
}

type configReply struct {
	Years                   []int             `json:"years"`
	MaxAreaHa               float64           `json:"max_area_ha"`
	FloatPrecision          int               `json:"float_precision"`
	LegendURL               string            `json:"legend_url"`
	RasterURLs              map[string]string `json:"raster_urls"`
	FeatureAttributes       []string          `json:"feature_attributes"`
	FeatureAttributeAliases []string          `json:"feature_attribute_aliases"`
	FilterVariables         []string          `json:"filter_variables"`
}

func configHandler(svc *service, w http.ResponseWriter, r *http.Request, metricsCollector *metrics.MetricsCollector) {
	conf := svc.config
	reply := &configReply{
		Years:                   conf.Years(),
		MaxAreaHa:               conf.Extract.MaxAreaHa,
		FloatPrecision:          conf.Extract.FloatPrecision,
		LegendURL:               conf.Collection.LegendURL,
		RasterURLs:              make(map[string]string),
		FeatureAttributes:       conf.Extract.FeatureAttributes,
		FeatureAttributeAliases: conf.Extract.FeatureAttributeAliases,
		FilterVariables:         svc.filterVars,
	}
	for _, year := range reply.Years {
		reply.RasterURLs[strconv.Itoa(year)] = conf.RasterURL(year)
	}
	writeJSON(w, 200, reply)
}

func legendHandler(svc *service, w http.ResponseWriter, r *http.Request, metricsCollector *metrics.MetricsCollector) {
	writeJSON(w, 200, svc.legend)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	out, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(out)
}

type serviceHandler func(svc *service, w http.ResponseWriter, r *http.Request, metricsCollector *metrics.MetricsCollector)

// generalHandler wraps h with the common headers and request metrics.
func generalHandler(h serviceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
		if *verbose {
			Info.Printf("%s %s\n", r.Method, r.URL.String())
		}

		if r.Method == "OPTIONS" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			return
		}

		metricsCollector := metrics.NewMetricsCollector(metricsLogger)
		metricsCollector.Start(r)
		defer metricsCollector.Finish()

		h(loadService(), w, r, metricsCollector)
	}
}

func fileHandler(w http.ResponseWriter, r *http.Request) {
	upath := r.URL.Path
	if !strings.HasPrefix(upath, "/") {
		upath = "/" + upath
		r.URL.Path = upath
	}
	upath = path.Clean(upath)
	upath = filepath.Join(utils.DataDir+"/static", upath)

	if *verbose {
		Info.Printf("%s -> %s\n", r.URL.String(), upath)
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	http.ServeFile(w, r, upath)
}

func newServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", fileHandler)
	mux.HandleFunc("/config", generalHandler(configHandler))
	mux.HandleFunc("/legend", generalHandler(legendHandler))
	mux.HandleFunc("/extract", generalHandler(extractHandler))
	mux.HandleFunc("/summary", generalHandler(summaryHandler))
	return mux
}

func main() {
	flag.Parse()

	utils.DataDir = *serverDataDir
	utils.EtcDir = *serverConfigDir

	filePaths := []string{
		utils.DataDir + "/static/index.html",
		utils.DataDir + "/templates/summary.jet",
	}
	for _, filePath := range filePaths {
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			panic(err)
		}
	}

	config, err := utils.LoadConfig(utils.EtcDir, *verbose)
	if err != nil {
		Error.Printf("Error in loading config files: %v\n", err)
		panic(err)
	}

	if *validateConfig {
		if _, err := utils.LoadLegend(config.LegendFile()); err != nil {
			Error.Printf("Error in loading legend: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *dumpConfig {
		configJSON, err := utils.DumpConfig(config)
		if err != nil {
			Error.Printf("Error in dumping configs: %v\n", err)
		} else {
			log.Print(configJSON)
		}
		os.Exit(0)
	}

	utils.InitGdal()

	if err = swapService(config); err != nil {
		Error.Printf("Error in starting the extraction service: %v\n", err)
		panic(err)
	}
	utils.WatchConfig(Info, Error, utils.EtcDir, *verbose, swapService)

	if len(config.ServiceConfig.MemcacheURI) > 0 {
		mc = memcache.New(config.ServiceConfig.MemcacheURI)
		Info.Printf("Caching extractions in memcache at %s\n", config.ServiceConfig.MemcacheURI)
	}

	setupMetricsLogger()

	listener, err := reuseport.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", *port))
	if err != nil {
		Error.Fatalf("Failed to listen: %v", err)
	}

	server := &http.Server{
		Handler:      newServeMux(),
		ReadTimeout:  time.Minute,
		WriteTimeout: 5 * time.Minute,
	}

	Info.Printf("VEX is ready")
	log.Fatal(server.Serve(listener))
}
