package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	proc "github.com/nci/vex/processor"
	"github.com/nci/vex/utils"
)

// vex-extract runs one extraction locally: it reads a GeoJSON Feature
// or FeatureCollection from a file or stdin and writes the clipped
// land-cover features, as GeoJSON or CSV, or a per-class summary.

func init() {
	if _, ok := os.LookupEnv("GOMAXPROCS"); !ok {
		runtime.GOMAXPROCS(2)
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return ioutil.ReadAll(os.Stdin)
	}
	return ioutil.ReadFile(path)
}

func main() {
	confDir := flag.String("conf_dir", utils.EtcDir, "Config directory.")
	year := flag.Int("year", 0, "Coverage year, the newest collection year when 0.")
	src := flag.String("src", "", "Raster to read instead of the collection raster of the year.")
	maxSize := flag.Int("max_size", -1, "Cap on the longer side of the window read, the config value when negative.")
	format := flag.String("format", utils.FormatGeoJSON, "Output format [geojson, csv, summary].")
	filter := flag.String("filter", "", "Expression selecting output features, e.g. \"area_ha > 1\".")
	output := flag.String("o", "-", "Output file, '-' for stdout.")
	verbose := flag.Bool("v", false, "Verbose mode.")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("Please provide a path to a GeoJSON file or '-' for reading from stdin")
	}

	config, err := utils.LoadConfig(*confDir, *verbose)
	if err != nil {
		log.Fatal(err)
	}
	legend, err := utils.LoadLegend(config.LegendFile())
	if err != nil {
		log.Fatal(err)
	}

	if *year == 0 {
		*year = config.Collection.EndYear
	}
	if !config.HasYear(*year) {
		log.Fatalf("year %d is outside the collection range %d-%d", *year, config.Collection.StartYear, config.Collection.EndYear)
	}
	srcPath := *src
	if len(srcPath) == 0 {
		srcPath = config.RasterURL(*year)
	}
	if *maxSize < 0 {
		*maxSize = config.Extract.MaxSize
	}

	featureFilter, err := utils.NewFeatureFilter(*filter, utils.FilterVariables(legend))
	if err != nil {
		log.Fatal(err)
	}

	raw, err := readInput(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	feature, err := utils.ParseInputFeature(raw)
	if err != nil {
		log.Fatal(err)
	}

	utils.InitGdal()
	renderer, err := proc.NewRenderer(config, legend, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer renderer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-signals
		cancel()
	}()

	if *verbose {
		log.Printf("Extracting %s, year %d, max size %d", srcPath, *year, *maxSize)
	}
	res, err := renderer.Render(ctx, proc.RenderParams{SrcPath: srcPath, Feature: feature, MaxSize: *maxSize, Year: *year})
	if err != nil {
		log.Fatal(err)
	}
	if res.Rejected {
		log.Fatalf("The polygon area %.2f ha exceeds the limit of %.2f ha", res.AreaHa, config.Extract.MaxAreaHa)
	}

	fc := proc.NewFeatureCollection()
	for _, feat := range res.Collection.Features {
		ok, err := featureFilter.Match(feat.Properties)
		if err != nil {
			log.Fatal(err)
		}
		if ok {
			fc.Features = append(fc.Features, feat)
		}
	}

	var w io.Writer = os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		w = f
	}

	switch *format {
	case utils.FormatGeoJSON:
		err = json.NewEncoder(w).Encode(fc)
	case utils.FormatCSV:
		err = utils.EncodeCSV(w, config.Extract.CSVColumns, config.Extract.CSVColumnAliases, fc.Properties())
	case "summary":
		var rows []*utils.ClassSummary
		rows, err = utils.SummariseClasses(fc.Properties(), config.Extract.FloatPrecision)
		if err == nil {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			err = enc.Encode(rows)
		}
	default:
		err = fmt.Errorf("unknown format: %s", *format)
	}
	if err != nil {
		log.Fatal(err)
	}

	if *verbose {
		log.Printf("%d features, input area %.4f ha", len(fc.Features), res.AreaHa)
	}
}
