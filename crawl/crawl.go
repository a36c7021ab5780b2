package main

import (
	"context"
	"encoding/json"
	"flag"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	proc "github.com/nci/vex/processor"
	"github.com/nci/vex/utils"
)

// crawl inspects the coverage raster of every collection year, or the
// paths given as arguments ('-' reads one path per line from stdin),
// and prints one JSON document per raster.

func ensure(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	confDir := flag.String("conf_dir", utils.EtcDir, "Config directory.")
	years := flag.String("years", "", "Comma separated years to crawl, all collection years when empty.")
	conc := flag.Int("n", 4, "Number of rasters inspected concurrently.")
	flag.Parse()

	config, err := utils.LoadConfig(*confDir, false)
	ensure(err)

	var paths []string
	switch {
	case flag.NArg() == 1 && flag.Arg(0) == "-":
		raw, err := readLines(os.Stdin)
		ensure(err)
		paths = raw
	case flag.NArg() > 0:
		paths = flag.Args()
	case len(*years) > 0:
		for _, y := range strings.Split(*years, ",") {
			year, err := strconv.Atoi(strings.TrimSpace(y))
			ensure(err)
			if !config.HasYear(year) {
				log.Fatalf("year %d is outside the collection range", year)
			}
			paths = append(paths, config.RasterURL(year))
		}
	default:
		for _, year := range config.Years() {
			paths = append(paths, config.RasterURL(year))
		}
	}

	utils.InitGdal()
	reader := proc.NewCOGReader(config.Extract.GeographicCRS, config.Extract.FloatPrecision)

	var mu sync.Mutex
	enc := json.NewEncoder(os.Stdout)
	failures := 0

	limiter := proc.NewConcLimiter(*conc)
	for _, path := range paths {
		ensure(limiter.Acquire(context.Background()))
		go func(path string) {
			defer limiter.Release()
			info, err := reader.Inspect(path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("%s: %v", path, err)
				failures++
				return
			}
			ensure(enc.Encode(info))
		}(path)
	}
	limiter.Wait()

	if failures > 0 {
		os.Exit(1)
	}
}

func readLines(f *os.File) ([]string, error) {
	raw, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		if line = strings.TrimSpace(line); len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
