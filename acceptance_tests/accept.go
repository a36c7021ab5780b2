package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	proc "github.com/nci/vex/processor"
	"golang.org/x/crypto/ssh/terminal"
)

var configURL string = "http://%s/config"
var extractURL string = "http://%s/extract?year=%d&format=%s"
var summaryURL string = "http://%s/summary?year=%d&format=json"
var passed string = "Passed"
var failed string = "Failed"

type serverConfig struct {
	Years     []int   `json:"years"`
	MaxAreaHa float64 `json:"max_area_ha"`
}

func Config(host string) (*serverConfig, bool) {
	resp, err := http.Get(fmt.Sprintf(configURL, host))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, false
	}

	var conf serverConfig
	if err = json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		log.Printf("config: %v", err)
		return nil, false
	}
	return &conf, len(conf.Years) > 0
}

// Polygons posts every GeoJSON file of payloadPath to endpoint,
// concLevel requests at a time. A file named *_large.geojson must be
// rejected by the area limit, any other must succeed.
func Polygons(endpoint, payloadPath string, concLevel int) (bool, time.Duration) {
	start := time.Now()

	var mu sync.Mutex
	out := true

	files, err := filepath.Glob(filepath.Join(payloadPath, "*.geojson"))
	if err != nil || len(files) == 0 {
		log.Fatalf("no GeoJSON payloads under %s", payloadPath)
	}

	conc := proc.NewConcLimiter(concLevel)
	for _, fPath := range files {
		if err := conc.Acquire(context.Background()); err != nil {
			log.Fatal(err)
		}
		go func(fPath string) {
			defer conc.Release()
			ok := QueryPolygon(endpoint, fPath)
			if !ok {
				mu.Lock()
				out = false
				mu.Unlock()
			}
		}(fPath)
	}
	conc.Wait()

	return out, time.Since(start)
}

func QueryPolygon(endpoint, fileName string) bool {
	f, err := os.Open(fileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	resp, err := http.Post(endpoint, "application/geo+json", f)
	if err != nil {
		log.Printf("%s: %v", fileName, err)
		return false
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		log.Printf("%s: %v", fileName, err)
		return false
	}

	expected := 200
	if strings.HasSuffix(fileName, "_large.geojson") {
		expected = 413
	}
	if resp.StatusCode != expected {
		fmt.Printf("%s: status %d: %s\n", fileName, resp.StatusCode, string(body))
		return false
	}

	if expected == 200 && !strings.Contains(endpoint, "format=csv") && !json.Valid(body) {
		fmt.Printf("%s: invalid JSON response\n", fileName)
		return false
	}
	return true
}

func inRed(str string) string {
	return fmt.Sprintf("\x1b[31;1m%s\x1b[0m", str)
}

func inGreen(str string) string {
	return fmt.Sprintf("\x1b[32;1m%s\x1b[0m", str)
}

func report(ok bool, t time.Duration) {
	if ok {
		fmt.Printf("%s (%v)\n", passed, t)
	} else {
		fmt.Printf("%s (%v)\n", failed, t)
	}
}

func main() {
	host := flag.String("h", "localhost:8080", "VEX host name or address")
	suite := flag.String("s", "extract", "Test suite [config, extract, summary]")
	payloads := flag.String("d", "./payloads", "Directory of GeoJSON payloads")
	year := flag.Int("y", 0, "Year to extract, 0 picks the newest")
	conc := flag.Int("n", 6, "Concurrency level for acceptance tests")
	flag.Parse()

	if terminal.IsTerminal(int(os.Stdout.Fd())) {
		passed = inGreen(passed)
		failed = inRed(failed)
	}

	fmt.Printf("Testing /config: ")
	conf, ok := Config(*host)
	if !ok {
		fmt.Println(failed)
		os.Exit(1)
	}
	fmt.Println(passed)
	if *suite == "config" {
		return
	}

	if *year == 0 {
		*year = conf.Years[0]
	}

	var t time.Duration
	switch *suite {
	case "extract":
		fmt.Printf("Testing /extract %d, max area %.0f ha: ", *year, conf.MaxAreaHa)
		ok, t = Polygons(fmt.Sprintf(extractURL, *host, *year, "geojson"), *payloads, *conc)
		report(ok, t)
		fmt.Printf("Testing /extract %d as CSV: ", *year)
		ok, t = Polygons(fmt.Sprintf(extractURL, *host, *year, "csv"), *payloads, *conc)
		report(ok, t)
	case "summary":
		fmt.Printf("Testing /summary %d: ", *year)
		ok, t = Polygons(fmt.Sprintf(summaryURL, *host, *year), *payloads, *conc)
		report(ok, t)
	default:
		log.Fatalf("unknown suite: %s", *suite)
	}
}
