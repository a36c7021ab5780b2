package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	FormatGeoJSON = "geojson"
	FormatCSV     = "csv"
	FormatHTML    = "html"
	FormatJSON    = "json"
)

// ExtractParams contains the validated query parameters of an
// /extract or /summary request.
type ExtractParams struct {
	Year    int
	Format  string
	MaxSize *int
	Filter  string
}

// ExtractRegexpMap maps request parameters to the regular expressions
// they must match.
var ExtractRegexpMap = map[string]string{
	"year":     `^[0-9]{4}$`,
	"format":   `^(?i)(geojson|csv|html|json)$`,
	"max_size": `^[0-9]+$`,
}

func CompileExtractRegexMap() map[string]*regexp.Regexp {
	REMap := make(map[string]*regexp.Regexp)
	for key, re := range ExtractRegexpMap {
		REMap[key] = regexp.MustCompile(re)
	}
	return REMap
}

// ExtractParamsChecker validates params against compREMap and the
// collection years of config. defaultFormat applies when the request
// names none.
func ExtractParamsChecker(params map[string][]string, compREMap map[string]*regexp.Regexp, config *Config, defaultFormat string) (ExtractParams, error) {
	extractParams := ExtractParams{Format: defaultFormat}

	year, yearOK := params["year"]
	if !yearOK || len(year[0]) == 0 {
		return extractParams, fmt.Errorf("missing parameter: year")
	}
	if !compREMap["year"].MatchString(year[0]) {
		return extractParams, fmt.Errorf("invalid year: %s", year[0])
	}
	extractParams.Year, _ = strconv.Atoi(year[0])
	if !config.HasYear(extractParams.Year) {
		return extractParams, fmt.Errorf("year %d is outside the collection range %d-%d", extractParams.Year, config.Collection.StartYear, config.Collection.EndYear)
	}

	if format, formatOK := params["format"]; formatOK && len(format[0]) > 0 {
		if !compREMap["format"].MatchString(format[0]) {
			return extractParams, fmt.Errorf("unsupported format: %s", format[0])
		}
		extractParams.Format = strings.ToLower(format[0])
	}

	if maxSize, maxSizeOK := params["max_size"]; maxSizeOK && len(maxSize[0]) > 0 {
		if !compREMap["max_size"].MatchString(maxSize[0]) {
			return extractParams, fmt.Errorf("invalid max_size: %s", maxSize[0])
		}
		size, err := strconv.Atoi(maxSize[0])
		if err != nil {
			return extractParams, fmt.Errorf("invalid max_size: %v", err)
		}
		extractParams.MaxSize = &size
	}

	if filter, filterOK := params["filter"]; filterOK {
		extractParams.Filter = strings.TrimSpace(filter[0])
	}

	return extractParams, nil
}
