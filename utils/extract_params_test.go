package utils

import (
	"net/http"
	"testing"
)

func TestParseQuery(t *testing.T) {
	query, err := ParseQuery(`YEAR=2020&Format=CSV&filter=area_ha > 1 \&\& class_type == "Natural"`)
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	if query.Get("year") != "2020" || query.Get("format") != "CSV" {
		t.Errorf("keys should be lower-cased: %v", query)
	}
	if query.Get("filter") != `area_ha > 1 && class_type == "Natural"` {
		t.Errorf("escaped ampersands should not split the filter, actual: %q", query.Get("filter"))
	}

	if _, err = ParseQuery("year=%zz"); err == nil {
		t.Errorf("expecting an unescape error")
	}
}

func TestExtractParamsChecker(t *testing.T) {
	config := DefaultConfig()
	reMap := CompileExtractRegexMap()

	params, err := ExtractParamsChecker(map[string][]string{
		"year":     {"2022"},
		"format":   {"CSV"},
		"max_size": {"512"},
		"filter":   {" area_ha > 2 "},
	}, reMap, config, FormatGeoJSON)
	if err != nil {
		t.Fatalf("ExtractParamsChecker failed: %v", err)
	}
	if params.Year != 2022 || params.Format != FormatCSV || params.MaxSize == nil || *params.MaxSize != 512 || params.Filter != "area_ha > 2" {
		t.Errorf("unexpected params: %+v", params)
	}

	params, err = ExtractParamsChecker(map[string][]string{"year": {"1985"}}, reMap, config, FormatHTML)
	if err != nil {
		t.Fatalf("ExtractParamsChecker failed: %v", err)
	}
	if params.Format != FormatHTML || params.MaxSize != nil {
		t.Errorf("unexpected defaults: %+v", params)
	}

	bad := []map[string][]string{
		{},
		{"year": {"22"}},
		{"year": {"1984"}},
		{"year": {"2023"}},
		{"year": {"2022"}, "format": {"png"}},
		{"year": {"2022"}, "max_size": {"-1"}},
	}
	for _, p := range bad {
		if _, err := ExtractParamsChecker(p, reMap, config, FormatGeoJSON); err == nil {
			t.Errorf("expecting an error for %v", p)
		}
	}
}

func TestParseRemoteAddr(t *testing.T) {
	r, _ := http.NewRequest("GET", "/config", nil)
	r.RemoteAddr = "192.168.1.5:41000"
	if addr := ParseRemoteAddr(r); addr != "192.168.1.5:41000" {
		t.Errorf("unexpected address: %s", addr)
	}

	r.Header.Set("X-Real-IP", "10.1.1.1")
	if addr := ParseRemoteAddr(r); addr != "10.1.1.1" {
		t.Errorf("X-Real-IP should be used, actual: %s", addr)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.1.1.1")
	if addr := ParseRemoteAddr(r); addr != "203.0.113.7" {
		t.Errorf("the first X-Forwarded-For entry should be used, actual: %s", addr)
	}
}
