package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

var leadingCSVColumns = []string{"pixel_value", "class_name", "class_type", "hex_color", "area_ha", "year"}

// EncodeCSV writes one row per feature with the requested property
// columns, or every property found in rows when columns is empty. The
// header uses aliases when both are given.
func EncodeCSV(w io.Writer, columns []string, aliases []string, rows []map[string]interface{}) error {
	header := columns
	if len(columns) == 0 {
		columns = propertyColumns(rows)
		header = columns
	} else if len(aliases) > 0 {
		if len(aliases) != len(columns) {
			return fmt.Errorf("%d CSV aliases for %d columns", len(aliases), len(columns))
		}
		header = aliases
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(columns))
	for _, props := range rows {
		for ic, col := range columns {
			record[ic] = formatCSVValue(props[col])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// propertyColumns lists the keys of rows, the feature attributes first
// and any other legend field after them in lexical order.
func propertyColumns(rows []map[string]interface{}) []string {
	seen := make(map[string]bool)
	for _, props := range rows {
		for key := range props {
			seen[key] = true
		}
	}

	columns := []string{}
	for _, key := range leadingCSVColumns {
		if seen[key] {
			columns = append(columns, key)
			delete(seen, key)
		}
	}

	extra := make([]string, 0, len(seen))
	for key := range seen {
		extra = append(extra, key)
	}
	sort.Strings(extra)
	return append(columns, extra...)
}

func formatCSVValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
