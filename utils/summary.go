package utils

import (
	"fmt"
	"html"
	"io"
	"sort"

	"github.com/edisonguo/jet"
)

// ClassSummary aggregates the features of one land-cover class.
type ClassSummary struct {
	PixelValue int     `json:"pixel_value"`
	ClassName  string  `json:"class_name"`
	ClassType  string  `json:"class_type,omitempty"`
	HexColor   string  `json:"hex_color,omitempty"`
	Features   int     `json:"features"`
	AreaHa     float64 `json:"area_ha"`
	Percent    float64 `json:"percent"`
}

// SummariseClasses groups feature properties by pixel value. Rows are
// ordered by decreasing area, then by pixel value.
func SummariseClasses(props []map[string]interface{}, precision int) ([]*ClassSummary, error) {
	byValue := make(map[int]*ClassSummary)
	var total float64
	for _, p := range props {
		pv, err := ToFloat64(p["pixel_value"])
		if err != nil {
			return nil, fmt.Errorf("pixel_value: %v", err)
		}
		area, err := ToFloat64(p["area_ha"])
		if err != nil {
			return nil, fmt.Errorf("area_ha: %v", err)
		}

		key := int(pv)
		row, found := byValue[key]
		if !found {
			rec := ClassRecord(p)
			row = &ClassSummary{
				PixelValue: key,
				ClassName:  rec.ClassName(),
				ClassType:  rec.ClassType(),
				HexColor:   rec.HexColor(),
			}
			byValue[key] = row
		}
		row.Features++
		row.AreaHa += area
		total += area
	}

	rows := make([]*ClassSummary, 0, len(byValue))
	for _, row := range byValue {
		if total > 0 {
			row.Percent = Round(100*row.AreaHa/total, 2)
		}
		row.AreaHa = Round(row.AreaHa, precision)
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AreaHa != rows[j].AreaHa {
			return rows[i].AreaHa > rows[j].AreaHa
		}
		return rows[i].PixelValue < rows[j].PixelValue
	})
	return rows, nil
}

type summaryTableRow struct {
	PixelValue string
	ClassName  string
	ClassType  string
	HexColor   string
	Features   string
	AreaHa     string
	Percent    string
}

type summaryTable struct {
	Title string
	Year  string
	Total string
	Rows  []summaryTableRow
}

// RenderSummary writes the class summary as an HTML table using the
// summary.jet template found under templateDir.
func RenderSummary(w io.Writer, templateDir string, title string, year int, rows []*ClassSummary) error {
	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), templateDir)

	template, err := view.GetTemplate("summary.jet")
	if err != nil {
		return fmt.Errorf("summary template: %v", err)
	}

	table := &summaryTable{
		Title: html.EscapeString(title),
		Year:  fmt.Sprintf("%d", year),
	}
	var total float64
	for _, row := range rows {
		total += row.AreaHa
		table.Rows = append(table.Rows, summaryTableRow{
			PixelValue: fmt.Sprintf("%d", row.PixelValue),
			ClassName:  html.EscapeString(row.ClassName),
			ClassType:  html.EscapeString(row.ClassType),
			HexColor:   html.EscapeString(row.HexColor),
			Features:   fmt.Sprintf("%d", row.Features),
			AreaHa:     fmt.Sprintf("%.2f", row.AreaHa),
			Percent:    fmt.Sprintf("%.2f", row.Percent),
		})
	}
	table.Total = fmt.Sprintf("%.2f", total)

	vars := make(jet.VarMap)
	if err = template.Execute(w, vars, table); err != nil {
		return fmt.Errorf("summary template: %v", err)
	}
	return nil
}
