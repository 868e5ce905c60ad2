package util

import (
	"fmt"
	"io"
	"strings"
)

// TableColumn represents a column in a rendered table.
type TableColumn struct {
	Header string
	Key    string // key to extract from each row
	Width  int    // calculated width
}

// RenderTable writes an aligned text table. Column widths follow the widest
// cell, with ANSI color codes excluded from the measurement.
func RenderTable(w io.Writer, columns []TableColumn, rows []map[string]string) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No data to display")
		return
	}

	for i := range columns {
		columns[i].Width = len(columns[i].Header)
		for _, row := range rows {
			if width := displayWidth(row[columns[i].Key]); width > columns[i].Width {
				columns[i].Width = width
			}
		}
	}

	headerParts := make([]string, 0, len(columns))
	separatorParts := make([]string, 0, len(columns))
	for _, col := range columns {
		headerParts = append(headerParts, fmt.Sprintf("%-*s", col.Width, col.Header))
		separatorParts = append(separatorParts, strings.Repeat("-", col.Width))
	}
	fmt.Fprintln(w, strings.Join(headerParts, "  "))
	fmt.Fprintln(w, strings.Join(separatorParts, "  "))

	for _, row := range rows {
		rowParts := make([]string, 0, len(columns))
		for _, col := range columns {
			rowParts = append(rowParts, padToWidth(row[col.Key], col.Width))
		}
		fmt.Fprintln(w, strings.Join(rowParts, "  "))
	}
}

// stripANSI removes color escape sequences for width calculation.
func stripANSI(s string) string {
	for {
		start := strings.Index(s, "\033[")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "m")
		if end == -1 {
			return s
		}
		s = s[:start] + s[start+end+1:]
	}
}

func displayWidth(s string) int {
	return len([]rune(stripANSI(s)))
}

func padToWidth(s string, width int) string {
	if gap := width - displayWidth(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}
