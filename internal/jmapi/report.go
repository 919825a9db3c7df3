package jmapi

import (
	"strings"
)

// DefaultReportRows is the number of most recent report rows shown by
// default.
const DefaultReportRows = 25

// Report is the parsed yield generator report. Rows are newest first.
type Report struct {
	Header []string
	Rows   [][]string
}

// Empty reports whether the report has no data rows.
func (r Report) Empty() bool { return len(r.Rows) == 0 }

// ParseReport splits the raw CSV lines of the yield generator report. The
// first non-blank line is the header; the remaining rows are reversed so the
// latest entry comes first and capped at limit (no cap when limit <= 0).
func ParseReport(lines []string, limit int) Report {
	var cleaned []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cleaned = append(cleaned, line)
	}
	if len(cleaned) == 0 {
		return Report{}
	}

	report := Report{Header: splitCSVLine(cleaned[0])}
	for i := len(cleaned) - 1; i >= 1; i-- {
		if limit > 0 && len(report.Rows) >= limit {
			break
		}
		report.Rows = append(report.Rows, splitCSVLine(cleaned[i]))
	}
	return report
}

// splitCSVLine splits a report line. The report never quotes fields, so a
// plain split matches what the service writes.
func splitCSVLine(line string) []string {
	parts := strings.Split(line, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
