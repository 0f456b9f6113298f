// Package guide turns the generated connection-guide text into a wiring
// table plus free text. Model output is not guaranteed to follow the
// requested format, so parsing degrades instead of failing.
package guide

import (
	"strings"

	"arduinohub/pkg/models"
)

// Parse extracts rows from the first table whose header mentions
// "component". Lines before the header are dropped. The first line after the
// header that is not a table line ends the table; it and everything after it
// becomes RemainingText. Without a header, RemainingText is the whole input.
func Parse(raw string) models.ParsedGuide {
	out := models.ParsedGuide{Rows: []models.ConnectionRow{}}

	lines := nonBlankLines(raw)
	header := -1
	for i, line := range lines {
		if strings.Contains(strings.ToLower(line), "component") {
			header = i
			break
		}
	}
	if header < 0 {
		out.RemainingText = strings.TrimSpace(raw)
		return out
	}

	for i := header + 1; i < len(lines); i++ {
		line := lines[i]
		if strings.Count(line, "|") < 2 {
			out.RemainingText = strings.Join(lines[i:], "\n")
			break
		}
		cells := splitCells(line)
		// still a table line: skip it without ending the table
		if len(cells) < 3 || isAlignmentRow(cells) {
			continue
		}
		out.Rows = append(out.Rows, models.ConnectionRow{
			Component:     cells[0],
			PinConnection: cells[1],
			Notes:         cells[2],
		})
	}
	return out
}

func nonBlankLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// splitCells returns the non-empty trimmed cells of a '|' delimited line.
func splitCells(line string) []string {
	parts := strings.Split(line, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}

// isAlignmentRow matches markdown separators such as |---|:---:|---|.
func isAlignmentRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" || !strings.Contains(c, "-") {
			return false
		}
	}
	return true
}
