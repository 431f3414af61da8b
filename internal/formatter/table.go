// Package formatter renders processed crashes as markdown.
package formatter

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// AlignTables pads every markdown table in content so its columns line up
// by display width. Other lines are left alone.
func AlignTables(content string) string {
	lines := strings.Split(content, "\n")

	var (
		formattedLines []string
		tableBuffer    []string
	)

	for _, line := range lines {
		trimmedLine := strings.TrimSpace(line)

		if strings.HasPrefix(trimmedLine, "|") && strings.HasSuffix(trimmedLine, "|") {
			tableBuffer = append(tableBuffer, line)
			continue
		}

		if len(tableBuffer) > 0 {
			formattedLines = append(formattedLines, alignTable(tableBuffer)...)
			tableBuffer = nil
		}

		formattedLines = append(formattedLines, line)
	}

	if len(tableBuffer) > 0 {
		formattedLines = append(formattedLines, alignTable(tableBuffer)...)
	}

	return strings.Join(formattedLines, "\n")
}

// splitRow splits a table row on unescaped pipes and trims each cell.
func splitRow(row string) []string {
	row = strings.TrimSpace(row)
	row = strings.TrimPrefix(row, "|")

	if strings.HasSuffix(row, "|") && !strings.HasSuffix(row, `\|`) {
		row = row[:len(row)-1]
	}

	var (
		cells []string
		cell  strings.Builder
	)

	for i := 0; i < len(row); i++ {
		switch {
		case row[i] == '\\' && i+1 < len(row) && row[i+1] == '|':
			cell.WriteString(`\|`)
			i++
		case row[i] == '|':
			cells = append(cells, strings.TrimSpace(cell.String()))
			cell.Reset()
		default:
			cell.WriteByte(row[i])
		}
	}

	return append(cells, strings.TrimSpace(cell.String()))
}

func isSeparatorRow(cells []string) bool {
	for _, cell := range cells {
		if strings.Trim(cell, "-: ") != "" || !strings.Contains(cell, "-") {
			return false
		}
	}

	return len(cells) > 0
}

func alignTable(rows []string) []string {
	// Header and separator are both required.
	if len(rows) < 2 {
		return rows
	}

	table := make([][]string, len(rows))
	colCount := 0

	for i, row := range rows {
		table[i] = splitRow(row)
		colCount = max(colCount, len(table[i]))
	}

	separatorRowIdx := -1
	if isSeparatorRow(table[1]) {
		separatorRowIdx = 1
	}

	colWidths := make([]int, colCount)

	for rIdx, row := range table {
		if rIdx == separatorRowIdx {
			continue
		}

		for i, cell := range row {
			colWidths[i] = max(colWidths[i], runewidth.StringWidth(cell))
		}
	}

	// A separator needs at least three dashes.
	for i := range colWidths {
		colWidths[i] = max(colWidths[i], 3)
	}

	result := make([]string, 0, len(table))

	for i, row := range table {
		var sb strings.Builder

		sb.WriteString("|")

		for j := range colCount {
			sb.WriteString(" ")

			switch {
			case i == separatorRowIdx:
				sb.WriteString(strings.Repeat("-", colWidths[j]))
			case j < len(row):
				sb.WriteString(runewidth.FillRight(row[j], colWidths[j]))
			default:
				sb.WriteString(strings.Repeat(" ", colWidths[j]))
			}

			sb.WriteString(" |")
		}

		result = append(result, sb.String())
	}

	return result
}
