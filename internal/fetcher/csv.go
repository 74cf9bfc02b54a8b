// Package fetcher downloads the tourism spreadsheet export and turns it into rows.
package fetcher

import "strings"

// ParseCSV splits comma-separated text into rows of fields.
//
// Quoted fields may contain commas, line breaks and doubled quotes. A line
// break is \n, \r or \r\n. Rows whose fields are all blank are dropped.
// Malformed quoting never fails: an unterminated quote runs to the end of
// the input and whatever was accumulated is flushed.
func ParseCSV(text string) [][]string {
	var (
		rows   [][]string
		row    []string
		field  strings.Builder
		quoted bool
	)

	endRow := func() {
		row = append(row, field.String())
		field.Reset()
		if !blankRow(row) {
			rows = append(rows, row)
		}
		row = nil
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '"':
			if quoted && i+1 < len(text) && text[i+1] == '"' {
				field.WriteByte('"')
				i++
				continue
			}
			quoted = !quoted
		case quoted:
			field.WriteByte(c)
		case c == ',':
			row = append(row, field.String())
			field.Reset()
		case c == '\r' || c == '\n':
			if c == '\r' && i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			endRow()
		default:
			field.WriteByte(c)
		}
	}

	if field.Len() > 0 || len(row) > 0 {
		endRow()
	}

	return rows
}

// blankRow reports whether every field in row is empty or whitespace.
func blankRow(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
