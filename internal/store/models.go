package store

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TableDefinition is one schema entry from sqlite_master. Name is empty when it cannot be parsed
// from the DDL (indexes, views, triggers).
type TableDefinition struct {
	Name string `json:"name"`
	SQL  string `json:"sql"`
}

// QueryResult is a fully materialized result set. Values are already rendered as text.
type QueryResult struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func (r *QueryResult) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

// Markdown renders the result as a pipe table with a leading row-index column.
func (r *QueryResult) Markdown() string {
	if r == nil || len(r.Columns) == 0 {
		return "(no columns)\n"
	}

	header := append([]string{""}, r.Columns...)
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = max(utf8.RuneCountInString(h), 3)
	}
	for i, row := range r.Rows {
		widths[0] = max(widths[0], len(strconv.Itoa(i)))
		for j, v := range row {
			if j+1 < len(widths) {
				widths[j+1] = max(widths[j+1], utf8.RuneCountInString(cell(v)))
			}
		}
	}

	var b strings.Builder
	writeRow(&b, header, widths)
	b.WriteString("|")
	for _, w := range widths {
		b.WriteString(":")
		b.WriteString(strings.Repeat("-", w+1))
		b.WriteString("|")
	}
	b.WriteString("\n")
	for i, row := range r.Rows {
		cells := make([]string, len(header))
		cells[0] = strconv.Itoa(i)
		for j := range r.Columns {
			if j < len(row) {
				cells[j+1] = cell(row[j])
			}
		}
		writeRow(&b, cells, widths)
	}
	if len(r.Rows) == 0 {
		b.WriteString("(no rows)\n")
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string, widths []int) {
	b.WriteString("|")
	for i, c := range cells {
		fmt.Fprintf(b, " %s%s |", c, strings.Repeat(" ", widths[i]-utf8.RuneCountInString(c)))
	}
	b.WriteString("\n")
}

// cell keeps a value on one line so the table stays intact.
func cell(v string) string {
	v = strings.ReplaceAll(v, "\r\n", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(v, "|", `\|`)
}
