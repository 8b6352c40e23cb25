package importer

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/htmlindex"
)

// table is a parsed spreadsheet: the header row and the data rows below it.
type table struct {
	header []string
	rows   [][]string
}

// readCSV parses r as CSV. A non-empty charset names the source encoding
// (any WHATWG label such as "windows-1252" or "latin1"); empty means UTF-8.
func readCSV(ctx context.Context, r io.Reader, charset string) (*table, error) {
	if charset != "" && !strings.EqualFold(charset, "utf-8") {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: unsupported charset %q", charset)
		}
		r = enc.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	t := &table{}
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "importer: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "importer: read csv")
		}
		if t.header == nil {
			if len(record) > 0 {
				record[0] = strings.TrimPrefix(record[0], "\ufeff")
			}
			t.header = record
			continue
		}
		if blank(record) {
			continue
		}
		t.rows = append(t.rows, unjam(record, len(t.header)))
	}
	if t.header == nil {
		return nil, eris.New("importer: file has no header row")
	}
	return t, nil
}

// unjam re-splits rows some exporters write as one quoted field holding the
// whole comma-separated line.
func unjam(record []string, columns int) []string {
	if columns <= 1 || len(record) != 1 || !strings.Contains(record[0], ",") {
		return record
	}
	reader := csv.NewReader(strings.NewReader(record[0]))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	fields, err := reader.Read()
	if err != nil || len(fields) <= 1 {
		return record
	}
	return fields
}

// readXLSX reads the first sheet of the workbook at path.
func readXLSX(path string) (*table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("importer: workbook has no sheets")
	}

	t := &table{}
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if t.header == nil {
			if blank(cells) {
				continue
			}
			t.header = cells
			continue
		}
		if blank(cells) {
			continue
		}
		t.rows = append(t.rows, cells)
	}
	if t.header == nil {
		return nil, eris.New("importer: sheet has no header row")
	}
	return t, nil
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
