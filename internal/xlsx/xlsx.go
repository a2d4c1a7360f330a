// Package xlsx handles workbook ingestion and the two export encodings.
//
// Ingestion is split in two stages: ValidateUpload rejects obviously bad
// payloads (wrong extension, oversize, not a zip container) before a single
// byte is parsed, then a Parser turns the workbook into canonical schedule
// rows. The generated-format parser is the built-in implementation; legacy
// raw layouts plug in behind the same interface.
//
// Exports share one column order and sanitize every cell against formula
// injection before it reaches a spreadsheet consumer.
package xlsx

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kronoshq/kronos-backend/internal/schedule"
)

// MaxUploadSize caps a single workbook at 5 MiB.
const MaxUploadSize = 5 << 20

// SheetName is the sheet written by WriteWorkbook.
const SheetName = "Schedule"

// Columns is the canonical export/import column order. It mirrors the JSON
// field names of schedule.Row and must not be reordered.
var Columns = []string{
	"date", "shift", "area", "start_time", "end_time",
	"code", "instructor", "group", "minutes", "units",
}

// zipMagic is the local-file-header signature every XLSX container starts
// with.
var zipMagic = []byte{0x50, 0x4b, 0x03, 0x04}

// ValidationError describes why an uploaded file was rejected. It carries
// the filename so batch uploads can report per-file failures.
type ValidationError struct {
	Filename string
	Reason   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("file %q rejected: %s", e.Filename, e.Reason)
}

// ValidateUpload checks filename extension, payload size, and the zip
// container signature. It returns *ValidationError on rejection and nil
// when the payload is worth parsing.
func ValidateUpload(filename string, content []byte) error {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != ".xlsx" {
		return &ValidationError{Filename: filename, Reason: "invalid extension"}
	}
	if len(content) > MaxUploadSize {
		return &ValidationError{Filename: filename, Reason: "exceeds 5MB limit"}
	}
	if !bytes.HasPrefix(content, zipMagic) {
		return &ValidationError{Filename: filename, Reason: "invalid file signature"}
	}
	return nil
}

// Parser converts one workbook stream into canonical rows.
type Parser interface {
	Parse(r io.Reader) ([]schedule.Row, error)
}

// GeneratedParser reads workbooks in the application's own export format:
// first sheet, header row holding the ten canonical column names (any
// order), one schedule row per data row.
type GeneratedParser struct{}

// Parse implements Parser.
func (GeneratedParser) Parse(r io.Reader) ([]schedule.Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}

	col, err := headerIndex(rows[0])
	if err != nil {
		return nil, err
	}

	out := make([]schedule.Row, 0, len(rows)-1)
	for _, raw := range rows[1:] {
		cell := func(name string) string {
			idx := col[name]
			if idx >= len(raw) {
				return ""
			}
			return strings.TrimSpace(raw[idx])
		}

		row := schedule.Row{
			Date:       cell("date"),
			Shift:      cell("shift"),
			Area:       cell("area"),
			StartTime:  cell("start_time"),
			EndTime:    cell("end_time"),
			Code:       cell("code"),
			Instructor: cell("instructor"),
			Group:      cell("group"),
			Minutes:    cell("minutes"),
		}
		if row == (schedule.Row{}) {
			continue // blank line
		}
		if n, err := strconv.Atoi(cell("units")); err == nil {
			row.Units = n
		}
		out = append(out, row)
	}
	return out, nil
}

// headerIndex maps each canonical column name to its position in the
// header row. Every column must be present; extras are ignored.
func headerIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(Columns))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range Columns {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("missing column %q in header", name)
		}
	}
	return idx, nil
}

// SanitizeCell neutralizes spreadsheet formula injection: values starting
// with = + - @ are prefixed with a single quote so consumers render them
// as text.
func SanitizeCell(v string) string {
	if strings.HasPrefix(v, "=") || strings.HasPrefix(v, "+") ||
		strings.HasPrefix(v, "-") || strings.HasPrefix(v, "@") {
		return "'" + v
	}
	return v
}

// cells flattens a row into sanitized cell values in canonical order.
func cells(r schedule.Row) []string {
	return []string{
		SanitizeCell(r.Date),
		SanitizeCell(r.Shift),
		SanitizeCell(r.Area),
		SanitizeCell(r.StartTime),
		SanitizeCell(r.EndTime),
		SanitizeCell(r.Code),
		SanitizeCell(r.Instructor),
		SanitizeCell(r.Group),
		SanitizeCell(r.Minutes),
		strconv.Itoa(r.Units),
	}
}

// WriteWorkbook renders rows as an XLSX workbook with a header row on the
// Schedule sheet and returns the serialized bytes.
func WriteWorkbook(rows []schedule.Row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	f.SetSheetName(f.GetSheetName(0), SheetName)

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return nil, err
	}

	for i, r := range rows {
		vals := cells(r)
		out := make([]any, len(vals))
		for j, v := range vals {
			out[j] = v
		}
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(SheetName, addr, &out); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTSV renders rows as tab-separated lines in canonical column order,
// one row per line, no header.
func WriteTSV(w io.Writer, rows []schedule.Row) error {
	for _, r := range rows {
		if _, err := io.WriteString(w, strings.Join(cells(r), "\t")+"\n"); err != nil {
			return err
		}
	}
	return nil
}
