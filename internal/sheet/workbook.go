package sheet

import (
	"bytes"
	"fmt"
	"os"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

func readXLSX(data []byte, hints []string) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	name, ok := pickSheet(f.GetSheetList(), hints)
	if !ok {
		return nil, ErrNoSheet
	}
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	return &Table{Sheet: name, Format: FormatXLSX, Rows: rows}, nil
}

// readXLS goes through a temp file; the file is removed on every path.
func readXLS(data []byte, hints []string) (*Table, error) {
	tmp, err := os.CreateTemp("", "reconciler-*.xls")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write temp file: %w", err)
	}

	wb, err := xls.Open(tmp.Name(), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}

	names := make([]string, 0, wb.NumSheets())
	for i := 0; i < wb.NumSheets(); i++ {
		if ws := wb.GetSheet(i); ws != nil {
			names = append(names, ws.Name)
		}
	}
	name, ok := pickSheet(names, hints)
	if !ok {
		return nil, ErrNoSheet
	}

	var ws *xls.WorkSheet
	for i := 0; i < wb.NumSheets(); i++ {
		if s := wb.GetSheet(i); s != nil && s.Name == name {
			ws = s
			break
		}
	}
	if ws == nil {
		return nil, ErrNoSheet
	}

	rows := make([][]string, 0, int(ws.MaxRow)+1)
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := ws.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for j := row.FirstCol(); j < row.LastCol(); j++ {
			cells[j] = row.Col(j)
		}
		rows = append(rows, cells)
	}
	return &Table{Sheet: name, Format: FormatXLS, Rows: rows}, nil
}
