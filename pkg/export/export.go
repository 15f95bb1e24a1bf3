// Package export persists harvested product records to a file, dispatching on
// the path's extension.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
)

// ErrUnsupportedFormat is returned for file extensions without a writer.
var ErrUnsupportedFormat = errors.New("unsupported file format (use json, csv, or xlsx)")

var columns = []string{"id", "name", "link", "regular_price", "promo_price", "brand"}

// Save writes records to path. The writer is chosen by extension: .json, .csv
// or .xlsx. An unknown extension is a reported error, never a panic.
func Save(records []catalog.Product, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return saveJSON(records, path)
	case ".csv":
		return saveCSV(records, path)
	case ".xlsx":
		return saveXLSX(records, path)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func saveJSON(records []catalog.Product, path string) error {
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal products: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func saveCSV(records []catalog.Product, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, record := range records {
		row := []string{
			strconv.FormatInt(record.ID, 10),
			record.Name,
			record.Link,
			strconv.FormatInt(record.RegularPrice, 10),
			strconv.FormatInt(record.PromoPrice, 10),
			record.Brand,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func saveXLSX(records []catalog.Product, path string) error {
	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(0)

	header := make([]any, len(columns))
	for i, column := range columns {
		header[i] = column
	}
	if err := file.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}

	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("xlsx cell name: %w", err)
		}
		row := []any{record.ID, record.Name, record.Link, record.RegularPrice, record.PromoPrice, record.Brand}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write xlsx row: %w", err)
		}
	}

	if err := file.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
