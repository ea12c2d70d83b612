package pipeline

import (
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"pharmatrack/internal/expiry"
	"pharmatrack/internal/util"
)

const expirySheet = "Peremptions"

// ExportExpiryXLSX writes the dashboard rows in their report order.
func ExportExpiryXLSX(report expiry.Report, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), expirySheet); err != nil {
		return err
	}

	headers := []string{
		"code13", "name", "original_name", "quantity", "expiration_raw", "expiration",
		"days_remaining", "urgency", "lot", "zone", "operator",
		"catalog_stock", "catalog_rotation", "invoice", "invoice_date",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(expirySheet, cell, h)
	}

	for i, row := range report.Rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(expirySheet, cell, value)
		}

		set(1, util.Deref(row.Code13))
		set(2, row.Name)
		set(3, row.OriginalName)
		set(4, util.Deref(row.Quantity))
		set(5, util.Deref(row.ExpirationDate))
		if row.Expiration != nil {
			set(6, row.Expiration.Format("2006-01-02"))
		}
		if row.DaysRemaining != nil {
			set(7, *row.DaysRemaining)
		}
		set(8, string(row.Urgency))
		set(9, util.Deref(row.LotNumber))
		set(10, row.Zone)
		set(11, util.Deref(row.Operator))
		if row.CatalogStock != nil {
			set(12, *row.CatalogStock)
		}
		if row.CatalogRotation != nil {
			set(13, *row.CatalogRotation)
		}
		set(14, row.InvoiceFilename)
		set(15, row.InvoiceUploadDate.Format("2006-01-02 15:04"))
	}

	summary := [][2]any{
		{"total", report.Summary.Total},
		{"critical", report.Summary.Critical},
		{"warning", report.Summary.Warning},
		{"good", report.Summary.Good},
		{"unknown", report.Summary.Unknown},
	}
	if _, err := f.NewSheet("Resume"); err != nil {
		return err
	}
	for i, kv := range summary {
		for col, v := range kv {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+1)
			_ = f.SetCellValue("Resume", cell, v)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}
