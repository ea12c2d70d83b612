package catalog

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/gocarina/gocsv"

	"pharmatrack/internal"
)

// fieldCleaner removes what would make the csv writer quote a field. Parse
// splits on the raw separator and does not unquote.
var fieldCleaner = strings.NewReplacer(";", ",", `"`, "", "\r", " ", "\n", " ")

// ExportCSV writes the catalog as a semicolon separated file with a
// code13;name;stock;rotation header, which Parse reads back unchanged.
// Semicolons in names become commas and double quotes are dropped.
func ExportCSV(w io.Writer, records []internal.CatalogRecord) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	rows := make([]internal.CatalogRecord, 0, len(records))
	for _, r := range records {
		r.Code = cleanExportField(r.Code)
		r.Name = cleanExportField(r.Name)
		rows = append(rows, r)
	}
	if err := gocsv.MarshalCSV(&rows, gocsv.NewSafeCSVWriter(cw)); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func cleanExportField(v string) string {
	return strings.TrimSpace(fieldCleaner.Replace(v))
}
