package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"property-scraper/models"

	"github.com/rotisserie/eris"
)

// Kinds of export, used in file names
const (
	KindInstruments = "instrument_data"
	KindResults     = "address_results"
)

// InstrumentHeader lists the Step 1 columns in output order
var InstrumentHeader = []string{
	"FileNo", "FileDate", "DocType", "FilmCode", "Grantors", "Grantees",
	"LegalDescription", "Pages", "PdfUrl", "Instrument Type",
}

// ResultHeader lists the Step 2 columns in output order
var ResultHeader = []string{
	"FileNo", "Grantor", "Grantee", "Instrument Type", "Recording Date",
	"Film Code", "Legal Description", "Property Address", "Source",
}

// ErrMissingColumn is returned when an instruments file lacks the FileNo column
var ErrMissingColumn = eris.New("export: missing FileNo column")

// InstrumentRow flattens an instrument in InstrumentHeader order
func InstrumentRow(inst models.Instrument) []string {
	return []string{
		inst.FileNo, inst.FileDate, inst.DocType, inst.FilmCode, inst.Grantors, inst.Grantees,
		inst.LegalDescription, inst.Pages, inst.PdfURL, inst.InstrumentType,
	}
}

// ResultRow flattens a result in ResultHeader order
func ResultRow(res models.AddressResult) []string {
	return []string{
		res.FileNo, res.Grantor, res.Grantee, res.InstrumentType, res.RecordingDate,
		res.FilmCode, res.LegalDescription, res.PropertyAddress, res.Source,
	}
}

// WriteInstrumentsCSV writes a header and one line per instrument
func WriteInstrumentsCSV(w io.Writer, instruments []models.Instrument) error {
	rows := make([][]string, 0, len(instruments))
	for _, inst := range instruments {
		rows = append(rows, InstrumentRow(inst))
	}
	return writeCSV(w, InstrumentHeader, rows)
}

// WriteResultsCSV writes a header and one line per address result
func WriteResultsCSV(w io.Writer, results []models.AddressResult) error {
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		rows = append(rows, ResultRow(res))
	}
	return writeCSV(w, ResultHeader, rows)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	if err := cw.WriteAll(rows); err != nil {
		return eris.Wrap(err, "export: write rows")
	}
	return nil
}

// ReadInstrumentsCSV reads a file written by WriteInstrumentsCSV. Columns are
// matched by header name, so reordered or extra columns are accepted.
func ReadInstrumentsCSV(r io.Reader) ([]models.Instrument, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "export: read csv")
	}
	if len(records) == 0 {
		return nil, ErrMissingColumn
	}

	index := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if _, ok := index["FileNo"]; !ok {
		return nil, ErrMissingColumn
	}

	get := func(rec []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	instruments := make([]models.Instrument, 0, len(records)-1)
	for _, rec := range records[1:] {
		instruments = append(instruments, models.Instrument{
			FileNo:           get(rec, "FileNo"),
			FileDate:         get(rec, "FileDate"),
			DocType:          get(rec, "DocType"),
			FilmCode:         get(rec, "FilmCode"),
			Grantors:         get(rec, "Grantors"),
			Grantees:         get(rec, "Grantees"),
			LegalDescription: get(rec, "LegalDescription"),
			Pages:            get(rec, "Pages"),
			PdfURL:           get(rec, "PdfUrl"),
			InstrumentType:   get(rec, "Instrument Type"),
		})
	}
	return instruments, nil
}

// FileName builds a download name such as instrument_data_2025-09-01_2025-09-10.csv
func FileName(kind, start, end, ext string) string {
	clean := func(s string) string {
		return strings.NewReplacer("/", "-", " ", "_").Replace(strings.TrimSpace(s))
	}
	return fmt.Sprintf("%s_%s_%s.%s", kind, clean(start), clean(end), strings.TrimPrefix(ext, "."))
}
