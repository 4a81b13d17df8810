package export

import (
	"io"

	"property-scraper/models"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// WriteInstrumentsXLSX writes the instruments as a single-sheet workbook
func WriteInstrumentsXLSX(w io.Writer, instruments []models.Instrument) error {
	rows := make([][]string, 0, len(instruments))
	for _, inst := range instruments {
		rows = append(rows, InstrumentRow(inst))
	}
	return writeXLSX(w, "Instruments", InstrumentHeader, rows)
}

// WriteResultsXLSX writes the address results as a single-sheet workbook
func WriteResultsXLSX(w io.Writer, results []models.AddressResult) error {
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		rows = append(rows, ResultRow(res))
	}
	return writeXLSX(w, "Addresses", ResultHeader, rows)
}

func writeXLSX(w io.Writer, sheetName string, header []string, rows [][]string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	addRow(sheet, header)
	for _, row := range rows {
		addRow(sheet, row)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write file")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
