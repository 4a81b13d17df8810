package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"property-scraper/export"
	"property-scraper/models"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const maxSheetNameLen = 100

// Metadata is written above the header row of a new sheet
type Metadata struct {
	DateRange       string
	InstrumentTypes string
}

// Writer handles writing run output to Google Sheets
type Writer struct {
	service       *sheets.Service
	spreadsheetID string
}

// NewWriter creates a Google Sheets writer from a service account credentials
// file, or from GOOGLE_SHEETS_CREDENTIALS when no path is given
func NewWriter(ctx context.Context, spreadsheetID string, credentialsPath string) (*Writer, error) {
	credsJSON, err := loadCredentials(credentialsPath)
	if err != nil {
		return nil, err
	}
	return NewWriterWithOptions(ctx, spreadsheetID, option.WithCredentialsJSON(credsJSON))
}

// NewWriterWithOptions creates a writer with explicit client options
func NewWriterWithOptions(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Writer, error) {
	if spreadsheetID == "" {
		return nil, eris.New("sheets: spreadsheet ID is empty")
	}
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "sheets: create service")
	}
	return &Writer{service: service, spreadsheetID: spreadsheetID}, nil
}

func loadCredentials(credentialsPath string) ([]byte, error) {
	var credsJSON []byte

	if credentialsPath != "" {
		data, err := os.ReadFile(credentialsPath)
		if err != nil {
			return nil, eris.Wrap(err, "sheets: read credentials file")
		}
		credsJSON = data
	} else {
		credsEnv := strings.TrimSpace(os.Getenv("GOOGLE_SHEETS_CREDENTIALS"))
		if credsEnv == "" {
			return nil, eris.New("sheets: credentials not found: GOOGLE_SHEETS_CREDENTIALS is empty or not set")
		}
		zap.L().Debug("reading sheets credentials from environment", zap.Int("bytes", len(credsEnv)))
		credsJSON = []byte(credsEnv)
	}

	var creds map[string]any
	if err := json.Unmarshal(credsJSON, &creds); err != nil {
		return nil, eris.Wrap(err, "sheets: invalid credentials JSON")
	}
	if creds["type"] != "service_account" {
		return nil, eris.Errorf("sheets: credentials must be a service account JSON file, got type %v", creds["type"])
	}
	return credsJSON, nil
}

// CreateSheetAndWriteResults writes address results to a new sheet
func (w *Writer) CreateSheetAndWriteResults(ctx context.Context, sheetName string, results []models.AddressResult, meta Metadata) (string, int64, error) {
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		rows = append(rows, export.ResultRow(res))
	}
	return w.createSheetAndWrite(ctx, sheetName, export.ResultHeader, rows, meta)
}

// CreateSheetAndWriteInstruments writes Step 1 instruments to a new sheet
func (w *Writer) CreateSheetAndWriteInstruments(ctx context.Context, sheetName string, instruments []models.Instrument, meta Metadata) (string, int64, error) {
	rows := make([][]string, 0, len(instruments))
	for _, inst := range instruments {
		rows = append(rows, export.InstrumentRow(inst))
	}
	return w.createSheetAndWrite(ctx, sheetName, export.InstrumentHeader, rows, meta)
}

// createSheetAndWrite inserts a new sheet at index 0 and writes the metadata,
// header and rows to it. It returns the final sheet name and its gid.
func (w *Writer) createSheetAndWrite(ctx context.Context, sheetName string, header []string, rows [][]string, meta Metadata) (string, int64, error) {
	sheetName = sanitizeSheetName(sheetName)

	batchUpdateRequest := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title:           sheetName,
						Index:           0,
						ForceSendFields: []string{"Index"},
					},
				},
			},
		},
	}

	resp, err := w.service.Spreadsheets.BatchUpdate(w.spreadsheetID, batchUpdateRequest).Context(ctx).Do()
	if err != nil {
		return "", 0, eris.Wrapf(err, "sheets: create sheet %q", sheetName)
	}

	var sheetID int64
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}
	zap.L().Info("created sheet", zap.String("sheet", sheetName), zap.Int64("sheet_id", sheetID))

	valueRange := &sheets.ValueRange{Values: buildValues(header, rows, meta)}
	_, err = w.service.Spreadsheets.Values.Update(w.spreadsheetID, sheetRange(sheetName), valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return "", 0, eris.Wrapf(err, "sheets: write sheet %q", sheetName)
	}

	zap.L().Info("wrote rows to sheet", zap.String("sheet", sheetName), zap.Int("rows", len(rows)))
	return sheetName, sheetID, nil
}

func buildValues(header []string, rows [][]string, meta Metadata) [][]any {
	var values [][]any

	if meta.DateRange != "" || meta.InstrumentTypes != "" {
		values = append(values, []any{"Date Range", meta.DateRange, "Instrument Types", meta.InstrumentTypes})
	}

	values = append(values, toRow(header))
	for _, row := range rows {
		values = append(values, toRow(row))
	}
	return values
}

func toRow(cells []string) []any {
	row := make([]any, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}

// sheetRange addresses A1 of a sheet, quoting the name
func sheetRange(sheetName string) string {
	return fmt.Sprintf("'%s'!A1", strings.ReplaceAll(sheetName, "'", "''"))
}

// sanitizeSheetName removes invalid characters from sheet name
func sanitizeSheetName(name string) string {
	// Google Sheets sheet names cannot contain: / \ ? * [ ] :
	result := strings.NewReplacer("/", "_", "\\", "_", "?", "_", "*", "_", "[", "_", "]", "_", ":", "_").Replace(name)
	result = strings.TrimSpace(result)
	if result == "" {
		result = "Sheet1"
	}
	if r := []rune(result); len(r) > maxSheetNameLen {
		result = string(r[:maxSheetNameLen])
	}
	return result
}

// ExtractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL
//
//	https://docs.google.com/spreadsheets/d/SPREADSHEET_ID/edit?usp=sharing
func ExtractSpreadsheetID(url string) string {
	_, idPart, ok := strings.Cut(url, "/d/")
	if !ok {
		return ""
	}
	if idx := strings.IndexAny(idPart, "/?#"); idx != -1 {
		idPart = idPart[:idx]
	}
	return strings.TrimSpace(idPart)
}

// SheetURL links directly to one sheet of a spreadsheet, falling back to
// spreadsheetURL when no ID can be extracted from it
func SheetURL(spreadsheetURL string, sheetID int64) string {
	id := ExtractSpreadsheetID(spreadsheetURL)
	if id == "" {
		return spreadsheetURL
	}
	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/edit#gid=%d", id, sheetID)
}
