package fetcher

import "context"

// RecordSource searches the clerk's records portal
type RecordSource interface {
	// Search returns the raw results page for one instrument code and date range.
	// Dates use the portal's MM/DD/YYYY format.
	Search(ctx context.Context, code, startDate, endDate string) (string, error)
}

// DocumentDownloader saves an instrument image to disk
type DocumentDownloader interface {
	DownloadPDF(ctx context.Context, url, outputPath string) (int64, error)
}
