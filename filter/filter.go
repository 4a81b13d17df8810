package filter

import (
	"strings"

	"property-scraper/models"
)

// WithAddress keeps only results that resolved to a property address
func WithAddress(results []models.AddressResult) []models.AddressResult {
	var filtered []models.AddressResult

	for _, result := range results {
		if strings.TrimSpace(result.PropertyAddress) != "" {
			filtered = append(filtered, result)
		}
	}

	return filtered
}

// Dedupe keeps the first result for each FileNo. Results without a FileNo are all kept.
func Dedupe(results []models.AddressResult) []models.AddressResult {
	seen := make(map[string]bool, len(results))
	var filtered []models.AddressResult

	for _, result := range results {
		if result.FileNo != "" {
			if seen[result.FileNo] {
				continue
			}
			seen[result.FileNo] = true
		}
		filtered = append(filtered, result)
	}

	return filtered
}

// NeedsAppraisal returns the instruments still missing an address after PDF
// extraction: those without a document plus those whose document gave nothing.
// Records without a FileNo cannot be matched to a PDF result and always stay pending.
func NeedsAppraisal(instruments []models.Instrument, pdfResults []models.AddressResult) []models.Instrument {
	resolved := make(map[string]bool, len(pdfResults))
	attempted := make(map[string]bool, len(pdfResults))
	for _, result := range pdfResults {
		if result.FileNo == "" {
			continue
		}
		attempted[result.FileNo] = true
		if strings.TrimSpace(result.PropertyAddress) != "" {
			resolved[result.FileNo] = true
		}
	}

	var pending []models.Instrument
	for _, inst := range instruments {
		if inst.FileNo != "" && inst.PdfURL != "" && attempted[inst.FileNo] && resolved[inst.FileNo] {
			continue
		}
		pending = append(pending, inst)
	}

	return pending
}

// DedupeInstruments keeps the first instrument for each FileNo, so a record
// found under two overlapping searches is only processed once.
func DedupeInstruments(instruments []models.Instrument) []models.Instrument {
	seen := make(map[string]bool, len(instruments))
	var filtered []models.Instrument

	for _, inst := range instruments {
		if inst.FileNo != "" {
			if seen[inst.FileNo] {
				continue
			}
			seen[inst.FileNo] = true
		}
		filtered = append(filtered, inst)
	}

	return filtered
}
