package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"property-scraper/config"
	"property-scraper/fetcher"
	"property-scraper/models"
	"property-scraper/normalize"

	"go.uber.org/zap"
)

// Reasons recorded on PDF results that produced no address
const (
	ReasonDownloadFailed = "PDF download failed"
	ReasonNoText         = "No text in PDF"
	ReasonNoAddress      = "No address in PDF"
	ReasonPDFError       = "PDF error"
)

// PDFResolver reads a property address out of an instrument's scanned document
type PDFResolver struct {
	downloader fetcher.DocumentDownloader
	text       TextExtractor
	addresses  *AddressExtractor
	catalog    *config.Catalog
	workDir    string
}

// NewPDFResolver creates a PDFResolver that stages downloads in workDir
func NewPDFResolver(downloader fetcher.DocumentDownloader, text TextExtractor, addresses *AddressExtractor, catalog *config.Catalog, workDir string) *PDFResolver {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &PDFResolver{
		downloader: downloader,
		text:       text,
		addresses:  addresses,
		catalog:    catalog,
		workDir:    workDir,
	}
}

// Resolve downloads the instrument's PDF and extracts the grantee address from it.
// Failures are reported in the result's Source; only a done ctx returns an error.
func (r *PDFResolver) Resolve(ctx context.Context, inst models.Instrument) (models.AddressResult, error) {
	result := models.NewAddressResult(inst)
	result.InstrumentType = r.catalog.Label(inst.DocType, inst.InstrumentType)
	result.LegalDescClean = normalize.CleanLegalDescription(inst.LegalDescription)

	if inst.PdfURL == "" {
		result.Source = ReasonDownloadFailed
		return result, nil
	}

	pdfPath := filepath.Join(r.workDir, normalize.SafeFilename(inst.FileNo+"_"+inst.FileDate+".pdf"))
	defer func() {
		if err := os.Remove(pdfPath); err != nil && !os.IsNotExist(err) {
			zap.L().Debug("remove downloaded pdf", zap.String("path", pdfPath), zap.Error(err))
		}
	}()

	if _, err := r.downloader.DownloadPDF(ctx, inst.PdfURL, pdfPath); err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		zap.L().Warn("pdf download failed", zap.String("file_no", inst.FileNo), zap.Error(err))
		result.Source = ReasonDownloadFailed
		return result, nil
	}

	text, err := r.text.ExtractText(ctx, pdfPath)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		zap.L().Warn("pdf text extraction failed", zap.String("file_no", inst.FileNo), zap.Error(err))
		result.Source = ReasonPDFError
		return result, nil
	}
	if strings.TrimSpace(text) == "" {
		result.Source = ReasonNoText
		return result, nil
	}

	found, err := r.addresses.Extract(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		zap.L().Warn("address extraction failed", zap.String("file_no", inst.FileNo), zap.Error(err))
		result.Source = ReasonPDFError
		return result, nil
	}

	for _, addr := range found {
		if standardized := StandardizeAddress(addr); standardized != "" {
			result.PropertyAddress = standardized
			result.Source = models.SourcePDF
			return result, nil
		}
	}

	result.Source = ReasonNoAddress
	return result, nil
}
