package extract

import (
	"context"
	"os"
	"strings"

	"property-scraper/config"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// maxDocumentBytes keeps the base64 request under the API's 32MB limit
const maxDocumentBytes = 24 << 20

const transcribeSystem = `You transcribe scanned legal documents recorded with a county clerk.
Return only the text of the document, page by page, in reading order. Do not summarize or comment.`

const transcribePrompt = "Transcribe all text in this document."

// DocumentReader sends a PDF to a language model with a prompt and returns its text reply
type DocumentReader interface {
	ReadDocument(ctx context.Context, system, prompt string, pdf []byte) (string, error)
}

// ModelOCR transcribes image-only PDFs by sending them to a model as documents.
type ModelOCR struct {
	reader DocumentReader
}

// NewModelOCR creates a ModelOCR extractor
func NewModelOCR(reader DocumentReader) *ModelOCR {
	return &ModelOCR{reader: reader}
}

// ExtractText reads the PDF and returns the model's transcription.
func (m *ModelOCR) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return "", eris.Wrapf(err, "extract: read PDF %s", pdfPath)
	}
	if len(data) > maxDocumentBytes {
		return "", eris.Errorf("extract: PDF %s is %d bytes, over the %d byte limit", pdfPath, len(data), maxDocumentBytes)
	}

	text, err := m.reader.ReadDocument(ctx, transcribeSystem, transcribePrompt, data)
	if err != nil {
		return "", eris.Wrapf(err, "extract: transcribe %s", pdfPath)
	}
	return text, nil
}

// FallbackExtractor tries each extractor in turn and returns the first non-blank text.
// Blank text from every extractor is not an error; the last failure is returned
// only when no extractor produced text.
type FallbackExtractor struct {
	extractors []TextExtractor
}

// NewFallbackExtractor creates a FallbackExtractor trying extractors in order
func NewFallbackExtractor(extractors ...TextExtractor) *FallbackExtractor {
	return &FallbackExtractor{extractors: extractors}
}

func (f *FallbackExtractor) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	var lastErr error
	for i, e := range f.extractors {
		text, err := e.ExtractText(ctx, pdfPath)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			zap.L().Debug("text extractor failed", zap.Int("extractor", i), zap.String("path", pdfPath), zap.Error(err))
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
		lastErr = nil
	}
	return "", lastErr
}

// NewTextExtractor picks the text extractor for cfg.OCRProvider:
// "local" uses pdftotext only, "anthropic" (the default) falls back to
// model transcription when pdftotext finds no text layer.
func NewTextExtractor(cfg config.ExtractConfig, reader DocumentReader) (TextExtractor, error) {
	local := NewPdfToText(cfg.PdfToTextPath)

	switch cfg.OCRProvider {
	case "local":
		return local, nil
	case "anthropic", "":
		if reader == nil {
			return nil, eris.New("extract: anthropic OCR requires an Anthropic API key")
		}
		return NewFallbackExtractor(local, NewModelOCR(reader)), nil
	default:
		return nil, eris.Errorf("extract: unknown OCR provider %q", cfg.OCRProvider)
	}
}
