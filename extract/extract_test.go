package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"property-scraper/config"
	"property-scraper/models"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	reply  string
	err    error
	prompt string
}

func (s *stubCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	s.prompt = prompt
	return s.reply, s.err
}

type stubDownloader struct {
	body []byte
	err  error
	path string
}

func (s *stubDownloader) DownloadPDF(ctx context.Context, url, outputPath string) (int64, error) {
	s.path = outputPath
	if s.err != nil {
		return 0, s.err
	}
	if err := os.WriteFile(outputPath, s.body, 0o644); err != nil {
		return 0, err
	}
	return int64(len(s.body)), nil
}

type stubText struct {
	text string
	err  error
}

func (s stubText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	return s.text, s.err
}

type stubReader struct {
	reply string
	err   error
	pdf   []byte
}

func (s *stubReader) ReadDocument(ctx context.Context, system, prompt string, pdf []byte) (string, error) {
	s.pdf = pdf
	return s.reply, s.err
}

func TestParseAddresses(t *testing.T) {
	reply := "Here is what I found:\n```json\n" +
		`{"addresses": [{"full_address": "JANE SMITH, 1610 Crestdale Drive, Unit 4, Houston, Texas 77080",` +
		`"street_number": "1610", "street_name": "Crestdale Drive", "unit": "Unit 4", "city": "Houston",` +
		`"state": "Texas", "zip_code": "77080", "confidence": "high", "grantee_name": "JANE SMITH"}]}` +
		"\n```"

	addresses, err := ParseAddresses(reply)
	require.NoError(t, err)
	require.Len(t, addresses, 1)
	assert.Equal(t, "1610", addresses[0].StreetNumber)
	assert.Equal(t, "JANE SMITH", addresses[0].GranteeName)
	assert.Equal(t, "high", addresses[0].Confidence)
}

func TestParseAddresses_Empty(t *testing.T) {
	addresses, err := ParseAddresses(`{"addresses": []}`)
	require.NoError(t, err)
	assert.Empty(t, addresses)
}

func TestParseAddresses_Invalid(t *testing.T) {
	_, err := ParseAddresses("I could not find any address.")
	assert.Error(t, err)
}

func TestStandardizeAddress(t *testing.T) {
	tests := []struct {
		name     string
		addr     Address
		expected string
	}{
		{
			name: "full",
			addr: Address{StreetNumber: "1610", StreetName: "Crestdale Drive", Unit: "Unit 4",
				City: "Houston", County: "Harris County", State: "Texas", ZipCode: "77080"},
			expected: "1610 Crestdale Drive, Unit 4, Houston, Harris County, Texas, 77080",
		},
		{
			name:     "no unit or county",
			addr:     Address{StreetNumber: "123", StreetName: "Main St", City: "Houston", State: "TX", ZipCode: "77001"},
			expected: "123 Main St, Houston, TX, 77001",
		},
		{
			name:     "street needs a number",
			addr:     Address{StreetName: "Main St", City: "Houston"},
			expected: "Houston",
		},
		{
			name:     "full address only",
			addr:     Address{FullAddress: " 1610 Crestdale Drive, Houston, TX 77080 "},
			expected: "1610 Crestdale Drive, Houston, TX 77080",
		},
		{
			name:     "parts win over full address",
			addr:     Address{FullAddress: "JANE SMITH, 1 Elm St", StreetNumber: "1", StreetName: "Elm St"},
			expected: "1 Elm St",
		},
		{
			name:     "nothing",
			addr:     Address{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StandardizeAddress(tt.addr))
		})
	}
}

func TestAddressExtractor_Extract(t *testing.T) {
	completer := &stubCompleter{reply: `{"addresses":[{"street_number":"1","street_name":"Elm St","city":"Houston"}]}`}

	addresses, err := NewAddressExtractor(completer).Extract(context.Background(), "GRANTEE: JANE SMITH 1 Elm St")
	require.NoError(t, err)
	require.Len(t, addresses, 1)
	assert.Contains(t, completer.prompt, "GRANTEE: JANE SMITH 1 Elm St")
}

func TestPdfToText_BinPath(t *testing.T) {
	assert.Equal(t, "pdftotext", NewPdfToText("").binPath)
	assert.Equal(t, "/custom/pdftotext", NewPdfToText("/custom/pdftotext").binPath)
}

func TestPdfToText_MissingBinary(t *testing.T) {
	_, err := NewPdfToText(filepath.Join(t.TempDir(), "missing")).ExtractText(context.Background(), "x.pdf")
	assert.Error(t, err)
}

func TestPDFResolver_Resolve(t *testing.T) {
	inst := models.Instrument{
		FileNo:           "RP-2025-1",
		FileDate:         "09/02/2025",
		DocType:          "D",
		Grantees:         "JANE SMITH",
		LegalDescription: "Desc: OAK FOREST Lot: 1",
		PdfURL:           "https://example.test/doc.pdf",
		InstrumentType:   "Deed",
	}
	reply := `{"addresses":[{"street_number":"1","street_name":"Elm St","city":"Houston","state":"TX","zip_code":"77018"}]}`

	tests := []struct {
		name       string
		inst       models.Instrument
		downloader *stubDownloader
		text       stubText
		completer  *stubCompleter
		address    string
		source     string
	}{
		{
			name:       "address found",
			inst:       inst,
			downloader: &stubDownloader{body: []byte("%PDF")},
			text:       stubText{text: "GRANTEE JANE SMITH 1 Elm St"},
			completer:  &stubCompleter{reply: reply},
			address:    "1 Elm St, Houston, TX, 77018",
			source:     models.SourcePDF,
		},
		{
			name:       "full address only",
			inst:       inst,
			downloader: &stubDownloader{body: []byte("%PDF")},
			text:       stubText{text: "GRANTEE JANE SMITH 1610 Crestdale Drive"},
			completer:  &stubCompleter{reply: `{"addresses":[{"full_address":"1610 Crestdale Drive, Houston, TX 77080"}]}`},
			address:    "1610 Crestdale Drive, Houston, TX 77080",
			source:     models.SourcePDF,
		},
		{
			name:       "no pdf url",
			inst:       models.Instrument{FileNo: "RP-2"},
			downloader: &stubDownloader{},
			completer:  &stubCompleter{},
			source:     ReasonDownloadFailed,
		},
		{
			name:       "download fails",
			inst:       inst,
			downloader: &stubDownloader{err: errors.New("403")},
			completer:  &stubCompleter{},
			source:     ReasonDownloadFailed,
		},
		{
			name:       "blank text",
			inst:       inst,
			downloader: &stubDownloader{body: []byte("%PDF")},
			text:       stubText{text: "  \n "},
			completer:  &stubCompleter{},
			source:     ReasonNoText,
		},
		{
			name:       "text extraction fails",
			inst:       inst,
			downloader: &stubDownloader{body: []byte("%PDF")},
			text:       stubText{err: errors.New("exit status 1")},
			completer:  &stubCompleter{},
			source:     ReasonPDFError,
		},
		{
			name:       "no address",
			inst:       inst,
			downloader: &stubDownloader{body: []byte("%PDF")},
			text:       stubText{text: "words"},
			completer:  &stubCompleter{reply: `{"addresses": []}`},
			source:     ReasonNoAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			resolver := NewPDFResolver(tt.downloader, tt.text, NewAddressExtractor(tt.completer), nil, dir)

			res, err := resolver.Resolve(context.Background(), tt.inst)
			require.NoError(t, err)
			assert.Equal(t, tt.address, res.PropertyAddress)
			assert.Equal(t, tt.source, res.Source)
			assert.Equal(t, tt.inst.FileNo, res.FileNo)

			if tt.downloader.path != "" {
				assert.Equal(t, filepath.Join(dir, "RP-2025-1_09022025.pdf"), tt.downloader.path)
				assert.NoFileExists(t, tt.downloader.path)
			}
		})
	}
}

func TestPDFResolver_LabelsFromCatalogFallback(t *testing.T) {
	resolver := NewPDFResolver(&stubDownloader{}, stubText{}, NewAddressExtractor(&stubCompleter{}), nil, t.TempDir())
	res, err := resolver.Resolve(context.Background(), models.Instrument{FileNo: "1", InstrumentType: "Deed, Lien"})
	require.NoError(t, err)
	assert.Equal(t, "Deed, Lien", res.InstrumentType)
}

func writePDF(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFallbackExtractor(t *testing.T) {
	tests := []struct {
		name       string
		extractors []TextExtractor
		want       string
		wantErr    bool
	}{
		{"first has text", []TextExtractor{stubText{text: "layer"}, stubText{text: "ocr"}}, "layer", false},
		{"blank then text", []TextExtractor{stubText{text: " \n"}, stubText{text: "ocr"}}, "ocr", false},
		{"error then text", []TextExtractor{stubText{err: errors.New("exit status 1")}, stubText{text: "ocr"}}, "ocr", false},
		{"all blank", []TextExtractor{stubText{}, stubText{text: "  "}}, "", false},
		{"error then blank", []TextExtractor{stubText{err: errors.New("exit status 1")}, stubText{}}, "", false},
		{"all fail", []TextExtractor{stubText{err: errors.New("a")}, stubText{err: errors.New("b")}}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := NewFallbackExtractor(tt.extractors...).ExtractText(context.Background(), "doc.pdf")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestModelOCR(t *testing.T) {
	reader := &stubReader{reply: "WARRANTY DEED\nGRANTEE: JANE SMITH"}
	text, err := NewModelOCR(reader).ExtractText(context.Background(), writePDF(t, "%PDF-scan"))
	require.NoError(t, err)
	assert.Equal(t, "WARRANTY DEED\nGRANTEE: JANE SMITH", text)
	assert.Equal(t, []byte("%PDF-scan"), reader.pdf)

	_, err = NewModelOCR(reader).ExtractText(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)

	_, err = NewModelOCR(&stubReader{err: errors.New("overloaded")}).ExtractText(context.Background(), writePDF(t, "%PDF"))
	assert.Error(t, err)
}

func TestPDFResolver_ScannedPDF(t *testing.T) {
	reader := &stubReader{reply: "GRANTEE: JANE SMITH, 1 Elm St, Houston, TX 77018"}
	text := NewFallbackExtractor(stubText{text: "\f\f"}, NewModelOCR(reader))
	completer := &stubCompleter{reply: `{"addresses":[{"street_number":"1","street_name":"Elm St","city":"Houston","state":"TX","zip_code":"77018"}]}`}
	resolver := NewPDFResolver(&stubDownloader{body: []byte("%PDF-image-only")}, text, NewAddressExtractor(completer), nil, t.TempDir())

	res, err := resolver.Resolve(context.Background(), models.Instrument{FileNo: "RP-9", PdfURL: "https://example.test/9.pdf"})
	require.NoError(t, err)
	assert.Equal(t, models.SourcePDF, res.Source)
	assert.Equal(t, "1 Elm St, Houston, TX, 77018", res.PropertyAddress)
	assert.Equal(t, []byte("%PDF-image-only"), reader.pdf)
	assert.Contains(t, completer.prompt, "GRANTEE: JANE SMITH")
}

func TestNewTextExtractor(t *testing.T) {
	reader := &stubReader{}

	text, err := NewTextExtractor(config.ExtractConfig{OCRProvider: "local"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, text)

	text, err = NewTextExtractor(config.ExtractConfig{}, reader)
	require.NoError(t, err)
	assert.IsType(t, &FallbackExtractor{}, text)

	_, err = NewTextExtractor(config.ExtractConfig{OCRProvider: "anthropic"}, nil)
	assert.Error(t, err)

	_, err = NewTextExtractor(config.ExtractConfig{OCRProvider: "tesseract"}, reader)
	assert.Error(t, err)
}

func TestAnthropicClient_ReadDocument(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Content []struct {
				Type   string `json:"type"`
				Text   string `json:"text"`
				Source struct {
					Type      string `json:"type"`
					MediaType string `json:"media_type"`
					Data      string `json:"data"`
				} `json:"source"`
			} `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",` +
			`"content":[{"type":"text","text":"GRANTEE: JANE SMITH"}],` +
			`"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-key", "claude-test", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	text, err := client.ReadDocument(context.Background(), "system", "Transcribe.", []byte("%PDF-scan"))
	require.NoError(t, err)
	assert.Equal(t, "GRANTEE: JANE SMITH", text)

	assert.Equal(t, "claude-test", got.Model)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	doc := got.Messages[0].Content[0]
	assert.Equal(t, "document", doc.Type)
	assert.Equal(t, "base64", doc.Source.Type)
	assert.Equal(t, "application/pdf", doc.Source.MediaType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-scan")), doc.Source.Data)
	assert.Equal(t, "Transcribe.", got.Messages[0].Content[1].Text)
}
