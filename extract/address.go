package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultMaxTokens  = 1024
	documentMaxTokens = 8192
)

const systemPrompt = `You are an expert at extracting GRANTEE addresses and grantee names from legal documents and property records.

Your task is to:
1. Extract addresses that belong to GRANTEES (property owners/recipients)
2. Extract the GRANTEE NAMES associated with those addresses
3. If MULTIPLE grantees are found, extract the LATEST/MOST RECENT grantee and their address
4. Look for patterns like: "JOHN SMITH, 123 Main St, Houston, TX 77001" or "ABC LLC, 1610 Crestdale Drive, Unit 4, Houston, Harris County, Texas 77080"

Ignore:
- Legal description addresses (Lot X, Block Y)
- Mailing addresses of companies
- Any address not directly associated with a grantee name
- Previous grantees

Return JSON with this structure:
{
  "addresses": [
    {
      "full_address": "Complete address as found",
      "street_number": "123",
      "street_name": "Main Street",
      "unit": "Unit 4 (if applicable)",
      "city": "Houston",
      "county": "Harris County (if mentioned)",
      "state": "Texas",
      "zip_code": "77080",
      "confidence": "high/medium/low",
      "grantee_name": "Name of the grantee (if identifiable)"
    }
  ]
}

If no grantee addresses are found, return: {"addresses": []}`

// Address is one grantee address found in document text
type Address struct {
	FullAddress  string `json:"full_address"`
	StreetNumber string `json:"street_number"`
	StreetName   string `json:"street_name"`
	Unit         string `json:"unit"`
	City         string `json:"city"`
	County       string `json:"county"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
	Confidence   string `json:"confidence"`
	GranteeName  string `json:"grantee_name"`
}

// Completer sends one system + user prompt to a language model and returns its text reply
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// AnthropicClient implements Completer and DocumentReader with the Anthropic Messages API
type AnthropicClient struct {
	client sdk.Client
	model  string
}

// NewAnthropicClient creates a client for model. Extra options are passed to the SDK.
func NewAnthropicClient(apiKey, model string, opts ...option.RequestOption) *AnthropicClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{
		client: sdk.NewClient(opts...),
		model:  model,
	}
}

// Complete sends a text prompt
func (c *AnthropicClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	return c.send(ctx, system, defaultMaxTokens, sdk.NewTextBlock(prompt))
}

// ReadDocument sends a PDF as a base64 document block followed by prompt
func (c *AnthropicClient) ReadDocument(ctx context.Context, system, prompt string, pdf []byte) (string, error) {
	return c.send(ctx, system, documentMaxTokens,
		sdk.NewDocumentBlock(sdk.Base64PDFSourceParam{Data: base64.StdEncoding.EncodeToString(pdf)}),
		sdk.NewTextBlock(prompt),
	)
}

func (c *AnthropicClient) send(ctx context.Context, system string, maxTokens int64, blocks ...sdk.ContentBlockParamUnion) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", eris.Wrap(err, "extract: create message")
	}

	zap.L().Debug("anthropic usage",
		zap.String("model", c.model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	var b strings.Builder
	for _, block := range msg.Content {
		b.WriteString(block.Text)
	}
	return b.String(), nil
}

// AddressExtractor finds grantee addresses in free document text
type AddressExtractor struct {
	completer Completer
}

// NewAddressExtractor creates an AddressExtractor
func NewAddressExtractor(completer Completer) *AddressExtractor {
	return &AddressExtractor{completer: completer}
}

// Extract asks the model for the latest grantee address in text
func (e *AddressExtractor) Extract(ctx context.Context, text string) ([]Address, error) {
	zap.L().Info("extracting grantee addresses", zap.Int("chars", len(text)))

	reply, err := e.completer.Complete(ctx, systemPrompt, buildPrompt(text))
	if err != nil {
		return nil, err
	}

	addresses, err := ParseAddresses(reply)
	if err != nil {
		return nil, err
	}

	zap.L().Info("address extraction completed", zap.Int("found", len(addresses)))
	return addresses, nil
}

func buildPrompt(text string) string {
	return fmt.Sprintf(`Extract the LATEST grantee address and grantee name from the following legal document text.
Only include addresses clearly associated with a grantee.

Text to analyze:
%s

Return them in the specified JSON format.`, text)
}

// ParseAddresses reads the {"addresses": [...]} object out of a model reply,
// tolerating prose around the JSON.
func ParseAddresses(reply string) ([]Address, error) {
	body := reply
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start != -1 && end > start {
		body = reply[start : end+1]
	}

	var parsed struct {
		Addresses []Address `json:"addresses"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, eris.Wrap(err, "extract: parse model reply")
	}
	return parsed.Addresses, nil
}

// StandardizeAddress formats an address as "number street[, unit], city, county, state, zip",
// skipping the parts that are missing. With none of them it returns the full address as found.
func StandardizeAddress(a Address) string {
	var parts []string

	if a.StreetNumber != "" && a.StreetName != "" {
		street := a.StreetNumber + " " + a.StreetName
		if a.Unit != "" {
			street += ", " + a.Unit
		}
		parts = append(parts, street)
	}

	for _, part := range []string{a.City, a.County, a.State, a.ZipCode} {
		if part != "" {
			parts = append(parts, part)
		}
	}

	if len(parts) == 0 {
		return strings.TrimSpace(a.FullAddress)
	}
	return strings.Join(parts, ", ")
}
