package parser

import (
	"strings"

	"property-scraper/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultDocumentBaseURL prefixes the relative film code links in clerk results
const DefaultDocumentBaseURL = "https://www.cclerk.hctx.net/Applications/WebSearch/"

// Clerk result table columns (direct td children of a result row)
const (
	colFileNo   = 1
	colFileDate = 2
	colDocType  = 3
	colParties  = 4
	colLegal    = 5
	colFilmCode = 7

	minResultCells = 6
)

// Parser extracts instrument records from clerk search result HTML
type Parser struct {
	documentBaseURL string
}

// NewParser creates a new Parser instance
func NewParser() *Parser {
	return &Parser{documentBaseURL: DefaultDocumentBaseURL}
}

// NewParserWithBaseURL creates a Parser that resolves document links against baseURL
func NewParserWithBaseURL(baseURL string) *Parser {
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Parser{documentBaseURL: baseURL}
}

// ParseResults extracts instruments from a clerk search results page
func (p *Parser) ParseResults(htmlContent string) ([]models.Instrument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, eris.Wrap(err, "parser: parse clerk results")
	}

	rows := doc.Find("tr.odd, tr.even")
	zap.L().Debug("found clerk result rows", zap.Int("rows", rows.Length()))

	var instruments []models.Instrument
	rows.Each(func(i int, row *goquery.Selection) {
		instrument := p.extractInstrument(row)
		if instrument == nil {
			zap.L().Debug("skipping unparseable row", zap.Int("row", i+1))
			return
		}
		instruments = append(instruments, *instrument)
	})

	return instruments, nil
}

// extractInstrument maps a single result row to an Instrument
func (p *Parser) extractInstrument(row *goquery.Selection) *models.Instrument {
	cells := row.ChildrenFiltered("td")
	if cells.Length() < minResultCells {
		return nil
	}

	instrument := &models.Instrument{
		FileNo:   cellText(cells, colFileNo),
		FileDate: cellText(cells, colFileDate),
		FilmCode: cellText(cells, colFilmCode),
		Pages:    cellText(cells, cells.Length()-2),
	}

	// Doc type cells carry extra lines (e.g. a description) under the code
	docType := strippedText(cells.Eq(colDocType))
	if line, _, ok := strings.Cut(docType, "\n"); ok {
		docType = strings.TrimSpace(line)
	}
	instrument.DocType = docType

	grantors, grantees := extractParties(cells.Eq(colParties))
	instrument.Grantors = strings.Join(grantors, ", ")
	instrument.Grantees = strings.Join(grantees, ", ")

	instrument.LegalDescription = extractLegalDescription(cells.Eq(colLegal))

	if instrument.FilmCode != "" {
		if href, ok := cells.Eq(colFilmCode).Find("a").First().Attr("href"); ok && href != "" {
			instrument.PdfURL = p.documentBaseURL + strings.TrimPrefix(href, "/")
		}
	}

	return instrument
}

// extractParties splits the nested parties table into grantors and grantees
func extractParties(cell *goquery.Selection) ([]string, []string) {
	var grantors, grantees []string

	cell.Find("table#itemPlaceHolderContainer tr").Each(func(i int, tr *goquery.Selection) {
		label := tr.Find("b").First()
		name := tr.Find("span").First()
		if label.Length() == 0 || name.Length() == 0 {
			return
		}

		labelText := strippedText(label)
		nameText := strippedText(name)

		switch {
		case strings.Contains(labelText, "Grantor"):
			grantors = append(grantors, nameText)
		case strings.Contains(labelText, "Grantee"):
			grantees = append(grantees, nameText)
		}
	})

	return grantors, grantees
}

// extractLegalDescription joins the non-empty span texts of the legal cell
func extractLegalDescription(cell *goquery.Selection) string {
	var parts []string
	cell.Find("span").Each(func(i int, s *goquery.Selection) {
		if text := strippedText(s); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

func cellText(cells *goquery.Selection, index int) string {
	if index < 0 || index >= cells.Length() {
		return ""
	}
	return strippedText(cells.Eq(index))
}

// strippedText trims every text node under s and concatenates them with no
// separator, so markup inside a cell does not leak padding into the value.
// Line breaks inside a single text node are kept.
func strippedText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				b.WriteString(strings.TrimSpace(c.Text()))
				return
			}
			walk(c)
		})
	}
	walk(s)
	return b.String()
}
