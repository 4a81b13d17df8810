package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// NoResultsIndicators are the phrases both sites print for an empty search
var NoResultsIndicators = []string{
	"No results found",
	"Showing 0 to 0 of 0 entries",
	"No matching records found",
	"No Results Found",
}

// zeroEntriesRe matches "0 entries" but not "10 entries"
var zeroEntriesRe = regexp.MustCompile(`\b0 entries`)

// addressPatterns identify a cell that looks like a street address
var addressPatterns = []string{"ST", "AVE", "RD", "DR", "LN", "BLVD", "TX", "KATY", "HOUSTON"}

// AppraisalMatch is the first row of an appraisal district search
type AppraisalMatch struct {
	Account string
	Address string
}

// HasNoResults reports whether the page says the search found nothing
func HasNoResults(htmlContent string) bool {
	for _, indicator := range NoResultsIndicators {
		if strings.Contains(htmlContent, indicator) {
			return true
		}
	}
	return zeroEntriesRe.MatchString(htmlContent)
}

// ParseAppraisalResults extracts the account and address of the first result row.
// A nil match with no error means the page had no usable result.
func ParseAppraisalResults(htmlContent string) (*AppraisalMatch, error) {
	if HasNoResults(htmlContent) {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, eris.Wrap(err, "parser: parse appraisal results")
	}

	row := doc.Find("tr.resulttr").First()
	if row.Length() == 0 {
		row = doc.Find("table.data-table tbody tr, table.dataTable tbody tr").First()
	}
	if row.Length() == 0 {
		row = doc.Find("table tbody tr").First()
	}
	if row.Length() == 0 {
		return nil, nil
	}

	cells := row.ChildrenFiltered("td")
	match := &AppraisalMatch{
		Account: cellText(cells, 0),
		Address: cellText(cells, 2),
	}

	// Some layouts shift columns; fall back to anything that reads like an address
	if match.Address == "" {
		cells.EachWithBreak(func(i int, cell *goquery.Selection) bool {
			text := strings.TrimSpace(cell.Text())
			if LooksLikeAddress(text) {
				match.Address = text
				return false
			}
			return true
		})
	}

	if match.Address == "" {
		return nil, nil
	}
	return match, nil
}

// LooksLikeAddress reports whether text contains a common street or city token
func LooksLikeAddress(text string) bool {
	if text == "" {
		return false
	}
	upper := strings.ToUpper(text)
	for _, pattern := range addressPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}
