package appraisal

import (
	"context"
	"time"

	"property-scraper/parser"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// The site has shipped several search box layouts; try each in order.
var (
	searchInputSelectors = []string{
		"input.searchTerm",
		"input.autocomplete",
		"input[placeholder*='Search by']",
		"input[type='search']",
	}
	searchButtonSelectors = []string{
		"div.input-group-append button.btn.btn-primary",
		"button.btn.btn-primary:has(i.fa-search)",
		"button[type='button'].btn.btn-primary",
		".input-group-append button",
	}
)

// rodTab is a Tab backed by a rod page
type rodTab struct {
	page    *rod.Page
	baseURL string
	timeout time.Duration
	wait    time.Duration
}

// home loads the search page
func (t *rodTab) home(ctx context.Context) error {
	p := t.page.Context(ctx)
	if err := p.Navigate(t.baseURL); err != nil {
		return eris.Wrapf(err, "appraisal: navigate to %s", t.baseURL)
	}
	if err := p.WaitLoad(); err != nil {
		return eris.Wrap(err, "appraisal: wait for search page")
	}
	return sleep(ctx, time.Second)
}

// findInput returns the first search box that shows up within the timeout
func (t *rodTab) findInput(ctx context.Context) (*rod.Element, error) {
	per := t.timeout / time.Duration(len(searchInputSelectors))
	for _, selector := range searchInputSelectors {
		el, err := t.page.Context(ctx).Timeout(per).Element(selector)
		if err == nil {
			return el.Context(ctx), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, eris.New("appraisal: search input not found")
}

// findButton returns the first search button present on the page, or nil
func (t *rodTab) findButton(ctx context.Context) *rod.Element {
	p := t.page.Context(ctx)
	for _, selector := range searchButtonSelectors {
		els, err := p.Elements(selector)
		if err == nil && len(els) > 0 {
			return els.First()
		}
	}
	return nil
}

// Search types the owner name into the site's search box and reads the first result
func (t *rodTab) Search(ctx context.Context, name string) (*parser.AppraisalMatch, error) {
	box, err := t.findInput(ctx)
	if err != nil {
		// The tab may be stranded on a detail page; start over next time.
		_ = t.home(ctx)
		return nil, err
	}

	if err := box.SelectAllText(); err != nil {
		return nil, eris.Wrap(err, "appraisal: clear search input")
	}
	if err := box.Input(name); err != nil {
		return nil, eris.Wrap(err, "appraisal: fill search input")
	}
	if err := sleep(ctx, time.Second); err != nil {
		return nil, err
	}

	if button := t.findButton(ctx); button != nil {
		if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return nil, eris.Wrap(err, "appraisal: click search")
		}
	} else {
		zap.L().Debug("no search button found, pressing enter")
		if err := box.Type(input.Enter); err != nil {
			return nil, eris.Wrap(err, "appraisal: submit search")
		}
	}

	if err := sleep(ctx, t.wait); err != nil {
		return nil, err
	}

	html, err := t.page.Context(ctx).HTML()
	if err != nil {
		return nil, eris.Wrap(err, "appraisal: read results page")
	}

	match, err := parser.ParseAppraisalResults(html)
	if err != nil {
		return nil, eris.Wrap(err, "appraisal: parse results page")
	}

	if err := t.home(ctx); err != nil {
		zap.L().Warn("could not reset search page", zap.Error(err))
	}
	return match, nil
}

func (t *rodTab) Close() error {
	return t.page.Close()
}
