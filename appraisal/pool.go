package appraisal

import (
	"context"
	"sync"

	"property-scraper/models"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Progress is called after each record with running totals. Calls are serialized.
type Progress func(processed, found, total int)

// Pool spreads appraisal lookups across a fixed number of browser tabs
type Pool struct {
	browser  Browser
	resolver *Resolver
	tabs     int
}

// NewPool creates a Pool with the given number of tabs (at least one)
func NewPool(browser Browser, resolver *Resolver, tabs int) *Pool {
	if tabs < 1 {
		tabs = 1
	}
	return &Pool{browser: browser, resolver: resolver, tabs: tabs}
}

// Run resolves every instrument and returns the results in input order.
// A record that finds nothing still yields a result; failing to open a tab
// or a cancelled ctx aborts the whole run.
func (p *Pool) Run(ctx context.Context, instruments []models.Instrument, progress Progress) ([]models.AddressResult, error) {
	total := len(instruments)
	results := make([]models.AddressResult, total)
	if total == 0 {
		return results, nil
	}

	tabs := p.tabs
	if tabs > total {
		tabs = total
	}

	zap.L().Info("starting appraisal searches",
		zap.Int("records", total),
		zap.Int("tabs", tabs),
	)

	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan int)

	g.Go(func() error {
		defer close(queue)
		for i := range instruments {
			select {
			case queue <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var mu sync.Mutex
	processed, found := 0, 0

	for w := 0; w < tabs; w++ {
		worker := w
		g.Go(func() error {
			tab, err := p.browser.NewTab(gctx)
			if err != nil {
				return eris.Wrapf(err, "appraisal: open tab %d", worker)
			}
			defer func() {
				if err := tab.Close(); err != nil {
					zap.L().Debug("close tab", zap.Int("tab", worker), zap.Error(err))
				}
			}()

			for i := range queue {
				res, err := p.resolver.Resolve(gctx, tab, instruments[i])
				if err != nil {
					return err
				}
				results[i] = res

				mu.Lock()
				processed++
				if res.PropertyAddress != "" {
					found++
				}
				if progress != nil {
					progress(processed, found, total)
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "appraisal: run searches")
	}

	zap.L().Info("appraisal searches completed",
		zap.Int("records", total),
		zap.Int("found", found),
	)
	return results, nil
}
