package appraisal

import (
	"context"
	"strings"

	"property-scraper/config"
	"property-scraper/models"
	"property-scraper/normalize"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Resolver looks up the property address of one instrument
type Resolver struct {
	catalog *config.Catalog
	limiter *rate.Limiter
}

// NewResolver creates a Resolver. A nil limiter does not pace searches.
func NewResolver(catalog *config.Catalog, limiter *rate.Limiter) *Resolver {
	return &Resolver{catalog: catalog, limiter: limiter}
}

// NewLimiter paces searches across all tabs
func NewLimiter(perSecond float64, tabs int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if tabs < 1 {
		tabs = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), tabs)
}

// Resolve searches the owner's name variations until one yields an address.
// It only returns an error when ctx is done.
func (r *Resolver) Resolve(ctx context.Context, tab Tab, inst models.Instrument) (models.AddressResult, error) {
	result := r.baseResult(inst)
	result.Source = models.SourceNotFound

	owner := normalize.OwnerName(inst.Grantees)
	for attempt, name := range normalize.NameVariations(owner) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return result, err
			}
		}

		match, err := tab.Search(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			zap.L().Warn("appraisal search failed",
				zap.String("file_no", inst.FileNo),
				zap.String("name", name),
				zap.Error(err),
			)
			continue
		}
		if match == nil || strings.TrimSpace(match.Address) == "" {
			zap.L().Debug("no appraisal result",
				zap.String("file_no", inst.FileNo),
				zap.Int("attempt", attempt+1),
				zap.String("name", name),
			)
			continue
		}

		result.PropertyAddress = strings.TrimSpace(match.Address)
		result.Source = models.SourceHCAD
		result.SearchName = name
		zap.L().Info("resolved property address",
			zap.String("file_no", inst.FileNo),
			zap.String("name", name),
			zap.String("address", result.PropertyAddress),
		)
		return result, nil
	}

	return result, nil
}

// baseResult copies the instrument fields every result carries
func (r *Resolver) baseResult(inst models.Instrument) models.AddressResult {
	result := models.NewAddressResult(inst)
	result.InstrumentType = r.catalog.Label(inst.DocType, inst.InstrumentType)
	result.LegalDescClean = normalize.CleanLegalDescription(inst.LegalDescription)
	return result
}
