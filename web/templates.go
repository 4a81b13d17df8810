package web

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"property-scraper/models"
)

var templateFuncs = template.FuncMap{
	"join": strings.Join,
	"pct": func(v float64) string {
		return fmt.Sprintf("%.1f%%", v)
	},
	"when": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("2006-01-02 15:04:05")
	},
	"deref": func(t *time.Time) time.Time {
		if t == nil {
			return time.Time{}
		}
		return *t
	},
	"kind":     kindLabel,
	"finished": func(r models.Run) bool { return r.Finished() },
}

// kindLabel names a run kind for people
func kindLabel(kind models.RunKind) string {
	switch kind {
	case models.RunKindInstruments:
		return "Instruments"
	case models.RunKindAddresses:
		return "Addresses"
	default:
		return string(kind)
	}
}
