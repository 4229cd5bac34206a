package candidates

import (
	"context"

	"github.com/kis-trader/engine/internal/domain"
)

// ThemeSource is a static, hardcoded theme-to-symbol registry used only as
// a fallback when the live ranking feed is unavailable. This is a
// deliberate simplification: the registry this was modeled on loads its
// universe from an external JSON file that ships alongside the loader
// source, not the data itself, so no real theme file exists to port —
// a small fixed set of well-known large-cap symbols stands in for it.
type ThemeSource struct {
	themes map[string][]string
}

// NewDefaultThemeSource returns a ThemeSource seeded with a handful of
// representative KOSPI theme groupings.
func NewDefaultThemeSource() *ThemeSource {
	return &ThemeSource{
		themes: map[string][]string{
			"semiconductors": {"005930", "000660", "042700"},
			"secondary_batteries": {"373220", "006400", "247540"},
			"bio_health": {"207940", "068270", "326030"},
			"platform_internet": {"035420", "035720"},
			"auto": {"005380", "000270", "012330"},
		},
	}
}

// Candidates returns a flat, unscored CandidateStock list spanning every
// theme in the registry. Price/volume fields are left zero; the Provider
// skips its pre-filter stage for these candidates (optionally filling
// LastPrice from Yahoo) — this path only exists to keep a session alive
// when the primary ranking feed is down, not to replace it.
func (t *ThemeSource) Candidates(_ context.Context) []domain.CandidateStock {
	seen := make(map[string]bool)
	out := make([]domain.CandidateStock, 0)
	for _, symbols := range t.themes {
		for _, sym := range symbols {
			if seen[sym] {
				continue
			}
			seen[sym] = true
			out = append(out, domain.CandidateStock{Symbol: sym})
		}
	}
	return out
}
