package search

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
)

// Technical tokens carry far more intent than prose: a user typing
// "C60N" or "16A curva C" wants exactly that, not a semantic cousin.
var technicalPatterns = []*regexp.Regexp{
	// Product codes: at least one letter+digit mix of 3+, e.g. C60N, ID40.
	regexp.MustCompile(`\b[a-z]{1,4}\d{2,}[a-z0-9]*\b`),
	// Dashed or dotted codes, e.g. tx-40, dps-275.
	regexp.MustCompile(`\b[a-z0-9]+[-.][a-z0-9]+\b`),
	// Electrical magnitudes: 16a, 220v, 2.5mm2, 30ma, 4.5ka, 60w.
	regexp.MustCompile(`\b\d+(?:[.,]\d+)?\s?(?:a|v|w|kw|ma|ka|mm2?|va|kva|hz)\b`),
	// Pole counts: 1p, 2p, 3p, 4p, 1p+n.
	regexp.MustCompile(`\b[1-4]p(?:\+n)?\b`),
	// Trip curves: curva a/b/c/d, with or without the space.
	regexp.MustCompile(`\bcurva\s?[a-d]\b`),
}

// ExtractTechnicalTerms pulls technical tokens out of a folded query.
// Results are deduplicated, first occurrence order.
func ExtractTechnicalTerms(folded string) []string {
	seen := map[string]bool{}
	var out []string
	for _, re := range technicalPatterns {
		for _, m := range re.FindAllString(folded, -1) {
			m = strings.TrimSpace(m)
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// BrandSource is the slice of the record store the brand cache needs.
type BrandSource interface {
	DistinctBrands(ctx context.Context) ([]string, error)
}

// BrandCache keeps the folded brand list warm so per-turn queries do
// not touch the store. Refreshes lazily after the TTL lapses; serves
// stale data when a refresh fails.
type BrandCache struct {
	source BrandSource
	log    *logger.Logger
	ttl    time.Duration

	mu        sync.RWMutex
	brands    map[string]bool
	fetchedAt time.Time
}

func NewBrandCache(source BrandSource, baseLog *logger.Logger, ttl time.Duration) *BrandCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &BrandCache{
		source: source,
		log:    baseLog.With("component", "BrandCache"),
		ttl:    ttl,
		brands: map[string]bool{},
	}
}

// Match returns the folded brand tokens present in the folded query.
func (c *BrandCache) Match(ctx context.Context, folded string) []string {
	brands := c.snapshot(ctx)
	if len(brands) == 0 {
		return nil
	}
	var out []string
	for brand := range brands {
		if containsToken(folded, brand) {
			out = append(out, brand)
		}
	}
	return out
}

func (c *BrandCache) snapshot(ctx context.Context) map[string]bool {
	c.mu.RLock()
	fresh := time.Since(c.fetchedAt) < c.ttl && len(c.brands) > 0
	brands := c.brands
	c.mu.RUnlock()
	if fresh {
		return brands
	}

	raw, err := c.source.DistinctBrands(ctx)
	if err != nil {
		c.log.Warn("Brand refresh failed, serving stale set", "error", err.Error(), "stale_size", len(brands))
		return brands
	}
	next := make(map[string]bool, len(raw))
	for _, b := range raw {
		b = Fold(strings.TrimSpace(b))
		if b != "" {
			next[b] = true
		}
	}
	c.mu.Lock()
	c.brands = next
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return next
}

func containsToken(folded, token string) bool {
	idx := strings.Index(folded, token)
	for idx >= 0 {
		before := idx == 0 || folded[idx-1] == ' '
		end := idx + len(token)
		after := end == len(folded) || folded[end] == ' '
		if before && after {
			return true
		}
		next := strings.Index(folded[idx+1:], token)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}
