package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/observability"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
)

// Embedder is the slice of the model client retrieval needs.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Config struct {
	TopK           int
	RRFK           int
	VectorWeight   float64
	TextWeight     float64
	MinVectorScore float64
	BrandBoost     float64
	TermBoost      float64
	BoostCap       float64
}

func DefaultConfig() Config {
	return Config{
		TopK:           10,
		RRFK:           60,
		VectorWeight:   0.6,
		TextWeight:     0.4,
		MinVectorScore: 0.25,
		BrandBoost:     0.10,
		TermBoost:      0.05,
		BoostCap:       0.15,
	}
}

// Result is one fused, boosted retrieval hit.
type Result struct {
	Record *domain.Record
	Score  float64
}

// Retriever fuses dense and lexical search over the record index with
// reciprocal rank fusion, then applies brand and technical-term boosts.
type Retriever struct {
	records  repos.RecordRepo
	embedder Embedder
	brands   *BrandCache
	log      *logger.Logger
	cfg      Config
}

func NewRetriever(records repos.RecordRepo, embedder Embedder, brands *BrandCache, baseLog *logger.Logger, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg = DefaultConfig()
	}
	return &Retriever{
		records:  records,
		embedder: embedder,
		brands:   brands,
		log:      baseLog.With("component", "Retriever"),
		cfg:      cfg,
	}
}

// Retrieve returns the fused, boosted top-k results plus the fused
// candidate count before the top-k cut. The validator reads the count
// to tell a broad query apart from a well-matched one.
func (r *Retriever) Retrieve(ctx context.Context, query string, kinds []domain.RecordKind) ([]Result, int, error) {
	start := time.Now()
	folded := NormalizeQuery(query)
	if folded == "" {
		return nil, 0, nil
	}

	terms := ExtractTechnicalTerms(folded)
	var brandHits []string
	if r.brands != nil {
		brandHits = r.brands.Match(ctx, folded)
	}

	perMethod := r.cfg.TopK * 2
	var (
		vectorHits []repos.RecordScore
		textHits   []repos.RecordScore
		vectorErr  error
		textErr    error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := r.embedder.Embed(gctx, []string{folded})
		if err != nil {
			vectorErr = err
			return nil
		}
		vectorHits, vectorErr = r.records.VectorSearch(gctx, kinds, vecs[0], perMethod, r.cfg.MinVectorScore)
		return nil
	})
	g.Go(func() error {
		textHits, textErr = r.records.TextSearch(gctx, kinds, folded, perMethod)
		return nil
	})
	_ = g.Wait()

	// One degraded leg is survivable; both down means no answer.
	if vectorErr != nil && textErr != nil {
		return nil, 0, fmt.Errorf("both retrieval methods failed: vector: %w; text: %v", vectorErr, textErr)
	}
	if vectorErr != nil {
		r.log.Warn("Vector search degraded, using lexical only", "error", vectorErr.Error())
	}
	if textErr != nil {
		r.log.Warn("Text search degraded, using vector only", "error", textErr.Error())
	}

	fused := r.fuse(vectorHits, textHits)
	if len(fused) == 0 {
		return nil, 0, nil
	}

	ids := make([]string, 0, len(fused))
	for _, f := range fused {
		ids = append(ids, f.ID)
	}
	records, err := r.records.GetMany(ctx, nil, ids)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[string]*domain.Record, len(records))
	for _, rec := range records {
		if rec.Active {
			byID[rec.ID] = rec
		}
	}

	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		rec := byID[f.ID]
		if rec == nil {
			continue
		}
		score := f.Score + r.boost(rec, folded, terms, brandHits)
		results = append(results, Result{Record: rec, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Record.UpdatedAt.Equal(results[j].Record.UpdatedAt) {
			return results[i].Record.UpdatedAt.After(results[j].Record.UpdatedAt)
		}
		return results[i].Record.ID < results[j].Record.ID
	})
	candidates := len(results)
	if len(results) > r.cfg.TopK {
		results = results[:r.cfg.TopK]
	}

	if m := observability.Current(); m != nil {
		m.ObserveRetrieval(time.Since(start), len(results))
	}
	return results, candidates, nil
}

// fuse merges the two ranked lists with weighted reciprocal rank
// fusion, normalized so a record ranked first in both methods scores
// 1.0. The validator's cutoffs operate on this scale.
func (r *Retriever) fuse(vector, text []repos.RecordScore) []repos.RecordScore {
	scores := map[string]float64{}
	order := make([]string, 0, len(vector)+len(text))

	accumulate := func(hits []repos.RecordScore, weight float64) {
		for rank, hit := range hits {
			if _, seen := scores[hit.ID]; !seen {
				order = append(order, hit.ID)
			}
			scores[hit.ID] += weight * float64(r.cfg.RRFK+1) / float64(r.cfg.RRFK+rank+1)
		}
	}
	accumulate(vector, r.cfg.VectorWeight)
	accumulate(text, r.cfg.TextWeight)

	out := make([]repos.RecordScore, 0, len(order))
	for _, id := range order {
		out = append(out, repos.RecordScore{ID: id, Score: scores[id]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Retriever) boost(rec *domain.Record, folded string, terms, brandHits []string) float64 {
	var b float64
	if brand := Fold(rec.Brand()); brand != "" {
		for _, hit := range brandHits {
			if hit == brand {
				b += r.cfg.BrandBoost
				break
			}
		}
	}
	if len(terms) > 0 {
		haystack := Fold(rec.Title + " " + rec.Body + " " + flattenForMatch(rec.Attributes))
		for _, term := range terms {
			if containsToken(haystack, term) {
				b += r.cfg.TermBoost
			}
		}
	}
	if b > r.cfg.BoostCap {
		b = r.cfg.BoostCap
	}
	return b
}

func flattenForMatch(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprint(attrs[k]))
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}
