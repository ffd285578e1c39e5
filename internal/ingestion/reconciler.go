package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/catalog"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
	"github.com/ferrebot/ferrebot-backend/internal/utils"
)

// Embedder is the slice of the model client ingestion needs.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Stats summarizes one reconciliation pass.
type Stats struct {
	Scanned  int `json:"scanned"`
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
}

// Reconciler drives the catalog index to match the storefront: upsert
// what changed, soft-delete what vanished, and embed only content whose
// hash moved. Running it twice in a row is a no-op.
type Reconciler struct {
	records   repos.RecordRepo
	catalog   catalog.Client
	embedder  Embedder
	log       *logger.Logger
	pageSize  int
	batchSize int
}

func NewReconciler(records repos.RecordRepo, cat catalog.Client, embedder Embedder, baseLog *logger.Logger) *Reconciler {
	return &Reconciler{
		records:   records,
		catalog:   cat,
		embedder:  embedder,
		log:       baseLog.With("component", "Reconciler"),
		pageSize:  utils.GetEnvAsInt("RECONCILE_PAGE_SIZE", 100, nil),
		batchSize: utils.GetEnvAsInt("EMBED_BATCH_SIZE", 100, nil),
	}
}

type stagedRecord struct {
	record    *domain.Record
	embedText string
}

// ReconcileKind runs the full set-algebra pass for one record kind.
func (r *Reconciler) ReconcileKind(ctx context.Context, kind domain.RecordKind) (Stats, error) {
	var stats Stats
	start := time.Now()

	local, err := r.records.ListIDs(ctx, nil, kind)
	if err != nil {
		return stats, fmt.Errorf("list local records: %w", err)
	}
	localByID := make(map[string]repos.RecordListing, len(local))
	for _, l := range local {
		localByID[l.ID] = l
	}

	seen := map[string]bool{}
	var staged []stagedRecord
	cursor := ""
	for {
		page, err := r.catalog.ListSince(ctx, cursor, r.pageSize)
		if err != nil {
			return stats, fmt.Errorf("list catalog page: %w", err)
		}
		for _, item := range page.Items {
			if item.ID == "" {
				continue
			}
			itemKind := domain.RecordKind(item.Kind)
			if itemKind == "" {
				itemKind = kind
			}
			if itemKind != kind {
				continue
			}
			stats.Scanned++
			seen[item.ID] = true
			r.stageItem(&stats, &staged, localByID, itemKind, item)
		}
		cursor = page.NextCursor
		if !page.HasMore || cursor == "" {
			break
		}
	}

	if err := r.embedStaged(ctx, staged, &stats); err != nil {
		return stats, err
	}
	for _, s := range staged {
		if err := r.records.Upsert(ctx, nil, s.record); err != nil {
			return stats, fmt.Errorf("upsert record %s: %w", s.record.ID, err)
		}
	}

	for id, listing := range localByID {
		if seen[id] || !listing.Active {
			continue
		}
		if err := r.records.SoftDelete(ctx, nil, id); err != nil {
			return stats, fmt.Errorf("soft delete record %s: %w", id, err)
		}
		stats.Deleted++
	}

	if cursor != "" {
		if err := r.records.SetCursor(ctx, kind, cursor); err != nil {
			r.log.Warn("Cursor persist failed", "kind", string(kind), "error", err.Error())
		}
	}

	r.log.Info("Reconcile pass finished",
		"kind", string(kind),
		"scanned", stats.Scanned,
		"created", stats.Created,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"embedded", stats.Embedded,
		"skipped", stats.Skipped,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return stats, nil
}

// SyncSince applies upstream changes published after the cursor the
// last pass stored, without rescanning the whole catalog. An
// incremental pass cannot observe deletions; ReconcileKind stays the
// repair pass for those.
func (r *Reconciler) SyncSince(ctx context.Context, kind domain.RecordKind) (Stats, error) {
	var stats Stats
	start := time.Now()

	cursor, err := r.records.GetCursor(ctx, kind)
	if err != nil {
		return stats, fmt.Errorf("load sync cursor: %w", err)
	}

	local, err := r.records.ListIDs(ctx, nil, kind)
	if err != nil {
		return stats, fmt.Errorf("list local records: %w", err)
	}
	localByID := make(map[string]repos.RecordListing, len(local))
	for _, l := range local {
		localByID[l.ID] = l
	}

	var staged []stagedRecord
	for {
		page, err := r.catalog.ListSince(ctx, cursor, r.pageSize)
		if err != nil {
			return stats, fmt.Errorf("list catalog page: %w", err)
		}
		for _, item := range page.Items {
			if item.ID == "" {
				continue
			}
			itemKind := domain.RecordKind(item.Kind)
			if itemKind == "" {
				itemKind = kind
			}
			if itemKind != kind {
				continue
			}
			stats.Scanned++
			r.stageItem(&stats, &staged, localByID, itemKind, item)
		}
		cursor = page.NextCursor
		if !page.HasMore || cursor == "" {
			break
		}
	}

	if err := r.embedStaged(ctx, staged, &stats); err != nil {
		return stats, err
	}
	for _, s := range staged {
		if err := r.records.Upsert(ctx, nil, s.record); err != nil {
			return stats, fmt.Errorf("upsert record %s: %w", s.record.ID, err)
		}
	}

	if cursor != "" {
		if err := r.records.SetCursor(ctx, kind, cursor); err != nil {
			r.log.Warn("Cursor persist failed", "kind", string(kind), "error", err.Error())
		}
	}

	r.log.Info("Incremental sync finished",
		"kind", string(kind),
		"scanned", stats.Scanned,
		"created", stats.Created,
		"updated", stats.Updated,
		"embedded", stats.Embedded,
		"skipped", stats.Skipped,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return stats, nil
}

// ReconcileItem applies a single upstream change without a full pass.
// Used by the webhook worker.
func (r *Reconciler) ReconcileItem(ctx context.Context, kind domain.RecordKind, id string, deleted bool) error {
	if deleted {
		return r.records.SoftDelete(ctx, nil, id)
	}
	item, err := r.catalog.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.records.SoftDelete(ctx, nil, id)
		}
		return err
	}

	local, err := r.records.ListIDs(ctx, nil, kind)
	if err != nil {
		return err
	}
	localByID := make(map[string]repos.RecordListing, len(local))
	for _, l := range local {
		localByID[l.ID] = l
	}

	var stats Stats
	var staged []stagedRecord
	r.stageItem(&stats, &staged, localByID, kind, *item)
	if err := r.embedStaged(ctx, staged, &stats); err != nil {
		return err
	}
	for _, s := range staged {
		if err := r.records.Upsert(ctx, nil, s.record); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) stageItem(stats *Stats, staged *[]stagedRecord, localByID map[string]repos.RecordListing, kind domain.RecordKind, item catalog.Item) {
	title := CollapseWhitespace(StripHTML(item.Title))
	body := CollapseWhitespace(StripHTML(item.Body))
	attrs := NormalizeAttributes(item.Attributes)
	hash := ContentHash(title, body, attrs)

	existing, known := localByID[item.ID]
	if known && existing.ContentHash == hash && existing.Active == item.Active &&
		volatileEqual(existing.Attributes, attrs) {
		stats.Skipped++
		return
	}
	if known {
		stats.Updated++
	} else {
		stats.Created++
	}

	rec := &domain.Record{
		ID:          item.ID,
		Kind:        kind,
		Title:       title,
		Body:        body,
		Attributes:  attrs,
		ContentHash: hash,
		Active:      item.Active,
		UpdatedAt:   time.Now().UTC(),
	}
	s := stagedRecord{record: rec}
	// A price or stock move keeps the stored vector. Re-embed on new
	// content and on reactivation (soft delete dropped the old vector);
	// inactive rows never carry one.
	if item.Active && (!known || existing.ContentHash != hash || !existing.Active) {
		s.embedText = BuildEmbedText(title, body, attrs)
	}
	*staged = append(*staged, s)
}

// volatileEqual compares the attributes the content hash ignores, so
// commercial-only updates still reach the store row.
func volatileEqual(a, b map[string]any) bool {
	for key := range volatileAttributes {
		av, aok := a[key]
		bv, bok := b[key]
		if aok != bok {
			return false
		}
		if aok && fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

func (r *Reconciler) embedStaged(ctx context.Context, staged []stagedRecord, stats *Stats) error {
	var needy []int
	for i, s := range staged {
		if s.embedText != "" {
			needy = append(needy, i)
		}
	}
	for start := 0; start < len(needy); start += r.batchSize {
		end := start + r.batchSize
		if end > len(needy) {
			end = len(needy)
		}
		texts := make([]string, 0, end-start)
		for _, idx := range needy[start:end] {
			texts = append(texts, staged[idx].embedText)
		}
		vectors, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		for i, idx := range needy[start:end] {
			v := pgvector.NewVector(vectors[i])
			staged[idx].record.DenseVector = &v
			stats.Embedded++
		}
	}
	return nil
}
