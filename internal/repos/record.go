package repos

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
)

// RecordScore is one ranked hit from a single search method.
type RecordScore struct {
	ID    string
	Score float64
}

// RecordListing is the reconciliation view of one indexed record.
type RecordListing struct {
	ID          string
	ContentHash string
	Active      bool
	Attributes  datatypes.JSONMap
}

type RecordRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, rec *domain.Record) error
	SoftDelete(ctx context.Context, tx *gorm.DB, id string) error
	VectorSearch(ctx context.Context, kinds []domain.RecordKind, query []float32, k int, minScore float64) ([]RecordScore, error)
	TextSearch(ctx context.Context, kinds []domain.RecordKind, query string, k int) ([]RecordScore, error)
	GetMany(ctx context.Context, tx *gorm.DB, ids []string) ([]*domain.Record, error)
	ListIDs(ctx context.Context, tx *gorm.DB, kind domain.RecordKind) ([]RecordListing, error)
	DistinctBrands(ctx context.Context) ([]string, error)
	GetCursor(ctx context.Context, kind domain.RecordKind) (string, error)
	SetCursor(ctx context.Context, kind domain.RecordKind, cursor string) error
}

type recordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecordRepo(db *gorm.DB, baseLog *logger.Logger) RecordRepo {
	return &recordRepo{db: db, log: baseLog.With("repo", "RecordRepo")}
}

func (r *recordRepo) postgres() bool {
	return r.db.Dialector.Name() == "postgres"
}

// Upsert serializes racing writers for the same record id with a
// transaction-scoped advisory lock, then writes the full row. The
// lexical vector is a generated column, so it tracks every write on
// its own; the dense vector follows the active flag.
func (r *recordRepo) Upsert(ctx context.Context, tx *gorm.DB, rec *domain.Record) error {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("record id required: %w", domain.ErrInvariant)
	}
	if !rec.Active {
		rec.DenseVector = nil
	}
	// A nil vector on an active record means the caller skipped
	// re-embedding; the stored vector must survive the write.
	columns := []string{
		"kind", "title", "body", "attributes", "content_hash",
		"active", "updated_at",
	}
	if !rec.Active || rec.DenseVector != nil {
		columns = append(columns, "dense_vector")
	}
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		if r.postgres() {
			if err := inner.Exec(`SELECT pg_advisory_xact_lock(hashtext(?))`, rec.ID).Error; err != nil {
				return err
			}
		}
		return inner.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).Create(rec).Error
	})
	return mapStoreErr(err)
}

func (r *recordRepo) SoftDelete(ctx context.Context, tx *gorm.DB, id string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).
		Model(&domain.Record{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": false, "dense_vector": nil}).Error
	return mapStoreErr(err)
}

func (r *recordRepo) VectorSearch(ctx context.Context, kinds []domain.RecordKind, query []float32, k int, minScore float64) ([]RecordScore, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	if r.postgres() {
		return r.vectorSearchPG(ctx, kinds, query, k, minScore)
	}
	return r.vectorSearchScan(ctx, kinds, query, k, minScore)
}

func (r *recordRepo) vectorSearchPG(ctx context.Context, kinds []domain.RecordKind, query []float32, k int, minScore float64) ([]RecordScore, error) {
	vec := pgvector.NewVector(query)
	type row struct {
		ID    string  `gorm:"column:id"`
		Score float64 `gorm:"column:score"`
	}
	var rows []row
	q := r.db.WithContext(ctx).
		Table("records").
		Select("id, 1 - (dense_vector <=> ?) AS score", vec).
		Where("active AND dense_vector IS NOT NULL")
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	if err := q.Order(clause.Expr{SQL: "dense_vector <=> ?", Vars: []any{vec}}).
		Limit(k).
		Scan(&rows).Error; err != nil {
		return nil, mapStoreErr(err)
	}
	out := make([]RecordScore, 0, len(rows))
	for _, rw := range rows {
		if rw.Score < minScore {
			continue
		}
		out = append(out, RecordScore{ID: rw.ID, Score: rw.Score})
	}
	return out, nil
}

// vectorSearchScan is the non-Postgres path: load active candidates
// and rank by cosine in process. Test stores stay small, so the full
// scan is acceptable there.
func (r *recordRepo) vectorSearchScan(ctx context.Context, kinds []domain.RecordKind, query []float32, k int, minScore float64) ([]RecordScore, error) {
	var recs []*domain.Record
	q := r.db.WithContext(ctx).Where("active = ?", true)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, mapStoreErr(err)
	}
	out := make([]RecordScore, 0, len(recs))
	for _, rec := range recs {
		if rec.DenseVector == nil {
			continue
		}
		emb := rec.DenseVector.Slice()
		if len(emb) != len(query) {
			continue
		}
		score := cosine(query, emb)
		if score < minScore {
			continue
		}
		out = append(out, RecordScore{ID: rec.ID, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (r *recordRepo) TextSearch(ctx context.Context, kinds []domain.RecordKind, query string, k int) ([]RecordScore, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}
	if r.postgres() {
		return r.textSearchPG(ctx, kinds, query, k)
	}
	return r.textSearchScan(ctx, kinds, query, k)
}

func (r *recordRepo) textSearchPG(ctx context.Context, kinds []domain.RecordKind, query string, k int) ([]RecordScore, error) {
	type row struct {
		ID    string  `gorm:"column:id"`
		Score float64 `gorm:"column:score"`
	}
	var rows []row
	q := r.db.WithContext(ctx).
		Table("records").
		Select("id, ts_rank(lexical_vector, plainto_tsquery('spanish', ?)) AS score", query).
		Where("active").
		Where("lexical_vector @@ plainto_tsquery('spanish', ?)", query)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	if err := q.Order("score DESC, updated_at DESC, id ASC").
		Limit(k).
		Scan(&rows).Error; err != nil {
		return nil, mapStoreErr(err)
	}
	out := make([]RecordScore, 0, len(rows))
	for _, rw := range rows {
		out = append(out, RecordScore{ID: rw.ID, Score: rw.Score})
	}
	return out, nil
}

// textSearchScan mirrors the weighted tsvector ranking for the test
// store: token overlap with title counted highest, attributes next,
// body last.
func (r *recordRepo) textSearchScan(ctx context.Context, kinds []domain.RecordKind, query string, k int) ([]RecordScore, error) {
	var recs []*domain.Record
	q := r.db.WithContext(ctx).Where("active = ?", true)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, mapStoreErr(err)
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	out := make([]RecordScore, 0, len(recs))
	for _, rec := range recs {
		title := tokenSet(tokenize(rec.Title))
		body := tokenSet(tokenize(rec.Body))
		attrs := tokenSet(tokenize(flattenAttributes(rec.Attributes)))
		var score float64
		for _, t := range terms {
			switch {
			case title[t]:
				score += 1.0
			case attrs[t]:
				score += 0.6
			case body[t]:
				score += 0.3
			}
		}
		if score <= 0 {
			continue
		}
		out = append(out, RecordScore{ID: rec.ID, Score: score / float64(len(terms))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (r *recordRepo) GetMany(ctx context.Context, tx *gorm.DB, ids []string) ([]*domain.Record, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*domain.Record
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, mapStoreErr(err)
	}
	return results, nil
}

func (r *recordRepo) ListIDs(ctx context.Context, tx *gorm.DB, kind domain.RecordKind) ([]RecordListing, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []RecordListing
	if err := transaction.WithContext(ctx).
		Model(&domain.Record{}).
		Select("id, content_hash, active, attributes").
		Where("kind = ?", kind).
		Scan(&rows).Error; err != nil {
		return nil, mapStoreErr(err)
	}
	return rows, nil
}

func (r *recordRepo) DistinctBrands(ctx context.Context) ([]string, error) {
	var recs []*domain.Record
	if err := r.db.WithContext(ctx).
		Select("attributes").
		Where("active = ?", true).
		Find(&recs).Error; err != nil {
		return nil, mapStoreErr(err)
	}
	seen := map[string]bool{}
	var brands []string
	for _, rec := range recs {
		b := strings.TrimSpace(rec.Brand())
		if b == "" {
			continue
		}
		key := strings.ToLower(b)
		if !seen[key] {
			seen[key] = true
			brands = append(brands, b)
		}
	}
	sort.Strings(brands)
	return brands, nil
}

func (r *recordRepo) GetCursor(ctx context.Context, kind domain.RecordKind) (string, error) {
	var cur domain.SyncCursor
	err := r.db.WithContext(ctx).Where("kind = ?", kind).Limit(1).Find(&cur).Error
	if err != nil {
		return "", mapStoreErr(err)
	}
	return cur.Cursor, nil
}

func (r *recordRepo) SetCursor(ctx context.Context, kind domain.RecordKind, cursor string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "updated_at"}),
	}).Create(&domain.SyncCursor{Kind: kind, Cursor: cursor}).Error
	return mapStoreErr(err)
}

// mapStoreErr translates driver failures into the store taxonomy.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrStoreTimeout, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "53300", "53400": // too_many_connections, configuration_limit_exceeded
			return fmt.Errorf("%w: %v", domain.ErrStoreBusy, err)
		case "57014": // query_canceled (statement timeout)
			return fmt.Errorf("%w: %v", domain.ErrStoreTimeout, err)
		}
	}
	return err
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && !(r >= 'à' && r <= 'ÿ')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func flattenAttributes(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	var sb strings.Builder
	for k, v := range attrs {
		sb.WriteString(k)
		sb.WriteString(" ")
		sb.WriteString(fmt.Sprint(v))
		sb.WriteString(" ")
	}
	return sb.String()
}
