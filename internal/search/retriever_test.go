package search

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ferrebot/ferrebot-backend/internal/db"
	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
)

// stubEmbedder maps text onto deterministic bag-of-words vectors so
// cosine similarity tracks token overlap.
type stubEmbedder struct {
	fail error
}

func (s *stubEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		out[i] = bagOfWords(text)
	}
	return out, nil
}

func bagOfWords(text string) []float32 {
	vec := make([]float32, 32)
	for _, tok := range strings.Fields(Fold(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%32]++
	}
	return vec
}

func seedRecord(t *testing.T, records repos.RecordRepo, id, title, body string, attrs map[string]any) {
	t.Helper()
	vec := pgvector.NewVector(bagOfWords(title + " " + body))
	kind := domain.RecordKindProduct
	if strings.HasPrefix(id, "kb:") {
		kind = domain.RecordKindKnowledge
	}
	rec := &domain.Record{
		ID:          id,
		Kind:        kind,
		Title:       title,
		Body:        body,
		Attributes:  datatypes.JSONMap(attrs),
		ContentHash: "hash-" + id,
		DenseVector: &vec,
		Active:      true,
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, records.Upsert(context.Background(), nil, rec))
}

func newTestRetriever(t *testing.T, embedder Embedder) (*Retriever, repos.RecordRepo, *gorm.DB) {
	t.Helper()
	gormDB, err := db.OpenSQLite()
	require.NoError(t, err)
	log := termsTestLogger(t)
	records := repos.NewRecordRepo(gormDB, log)

	cfg := DefaultConfig()
	cfg.MinVectorScore = 0 // bag-of-words cosine runs low
	brands := NewBrandCache(records, log, time.Minute)
	return NewRetriever(records, embedder, brands, log, cfg), records, gormDB
}

func seedCatalogFixture(t *testing.T, records repos.RecordRepo) {
	seedRecord(t, records, "product:a9p53616",
		"Disyuntor Schneider A9P53616 2P 16A curva C",
		"Interruptor termomagnético bipolar para riel DIN.",
		map[string]any{"brand": "Schneider", "amperage": "16A"})
	seedRecord(t, records, "product:legrand-10",
		"Térmica Legrand 1P+N 10A",
		"Interruptor termomagnético para iluminación.",
		map[string]any{"brand": "Legrand", "amperage": "10A"})
	seedRecord(t, records, "product:abb-25",
		"Disyuntor ABB 2P 25A",
		"Interruptor para aire acondicionado.",
		map[string]any{"brand": "ABB", "amperage": "25A"})
}

func TestRetrieveExactCodeRanksFirst(t *testing.T) {
	retriever, records, _ := newTestRetriever(t, &stubEmbedder{})
	seedCatalogFixture(t, records)

	results, _, err := retriever.Retrieve(context.Background(), "disyuntor Schneider A9P53616", nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "product:a9p53616", results[0].Record.ID)
	if len(results) > 1 {
		assert.Greater(t, results[0].Score, results[1].Score)
	}
}

func TestRetrieveIsDeterministic(t *testing.T) {
	retriever, records, _ := newTestRetriever(t, &stubEmbedder{})
	seedCatalogFixture(t, records)

	first, _, err := retriever.Retrieve(context.Background(), "disyuntor 2p", nil)
	require.NoError(t, err)
	second, _, err := retriever.Retrieve(context.Background(), "disyuntor 2p", nil)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Record.ID, second[i].Record.ID)
		assert.InDelta(t, first[i].Score, second[i].Score, 1e-12)
	}
}

func TestRetrieveBrandBoostBreaksTies(t *testing.T) {
	retriever, records, _ := newTestRetriever(t, &stubEmbedder{})
	seedRecord(t, records, "product:x-legrand",
		"Térmica bipolar 16A", "Interruptor termomagnético.",
		map[string]any{"brand": "Legrand"})
	seedRecord(t, records, "product:x-generic",
		"Térmica bipolar 16A", "Interruptor termomagnético.",
		map[string]any{"brand": "Sica"})

	results, _, err := retriever.Retrieve(context.Background(), "termica legrand bipolar", nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "product:x-legrand", results[0].Record.ID)
}

func TestRetrieveSurvivesEmbedderOutage(t *testing.T) {
	embedder := &stubEmbedder{fail: errors.New("embeddings down")}
	retriever, records, _ := newTestRetriever(t, embedder)
	seedCatalogFixture(t, records)

	results, _, err := retriever.Retrieve(context.Background(), "disyuntor schneider", nil)
	require.NoError(t, err, "lexical leg alone still answers")
	require.NotEmpty(t, results)
}

func TestRetrieveKindFilter(t *testing.T) {
	retriever, records, _ := newTestRetriever(t, &stubEmbedder{})
	seedCatalogFixture(t, records)
	seedRecord(t, records, "kb:envios:plazos",
		"Plazos de entrega", "Los pedidos se despachan en 24 horas.", nil)

	results, _, err := retriever.Retrieve(context.Background(), "plazos de entrega pedidos", []domain.RecordKind{domain.RecordKindKnowledge})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, res := range results {
		assert.Equal(t, domain.RecordKindKnowledge, res.Record.Kind)
	}
	assert.Equal(t, "kb:envios:plazos", results[0].Record.ID)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	retriever, _, _ := newTestRetriever(t, &stubEmbedder{})
	results, candidates, err := retriever.Retrieve(context.Background(), "   ", nil)
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, candidates)
}

func TestRetrieveReportsCandidatesBeyondTopK(t *testing.T) {
	retriever, records, _ := newTestRetriever(t, &stubEmbedder{})
	for i := 0; i < 13; i++ {
		id := "product:termica-" + string(rune('a'+i))
		seedRecord(t, records, id,
			"Térmica bipolar "+string(rune('a'+i)),
			"Interruptor termomagnético para riel DIN.",
			map[string]any{"brand": "Sica"})
	}

	results, candidates, err := retriever.Retrieve(context.Background(), "termica bipolar", nil)
	require.NoError(t, err)
	assert.Len(t, results, DefaultConfig().TopK)
	assert.Equal(t, 13, candidates, "the count covers fused matches beyond the returned page")
}
