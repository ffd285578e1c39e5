package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
)

const enviosDoc = `---
categoria: envios
---

Texto introductorio del documento.

# Plazos de entrega

Los pedidos se despachan dentro de las 24 horas hábiles.

# Costo de envío

El envío es gratis en compras superiores a $80.000.
`

func writeKnowledgeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestKnowledgeReloadSplitsSections(t *testing.T) {
	gormDB := testStore(t)
	records := repos.NewRecordRepo(gormDB, testLogger(t))
	dir := t.TempDir()
	writeKnowledgeFile(t, dir, "envios.md", enviosDoc)

	loader := NewKnowledgeLoader(records, &fakeEmbedder{}, testLogger(t), dir)
	stats, err := loader.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 3, stats.Created)
	assert.Equal(t, 3, stats.Embedded)

	intro := loadRecord(t, gormDB, "kb:envios:envios")
	assert.Equal(t, "envios", intro.Title)
	assert.Equal(t, domain.RecordKindKnowledge, intro.Kind)
	assert.Equal(t, "envios", intro.Attributes["category"], "front matter attributes apply to every section")
	assert.Equal(t, "envios", intro.Attributes["file"])
	assert.EqualValues(t, 0, intro.Attributes["order"])

	plazos := loadRecord(t, gormDB, "kb:envios:plazos-de-entrega")
	assert.Equal(t, "Plazos de entrega", plazos.Title)
	assert.Contains(t, plazos.Body, "24 horas")
	assert.EqualValues(t, 1, plazos.Attributes["order"], "sections carry their position in the file")
	require.NotNil(t, plazos.DenseVector)

	costo := loadRecord(t, gormDB, "kb:envios:costo-de-envio")
	assert.Equal(t, "Costo de envío", costo.Title)
	assert.EqualValues(t, 2, costo.Attributes["order"])
}

func TestKnowledgeSectionBodyKeepsLineBreaks(t *testing.T) {
	gormDB := testStore(t)
	records := repos.NewRecordRepo(gormDB, testLogger(t))
	dir := t.TempDir()
	doc := `# Guía de térmicas

Primer párrafo sobre curvas de disparo.

Segundo párrafo sobre capacidad de ruptura.
`
	writeKnowledgeFile(t, dir, "guia.md", doc)

	loader := NewKnowledgeLoader(records, &fakeEmbedder{}, testLogger(t), dir)
	_, err := loader.Reload(context.Background())
	require.NoError(t, err)

	rec := loadRecord(t, gormDB, "kb:guia:guia-de-termicas")
	assert.Equal(t, "Primer párrafo sobre curvas de disparo.\n\nSegundo párrafo sobre capacidad de ruptura.", rec.Body)
}

func TestKnowledgeReloadIsIdempotent(t *testing.T) {
	gormDB := testStore(t)
	records := repos.NewRecordRepo(gormDB, testLogger(t))
	dir := t.TempDir()
	writeKnowledgeFile(t, dir, "envios.md", enviosDoc)
	embedder := &fakeEmbedder{}
	loader := NewKnowledgeLoader(records, embedder, testLogger(t), dir)

	_, err := loader.Reload(context.Background())
	require.NoError(t, err)
	embeds := embedder.count()

	stats, err := loader.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 0, stats.Embedded)
	assert.Equal(t, embeds, embedder.count())
}

func TestKnowledgeReloadSoftDeletesRemovedSections(t *testing.T) {
	gormDB := testStore(t)
	records := repos.NewRecordRepo(gormDB, testLogger(t))
	dir := t.TempDir()
	writeKnowledgeFile(t, dir, "envios.md", enviosDoc)
	loader := NewKnowledgeLoader(records, &fakeEmbedder{}, testLogger(t), dir)

	_, err := loader.Reload(context.Background())
	require.NoError(t, err)

	trimmed := `# Plazos de entrega

Los pedidos se despachan dentro de las 24 horas hábiles.
`
	writeKnowledgeFile(t, dir, "envios.md", trimmed)
	stats, err := loader.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Deleted)
	gone := loadRecord(t, gormDB, "kb:envios:costo-de-envio")
	assert.False(t, gone.Active)
	assert.Nil(t, gone.DenseVector)

	kept := loadRecord(t, gormDB, "kb:envios:plazos-de-entrega")
	assert.True(t, kept.Active)
}
