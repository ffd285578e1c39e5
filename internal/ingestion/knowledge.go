package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gopkg.in/yaml.v3"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
)

// KnowledgeLoader indexes the curated markdown knowledge base: store
// policies, how-to guides, FAQ. Each top-level heading becomes its own
// record so retrieval returns sections, not whole documents.
type KnowledgeLoader struct {
	records  repos.RecordRepo
	embedder Embedder
	log      *logger.Logger
	dir      string
}

func NewKnowledgeLoader(records repos.RecordRepo, embedder Embedder, baseLog *logger.Logger, dir string) *KnowledgeLoader {
	return &KnowledgeLoader{
		records:  records,
		embedder: embedder,
		log:      baseLog.With("component", "KnowledgeLoader"),
		dir:      dir,
	}
}

type knowledgeSection struct {
	id    string
	title string
	body  string
	attrs map[string]any
}

// Reload re-reads the knowledge directory and reconciles the knowledge
// records against it, embedding only sections whose content changed.
func (l *KnowledgeLoader) Reload(ctx context.Context) (Stats, error) {
	var stats Stats

	sections, err := l.parseDir()
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(sections)

	local, err := l.records.ListIDs(ctx, nil, domain.RecordKindKnowledge)
	if err != nil {
		return stats, fmt.Errorf("list knowledge records: %w", err)
	}
	localByID := make(map[string]repos.RecordListing, len(local))
	for _, rec := range local {
		localByID[rec.ID] = rec
	}

	seen := map[string]bool{}
	var staged []stagedRecord
	for _, sec := range sections {
		seen[sec.id] = true
		hash := ContentHash(sec.title, sec.body, sec.attrs)
		existing, known := localByID[sec.id]
		if known && existing.ContentHash == hash && existing.Active {
			stats.Skipped++
			continue
		}
		if known {
			stats.Updated++
		} else {
			stats.Created++
		}
		staged = append(staged, stagedRecord{
			record: &domain.Record{
				ID:          sec.id,
				Kind:        domain.RecordKindKnowledge,
				Title:       sec.title,
				Body:        sec.body,
				Attributes:  sec.attrs,
				ContentHash: hash,
				Active:      true,
				UpdatedAt:   time.Now().UTC(),
			},
			embedText: BuildEmbedText(sec.title, sec.body, sec.attrs),
		})
	}

	if err := l.embedStaged(ctx, staged, &stats); err != nil {
		return stats, err
	}
	for _, s := range staged {
		if err := l.records.Upsert(ctx, nil, s.record); err != nil {
			return stats, fmt.Errorf("upsert knowledge record %s: %w", s.record.ID, err)
		}
	}

	for id, listing := range localByID {
		if seen[id] || !listing.Active {
			continue
		}
		if err := l.records.SoftDelete(ctx, nil, id); err != nil {
			return stats, fmt.Errorf("soft delete knowledge record %s: %w", id, err)
		}
		stats.Deleted++
	}

	l.log.Info("Knowledge reload finished",
		"sections", stats.Scanned,
		"created", stats.Created,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"embedded", stats.Embedded,
	)
	return stats, nil
}

func (l *KnowledgeLoader) embedStaged(ctx context.Context, staged []stagedRecord, stats *Stats) error {
	texts := make([]string, len(staged))
	for i, s := range staged {
		texts[i] = s.embedText
	}
	if len(texts) == 0 {
		return nil
	}
	vectors, err := l.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed knowledge sections: %w", err)
	}
	for i := range staged {
		v := pgvector.NewVector(vectors[i])
		staged[i].record.DenseVector = &v
		stats.Embedded++
	}
	return nil
}

func (l *KnowledgeLoader) parseDir() ([]knowledgeSection, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read knowledge dir %s: %w", l.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []knowledgeSection
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read knowledge file %s: %w", name, err)
		}
		stem := strings.TrimSuffix(name, ".md")
		sections, err := parseKnowledgeFile(stem, string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse knowledge file %s: %w", name, err)
		}
		out = append(out, sections...)
	}
	return out, nil
}

// parseKnowledgeFile splits one markdown document into sections on
// level-1 headings. Front matter attributes apply to every section of
// the file. Prose before the first heading belongs to a section named
// after the file itself.
func parseKnowledgeFile(stem, content string) ([]knowledgeSection, error) {
	attrs := map[string]any{}
	body := content
	if strings.HasPrefix(content, "---\n") {
		rest := content[len("---\n"):]
		end := strings.Index(rest, "\n---")
		if end >= 0 {
			if err := yaml.Unmarshal([]byte(rest[:end]), &attrs); err != nil {
				return nil, fmt.Errorf("front matter: %w", err)
			}
			body = rest[end+len("\n---"):]
		}
	}
	attrs = NormalizeAttributes(attrs)

	var out []knowledgeSection
	currentTitle := strings.ReplaceAll(stem, "-", " ")
	var currentBody []string
	flush := func() {
		// The section text is kept as written; hashing and embedding
		// normalize whitespace on their own.
		text := strings.TrimSpace(strings.Join(currentBody, "\n"))
		if text == "" {
			return
		}
		slug := Slug(currentTitle)
		if slug == "" {
			slug = "intro"
		}
		secAttrs := make(map[string]any, len(attrs)+2)
		for k, v := range attrs {
			secAttrs[k] = v
		}
		secAttrs["file"] = stem
		secAttrs["order"] = len(out)
		out = append(out, knowledgeSection{
			id:    "kb:" + stem + ":" + slug,
			title: CollapseWhitespace(currentTitle),
			body:  text,
			attrs: secAttrs,
		})
	}

	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			flush()
			currentTitle = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			currentBody = currentBody[:0]
			continue
		}
		currentBody = append(currentBody, line)
	}
	flush()
	return out, nil
}
