package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/platform/openai"
	"github.com/ferrebot/ferrebot-backend/internal/search"
)

// attributePriority breaks entropy ties. Brand splits a hardware
// catalog best, so it leads.
var attributePriority = []string{"brand", "amperage", "voltage", "poles", "curve", "category"}

// RefineQuestion is one clarifying question plus the option set it
// presents. Options always come from the candidate records, never from
// the model.
type RefineQuestion struct {
	Attribute string
	Options   []string
	Text      string
}

// RefineService turns an oversized candidate set into one clarifying
// question by asking about the attribute that splits the set best.
type RefineService struct {
	llm openai.Client
	log *logger.Logger
}

func NewRefineService(llm openai.Client, baseLog *logger.Logger) *RefineService {
	return &RefineService{
		llm: llm.WithTier(openai.TierCheap),
		log: baseLog.With("service", "RefineService"),
	}
}

// Ask picks the discriminating attribute and phrases the question. A
// model phrasing failure falls back to a deterministic template; the
// generic question covers sets no attribute can split.
func (s *RefineService) Ask(ctx context.Context, results []search.Result, locale string) RefineQuestion {
	attribute, options := pickAttribute(results)
	if attribute == "" {
		return RefineQuestion{Text: genericRefineText(locale)}
	}

	q := RefineQuestion{
		Attribute: attribute,
		Options:   options,
		Text:      templateRefineText(locale, attribute, options),
	}

	phrased, err := s.llm.GenerateText(ctx,
		"Reformula la pregunta de aclaración de forma breve y amable, en el idioma del cliente. Mantén exactamente las mismas opciones, sin agregar ni quitar ninguna.",
		q.Text,
	)
	if err != nil {
		s.log.Debug("Refine phrasing fell back to template", "error", err.Error())
		return q
	}
	// The option set is load-bearing; a paraphrase that loses one is
	// discarded.
	for _, opt := range options {
		if !strings.Contains(search.Fold(phrased), search.Fold(opt)) {
			return q
		}
	}
	q.Text = strings.TrimSpace(phrased)
	return q
}

// pickAttribute returns the attribute with 2..8 distinct values and
// maximal entropy across the candidate set.
func pickAttribute(results []search.Result) (string, []string) {
	type candidate struct {
		attribute string
		entropy   float64
		options   []string
	}

	counts := map[string]map[string]int{}
	for _, res := range results {
		for key, raw := range res.Record.Attributes {
			val := strings.TrimSpace(fmt.Sprint(raw))
			if val == "" || val == "<nil>" {
				continue
			}
			if counts[key] == nil {
				counts[key] = map[string]int{}
			}
			counts[key][val]++
		}
	}

	var candidates []candidate
	for attribute, values := range counts {
		if len(values) < 2 || len(values) > 8 {
			continue
		}
		total := 0
		for _, n := range values {
			total += n
		}
		entropy := 0.0
		for _, n := range values {
			p := float64(n) / float64(total)
			entropy -= p * math.Log2(p)
		}
		options := make([]string, 0, len(values))
		for v := range values {
			options = append(options, v)
		}
		sort.Slice(options, func(i, j int) bool {
			if values[options[i]] != values[options[j]] {
				return values[options[i]] > values[options[j]]
			}
			return options[i] < options[j]
		})
		candidates = append(candidates, candidate{attribute: attribute, entropy: entropy, options: options})
	}
	if len(candidates) == 0 {
		return "", nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].entropy != candidates[j].entropy {
			return candidates[i].entropy > candidates[j].entropy
		}
		return priorityRank(candidates[i].attribute) < priorityRank(candidates[j].attribute)
	})
	return candidates[0].attribute, candidates[0].options
}

func priorityRank(attribute string) int {
	for i, a := range attributePriority {
		if a == attribute {
			return i
		}
	}
	return len(attributePriority)
}

var attributeLabels = map[string]string{
	"brand":    "marca",
	"amperage": "amperaje",
	"voltage":  "voltaje",
	"poles":    "cantidad de polos",
	"curve":    "curva",
	"category": "categoría",
}

func templateRefineText(locale, attribute string, options []string) string {
	label := attributeLabels[attribute]
	if label == "" {
		label = attribute
	}
	joined := strings.Join(options, ", ")
	if strings.HasPrefix(strings.ToLower(locale), "en") {
		return fmt.Sprintf("To narrow it down, which %s do you need? Options: %s.", attribute, joined)
	}
	return fmt.Sprintf("Para ayudarte mejor, ¿qué %s buscás? Opciones: %s.", label, joined)
}

func genericRefineText(locale string) string {
	if strings.HasPrefix(strings.ToLower(locale), "en") {
		return "Could you describe in more detail what you need?"
	}
	return "¿Podrías describir con más detalle lo que necesitás?"
}
