package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/platform/openai"
)

// IntentService classifies one user utterance against the closed
// intent set, using recent turns for context.
type IntentService interface {
	Classify(ctx context.Context, utterance string, history []*domain.Message) (domain.Classification, error)
}

type intentService struct {
	llm openai.Client
	lex *Lexicon
	log *logger.Logger
}

func NewIntentService(llm openai.Client, lex *Lexicon, baseLog *logger.Logger) IntentService {
	return &intentService{
		llm: llm.WithTier(openai.TierCheap),
		lex: lex,
		log: baseLog.With("service", "IntentService"),
	}
}

const intentSystemPrompt = `Eres el clasificador de intenciones de un asistente de atención al cliente de una ferretería eléctrica.
Clasifica el último mensaje del usuario en exactamente una intención del conjunto permitido.
Extrae entidades solo cuando aparecen literalmente en el mensaje.
Responde únicamente con el JSON pedido.`

var intentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent": map[string]any{
			"type": "string",
			"enum": []any{
				"product_search", "order_inquiry", "knowledge_question",
				"escalation_request", "greeting", "farewell", "small_talk",
				"unsupported",
			},
		},
		"confidence": map[string]any{"type": "number"},
		"entities": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_number": map[string]any{"type": "string"},
				"email":        map[string]any{"type": "string"},
				"phone":        map[string]any{"type": "string"},
				"brand":        map[string]any{"type": "string"},
				"category":     map[string]any{"type": "string"},
			},
		},
	},
	"required": []any{"intent", "confidence"},
}

func (s *intentService) Classify(ctx context.Context, utterance string, history []*domain.Message) (domain.Classification, error) {
	// Deterministic escalation matching runs before any model call, so
	// an explicit request for a human never depends on the provider.
	if s.lex.MatchesEscalation(utterance) {
		return domain.Classification{
			Intent:     domain.IntentEscalationRequest,
			Confidence: 1.0,
		}, nil
	}

	obj, err := s.llm.GenerateJSON(ctx, intentSystemPrompt, buildIntentPrompt(utterance, history), "intent_classification", intentSchema)
	if err != nil {
		return domain.Classification{}, err
	}

	out := domain.Classification{Confidence: floatField(obj, "confidence")}
	intent := domain.Intent(stringField(obj, "intent"))
	if !intent.Valid() {
		intent = domain.IntentUnsupported
	}
	out.Intent = intent
	if entities, ok := obj["entities"].(map[string]any); ok {
		out.Entities = entities
	}

	if out.Confidence < 0.5 {
		out.Intent = domain.IntentUnsupported
		out.NeedsRefinement = true
	}
	return out, nil
}

// buildIntentPrompt folds the last turns into the prompt, newest last.
func buildIntentPrompt(utterance string, history []*domain.Message) string {
	var b strings.Builder
	if n := len(history); n > 0 {
		start := 0
		if n > 5 {
			start = n - 5
		}
		b.WriteString("Conversación reciente:\n")
		for _, msg := range history[start:] {
			role := "usuario"
			if msg.Sender == domain.SenderBot {
				role = "asistente"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, msg.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Mensaje a clasificar: %s", utterance)
	return b.String()
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func floatField(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
