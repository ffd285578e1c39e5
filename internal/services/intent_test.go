package services

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/platform/openai"
	"github.com/ferrebot/ferrebot-backend/internal/search"
)

// fakeLLM scripts the model client for the whole services package.
type fakeLLM struct {
	mu sync.Mutex

	jsonResp map[string]any
	jsonErr  error
	// classify can replace jsonResp for per-call scripting.
	classify func(user string) (map[string]any, error)

	textResp string
	textErr  error

	jsonCalls int
	textCalls int
}

func (f *fakeLLM) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		vec := make([]float32, 16)
		for _, tok := range strings.Fields(search.Fold(text)) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[h.Sum32()%16]++
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeLLM) GenerateText(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textCalls++
	if f.textErr != nil {
		return "", f.textErr
	}
	return f.textResp, nil
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jsonCalls++
	if f.classify != nil {
		return f.classify(user)
	}
	if f.jsonErr != nil {
		return nil, f.jsonErr
	}
	return f.jsonResp, nil
}

func (f *fakeLLM) WithTier(tier openai.Tier) openai.Client { return f }

func (f *fakeLLM) EmbedDim() int { return 16 }

func (f *fakeLLM) Ping(ctx context.Context) error { return nil }

func (f *fakeLLM) jsonCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jsonCalls
}

func servicesTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	return log
}

func TestClassifyEscalationPhraseSkipsModel(t *testing.T) {
	llm := &fakeLLM{}
	svc := NewIntentService(llm, testLexicon(), servicesTestLogger(t))

	got, err := svc.Classify(context.Background(), "quiero hablar con una persona por favor", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.IntentEscalationRequest, got.Intent)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Zero(t, llm.jsonCallCount(), "lexicon match must not reach the provider")
}

func TestClassifyParsesModelVerdict(t *testing.T) {
	llm := &fakeLLM{jsonResp: map[string]any{
		"intent":     "product_search",
		"confidence": 0.92,
		"entities":   map[string]any{"brand": "Schneider"},
	}}
	svc := NewIntentService(llm, testLexicon(), servicesTestLogger(t))

	got, err := svc.Classify(context.Background(), "busco una termica schneider", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.IntentProductSearch, got.Intent)
	assert.Equal(t, 0.92, got.Confidence)
	assert.Equal(t, "Schneider", got.Entities["brand"])
	assert.False(t, got.NeedsRefinement)
}

func TestClassifyUnknownIntentBecomesUnsupported(t *testing.T) {
	llm := &fakeLLM{jsonResp: map[string]any{
		"intent":     "buy_crypto",
		"confidence": 0.9,
	}}
	svc := NewIntentService(llm, testLexicon(), servicesTestLogger(t))

	got, err := svc.Classify(context.Background(), "quiero comprar bitcoin", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentUnsupported, got.Intent)
}

func TestClassifyLowConfidenceNeedsRefinement(t *testing.T) {
	llm := &fakeLLM{jsonResp: map[string]any{
		"intent":     "product_search",
		"confidence": 0.3,
	}}
	svc := NewIntentService(llm, testLexicon(), servicesTestLogger(t))

	got, err := svc.Classify(context.Background(), "eso", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentUnsupported, got.Intent)
	assert.True(t, got.NeedsRefinement)
}

func TestClassifyPropagatesProviderError(t *testing.T) {
	llm := &fakeLLM{jsonErr: domain.ErrUpstream}
	svc := NewIntentService(llm, testLexicon(), servicesTestLogger(t))

	_, err := svc.Classify(context.Background(), "busco cable de 2.5mm", nil)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestBuildIntentPromptKeepsLastFiveTurns(t *testing.T) {
	history := []*domain.Message{
		{Sender: domain.SenderUser, Content: "uno"},
		{Sender: domain.SenderBot, Content: "dos"},
		{Sender: domain.SenderUser, Content: "tres"},
		{Sender: domain.SenderBot, Content: "cuatro"},
		{Sender: domain.SenderUser, Content: "cinco"},
		{Sender: domain.SenderBot, Content: "seis"},
	}
	prompt := buildIntentPrompt("y este?", history)

	assert.NotContains(t, prompt, "uno")
	assert.Contains(t, prompt, "usuario: cinco")
	assert.Contains(t, prompt, "asistente: seis")
	assert.Contains(t, prompt, "Mensaje a clasificar: y este?")
}
