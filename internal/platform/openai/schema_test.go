package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var classificationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent": map[string]any{
			"type": "string",
			"enum": []any{"product_search", "order_inquiry", "unsupported"},
		},
		"confidence": map[string]any{"type": "number"},
		"entities": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_number": map[string]any{"type": "string"},
			},
		},
		"tags": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"count": map[string]any{"type": "integer"},
	},
	"required": []any{"intent", "confidence"},
}

func TestValidateAgainstSchemaAccepts(t *testing.T) {
	value := map[string]any{
		"intent":     "product_search",
		"confidence": 0.92,
		"entities":   map[string]any{"order_number": "A-1001"},
		"tags":       []any{"a", "b"},
		"count":      float64(3),
	}
	require.NoError(t, ValidateAgainstSchema(value, classificationSchema))
}

func TestValidateAgainstSchemaMissingRequired(t *testing.T) {
	err := ValidateAgainstSchema(map[string]any{"intent": "unsupported"}, classificationSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required fields: confidence")
}

func TestValidateAgainstSchemaEnumViolation(t *testing.T) {
	err := ValidateAgainstSchema(map[string]any{
		"intent":     "buy_crypto",
		"confidence": 0.9,
	}, classificationSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in enum")
}

func TestValidateAgainstSchemaTypeMismatches(t *testing.T) {
	cases := []struct {
		name  string
		value map[string]any
	}{
		{"string field gets number", map[string]any{"intent": float64(1), "confidence": 0.5}},
		{"number field gets string", map[string]any{"intent": "unsupported", "confidence": "alta"}},
		{"array field gets scalar", map[string]any{"intent": "unsupported", "confidence": 0.5, "tags": "x"}},
		{"array item wrong type", map[string]any{"intent": "unsupported", "confidence": 0.5, "tags": []any{"ok", float64(2)}}},
		{"integer field gets fraction", map[string]any{"intent": "unsupported", "confidence": 0.5, "count": 2.5}},
		{"nested object wrong type", map[string]any{"intent": "unsupported", "confidence": 0.5, "entities": "none"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateAgainstSchema(tc.value, classificationSchema))
		})
	}
}

func TestValidateAgainstSchemaNestedPathInError(t *testing.T) {
	err := ValidateAgainstSchema(map[string]any{
		"intent":     "unsupported",
		"confidence": 0.5,
		"entities":   map[string]any{"order_number": float64(7)},
	}, classificationSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$.entities.order_number")
}

func TestValidateAgainstSchemaNilOptionalFieldsPass(t *testing.T) {
	value := map[string]any{
		"intent":     "unsupported",
		"confidence": 0.5,
		"entities":   nil,
	}
	assert.NoError(t, ValidateAgainstSchema(value, classificationSchema))
}

func TestValidateAgainstSchemaIntegerAcceptsWholeFloat(t *testing.T) {
	value := map[string]any{
		"intent":     "unsupported",
		"confidence": 0.5,
		"count":      float64(42),
	}
	assert.NoError(t, ValidateAgainstSchema(value, classificationSchema))
}
