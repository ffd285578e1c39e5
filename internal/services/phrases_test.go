package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLexicon() *Lexicon {
	return newLexicon(lexiconFile{
		EscalationPhrases: []string{
			"quiero hablar con una persona",
			"Reclamo",
			"reembolso",
		},
		Synonyms: map[string][]string{
			"disyuntor": {"interruptor", "breaker", "llave térmica"},
			"enchufe":   {"tomacorriente", "toma"},
		},
		Handoff: map[string]string{
			"es": "Te derivo con el equipo.",
			"en": "Connecting you with our team.",
		},
		Busy: map[string]string{
			"es": "Estamos saturados, probá en unos minutos.",
		},
	})
}

func TestMatchesEscalation(t *testing.T) {
	lex := testLexicon()

	assert.True(t, lex.MatchesEscalation("QUIERO HABLAR CON UNA PERSONA ya"))
	assert.True(t, lex.MatchesEscalation("tengo un réclamo"), "accent-insensitive")
	assert.True(t, lex.MatchesEscalation("necesito un reembolso"))
	assert.False(t, lex.MatchesEscalation("busco un disyuntor 16a"))
	assert.False(t, lex.MatchesEscalation("reembolsos"), "whole-phrase match only")
}

func TestExpandSynonyms(t *testing.T) {
	lex := testLexicon()

	expanded := lex.ExpandSynonyms("disyuntor 2p schneider")
	assert.Contains(t, expanded, "interruptor")
	assert.Contains(t, expanded, "breaker")
	assert.Contains(t, expanded, "llave termica", "alternates are folded")

	// The original query always survives at the front.
	assert.Equal(t, "disyuntor 2p schneider", expanded[:len("disyuntor 2p schneider")])
}

func TestExpandSynonymsNoDoubleAdd(t *testing.T) {
	lex := testLexicon()
	expanded := lex.ExpandSynonyms("disyuntor o interruptor")
	assert.Equal(t, 1, countOccurrences(expanded, "interruptor"))
}

func TestExpandSynonymsUnknownTokensPassThrough(t *testing.T) {
	lex := testLexicon()
	assert.Equal(t, "cinta aisladora", lex.ExpandSynonyms("cinta aisladora"))
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
		}
	}
	return count
}

func TestLocalizedTemplates(t *testing.T) {
	lex := testLexicon()

	assert.Equal(t, "Connecting you with our team.", lex.HandoffTemplate("en"))
	assert.Equal(t, "Connecting you with our team.", lex.HandoffTemplate("en-US"), "region falls back to language")
	assert.Equal(t, "Te derivo con el equipo.", lex.HandoffTemplate("pt"), "unknown locale falls back to es")

	assert.Equal(t, "Estamos saturados, probá en unos minutos.", lex.BusyTemplate("es"))
	assert.NotEmpty(t, lex.NotFoundTemplate("es"), "missing section falls back to the built-in text")
}
