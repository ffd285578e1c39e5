package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ferrebot/ferrebot-backend/internal/search"
)

// Lexicon holds the language data the pipeline consults: escalation
// trigger phrases, lexical synonyms, and handoff reply templates. It
// is data, not code; ops edit the YAML without a deploy.
type Lexicon struct {
	escalation []string
	synonyms   map[string][]string
	handoff    map[string]string
	busy       map[string]string
	notFound   map[string]string
}

type lexiconFile struct {
	EscalationPhrases []string            `yaml:"escalation_phrases"`
	Synonyms          map[string][]string `yaml:"synonyms"`
	Handoff           map[string]string   `yaml:"handoff"`
	Busy              map[string]string   `yaml:"busy"`
	NotFound          map[string]string   `yaml:"not_found"`
}

func LoadLexicon(path string) (*Lexicon, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon %s: %w", path, err)
	}
	var file lexiconFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
	}
	return newLexicon(file), nil
}

func newLexicon(file lexiconFile) *Lexicon {
	lex := &Lexicon{
		synonyms: map[string][]string{},
		handoff:  map[string]string{},
		busy:     map[string]string{},
		notFound: map[string]string{},
	}
	for _, p := range file.EscalationPhrases {
		if folded := search.NormalizeQuery(p); folded != "" {
			lex.escalation = append(lex.escalation, folded)
		}
	}
	for term, alts := range file.Synonyms {
		term = search.NormalizeQuery(term)
		if term == "" {
			continue
		}
		var folded []string
		for _, alt := range alts {
			if f := search.NormalizeQuery(alt); f != "" && f != term {
				folded = append(folded, f)
			}
		}
		if len(folded) > 0 {
			lex.synonyms[term] = folded
		}
	}
	for locale, text := range file.Handoff {
		lex.handoff[strings.ToLower(strings.TrimSpace(locale))] = strings.TrimSpace(text)
	}
	for locale, text := range file.Busy {
		lex.busy[strings.ToLower(strings.TrimSpace(locale))] = strings.TrimSpace(text)
	}
	for locale, text := range file.NotFound {
		lex.notFound[strings.ToLower(strings.TrimSpace(locale))] = strings.TrimSpace(text)
	}
	return lex
}

// MatchesEscalation reports whether the utterance contains any
// escalation phrase, case- and accent-insensitively.
func (l *Lexicon) MatchesEscalation(utterance string) bool {
	folded := " " + search.NormalizeQuery(utterance) + " "
	for _, phrase := range l.escalation {
		if strings.Contains(folded, " "+phrase+" ") {
			return true
		}
	}
	return false
}

// ExpandSynonyms appends alternates for any synonym-bearing token so
// the lexical leg matches regional vocabulary.
func (l *Lexicon) ExpandSynonyms(folded string) string {
	if len(l.synonyms) == 0 {
		return folded
	}
	var extra []string
	seen := map[string]bool{}
	for _, token := range strings.Fields(folded) {
		for _, alt := range l.synonyms[token] {
			if !seen[alt] && !strings.Contains(folded, alt) {
				seen[alt] = true
				extra = append(extra, alt)
			}
		}
	}
	if len(extra) == 0 {
		return folded
	}
	return folded + " " + strings.Join(extra, " ")
}

func (l *Lexicon) HandoffTemplate(locale string) string {
	return l.localized(l.handoff, locale,
		"Te voy a conectar con una persona del equipo que puede ayudarte mejor. Un momento por favor.")
}

func (l *Lexicon) BusyTemplate(locale string) string {
	return l.localized(l.busy, locale,
		"Estamos recibiendo muchas consultas en este momento. ¿Podés intentar de nuevo en unos minutos?")
}

func (l *Lexicon) NotFoundTemplate(locale string) string {
	return l.localized(l.notFound, locale,
		"No encontré un pedido con esos datos. Verificá el número de pedido y el email e intentá de nuevo.")
}

func (l *Lexicon) localized(m map[string]string, locale, fallback string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if text, ok := m[locale]; ok && text != "" {
		return text
	}
	if idx := strings.Index(locale, "-"); idx > 0 {
		if text, ok := m[locale[:idx]]; ok && text != "" {
			return text
		}
	}
	if text, ok := m["es"]; ok && text != "" {
		return text
	}
	return fallback
}
