package services

import (
	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/search"
)

// ValidatorConfig tunes the decision table. Deployments tune these as
// a unit together with the RRF weights.
type ValidatorConfig struct {
	RefineThreshold   int
	MaxRefines        int
	MaxFailedAnswers  int
	LowScoreCutoff    float64
	AnswerScoreCutoff float64
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		RefineThreshold:   15,
		MaxRefines:        2,
		MaxFailedAnswers:  3,
		LowScoreCutoff:    0.3,
		AnswerScoreCutoff: 0.5,
	}
}

// Validate is the pure decision function for one turn: given the
// intent, the retrieved set, and the conversation's refine and failure
// counters, it returns exactly one Decision. candidates is the fused
// match count before the retriever's top-k cut; the breadth test runs
// against it so a query matching half the catalog still narrows even
// though the returned set is capped.
func Validate(cfg ValidatorConfig, intent domain.Intent, results []search.Result, candidates, refineCount, failedAnswers int) domain.Decision {
	if intent == domain.IntentEscalationRequest {
		return domain.Escalate("user requested human")
	}
	if failedAnswers >= cfg.MaxFailedAnswers {
		return domain.Escalate("consecutive failed answers")
	}

	if candidates < len(results) {
		candidates = len(results)
	}
	topScore := 0.0
	if len(results) > 0 {
		topScore = results[0].Score
	}

	if len(results) == 0 || topScore < cfg.LowScoreCutoff {
		if refineCount < cfg.MaxRefines {
			return domain.Refine(domain.RefineFromQuery)
		}
		return domain.Escalate("no usable results after refinement")
	}
	if candidates > cfg.RefineThreshold && refineCount < cfg.MaxRefines {
		return domain.Refine(domain.RefineFromAttributes)
	}
	if candidates <= cfg.RefineThreshold && topScore >= cfg.AnswerScoreCutoff {
		return domain.Answer()
	}
	if refineCount >= cfg.MaxRefines {
		return domain.Answer()
	}
	return domain.Refine(domain.RefineFromAttributes)
}
