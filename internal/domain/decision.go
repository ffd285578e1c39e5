package domain

// DecisionKind tags the validator's verdict for one turn.
type DecisionKind string

const (
	DecisionAnswer   DecisionKind = "answer"
	DecisionRefine   DecisionKind = "refine"
	DecisionEscalate DecisionKind = "escalate"
)

type RefineReason string

const (
	RefineFromQuery      RefineReason = "from_query"
	RefineFromAttributes RefineReason = "from_attributes"
)

// Decision is the tagged result of result validation. Exactly one of
// the payload fields is meaningful for a given Kind.
type Decision struct {
	Kind DecisionKind

	// Refine payload.
	RefineReason RefineReason

	// Escalate payload.
	EscalateReason string
}

func Answer() Decision {
	return Decision{Kind: DecisionAnswer}
}

func Refine(reason RefineReason) Decision {
	return Decision{Kind: DecisionRefine, RefineReason: reason}
}

func Escalate(reason string) Decision {
	return Decision{Kind: DecisionEscalate, EscalateReason: reason}
}
