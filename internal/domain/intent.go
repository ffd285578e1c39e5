package domain

// Intent is the closed set of conversational intents emitted by the
// classifier.
type Intent string

const (
	IntentProductSearch     Intent = "product_search"
	IntentOrderInquiry      Intent = "order_inquiry"
	IntentKnowledgeQuestion Intent = "knowledge_question"
	IntentEscalationRequest Intent = "escalation_request"
	IntentGreeting          Intent = "greeting"
	IntentFarewell          Intent = "farewell"
	IntentSmallTalk         Intent = "small_talk"
	IntentUnsupported       Intent = "unsupported"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentProductSearch, IntentOrderInquiry, IntentKnowledgeQuestion,
		IntentEscalationRequest, IntentGreeting, IntentFarewell,
		IntentSmallTalk, IntentUnsupported:
		return true
	}
	return false
}

// Classification is the classifier's verdict for one utterance.
type Classification struct {
	Intent          Intent         `json:"intent"`
	Entities        map[string]any `json:"entities,omitempty"`
	Confidence      float64        `json:"confidence"`
	NeedsRefinement bool           `json:"needs_refinement,omitempty"`
}

// OrderNumber returns the extracted order_number entity, if present.
func (c Classification) OrderNumber() string {
	return stringEntity(c.Entities, "order_number")
}

// Email returns the extracted email entity, if present.
func (c Classification) Email() string {
	return stringEntity(c.Entities, "email")
}

func stringEntity(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
