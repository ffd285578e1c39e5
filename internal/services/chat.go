package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/observability"
	"github.com/ferrebot/ferrebot-backend/internal/platform/catalog"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/platform/openai"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
	"github.com/ferrebot/ferrebot-backend/internal/search"
)

// Notifier pushes a persisted bot message to a connected client.
// Returns false when no client is reachable; the message stays flagged
// undelivered and is flushed on the next connect.
type Notifier interface {
	Deliver(userID string, platform domain.Platform, msg *domain.Message) bool
}

type ChatConfig struct {
	Validator   ValidatorConfig
	QueueSize   int
	TurnTimeout time.Duration
}

func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		Validator:   DefaultValidatorConfig(),
		QueueSize:   4,
		TurnTimeout: 90 * time.Second,
	}
}

// ChatService runs the conversation pipeline. Turns within one
// conversation are strictly serialized through a per-conversation
// mailbox; conversations run concurrently.
type ChatService interface {
	// Submit enqueues one user turn and blocks until its reply is
	// persisted (and pushed, when a client is connected).
	Submit(ctx context.Context, conv *domain.Conversation, text string) (*domain.Message, error)
	// Enqueue adds one user turn to the conversation mailbox and
	// returns immediately, so callers feeding from a socket read loop
	// keep turns in wire order. done runs when the turn completes or
	// is dropped from a full queue.
	Enqueue(conv *domain.Conversation, text string, done func(*domain.Message, error)) error
	SetNotifier(n Notifier)
}

type chatService struct {
	sessions  SessionService
	intents   IntentService
	retriever *search.Retriever
	refiner   *RefineService
	catalog   catalog.Client
	llm       openai.Client
	lex       *Lexicon
	messages  repos.MessageRepo
	metrics   repos.MetricsRepo
	log       *logger.Logger
	cfg       ChatConfig

	notifier Notifier

	mu    sync.Mutex
	boxes map[uuid.UUID]*mailbox
}

type turnResult struct {
	msg *domain.Message
	err error
}

type turnRequest struct {
	conv *domain.Conversation
	text string
	done func(msg *domain.Message, err error)
}

type mailbox struct {
	queue   []*turnRequest
	running bool
}

func NewChatService(
	sessions SessionService,
	intents IntentService,
	retriever *search.Retriever,
	refiner *RefineService,
	cat catalog.Client,
	llm openai.Client,
	lex *Lexicon,
	messages repos.MessageRepo,
	metrics repos.MetricsRepo,
	baseLog *logger.Logger,
	cfg ChatConfig,
) ChatService {
	if cfg.QueueSize <= 0 {
		cfg = DefaultChatConfig()
	}
	return &chatService{
		sessions:  sessions,
		intents:   intents,
		retriever: retriever,
		refiner:   refiner,
		catalog:   cat,
		llm:       llm.WithTier(openai.TierStandard),
		lex:       lex,
		messages:  messages,
		metrics:   metrics,
		log:       baseLog.With("service", "ChatService"),
		cfg:       cfg,
		boxes:     map[uuid.UUID]*mailbox{},
	}
}

func (s *chatService) SetNotifier(n Notifier) { s.notifier = n }

func (s *chatService) Submit(ctx context.Context, conv *domain.Conversation, text string) (*domain.Message, error) {
	reply := make(chan turnResult, 1)
	err := s.Enqueue(conv, text, func(msg *domain.Message, err error) {
		reply <- turnResult{msg: msg, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case res := <-reply:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *chatService) Enqueue(conv *domain.Conversation, text string, done func(*domain.Message, error)) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty message", domain.ErrInvariant)
	}
	if done == nil {
		done = func(*domain.Message, error) {}
	}
	req := &turnRequest{conv: conv, text: text, done: done}

	s.mu.Lock()
	box := s.boxes[conv.ID]
	if box == nil {
		box = &mailbox{}
		s.boxes[conv.ID] = box
	}
	var dropped *turnRequest
	if len(box.queue) >= s.cfg.QueueSize {
		dropped = box.queue[0]
		box.queue = box.queue[1:]
	}
	box.queue = append(box.queue, req)
	if !box.running {
		box.running = true
		go s.drain(conv.ID)
	}
	s.mu.Unlock()

	if dropped != nil {
		s.resolveDropped(conv, dropped)
	}
	return nil
}

// resolveDropped persists a system note for a turn pushed out of a
// full queue and completes its waiter.
func (s *chatService) resolveDropped(conv *domain.Conversation, req *turnRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	note := &domain.Message{
		Sender:    domain.SenderSystem,
		Content:   "Mensaje descartado: llegaron demasiados mensajes seguidos.",
		Delivered: true,
	}
	if err := s.sessions.AppendMessage(ctx, conv, note); err != nil {
		s.log.Warn("Dropped-turn note not persisted", "conversation_id", conv.ID.String(), "error", err.Error())
	}
	if m := observability.Current(); m != nil {
		m.Inc("chat.turns_dropped")
	}
	req.done(note, domain.ErrOverload)
}

func (s *chatService) drain(convID uuid.UUID) {
	for {
		s.mu.Lock()
		box := s.boxes[convID]
		if box == nil || len(box.queue) == 0 {
			if box != nil {
				box.running = false
				delete(s.boxes, convID)
			}
			s.mu.Unlock()
			return
		}
		req := box.queue[0]
		box.queue = box.queue[1:]
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TurnTimeout)
		msg, err := s.processTurn(ctx, req.conv, req.text)
		cancel()
		req.done(msg, err)
	}
}

// retriable tells transient trouble apart from hard rejections. Two of
// these in one turn and the turn escalates instead of retrying forever.
func retriable(err error) bool {
	return errors.Is(err, domain.ErrTransient) ||
		errors.Is(err, domain.ErrEmbeddingUpstream) ||
		errors.Is(err, domain.ErrStoreTimeout) ||
		errors.Is(err, domain.ErrStoreBusy) ||
		errors.Is(err, domain.ErrUpstream) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *chatService) processTurn(ctx context.Context, conv *domain.Conversation, text string) (*domain.Message, error) {
	t0 := time.Now()
	ctx, span := observability.StartSpan(ctx, "chat.turn")
	defer span.End()

	history, err := s.messages.ListRecent(ctx, conv.ID, 5)
	if err != nil {
		s.log.Warn("History fetch failed, classifying without context", "error", err.Error())
		history = nil
	}

	userMsg := &domain.Message{
		Sender:    domain.SenderUser,
		Content:   text,
		Delivered: true,
	}
	if err := s.sessions.AppendMessage(ctx, conv, userMsg); err != nil {
		return nil, err
	}

	reply, classification := s.runPipeline(ctx, conv, text, history)

	userMsg.Intent = string(classification.Intent)
	userMsg.Confidence = classification.Confidence

	reply.ResponseTimeMs = time.Since(t0).Milliseconds()
	reply.Intent = string(classification.Intent)
	reply.Delivered = false
	if err := s.sessions.AppendMessage(ctx, conv, reply); err != nil {
		return nil, err
	}

	if s.notifier != nil && s.notifier.Deliver(conv.UserID, conv.Platform, reply) {
		if err := s.messages.MarkDelivered(ctx, []uuid.UUID{reply.ID}); err != nil {
			s.log.Warn("Delivered flag not persisted", "message_id", reply.ID.String(), "error", err.Error())
		} else {
			reply.Delivered = true
		}
	}

	if m := observability.Current(); m != nil {
		m.ObserveTurn(string(decisionForMetrics(reply)), time.Since(t0))
	}
	return reply, nil
}

func decisionForMetrics(reply *domain.Message) domain.DecisionKind {
	var tools []string
	_ = json.Unmarshal(reply.ToolsUsed, &tools)
	for _, t := range tools {
		switch t {
		case "refine":
			return domain.DecisionRefine
		case "handoff":
			return domain.DecisionEscalate
		}
	}
	return domain.DecisionAnswer
}

// runPipeline never returns an error to the user: every failure path
// degrades into a handoff or retry-prompt reply.
func (s *chatService) runPipeline(ctx context.Context, conv *domain.Conversation, text string, history []*domain.Message) (*domain.Message, domain.Classification) {
	failures := 0

	classification, err := s.intents.Classify(ctx, text, history)
	if err != nil {
		failures++
		s.log.Warn("Intent classification failed", "conversation_id", conv.ID.String(), "error", err.Error())
		if retriable(err) && failures < 2 {
			classification, err = s.intents.Classify(ctx, text, history)
		}
		if err != nil {
			failures++
			if failures >= 2 {
				return s.handoffReply(ctx, conv, "classification unavailable"), domain.Classification{Intent: domain.IntentUnsupported}
			}
			classification = domain.Classification{Intent: domain.IntentUnsupported, NeedsRefinement: true}
		}
	}

	switch classification.Intent {
	case domain.IntentEscalationRequest:
		return s.handoffReply(ctx, conv, "user requested human"), classification

	case domain.IntentGreeting, domain.IntentFarewell, domain.IntentSmallTalk:
		return s.smallTalkReply(ctx, conv, classification.Intent, text), classification

	case domain.IntentOrderInquiry:
		return s.orderReply(ctx, conv, classification), classification
	}

	query := s.lex.ExpandSynonyms(search.NormalizeQuery(text))
	results, candidates, err := s.retriever.Retrieve(ctx, query, kindsForIntent(classification.Intent))
	if err != nil {
		failures++
		s.log.Warn("Retrieval failed", "conversation_id", conv.ID.String(), "error", err.Error())
		if failures >= 2 || !retriable(err) {
			return s.handoffReply(ctx, conv, "retrieval unavailable"), classification
		}
		results, candidates = nil, 0
	}

	decision := Validate(s.cfg.Validator, classification.Intent, results, candidates, conv.RefineCount, conv.FailedAnswers)
	if classification.NeedsRefinement && decision.Kind == domain.DecisionAnswer {
		decision = domain.Refine(domain.RefineFromQuery)
	}

	switch decision.Kind {
	case domain.DecisionRefine:
		conv.RefineCount++
		s.recordEvent(ctx, conv, "refinement", map[string]any{"reason": string(decision.RefineReason)})
		question := s.refiner.Ask(ctx, results, conv.Locale)
		return botMessage(question.Text, "refine"), classification

	case domain.DecisionEscalate:
		return s.handoffReply(ctx, conv, decision.EscalateReason), classification
	}

	answer, err := s.synthesize(ctx, conv, text, results, history)
	if err != nil {
		conv.FailedAnswers++
		s.log.Warn("Answer synthesis failed", "conversation_id", conv.ID.String(), "error", err.Error())
		if conv.FailedAnswers >= s.cfg.Validator.MaxFailedAnswers {
			return s.handoffReply(ctx, conv, "consecutive failed answers"), classification
		}
		return botMessage(s.lex.BusyTemplate(conv.Locale), "busy"), classification
	}
	conv.RefineCount = 0
	conv.FailedAnswers = 0
	return botMessage(answer, "answer"), classification
}

func kindsForIntent(intent domain.Intent) []domain.RecordKind {
	switch intent {
	case domain.IntentKnowledgeQuestion:
		return []domain.RecordKind{domain.RecordKindKnowledge}
	case domain.IntentProductSearch:
		return []domain.RecordKind{domain.RecordKindProduct, domain.RecordKindCategory}
	default:
		return nil
	}
}

func (s *chatService) synthesize(ctx context.Context, conv *domain.Conversation, text string, results []search.Result, history []*domain.Message) (string, error) {
	var b strings.Builder
	b.WriteString("Contexto recuperado del catálogo y la base de conocimiento:\n")
	for i, res := range results {
		fmt.Fprintf(&b, "%d. %s", i+1, res.Record.Title)
		if brand := res.Record.Brand(); brand != "" {
			fmt.Fprintf(&b, " (marca: %s)", brand)
		}
		if res.Record.Body != "" {
			body := res.Record.Body
			if len(body) > 400 {
				body = body[:400]
			}
			fmt.Fprintf(&b, " — %s", body)
		}
		b.WriteString("\n")
	}
	if len(history) > 0 {
		b.WriteString("\nTurnos recientes:\n")
		for _, msg := range history {
			role := "usuario"
			if msg.Sender == domain.SenderBot {
				role = "asistente"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, msg.Content)
		}
	}
	fmt.Fprintf(&b, "\nConsulta del cliente: %s", text)

	system := fmt.Sprintf(
		"Eres el asistente de atención al cliente de una ferretería eléctrica. "+
			"Responde breve y concreto en el idioma %q, usando solo la información del contexto. "+
			"Si el contexto no alcanza para responder, dilo claramente y ofrece derivar a una persona.",
		conv.Locale,
	)
	return s.llm.GenerateText(ctx, system, b.String())
}

func (s *chatService) smallTalkReply(ctx context.Context, conv *domain.Conversation, intent domain.Intent, text string) *domain.Message {
	system := "Eres el asistente de una ferretería eléctrica. Responde el saludo o comentario en una sola frase amable, en el idioma del cliente, y ofrece ayuda con productos o pedidos."
	answer, err := s.llm.WithTier(openai.TierCheap).GenerateText(ctx, system, text)
	if err != nil {
		switch intent {
		case domain.IntentFarewell:
			answer = "¡Gracias por tu visita! Cualquier cosa, acá estoy."
		default:
			answer = "¡Hola! ¿En qué puedo ayudarte? Puedo buscar productos o consultar el estado de un pedido."
		}
	}
	return botMessage(answer, "small_talk")
}

func (s *chatService) orderReply(ctx context.Context, conv *domain.Conversation, classification domain.Classification) *domain.Message {
	number := strings.TrimSpace(classification.OrderNumber())
	email := strings.TrimSpace(classification.Email())
	if number == "" || email == "" {
		return botMessage(
			"Para consultar tu pedido necesito el número de pedido y el email con el que compraste. ¿Me los pasás?",
			"order_inquiry",
		)
	}

	order, err := s.catalog.ResolveOrder(ctx, number, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return botMessage(s.lex.NotFoundTemplate(conv.Locale), "order_inquiry")
		}
		s.log.Warn("Order resolution failed", "conversation_id", conv.ID.String(), "error", err.Error())
		return botMessage(s.lex.BusyTemplate(conv.Locale), "order_inquiry")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tu pedido %s está %s.", order.Number, translateOrderStatus(order.Status))
	if order.Carrier != "" {
		fmt.Fprintf(&b, " Lo lleva %s.", order.Carrier)
	}
	if order.TrackingURL != "" {
		fmt.Fprintf(&b, " Podés seguirlo acá: %s", order.TrackingURL)
	}
	if order.EtaDays > 0 {
		fmt.Fprintf(&b, " Llega en aproximadamente %d días.", order.EtaDays)
	}
	return botMessage(b.String(), "order_inquiry")
}

func translateOrderStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending":
		return "pendiente de pago"
	case "paid", "processing":
		return "en preparación"
	case "shipped":
		return "en camino"
	case "delivered":
		return "entregado"
	case "cancelled", "canceled":
		return "cancelado"
	default:
		return status
	}
}

func (s *chatService) handoffReply(ctx context.Context, conv *domain.Conversation, reason string) *domain.Message {
	s.recordEvent(ctx, conv, "escalation", map[string]any{"reason": reason})
	return botMessage(s.lex.HandoffTemplate(conv.Locale), "handoff")
}

func (s *chatService) recordEvent(ctx context.Context, conv *domain.Conversation, name string, detail map[string]any) {
	event := &domain.Event{
		Name:     name,
		Platform: conv.Platform,
		Detail:   datatypes.JSONMap(detail),
	}
	if err := s.metrics.RecordEvent(ctx, event); err != nil {
		s.log.Warn("Event not recorded", "event", name, "error", err.Error())
	}
}

func botMessage(content, tool string) *domain.Message {
	tools, _ := json.Marshal([]string{tool})
	return &domain.Message{
		Sender:    domain.SenderBot,
		Content:   content,
		ToolsUsed: tools,
	}
}
