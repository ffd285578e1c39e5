package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/realtime/bus"
)

const repliesChannel = "ferrebot:replies"

// envelope is the cross-instance reply wrapper on the bus. Origin lets
// the publishing instance skip its own broadcast.
type envelope struct {
	Origin   string          `json:"origin"`
	UserID   string          `json:"user_id"`
	Platform domain.Platform `json:"platform"`
	Frame    Frame           `json:"frame"`
}

// Hub tracks live sockets per (user, platform) and fans bot replies
// out locally and across instances through the bus. It implements the
// orchestrator's Notifier.
type Hub struct {
	id  string
	bus bus.Bus
	log *logger.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub(b bus.Bus, baseLog *logger.Logger) *Hub {
	return &Hub{
		id:    uuid.NewString(),
		bus:   b,
		log:   baseLog.With("component", "Hub"),
		conns: map[string]*Conn{},
	}
}

func connKey(userID string, platform domain.Platform) string {
	return userID + "|" + string(platform)
}

// Attach registers a socket, replacing (and closing) any previous one
// for the same user and platform.
func (h *Hub) Attach(userID string, platform domain.Platform, c *Conn) {
	key := connKey(userID, platform)
	h.mu.Lock()
	prev := h.conns[key]
	h.conns[key] = c
	h.mu.Unlock()
	if prev != nil && prev != c {
		prev.Close()
	}
}

// Detach removes a socket if it is still the registered one.
func (h *Hub) Detach(userID string, platform domain.Platform, c *Conn) {
	key := connKey(userID, platform)
	h.mu.Lock()
	if h.conns[key] == c {
		delete(h.conns, key)
	}
	h.mu.Unlock()
}

// Deliver pushes a persisted bot message to the user's socket and
// broadcasts it for sibling instances. Returns whether a local socket
// accepted the frame; an undelivered message stays flagged for the
// reconnect flush.
func (h *Hub) Deliver(userID string, platform domain.Platform, msg *domain.Message) bool {
	frame := AgentFrame(msg)

	if h.bus != nil {
		raw, err := json.Marshal(envelope{
			Origin:   h.id,
			UserID:   userID,
			Platform: platform,
			Frame:    frame,
		})
		if err == nil {
			if err := h.bus.Publish(context.Background(), repliesChannel, raw); err != nil {
				h.log.Warn("Bus publish failed", "error", err.Error())
			}
		}
	}

	return h.deliverLocal(userID, platform, frame)
}

func (h *Hub) deliverLocal(userID string, platform domain.Platform, frame Frame) bool {
	h.mu.RLock()
	c := h.conns[connKey(userID, platform)]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	return c.Send(frame)
}

// Run consumes the bus and routes sibling-instance replies to local
// sockets. Blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		<-ctx.Done()
		return nil
	}
	frames, cancel, err := h.bus.Subscribe(ctx, repliesChannel)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-frames:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				h.log.Warn("Malformed bus envelope", "error", err.Error())
				continue
			}
			if env.Origin == h.id {
				continue
			}
			h.deliverLocal(env.UserID, env.Platform, env.Frame)
		}
	}
}
