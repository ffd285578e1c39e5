package realtime

import (
	"time"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
)

// Frame is one JSON message on the chat socket, both directions.
type Frame struct {
	Type        string `json:"type"`
	MessageID   string `json:"message_id,omitempty"`
	Text        string `json:"text,omitempty"`
	Code        string `json:"code,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

const (
	FrameUserMessage   = "user_message"
	FrameAgentResponse = "agent_response"
	FrameSystem        = "system"
	FrameError         = "error"
	FramePing          = "ping"
)

func AgentFrame(msg *domain.Message) Frame {
	return Frame{
		Type:      FrameAgentResponse,
		MessageID: msg.ID.String(),
		Text:      msg.Content,
		CreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func SystemFrame(text string) Frame {
	return Frame{Type: FrameSystem, Text: text}
}

func ErrorFrame(code, text string) Frame {
	return Frame{Type: FrameError, Code: code, Text: text}
}
