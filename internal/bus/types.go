// Package bus carries messages between the ingress boundary and the
// consumer, and filters duplicate deliveries before anything else runs.
package bus

import "github.com/turnpikehq/turnpike/internal/store"

// InboundMessage is one message delivered by a chat transport.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	ChatKind  store.ChatKind    `json:"chat_kind,omitempty"`
	MessageID string            `json:"message_id,omitempty"` // external id, used for dedup
	Content   string            `json:"content"`
	AgentID   string            `json:"agent_id,omitempty"` // explicit target agent, empty = route
	UserID    string            `json:"user_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply handed back to the transport boundary.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Publisher delivers replies. Implemented by the host's transport layer;
// tests use a capture stub.
type Publisher interface {
	PublishOutbound(msg OutboundMessage)
}
