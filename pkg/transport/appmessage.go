package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Inbound app-message types, sent by a call participant's client over the
// data channel.
const (
	InboundPTT               = "ptt"
	InboundApproveHand       = "approve_hand"
	InboundCancelBotSpeech   = "cancel_bot_speech"
)

// Outbound app-message types, broadcast to every connected client.
const (
	OutboundBotStateChanged          = "bot_state_changed"
	OutboundBotHandRaised            = "bot_hand_raised"
	OutboundConversationContextUpdate = "conversation_context_update"
)

// InboundMessage is the generic shape of every inbound app-message; callers
// switch on Type and use the type-specific fields.
type InboundMessage struct {
	Type   string `json:"type"`
	Active bool   `json:"active,omitempty"`
}

// ContextEntry is one row of the conversation_history array sent with
// conversation_context_update.
type ContextEntry struct {
	SpeakerName      string `json:"speaker_name"`
	SpeakerRole      string `json:"speaker_role"`
	Text             string `json:"text"`
	Timestamp        string `json:"timestamp"`
	IsPTT            bool   `json:"is_ptt"`
	IsBot            bool   `json:"is_bot"`
	IsQuestion       bool   `json:"is_question"`
	IsAnswer         bool   `json:"is_answer"`
	Channel          string `json:"channel"`
	ConversationState string `json:"conversation_state"`
}

type botStateChangedMsg struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type botHandRaisedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type conversationContextUpdateMsg struct {
	Type               string         `json:"type"`
	ConversationHistory []ContextEntry `json:"conversation_history"`
	TotalUtterances    int            `json:"total_utterances"`
}

// AppMessageChannel is a websocket-backed fan-out of the SFU's JSON
// app-message data channel: one process accepts connections from every
// client in the call and broadcasts outbound control frames to all of
// them, while routing inbound frames to a single handler.
type AppMessageChannel struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]string // conn -> sender participant ID

	// OnInbound is invoked for every valid inbound message. senderID is
	// the participant ID associated with the connection it arrived on.
	OnInbound func(senderID string, msg InboundMessage)
}

// NewAppMessageChannel creates an empty channel with no handler installed.
// Callers should set OnInbound before accepting connections.
func NewAppMessageChannel() *AppMessageChannel {
	return &AppMessageChannel{clients: make(map[*websocket.Conn]string)}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection under participantID until it closes or ctx is cancelled.
func (c *AppMessageChannel) ServeHTTP(w http.ResponseWriter, r *http.Request, participantID string) error {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return fmt.Errorf("accept app-message connection: %w", err)
	}
	c.register(conn, participantID)
	defer c.unregister(conn)

	ctx := r.Context()
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}

		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Unknown/malformed shape: dropped silently, per protocol.
			continue
		}
		if msg.Type == "" {
			continue
		}
		if c.OnInbound != nil {
			c.OnInbound(participantID, msg)
		}
	}
}

func (c *AppMessageChannel) register(conn *websocket.Conn, participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[conn] = participantID
}

func (c *AppMessageChannel) unregister(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, conn)
}

func (c *AppMessageChannel) broadcast(ctx context.Context, v interface{}) {
	c.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(c.clients))
	for conn := range c.clients {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		_ = wsjson.Write(ctx, conn, v)
	}
}

// BroadcastBotStateChanged sends {type: bot_state_changed, state} to every
// connected client.
func (c *AppMessageChannel) BroadcastBotStateChanged(ctx context.Context, state string) {
	c.broadcast(ctx, botStateChangedMsg{Type: OutboundBotStateChanged, State: state})
}

// BroadcastBotHandRaised sends {type: bot_hand_raised, reason} to every
// connected client. reason should already be truncated to the caller's
// preview length.
func (c *AppMessageChannel) BroadcastBotHandRaised(ctx context.Context, reason string) {
	c.broadcast(ctx, botHandRaisedMsg{Type: OutboundBotHandRaised, Reason: reason})
}

// BroadcastContextUpdate sends {type: conversation_context_update,
// conversation_history, total_utterances} to every connected client.
func (c *AppMessageChannel) BroadcastContextUpdate(ctx context.Context, history []ContextEntry, total int) {
	c.broadcast(ctx, conversationContextUpdateMsg{
		Type:                OutboundConversationContextUpdate,
		ConversationHistory: history,
		TotalUtterances:     total,
	})
}

// Close closes every registered connection.
func (c *AppMessageChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for conn := range c.clients {
		conn.Close(websocket.StatusNormalClosure, "session ended")
	}
	c.clients = make(map[*websocket.Conn]string)
}
