package syncfast

import (
	"encoding/json"
	"time"
)

type WebSocketState string

const (
	WSStateDisconnected WebSocketState = "disconnected"
	WSStateConnecting   WebSocketState = "connecting"
	WSStateConnected    WebSocketState = "connected"
	WSStateReconnecting WebSocketState = "reconnecting"
	WSStateFailed       WebSocketState = "failed"
)

// Message is one frame pushed by the relay: chat traffic and service
// notices share the same envelope.
type Message struct {
	Type   string         `json:"type,omitempty"`
	Room   string         `json:"room,omitempty"`
	Sender *string        `json:"sender,omitempty"`
	Msg    string         `json:"msg,omitempty"`
	JSON   *MessageDetail `json:"json,omitempty"`
}

type MessageDetail struct {
	UserID string `json:"user_id,omitempty"`
}

// CommitRequest carries one durable write to the sync backend. The same
// shape travels as an HTTP body and as a WS frame, where Type routes it.
type CommitRequest struct {
	Type    string          `json:"type"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

type CommitResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

type StatusResponse struct {
	Service       string `json:"service,omitempty"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_s,omitempty"`
	Backlog       int    `json:"backlog,omitempty"`
}

type ReplyRequest struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Data string `json:"data"`
}
