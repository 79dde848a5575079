package chat

import (
	"encoding/json"
	"log"
)

// Event is the JSON envelope exchanged over the socket in both directions.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client-to-server event types.
const (
	EventJoin             = "join"
	EventSend             = "send"
	EventReaction         = "reaction"
	EventTyping           = "typing"
	EventChangeRoom       = "changeRoom"
	EventStatusChange     = "statusChange"
	EventScreenShareStart = "screenShareStart"
	EventScreenShareStop  = "screenShareStop"
)

// Server-to-client event types.
const (
	EventRoster           = "roster"
	EventHistory          = "history"
	EventMessageDelivered = "messageDelivered"
	EventNotification     = "notification"
	EventTypingStarted    = "typingStarted"
	EventTypingStopped    = "typingStopped"
	EventReactionUpdated  = "reactionUpdated"
	EventError            = "error"
)

// Error reason codes surfaced to the offending connection.
const (
	ReasonInvalidIdentity = "invalid_identity"
	ReasonEmptyContent    = "empty_content"
)

// JoinPayload carries the join request attributes.
type JoinPayload struct {
	Identity string `json:"identity"`
	Room     string `json:"room,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Role     string `json:"role,omitempty"`
}

// SendPayload carries an outgoing message request.
type SendPayload struct {
	Text           string `json:"text"`
	IsPrivate      bool   `json:"isPrivate,omitempty"`
	TargetIdentity string `json:"targetIdentity,omitempty"`
}

// ReactionPayload toggles the sender's reaction on a message.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Symbol    string `json:"symbol"`
}

// TypingPayload announces typing activity. A null identity is an explicit
// stop signal.
type TypingPayload struct {
	Identity *string `json:"identity"`
}

// ChangeRoomPayload moves the connection to another room.
type ChangeRoomPayload struct {
	NewRoom string `json:"newRoom"`
}

// StatusChangePayload updates the connection's presence state.
type StatusChangePayload struct {
	Status string `json:"status"`
}

// NotificationPayload is a human-readable room announcement.
type NotificationPayload struct {
	Text string `json:"text"`
}

// TypingEventPayload names the identity a typing transition applies to.
type TypingEventPayload struct {
	Identity string `json:"identity"`
}

// ReactionUpdatePayload carries the full reaction map for one message.
type ReactionUpdatePayload struct {
	MessageID string              `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}

// ErrorPayload carries a machine-readable failure reason.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// NewEvent marshals payload into an outbound envelope. Payload types are
// locally defined structs, so marshal failures indicate a programming error
// and produce an empty payload rather than a dropped event.
func NewEvent(eventType string, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[event] failed to marshal %s payload: %v", eventType, err)
		return Event{Type: eventType}
	}
	return Event{Type: eventType, Payload: raw}
}
