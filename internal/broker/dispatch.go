package broker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/mlevan/parley/internal/model/chat"
)

// Handle routes one inbound event from connID. Malformed payloads and unknown
// event types are logged and ignored; a single bad frame must never disturb
// other connections.
func (b *Broker) Handle(ctx context.Context, connID string, ev chat.Event) {
	switch ev.Type {
	case chat.EventJoin:
		var p chat.JoinPayload
		if !decode(connID, ev, &p) {
			return
		}
		b.handleJoin(connID, p)

	case chat.EventSend:
		var p chat.SendPayload
		if !decode(connID, ev, &p) {
			return
		}
		b.handleSend(ctx, connID, p)

	case chat.EventReaction:
		var p chat.ReactionPayload
		if !decode(connID, ev, &p) {
			return
		}
		b.handleReaction(connID, p)

	case chat.EventTyping:
		var p chat.TypingPayload
		if !decode(connID, ev, &p) {
			return
		}
		b.handleTyping(connID, p)

	case chat.EventChangeRoom:
		var p chat.ChangeRoomPayload
		if !decode(connID, ev, &p) {
			return
		}
		b.handleChangeRoom(connID, p)

	case chat.EventStatusChange:
		var p chat.StatusChangePayload
		if !decode(connID, ev, &p) {
			return
		}
		b.handleStatusChange(connID, p)

	case chat.EventScreenShareStart, chat.EventScreenShareStop:
		b.relayScreenShare(connID, ev.Type, ev.Payload)

	default:
		log.Printf("[broker] ignoring unknown event %q from %s", ev.Type, connID)
	}
}

func decode(connID string, ev chat.Event, dst any) bool {
	if len(ev.Payload) == 0 {
		log.Printf("[broker] %s event from %s has no payload", ev.Type, connID)
		return false
	}
	if err := json.Unmarshal(ev.Payload, dst); err != nil {
		log.Printf("[broker] malformed %s payload from %s: %v", ev.Type, connID, err)
		return false
	}
	return true
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
