// Package broker implements the session and room broker: it owns the binding
// between connections and identities, mutates the shared stores, and computes
// which connections receive each outbound event.
package broker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mlevan/parley/internal/metrics"
	"github.com/mlevan/parley/internal/model/chat"
	"github.com/mlevan/parley/internal/service/history"
	"github.com/mlevan/parley/internal/service/reply"
	"github.com/mlevan/parley/internal/service/session"
	"github.com/mlevan/parley/internal/service/typing"
)

// Conn is the broker's view of one connected client. Deliver must not block;
// it reports false when the event had to be dropped.
type Conn interface {
	ID() string
	Deliver(ev chat.Event) bool
}

// Broker routes inbound events to the shared stores and fans out the results.
// Each store serializes its own mutations; the broker itself only guards the
// connection table.
type Broker struct {
	sessions *session.Service
	history  *history.Service
	typing   *typing.Tracker
	oracle   reply.Oracle

	mu    sync.RWMutex
	conns map[string]Conn
}

// New wires the broker to its stores and reply oracle.
func New(sessions *session.Service, hist *history.Service, tracker *typing.Tracker, oracle reply.Oracle) *Broker {
	return &Broker{
		sessions: sessions,
		history:  hist,
		typing:   tracker,
		oracle:   oracle,
		conns:    make(map[string]Conn),
	}
}

// Connect makes a connection addressable for fan-out. The connection stays
// unjoined until its join event succeeds.
func (b *Broker) Connect(conn Conn) {
	b.mu.Lock()
	b.conns[conn.ID()] = conn
	b.mu.Unlock()
	metrics.ConnectionsOpen.Inc()
	log.Printf("[broker] connection %s open", conn.ID())
}

// Disconnect tears down a connection: its session leaves the registry, its
// typing marker is cancelled, and its last room hears a roster update and a
// leave notification. Safe to call more than once per connection.
func (b *Broker) Disconnect(connID string) {
	b.mu.Lock()
	_, open := b.conns[connID]
	if open {
		delete(b.conns, connID)
	}
	b.mu.Unlock()
	if !open {
		return
	}

	metrics.ConnectionsOpen.Dec()

	sess, had := b.sessions.Remove(connID)
	if !had {
		log.Printf("[broker] connection %s closed before joining", connID)
		return
	}

	metrics.SessionsActive.Dec()
	b.typing.Cancel(sess.Identity)
	b.broadcastRoom(sess.Room, b.rosterEvent(sess.Room), "")
	b.broadcastRoom(sess.Room, notificationEvent(fmt.Sprintf("%s %s left", sess.Avatar, sess.Identity)), "")
	log.Printf("[broker] %s left %s (connection %s closed)", sess.Identity, sess.Room, connID)
}

func (b *Broker) handleJoin(connID string, p chat.JoinPayload) {
	prev, rejoining := b.sessions.Get(connID)

	sess, err := b.sessions.Register(connID, p.Identity, p.Room, p.Avatar, p.Role)
	if err != nil {
		b.sendTo(connID, errorEvent(chat.ReasonInvalidIdentity))
		return
	}

	if !rejoining {
		metrics.SessionsActive.Inc()
	} else if prev.Room != sess.Room {
		// Last join wins; the abandoned room still needs a fresh roster.
		b.broadcastRoom(prev.Room, b.rosterEvent(prev.Room), "")
	}

	b.broadcastRoom(sess.Room, b.rosterEvent(sess.Room), "")
	b.sendTo(connID, chat.NewEvent(chat.EventHistory, b.history.InRoom(sess.Room)))
	b.broadcastRoom(sess.Room, notificationEvent(
		fmt.Sprintf("%s %s (%s) joined %s", sess.Avatar, sess.Identity, sess.Role, sess.Room)), "")
	log.Printf("[broker] %s joined %s as %s", connID, sess.Room, sess.Identity)
}

func (b *Broker) handleSend(ctx context.Context, connID string, p chat.SendPayload) {
	sess, joined := b.sessions.Get(connID)
	if !joined {
		b.sendTo(connID, errorEvent(chat.ReasonInvalidIdentity))
		return
	}

	text := chat.Sanitize(p.Text)
	if text == "" {
		b.sendTo(connID, errorEvent(chat.ReasonEmptyContent))
		return
	}

	// The oracle may be slow; no store locks are held here.
	replyText, err := b.oracle.Generate(ctx, text)
	if err != nil {
		metrics.RepliesGenerated.WithLabelValues(b.oracle.Name(), "error").Inc()
		log.Printf("[broker] reply generation failed for %s: %v", connID, err)
	} else {
		metrics.RepliesGenerated.WithLabelValues(b.oracle.Name(), "ok").Inc()
	}

	msg := chat.Message{
		ID:        b.history.NextID(),
		Author:    sess.Identity,
		Avatar:    sess.Avatar,
		Role:      sess.Role,
		Room:      sess.Room,
		Text:      text,
		Reply:     replyText,
		Timestamp: nowUTC(),
		IsPrivate: p.IsPrivate,
		Reactions: make(map[string][]string),
	}
	b.history.Append(msg)
	metrics.MessagesRelayed.Inc()

	ev := chat.NewEvent(chat.EventMessageDelivered, msg)
	if p.IsPrivate && p.TargetIdentity != "" {
		target, found := b.sessions.FindByIdentity(p.TargetIdentity)
		if !found {
			// Unknown target drops delivery silently; the message already
			// sits in history.
			return
		}
		b.sendTo(connID, ev)
		if target.ConnectionID != connID {
			b.sendTo(target.ConnectionID, ev)
		}
		return
	}
	b.broadcastRoom(sess.Room, ev, "")
}

func (b *Broker) handleReaction(connID string, p chat.ReactionPayload) {
	sess, joined := b.sessions.Get(connID)
	if !joined {
		return
	}

	reactions, ok := b.history.ToggleReaction(p.MessageID, p.Symbol, sess.Identity)
	if !ok {
		// Stale reference: the message was evicted or never existed.
		return
	}

	b.broadcastRoom(sess.Room, chat.NewEvent(chat.EventReactionUpdated, chat.ReactionUpdatePayload{
		MessageID: p.MessageID,
		Reactions: reactions,
	}), "")
}

func (b *Broker) handleTyping(connID string, p chat.TypingPayload) {
	sess, joined := b.sessions.Get(connID)
	if !joined {
		return
	}

	if p.Identity == nil || *p.Identity == "" {
		// Explicit stop signal.
		if b.typing.Cancel(sess.Identity) {
			b.broadcastRoom(sess.Room, typingEvent(chat.EventTypingStopped, sess.Identity), connID)
		}
		return
	}

	identity := *p.Identity
	room := sess.Room
	b.broadcastRoom(room, typingEvent(chat.EventTypingStarted, identity), connID)
	b.typing.Arm(identity, func() {
		b.broadcastRoom(room, typingEvent(chat.EventTypingStopped, identity), connID)
	})
}

func (b *Broker) handleChangeRoom(connID string, p chat.ChangeRoomPayload) {
	sess, joined := b.sessions.Get(connID)
	if !joined || p.NewRoom == "" {
		return
	}

	oldRoom := sess.Room
	b.sessions.UpdateRoom(connID, p.NewRoom)
	sess, _ = b.sessions.Get(connID)

	b.broadcastRoom(oldRoom, b.rosterEvent(oldRoom), "")
	b.broadcastRoom(p.NewRoom, b.rosterEvent(p.NewRoom), "")
	b.sendTo(connID, chat.NewEvent(chat.EventHistory, b.history.InRoom(p.NewRoom)))
	b.broadcastRoom(p.NewRoom, notificationEvent(
		fmt.Sprintf("%s %s joined %s", sess.Avatar, sess.Identity, p.NewRoom)), "")
	log.Printf("[broker] %s moved %s -> %s", sess.Identity, oldRoom, p.NewRoom)
}

func (b *Broker) handleStatusChange(connID string, p chat.StatusChangePayload) {
	sess, joined := b.sessions.Get(connID)
	if !joined {
		return
	}

	b.sessions.UpdateStatus(connID, chat.NormalizeStatus(p.Status))
	b.broadcastRoom(sess.Room, b.rosterEvent(sess.Room), "")
}

// relayScreenShare forwards the opaque signaling payload to every other
// connection in the sender's room. No share state is retained.
func (b *Broker) relayScreenShare(connID, eventType string, payload []byte) {
	sess, joined := b.sessions.Get(connID)
	if !joined {
		return
	}
	b.broadcastRoom(sess.Room, chat.Event{Type: eventType, Payload: payload}, connID)
}

func (b *Broker) rosterEvent(room string) chat.Event {
	return chat.NewEvent(chat.EventRoster, chat.Roster(b.sessions.InRoom(room)))
}

// sendTo delivers one event to one connection, dropping it if the connection
// is gone or its buffer is full.
func (b *Broker) sendTo(connID string, ev chat.Event) {
	b.mu.RLock()
	conn, ok := b.conns[connID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	if !conn.Deliver(ev) {
		metrics.EventsDropped.Inc()
		log.Printf("[broker] dropped %s event for slow connection %s", ev.Type, connID)
	}
}

// broadcastRoom fans an event out to every joined connection in room, except
// the one named by exclude (empty means no exclusion). Delivery is best-effort
// and unordered across recipients.
func (b *Broker) broadcastRoom(room string, ev chat.Event, exclude string) {
	for _, sess := range b.sessions.InRoom(room) {
		if sess.ConnectionID == exclude {
			continue
		}
		b.sendTo(sess.ConnectionID, ev)
	}
}

func errorEvent(reason string) chat.Event {
	return chat.NewEvent(chat.EventError, chat.ErrorPayload{Reason: reason})
}

func notificationEvent(text string) chat.Event {
	return chat.NewEvent(chat.EventNotification, chat.NotificationPayload{Text: text})
}

func typingEvent(eventType, identity string) chat.Event {
	return chat.NewEvent(eventType, chat.TypingEventPayload{Identity: identity})
}
