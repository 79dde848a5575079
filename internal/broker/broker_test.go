package broker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mlevan/parley/internal/broker"
	"github.com/mlevan/parley/internal/model/chat"
	"github.com/mlevan/parley/internal/service/history"
	"github.com/mlevan/parley/internal/service/reply"
	"github.com/mlevan/parley/internal/service/session"
	"github.com/mlevan/parley/internal/service/typing"
)

type fakeConn struct {
	id string
	mu sync.Mutex
	ev []chat.Event
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Deliver(ev chat.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ev = append(f.ev, ev)
	return true
}

func (f *fakeConn) events() []chat.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Event(nil), f.ev...)
}

func (f *fakeConn) ofType(eventType string) []chat.Event {
	var out []chat.Event
	for _, ev := range f.events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ev = nil
}

func decodePayload[T any](t *testing.T, ev chat.Event) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		t.Fatalf("decode %s payload: %v", ev.Type, err)
	}
	return out
}

type relayFixture struct {
	broker   *broker.Broker
	sessions *session.Service
	history  *history.Service
}

func newRelay(t *testing.T, typingTTL time.Duration) *relayFixture {
	t.Helper()
	sessions := session.NewService()
	hist := history.NewService(history.DefaultLimit)
	tracker := typing.NewTracker(typingTTL)
	b := broker.New(sessions, hist, tracker, reply.NewCanned(1))
	return &relayFixture{broker: b, sessions: sessions, history: hist}
}

func (r *relayFixture) connect(id string) *fakeConn {
	conn := &fakeConn{id: id}
	r.broker.Connect(conn)
	return conn
}

func (r *relayFixture) handle(t *testing.T, connID, eventType string, payload any) {
	t.Helper()
	r.broker.Handle(context.Background(), connID, chat.NewEvent(eventType, payload))
}

func (r *relayFixture) join(t *testing.T, connID, identity, room string) {
	t.Helper()
	r.handle(t, connID, chat.EventJoin, chat.JoinPayload{Identity: identity, Room: room})
}

func TestJoinSendReplyScenario(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")

	relay.join(t, "c1", "alice", "general")

	rosters := a.ofType(chat.EventRoster)
	if len(rosters) != 1 {
		t.Fatalf("expected one roster broadcast, got %d", len(rosters))
	}
	roster := decodePayload[[]chat.RosterEntry](t, rosters[0])
	if len(roster) != 1 || roster[0].Identity != "alice" {
		t.Fatalf("unexpected roster: %+v", roster)
	}
	if got := a.ofType(chat.EventHistory); len(got) != 1 {
		t.Fatalf("joiner should receive history once, got %d", len(got))
	}
	if got := a.ofType(chat.EventNotification); len(got) != 1 {
		t.Fatalf("expected join notification, got %d", len(got))
	}

	a.reset()
	relay.handle(t, "c1", chat.EventSend, chat.SendPayload{Text: "hello"})

	delivered := a.ofType(chat.EventMessageDelivered)
	if len(delivered) != 1 {
		t.Fatalf("expected one delivered message, got %d", len(delivered))
	}
	msg := decodePayload[chat.Message](t, delivered[0])
	if msg.Author != "alice" || msg.Room != "general" {
		t.Fatalf("unexpected message attribution: %+v", msg)
	}
	if msg.Reply == "" {
		t.Fatal("message must carry a generated reply")
	}
	if msg.ID == "" {
		t.Fatal("message must carry an id")
	}

	if entries := relay.history.InRoom("general"); len(entries) != 1 {
		t.Fatalf("history should hold exactly one general message, got %d", len(entries))
	}
}

func TestJoinValidationRejection(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")
	b := relay.connect("c2")
	relay.join(t, "c2", "bob", "general")
	b.reset()

	for _, identity := range []string{"", "aaaaaaaaaaaaaaaaaaaaa"} {
		relay.join(t, "c1", identity, "general")
	}

	errs := a.ofType(chat.EventError)
	if len(errs) != 2 {
		t.Fatalf("expected two error events, got %d", len(errs))
	}
	for _, ev := range errs {
		p := decodePayload[chat.ErrorPayload](t, ev)
		if p.Reason != chat.ReasonInvalidIdentity {
			t.Fatalf("expected invalid_identity, got %q", p.Reason)
		}
	}
	if len(a.ofType(chat.EventRoster)) != 0 {
		t.Fatal("failed join must not produce a roster")
	}
	if len(b.events()) != 0 {
		t.Fatal("failed join must not be observable by other connections")
	}
	if relay.sessions.Len() != 1 {
		t.Fatalf("registry mutated by failed join: %d sessions", relay.sessions.Len())
	}
}

func TestSendRequiresJoin(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")

	relay.handle(t, "c1", chat.EventSend, chat.SendPayload{Text: "hello"})

	if len(a.ofType(chat.EventError)) != 1 {
		t.Fatal("unjoined send should fail with an error event")
	}
	if relay.history.Len() != 0 {
		t.Fatal("unjoined send must not reach history")
	}
}

func TestSendEmptyAfterSanitization(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")
	relay.join(t, "c1", "alice", "general")
	a.reset()

	relay.handle(t, "c1", chat.EventSend, chat.SendPayload{Text: `  <>&"'  `})

	errs := a.ofType(chat.EventError)
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %d", len(errs))
	}
	if p := decodePayload[chat.ErrorPayload](t, errs[0]); p.Reason != chat.ReasonEmptyContent {
		t.Fatalf("expected empty_content, got %q", p.Reason)
	}
	if relay.history.Len() != 0 {
		t.Fatal("rejected send must not mutate history")
	}
}

func TestRoomIsolation(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")
	b := relay.connect("c2")
	relay.join(t, "c1", "alice", "general")
	relay.join(t, "c2", "bob", "random")
	a.reset()
	b.reset()

	relay.handle(t, "c1", chat.EventSend, chat.SendPayload{Text: "hi"})

	if len(a.ofType(chat.EventMessageDelivered)) != 1 {
		t.Fatal("sender's room should receive the message")
	}
	if len(b.ofType(chat.EventMessageDelivered)) != 0 {
		t.Fatal("message leaked across rooms")
	}
	if len(relay.history.InRoom("random")) != 0 {
		t.Fatal("history for random must not contain general's message")
	}
}

func TestPrivateRoutingIsolation(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")
	b := relay.connect("c2")
	c := relay.connect("c3")
	relay.join(t, "c1", "alice", "general")
	relay.join(t, "c2", "bob", "general")
	relay.join(t, "c3", "carol", "general")
	a.reset()
	b.reset()
	c.reset()

	relay.handle(t, "c1", chat.EventSend, chat.SendPayload{
		Text: "psst", IsPrivate: true, TargetIdentity: "bob",
	})

	if len(a.ofType(chat.EventMessageDelivered)) != 1 {
		t.Fatal("sender must receive the private message")
	}
	if len(b.ofType(chat.EventMessageDelivered)) != 1 {
		t.Fatal("target must receive the private message")
	}
	if len(c.ofType(chat.EventMessageDelivered)) != 0 {
		t.Fatal("third connection must not observe a private message")
	}
}

func TestPrivateSendUnknownTargetDropsSilently(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")
	relay.join(t, "c1", "alice", "general")
	a.reset()

	relay.handle(t, "c1", chat.EventSend, chat.SendPayload{
		Text: "psst", IsPrivate: true, TargetIdentity: "ghost",
	})

	if len(a.ofType(chat.EventMessageDelivered)) != 0 {
		t.Fatal("unknown target must drop delivery")
	}
	if len(a.ofType(chat.EventError)) != 0 {
		t.Fatal("unknown target is not an error")
	}
	// The message still lands in history; this mirrors the room-wide log.
	if relay.history.Len() != 1 {
		t.Fatalf("expected message retained in history, got %d", relay.history.Len())
	}
}

func TestReactionToggleBroadcast(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")
	b := relay.connect("c2")
	relay.join(t, "c1", "alice", "general")
	relay.join(t, "c2", "bob", "general")

	relay.handle(t, "c1", chat.EventSend, chat.SendPayload{Text: "react to this"})
	msg := decodePayload[chat.Message](t, a.ofType(chat.EventMessageDelivered)[0])
	a.reset()
	b.reset()

	relay.handle(t, "c2", chat.EventReaction, chat.ReactionPayload{MessageID: msg.ID, Symbol: "👍"})

	for _, conn := range []*fakeConn{a, b} {
		updates := conn.ofType(chat.EventReactionUpdated)
		if len(updates) != 1 {
			t.Fatalf("expected one reaction update on %s, got %d", conn.id, len(updates))
		}
		p := decodePayload[chat.ReactionUpdatePayload](t, updates[0])
		if p.MessageID != msg.ID || len(p.Reactions["👍"]) != 1 || p.Reactions["👍"][0] != "bob" {
			t.Fatalf("unexpected reaction update: %+v", p)
		}
	}
}

func TestReactionUnknownMessageIgnored(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")
	relay.join(t, "c1", "alice", "general")
	a.reset()

	relay.handle(t, "c1", chat.EventReaction, chat.ReactionPayload{MessageID: "evicted", Symbol: "👍"})

	if len(a.events()) != 0 {
		t.Fatalf("stale reaction must be silent, got %v", a.events())
	}
}

func TestTypingExpiryScenario(t *testing.T) {
	relay := newRelay(t, 40*time.Millisecond)
	a := relay.connect("c1")
	b := relay.connect("c2")
	relay.join(t, "c1", "alice", "general")
	relay.join(t, "c2", "bob", "general")
	a.reset()
	b.reset()

	alice := "alice"
	relay.handle(t, "c1", chat.EventTyping, chat.TypingPayload{Identity: &alice})

	started := b.ofType(chat.EventTypingStarted)
	if len(started) != 1 {
		t.Fatalf("expected typingStarted at peer, got %d", len(started))
	}
	if p := decodePayload[chat.TypingEventPayload](t, started[0]); p.Identity != "alice" {
		t.Fatalf("unexpected typing identity %q", p.Identity)
	}
	if len(a.ofType(chat.EventTypingStarted)) != 0 {
		t.Fatal("typing must not echo back to the sender")
	}

	time.Sleep(150 * time.Millisecond)
	stopped := b.ofType(chat.EventTypingStopped)
	if len(stopped) != 1 {
		t.Fatalf("expected exactly one typingStopped, got %d", len(stopped))
	}
}

func TestTypingRearmDelaysExpiry(t *testing.T) {
	relay := newRelay(t, 60*time.Millisecond)
	relay.connect("c1")
	b := relay.connect("c2")
	relay.join(t, "c1", "alice", "general")
	relay.join(t, "c2", "bob", "general")
	b.reset()

	alice := "alice"
	relay.handle(t, "c1", chat.EventTyping, chat.TypingPayload{Identity: &alice})
	time.Sleep(30 * time.Millisecond)
	relay.handle(t, "c1", chat.EventTyping, chat.TypingPayload{Identity: &alice})
	time.Sleep(30 * time.Millisecond)

	if got := len(b.ofType(chat.EventTypingStopped)); got != 0 {
		t.Fatalf("re-armed marker expired early: %d stops", got)
	}

	time.Sleep(120 * time.Millisecond)
	if got := len(b.ofType(chat.EventTypingStopped)); got != 1 {
		t.Fatalf("expected one typingStopped after re-armed window, got %d", got)
	}
}

func TestTypingNullIsExplicitStop(t *testing.T) {
	relay := newRelay(t, time.Minute)
	relay.connect("c1")
	b := relay.connect("c2")
	relay.join(t, "c1", "alice", "general")
	relay.join(t, "c2", "bob", "general")
	b.reset()

	alice := "alice"
	relay.handle(t, "c1", chat.EventTyping, chat.TypingPayload{Identity: &alice})
	relay.handle(t, "c1", chat.EventTyping, chat.TypingPayload{Identity: nil})

	if got := len(b.ofType(chat.EventTypingStopped)); got != 1 {
		t.Fatalf("expected immediate typingStopped, got %d", got)
	}

	// A stop with no pending marker stays silent.
	b.reset()
	relay.handle(t, "c1", chat.EventTyping, chat.TypingPayload{Identity: nil})
	if got := len(b.ofType(chat.EventTypingStopped)); got != 0 {
		t.Fatalf("stop without marker must be silent, got %d", got)
	}
}

func TestChangeRoomRostersAndHistory(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")
	b := relay.connect("c2")
	relay.join(t, "c1", "alice", "general")
	relay.join(t, "c2", "bob", "random")
	relay.handle(t, "c2", chat.EventSend, chat.SendPayload{Text: "random room talk"})
	a.reset()
	b.reset()

	relay.handle(t, "c1", chat.EventChangeRoom, chat.ChangeRoomPayload{NewRoom: "random"})

	// Old room roster (now empty) is recomputed but has no remaining
	// listeners; the new room sees both members.
	rosters := b.ofType(chat.EventRoster)
	if len(rosters) != 1 {
		t.Fatalf("expected new-room roster broadcast, got %d", len(rosters))
	}
	roster := decodePayload[[]chat.RosterEntry](t, rosters[0])
	if len(roster) != 2 {
		t.Fatalf("expected both members in random, got %+v", roster)
	}

	histories := a.ofType(chat.EventHistory)
	if len(histories) != 1 {
		t.Fatalf("mover should receive new room history, got %d", len(histories))
	}
	msgs := decodePayload[[]chat.Message](t, histories[0])
	if len(msgs) != 1 || msgs[0].Room != "random" {
		t.Fatalf("unexpected history payload: %+v", msgs)
	}

	if len(b.ofType(chat.EventNotification)) != 1 {
		t.Fatal("new room should hear a join notification")
	}

	sess, _ := relay.sessions.Get("c1")
	if sess.Room != "random" {
		t.Fatalf("session room not updated: %q", sess.Room)
	}
}

func TestStatusChangeRebroadcastsRoster(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")
	b := relay.connect("c2")
	relay.join(t, "c1", "alice", "general")
	relay.join(t, "c2", "bob", "general")
	a.reset()
	b.reset()

	relay.handle(t, "c1", chat.EventStatusChange, chat.StatusChangePayload{Status: "away"})

	rosters := b.ofType(chat.EventRoster)
	if len(rosters) != 1 {
		t.Fatalf("expected roster rebroadcast, got %d", len(rosters))
	}
	roster := decodePayload[[]chat.RosterEntry](t, rosters[0])
	for _, entry := range roster {
		if entry.Identity == "alice" && entry.Status != chat.StatusAway {
			t.Fatalf("alice should be away, got %s", entry.Status)
		}
	}

	// Status change before join is a no-op.
	c := relay.connect("c3")
	relay.handle(t, "c3", chat.EventStatusChange, chat.StatusChangePayload{Status: "away"})
	if len(c.events()) != 0 {
		t.Fatal("unjoined status change must be silent")
	}
}

func TestScreenShareRelaysToOthersOnly(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")
	b := relay.connect("c2")
	c := relay.connect("c3")
	relay.join(t, "c1", "alice", "general")
	relay.join(t, "c2", "bob", "general")
	relay.join(t, "c3", "carol", "random")
	a.reset()
	b.reset()
	c.reset()

	payload := json.RawMessage(`{"sdp":"offer-blob"}`)
	relay.broker.Handle(context.Background(), "c1", chat.Event{Type: chat.EventScreenShareStart, Payload: payload})

	shares := b.ofType(chat.EventScreenShareStart)
	if len(shares) != 1 {
		t.Fatalf("room peer should receive the signal, got %d", len(shares))
	}
	if string(shares[0].Payload) != string(payload) {
		t.Fatalf("signal payload must relay verbatim, got %s", shares[0].Payload)
	}
	if len(a.ofType(chat.EventScreenShareStart)) != 0 {
		t.Fatal("signal must not echo to the sender")
	}
	if len(c.events()) != 0 {
		t.Fatal("signal must not cross rooms")
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	relay := newRelay(t, time.Minute)
	relay.connect("c1")
	b := relay.connect("c2")
	relay.join(t, "c1", "alice", "general")
	relay.join(t, "c2", "bob", "general")

	alice := "alice"
	relay.handle(t, "c1", chat.EventTyping, chat.TypingPayload{Identity: &alice})
	b.reset()

	relay.broker.Disconnect("c1")

	if relay.sessions.Len() != 1 {
		t.Fatalf("expected alice removed from registry, have %d sessions", relay.sessions.Len())
	}
	rosters := b.ofType(chat.EventRoster)
	if len(rosters) != 1 {
		t.Fatalf("expected roster update after disconnect, got %d", len(rosters))
	}
	if roster := decodePayload[[]chat.RosterEntry](t, rosters[0]); len(roster) != 1 || roster[0].Identity != "bob" {
		t.Fatalf("unexpected roster after disconnect: %+v", roster)
	}
	if len(b.ofType(chat.EventNotification)) != 1 {
		t.Fatal("expected leave notification")
	}

	// Repeat disconnects are no-ops.
	b.reset()
	relay.broker.Disconnect("c1")
	if len(b.events()) != 0 {
		t.Fatalf("second disconnect must be silent, got %v", b.events())
	}

	// The cancelled typing marker must not fire a stop later.
	time.Sleep(50 * time.Millisecond)
	if len(b.ofType(chat.EventTypingStopped)) != 0 {
		t.Fatal("disconnect must cancel pending typing expiry")
	}
}

func TestRosterConsistencyAfterChurn(t *testing.T) {
	relay := newRelay(t, 0)
	relay.connect("c1")
	relay.connect("c2")
	relay.connect("c3")
	relay.join(t, "c1", "alice", "general")
	relay.join(t, "c2", "bob", "general")
	relay.join(t, "c3", "carol", "random")
	relay.handle(t, "c2", chat.EventChangeRoom, chat.ChangeRoomPayload{NewRoom: "random"})
	relay.broker.Disconnect("c3")

	byRoom := map[string][]string{}
	for _, room := range []string{"general", "random"} {
		for _, sess := range relay.sessions.InRoom(room) {
			byRoom[room] = append(byRoom[room], sess.Identity)
		}
	}
	if len(byRoom["general"]) != 1 || byRoom["general"][0] != "alice" {
		t.Fatalf("general roster wrong: %v", byRoom["general"])
	}
	if len(byRoom["random"]) != 1 || byRoom["random"][0] != "bob" {
		t.Fatalf("random roster wrong: %v", byRoom["random"])
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	relay := newRelay(t, 0)
	a := relay.connect("c1")
	relay.join(t, "c1", "alice", "general")
	a.reset()

	relay.broker.Handle(context.Background(), "c1", chat.Event{Type: "timeTravel", Payload: json.RawMessage(`{}`)})

	if len(a.events()) != 0 {
		t.Fatalf("unknown events must be ignored, got %v", a.events())
	}
}
