package history

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mlevan/parley/internal/model/chat"
)

// DefaultLimit is the process-wide message cap across all rooms.
const DefaultLimit = 100

// Service is the bounded FIFO message log shared by every room, plus the
// per-message reaction sets. Reaction toggles are read-modify-write and run
// under the same lock as appends, so a toggle never observes a half-evicted
// ring.
type Service struct {
	mu       sync.Mutex
	limit    int
	messages []chat.Message
	entropy  *ulid.MonotonicEntropy
}

// NewService creates an empty ring holding at most limit messages.
// Non-positive limits fall back to DefaultLimit.
func NewService(limit int) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{
		limit:   limit,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// NextID issues a time-ordered unique message id. Monotonic entropy keeps ids
// unique even for several messages within the same millisecond.
func (s *Service) NextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Append inserts msg at the tail, evicting the oldest entry when the ring is
// over capacity.
func (s *Service) Append(msg chat.Message) {
	if msg.Reactions == nil {
		msg.Reactions = make(map[string][]string)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if len(s.messages) > s.limit {
		s.messages = s.messages[len(s.messages)-s.limit:]
	}
}

// Get returns a copy of the message with the given id.
func (s *Service) Get(id string) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			return copyMessage(s.messages[i]), true
		}
	}
	return chat.Message{}, false
}

// InRoom returns the retained messages tagged with room, oldest first.
func (s *Service) InRoom(room string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, 0, len(s.messages))
	for i := range s.messages {
		if s.messages[i].Room == room {
			out = append(out, copyMessage(s.messages[i]))
		}
	}
	return out
}

// ToggleReaction flips identity's membership in the (id, symbol) reaction set:
// absent adds, present removes. It returns the message's full reaction map
// after the toggle. Unknown ids report ok=false; the message may simply have
// been evicted.
func (s *Service) ToggleReaction(id, symbol, identity string) (map[string][]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}

		msg := &s.messages[i]
		set := msg.Reactions[symbol]
		removed := false
		for j, who := range set {
			if who == identity {
				set = append(set[:j], set[j+1:]...)
				removed = true
				break
			}
		}
		if removed {
			if len(set) == 0 {
				delete(msg.Reactions, symbol)
			} else {
				msg.Reactions[symbol] = set
			}
		} else {
			msg.Reactions[symbol] = append(set, identity)
		}

		return copyReactions(msg.Reactions), true
	}
	return nil, false
}

// Len reports the number of retained messages across all rooms.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// copyMessage deep-copies the reaction map so callers never alias ring state.
func copyMessage(msg chat.Message) chat.Message {
	msg.Reactions = copyReactions(msg.Reactions)
	return msg
}

func copyReactions(reactions map[string][]string) map[string][]string {
	out := make(map[string][]string, len(reactions))
	for symbol, identities := range reactions {
		out[symbol] = append([]string(nil), identities...)
	}
	return out
}
