package chat

import "time"

// Message is one accepted send, paired with its generated reply. Everything
// except Reactions is immutable once the message enters the history ring.
type Message struct {
	ID        string              `json:"id"`
	Author    string              `json:"author"`
	Avatar    string              `json:"avatar"`
	Role      Role                `json:"role"`
	Room      string              `json:"room"`
	Text      string              `json:"text"`
	Reply     string              `json:"reply"`
	Timestamp time.Time           `json:"timestamp"`
	IsPrivate bool                `json:"isPrivate"`
	Reactions map[string][]string `json:"reactions"`
}
