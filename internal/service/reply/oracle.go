package reply

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// Oracle produces the generated reply paired with every relayed message. The
// broker treats it as an external collaborator: it must not touch relay state
// and should be quick, since slow oracles delay only the sending connection.
type Oracle interface {
	Generate(ctx context.Context, text string) (string, error)
	Name() string
}

// Canned is the fallback oracle: a randomized template response, always
// available and never failing.
type Canned struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCanned seeds a canned responder.
func NewCanned(seed int64) *Canned {
	return &Canned{rng: rand.New(rand.NewSource(seed))}
}

var cannedTemplates = []string{
	"Great question! %s is interesting.",
	"Let me think about %s...",
	"%s requires careful consideration.",
	"That's a creative prompt: %s",
	"Analyzing %s now...",
	"🤔 Interesting perspective on %s",
	"💡 %s sparks some ideas!",
	"🚀 Let's explore %s further",
	"⭐ %s is worth discussing",
}

// Generate picks a random template and interpolates the prompt text.
func (c *Canned) Generate(_ context.Context, text string) (string, error) {
	c.mu.Lock()
	idx := c.rng.Intn(len(cannedTemplates))
	c.mu.Unlock()
	return fmt.Sprintf(cannedTemplates[idx], text), nil
}

// Name identifies the oracle in logs and metrics.
func (c *Canned) Name() string { return "canned" }
