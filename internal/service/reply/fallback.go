package reply

import (
	"context"
	"log"
)

// fallbackOracle tries the primary oracle and falls back when it fails, so a
// flaky model endpoint never leaves a message without a reply.
type fallbackOracle struct {
	primary  Oracle
	fallback Oracle
}

// WithFallback chains two oracles. When primary is nil the fallback is
// returned directly.
func WithFallback(primary, fallback Oracle) Oracle {
	if primary == nil {
		return fallback
	}
	return &fallbackOracle{primary: primary, fallback: fallback}
}

func (f *fallbackOracle) Generate(ctx context.Context, text string) (string, error) {
	out, err := f.primary.Generate(ctx, text)
	if err == nil {
		return out, nil
	}
	log.Printf("[reply] %s oracle failed, falling back to %s: %v", f.primary.Name(), f.fallback.Name(), err)
	return f.fallback.Generate(ctx, text)
}

func (f *fallbackOracle) Name() string { return f.primary.Name() }
