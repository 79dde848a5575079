package reply

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/mlevan/parley/internal/config"
)

const arkSystemPrompt = "You are the resident reply bot of a small chat relay. " +
	"Respond to the user's message in one or two short sentences. " +
	"Be direct and conversational; no markdown."

// ArkOracle generates replies through an Ark-hosted chat model behind an eino
// chain (prompt template into chat model).
type ArkOracle struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewArkOracle builds and compiles the reply chain. It fails when Ark
// credentials are missing or the chain cannot compile; callers are expected to
// fall back to the canned oracle.
func NewArkOracle(ctx context.Context, cfg config.AIConfig) (*ArkOracle, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}

	return &ArkOracle{chatModel: chatModel, chain: runnable}, nil
}

// Generate runs the chain for one message text.
func (a *ArkOracle) Generate(ctx context.Context, text string) (string, error) {
	response, err := a.chain.Invoke(ctx, map[string]any{
		"system": arkSystemPrompt,
		"query":  text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run reply chain: %w", err)
	}

	log.Printf("[reply] ark generated %d chars", len(response.Content))
	return response.Content, nil
}

// Name identifies the oracle in logs and metrics.
func (a *ArkOracle) Name() string { return "ark" }
