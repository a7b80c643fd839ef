package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/atlascall/sales-copilot/backend/internal/config"
	"github.com/atlascall/sales-copilot/backend/internal/model/call"
	"github.com/atlascall/sales-copilot/backend/internal/stage"
)

// Unit names a specialist reasoning profile. One unit per stage, plus the
// interrupt unit selected out-of-band by the interrupt handler.
type Unit string

const (
	UnitOpening   Unit = "opening"
	UnitDiscovery Unit = "discovery"
	UnitPitch     Unit = "pitch"
	UnitObjection Unit = "objection"
	UnitClosing   Unit = "closing"
	UnitInterrupt Unit = "interrupt"
)

// UnitForStage maps a sales stage to its specialist unit.
func UnitForStage(st stage.Stage) Unit {
	switch st {
	case stage.Opening:
		return UnitOpening
	case stage.Pitch:
		return UnitPitch
	case stage.Objection:
		return UnitObjection
	case stage.Closing:
		return UnitClosing
	}
	return UnitDiscovery
}

// ErrBackendUnavailable wraps reasoning backend failures so callers can
// apply the retry/degrade policy without inspecting provider errors.
var ErrBackendUnavailable = errors.New("reasoning backend unavailable")

// Request carries everything a specialist unit needs for one suggestion.
type Request struct {
	SessionID string
	Unit      Unit
	Stage     stage.Stage
	Turns     []call.Turn
	Profile   call.Profile
	Query     string
}

// Service drives the reasoning backend through a single compiled
// prompt -> model chain; the specialist units differ only in the system
// prompt handed to it.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
	prompts   *UnitPromptManager
}

// NewService creates the AI service from the Ark model configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile suggestion chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
		prompts:   NewUnitPromptManager(),
	}, nil
}

// Generate produces one coaching suggestion for the request's unit. The
// call respects ctx deadlines; failures surface as ErrBackendUnavailable.
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	input := map[string]any{
		"system":  s.prompts.BuildSystemPrompt(req.Unit, req.Profile),
		"history": buildHistoryMessages(req.Turns),
		"query":   buildQuery(req),
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	text := strings.TrimSpace(response.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrBackendUnavailable)
	}

	log.Printf("[ai] generated suggestion session=%s unit=%s length=%d", req.SessionID, req.Unit, len(text))
	return text, nil
}

// historyLimit bounds how many turns are replayed to the model.
const historyLimit = 10

func buildHistoryMessages(turns []call.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	start := 0
	if len(turns) > historyLimit {
		start = len(turns) - historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-start)
	for _, t := range turns[start:] {
		switch t.Speaker {
		case call.SpeakerCustomer:
			history = append(history, schema.UserMessage(t.Text))
		case call.SpeakerRep:
			history = append(history, schema.AssistantMessage(t.Text, nil))
		}
	}
	return history
}

func buildQuery(req Request) string {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = "(no customer input yet)"
	}
	if req.Unit == UnitInterrupt {
		return fmt.Sprintf("The conversation was interrupted while in the %s stage. Last customer input: %s", req.Stage, query)
	}
	return query
}
