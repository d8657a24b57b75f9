package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ioc-platform/agentcore/runtime/agent/telemetry"
	"github.com/ioc-platform/agentcore/runtime/model"
)

// defaultMaxHistory bounds the history included in a run context.
const defaultMaxHistory = 10

type (
	// ContextBuilderOptions configures the ContextBuilder.
	ContextBuilderOptions struct {
		// Store persists profiles and conversations. Required.
		Store Store
		// MaxHistory bounds included history messages. Defaults to 10.
		MaxHistory int
		// Logger receives structured logs. Defaults to noop.
		Logger telemetry.Logger
	}

	// ContextBuilder assembles run context from profile and history.
	ContextBuilder struct {
		store      Store
		maxHistory int
		logger     telemetry.Logger
	}

	// RunContext is everything the agent knows before the first think step.
	RunContext struct {
		UserID             string
		ConversationID     string
		Profile            *Profile
		History            []Message
		SystemInstructions string
		Query              string
	}
)

// NewContextBuilder constructs a ContextBuilder.
func NewContextBuilder(opts ContextBuilderOptions) (*ContextBuilder, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &ContextBuilder{store: opts.Store, maxHistory: maxHistory, logger: logger}, nil
}

// Build assembles the run context: profile (created on first use), recent
// history when a conversation is given, and the system instructions derived
// from the profile.
func (b *ContextBuilder) Build(ctx context.Context, userID, conversationID, query string) (*RunContext, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	profile, err := b.store.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	var history []Message
	if conversationID != "" {
		history, err = b.store.RecentMessages(ctx, conversationID, b.maxHistory)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	b.logger.Debug(ctx, "run context built", "user_id", userID, "history", len(history))
	return &RunContext{
		UserID:             userID,
		ConversationID:     conversationID,
		Profile:            profile,
		History:            history,
		SystemInstructions: systemInstructions(profile),
		Query:              query,
	}, nil
}

// Messages renders the context as a model conversation: system instructions,
// history, then the current query.
func (rc *RunContext) Messages() []model.Message {
	msgs := make([]model.Message, 0, len(rc.History)+2)
	if rc.SystemInstructions != "" {
		msgs = append(msgs, model.SystemMessage(rc.SystemInstructions))
	}
	for _, m := range rc.History {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, model.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, model.UserMessage(m.Content))
		}
	}
	if rc.Query != "" {
		msgs = append(msgs, model.UserMessage(rc.Query))
	}
	return msgs
}

// SaveInteraction appends the user query and the assistant answer to the
// conversation; run metadata rides on the assistant message.
func (b *ContextBuilder) SaveInteraction(ctx context.Context, conversationID, userMessage, assistantMessage string, metadata map[string]any) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	if err := b.store.AppendMessage(ctx, conversationID, Message{Role: "user", Content: userMessage}); err != nil {
		return err
	}
	if err := b.store.AppendMessage(ctx, conversationID, Message{
		Role:     "assistant",
		Content:  assistantMessage,
		Metadata: metadata,
	}); err != nil {
		return err
	}
	b.logger.Info(ctx, "interaction saved", "conversation_id", conversationID)
	return nil
}

// StartConversation creates a conversation and returns its initial context.
func (b *ContextBuilder) StartConversation(ctx context.Context, userID, title string) (*RunContext, error) {
	conv, err := b.store.CreateConversation(ctx, userID, title)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, userID, conv.ID, "")
}

// Summary reports message count and last activity for a conversation.
func (b *ContextBuilder) Summary(ctx context.Context, conversationID string) (*Summary, error) {
	return b.store.Summary(ctx, conversationID)
}

// systemInstructions derives the system prompt from the profile.
func systemInstructions(profile *Profile) string {
	parts := []string{
		"You are a helpful AI assistant that can call external APIs to help users.",
		"Follow the ReAct pattern: Think → Act → Observe → Reflect.",
	}
	if profile.Instructions != "" {
		parts = append(parts, "\n"+profile.Instructions)
	}
	if prefs := renderPreferences(profile.Preferences); prefs != "" {
		parts = append(parts, "\nResponse preferences: "+prefs)
	}
	if len(profile.AllowedCategories) > 0 {
		parts = append(parts, fmt.Sprintf("\nYou can only use APIs from these categories: %s",
			strings.Join(profile.AllowedCategories, ", ")))
	}
	return strings.Join(parts, "\n")
}

// renderPreferences formats the recognized preference keys in a fixed order
// so the system prompt stays deterministic.
func renderPreferences(prefs map[string]string) string {
	var out []string
	for _, key := range []string{"tone", "verbosity", "language"} {
		if v := prefs[key]; v != "" {
			out = append(out, key+": "+v)
		}
	}
	return strings.Join(out, ", ")
}
