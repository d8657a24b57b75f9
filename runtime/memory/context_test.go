package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioc-platform/agentcore/runtime/memory"
	memorymem "github.com/ioc-platform/agentcore/runtime/memory/store/memory"
	"github.com/ioc-platform/agentcore/runtime/model"
)

func newBuilder(t *testing.T, maxHistory int) (*memory.ContextBuilder, *memorymem.Store) {
	t.Helper()
	store := memorymem.New()
	b, err := memory.NewContextBuilder(memory.ContextBuilderOptions{Store: store, MaxHistory: maxHistory})
	require.NoError(t, err)
	return b, store
}

func TestBuildCreatesProfileOnFirstUse(t *testing.T) {
	ctx := context.Background()
	b, _ := newBuilder(t, 0)

	rc, err := b.Build(ctx, "u1", "", "xin chào")
	require.NoError(t, err)
	require.NotNil(t, rc.Profile)
	assert.Equal(t, "u1", rc.Profile.UserID)
	assert.Empty(t, rc.History)
	assert.Contains(t, rc.SystemInstructions, "ReAct")
	assert.Equal(t, "xin chào", rc.Query)
}

func TestBuildIncludesProfileInstructionsAndPermissions(t *testing.T) {
	ctx := context.Background()
	b, store := newBuilder(t, 0)

	profile, err := store.GetOrCreateProfile(ctx, "u1")
	require.NoError(t, err)
	profile.Instructions = "Always answer in Vietnamese."
	profile.AllowedCategories = []string{"energy", "water"}
	require.NoError(t, store.SaveProfile(ctx, profile))

	rc, err := b.Build(ctx, "u1", "", "q")
	require.NoError(t, err)
	assert.Contains(t, rc.SystemInstructions, "Always answer in Vietnamese.")
	assert.Contains(t, rc.SystemInstructions, "energy, water")
}

func TestBuildRendersPreferences(t *testing.T) {
	ctx := context.Background()
	b, store := newBuilder(t, 0)

	profile, err := store.GetOrCreateProfile(ctx, "u1")
	require.NoError(t, err)
	profile.Preferences = map[string]string{
		"language":  "vi",
		"tone":      "formal",
		"verbosity": "concise",
		"theme":     "dark", // unrecognized keys are ignored
	}
	require.NoError(t, store.SaveProfile(ctx, profile))

	rc, err := b.Build(ctx, "u1", "", "q")
	require.NoError(t, err)
	assert.Contains(t, rc.SystemInstructions,
		"Response preferences: tone: formal, verbosity: concise, language: vi")
	assert.NotContains(t, rc.SystemInstructions, "dark")
}

func TestBuildWithoutPreferencesOmitsSection(t *testing.T) {
	ctx := context.Background()
	b, _ := newBuilder(t, 0)

	rc, err := b.Build(ctx, "u1", "", "q")
	require.NoError(t, err)
	assert.NotContains(t, rc.SystemInstructions, "Response preferences")
}

func TestBuildLoadsRecentHistory(t *testing.T) {
	ctx := context.Background()
	b, store := newBuilder(t, 2)

	conv, err := store.CreateConversation(ctx, "u1", "thread")
	require.NoError(t, err)
	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, store.AppendMessage(ctx, conv.ID, memory.Message{Role: "user", Content: content}))
	}

	rc, err := b.Build(ctx, "u1", conv.ID, "q")
	require.NoError(t, err)
	require.Len(t, rc.History, 2, "history is capped at MaxHistory")
	assert.Equal(t, "second", rc.History[0].Content)
	assert.Equal(t, "third", rc.History[1].Content)
}

func TestBuildUnknownConversationFails(t *testing.T) {
	b, _ := newBuilder(t, 0)
	_, err := b.Build(context.Background(), "u1", "nope", "q")
	assert.ErrorIs(t, err, memory.ErrConversationNotFound)
}

func TestRunContextMessagesOrdering(t *testing.T) {
	rc := &memory.RunContext{
		SystemInstructions: "be helpful",
		History: []memory.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
		Query: "what now",
	}

	msgs := rc.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
	assert.Equal(t, model.RoleAssistant, msgs[2].Role)
	assert.Equal(t, model.RoleUser, msgs[3].Role)
	assert.Equal(t, "what now", msgs[3].Content)
}

func TestSaveInteraction(t *testing.T) {
	ctx := context.Background()
	b, store := newBuilder(t, 0)

	conv, err := store.CreateConversation(ctx, "u1", "")
	require.NoError(t, err)

	meta := map[string]any{"run_id": "r1", "status": "completed"}
	require.NoError(t, b.SaveInteraction(ctx, conv.ID, "câu hỏi", "câu trả lời", meta))

	msgs, err := store.RecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "câu hỏi", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, meta, msgs[1].Metadata)

	summary, err := b.Summary(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.MessageCount)
	assert.False(t, summary.LastActivity.IsZero())
}

func TestStartConversation(t *testing.T) {
	ctx := context.Background()
	b, _ := newBuilder(t, 0)

	rc, err := b.StartConversation(ctx, "u1", "ops questions")
	require.NoError(t, err)
	assert.NotEmpty(t, rc.ConversationID)
	assert.Empty(t, rc.History)
}
