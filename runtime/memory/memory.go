// Package memory manages user profiles and conversation history and builds
// the context handed to the agent at the start of each run.
package memory

import (
	"context"
	"errors"
	"time"
)

type (
	// Profile describes a user and their standing instructions.
	Profile struct {
		UserID string `json:"user_id" bson:"user_id"`
		// DisplayName is the preferred name used in responses.
		DisplayName string `json:"display_name,omitempty" bson:"display_name,omitempty"`
		// Instructions are standing directives injected into the system prompt.
		Instructions string `json:"instructions,omitempty" bson:"instructions,omitempty"`
		// Preferences holds response-shaping hints rendered into the system
		// prompt; recognized keys are tone, verbosity and language.
		Preferences map[string]string `json:"preferences,omitempty" bson:"preferences,omitempty"`
		// AllowedCategories restricts which API categories the agent may use.
		// Empty means unrestricted.
		AllowedCategories []string `json:"api_permissions,omitempty" bson:"api_permissions,omitempty"`

		CreatedAt time.Time `json:"created_at" bson:"created_at"`
		UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	}

	// Message is one conversation turn.
	Message struct {
		Role      string         `json:"role" bson:"role"` // user or assistant
		Content   string         `json:"content" bson:"content"`
		Metadata  map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
		CreatedAt time.Time      `json:"created_at" bson:"created_at"`
	}

	// Conversation identifies a message thread owned by a user.
	Conversation struct {
		ID        string    `json:"conversation_id" bson:"conversation_id"`
		UserID    string    `json:"user_id" bson:"user_id"`
		Title     string    `json:"title,omitempty" bson:"title,omitempty"`
		CreatedAt time.Time `json:"created_at" bson:"created_at"`
		UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	}

	// Summary describes a conversation at a glance.
	Summary struct {
		ConversationID string    `json:"conversation_id"`
		MessageCount   int       `json:"message_count"`
		LastActivity   time.Time `json:"last_activity"`
	}

	// Store persists profiles and conversations.
	Store interface {
		// GetOrCreateProfile loads the profile, creating a default one on
		// first sight of the user.
		GetOrCreateProfile(ctx context.Context, userID string) (*Profile, error)
		// SaveProfile upserts the profile.
		SaveProfile(ctx context.Context, profile *Profile) error
		// CreateConversation starts a new thread.
		CreateConversation(ctx context.Context, userID, title string) (*Conversation, error)
		// AppendMessage adds a message to the conversation.
		AppendMessage(ctx context.Context, conversationID string, msg Message) error
		// RecentMessages returns up to n most recent messages, oldest first.
		RecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error)
		// Summary reports message count and last activity.
		Summary(ctx context.Context, conversationID string) (*Summary, error)
	}
)

// ErrConversationNotFound is returned for unknown conversation IDs.
var ErrConversationNotFound = errors.New("conversation not found")
