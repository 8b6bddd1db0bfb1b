package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/raphaelgruber/livechat/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreateConversation inserts a conversation owned by userID.
func (c *Client) CreateConversation(ctx context.Context, userID, title string) (*models.ConversationRecord, error) {
	results, err := surrealdb.Query[[]models.ConversationRecord](ctx, c.db, `
		CREATE type::record("chat_conversation", $id) SET
			user_id = $user_id,
			title = $title,
			created_at = time::now(),
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"id":      uuid.New().String(),
		"user_id": userID,
		"title":   title,
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create conversation: empty result")
	}
	return &(*results)[0].Result[0], nil
}

// ListConversations returns the user's conversations, most recently updated first.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]models.ConversationRecord, error) {
	results, err := surrealdb.Query[[]models.ConversationRecord](ctx, c.db, `
		SELECT * FROM chat_conversation
		WHERE user_id = $user_id
		ORDER BY updated_at DESC
	`, map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.ConversationRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// ListMessages returns the messages of a conversation in creation order.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.MessageRecord, error) {
	results, err := surrealdb.Query[[]models.MessageRecord](ctx, c.db, `
		SELECT * FROM chat_message
		WHERE conversation = type::record("chat_conversation", $id)
		ORDER BY created_at ASC
	`, map[string]any{"id": conversationID})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.MessageRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// CreateMessage appends a message and bumps the parent's updated_at.
// Returns ErrNotFound if the conversation does not exist.
func (c *Client) CreateMessage(ctx context.Context, conversationID string, role models.Role, content string) (*models.MessageRecord, error) {
	sql := fmt.Sprintf(`
		LET $conv = type::record("chat_conversation", $conversation_id);
		IF !record::exists($conv) {
			THROW %q
		};

		UPDATE $conv SET updated_at = time::now() RETURN NONE;

		CREATE type::record("chat_message", $id) SET
			conversation = $conv,
			role = $role,
			content = $content,
			created_at = time::now()
		RETURN AFTER;
	`, conversationMissing)

	results, err := surrealdb.Query[[]models.MessageRecord](ctx, c.db, sql, map[string]any{
		"conversation_id": conversationID,
		"id":              uuid.New().String(),
		"role":            string(role),
		"content":         content,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", wrapQueryError(err))
	}

	// the CREATE is the last statement
	if results == nil || len(*results) == 0 {
		return nil, fmt.Errorf("create message: empty result")
	}
	last := (*results)[len(*results)-1]
	if len(last.Result) == 0 {
		return nil, fmt.Errorf("create message: empty result")
	}
	return &last.Result[0], nil
}

// DeleteConversation removes a conversation and all its messages.
// Deleting a missing conversation is not an error.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		LET $conv = type::record("chat_conversation", $id);
		DELETE chat_message WHERE conversation = $conv;
		DELETE $conv;
	`, map[string]any{"id": conversationID})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", wrapQueryError(err))
	}
	return nil
}
