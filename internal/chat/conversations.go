package chat

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/livechat/internal/models"
)

// Conversations lists the caller's conversations, most recent first.
func (c *Controller) Conversations(ctx context.Context) ([]models.Conversation, error) {
	convs, err := c.store.ListConversations(ctx)
	if err != nil {
		c.mu.Lock()
		c.noticeLocked(NoticeError, "Failed to load conversations")
		c.mu.Unlock()
		c.flush()
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// NewConversation clears the active conversation and message list. Stored
// data is untouched; the next send creates a fresh conversation.
func (c *Controller) NewConversation() {
	c.mu.Lock()
	c.detachLocked()
	c.conversationID = ""
	c.messages = nil
	c.publishLocked(Event{Kind: EventConversation})
	c.noticeLocked(NoticeInfo, "New conversation started")
	c.mu.Unlock()
	c.flush()
}

// SelectConversation makes id active and loads its history.
func (c *Controller) SelectConversation(ctx context.Context, id string) error {
	msgs, err := c.store.ListMessages(ctx, id)
	if err != nil {
		c.mu.Lock()
		c.noticeLocked(NoticeError, "Failed to load messages")
		c.mu.Unlock()
		c.flush()
		return fmt.Errorf("load conversation %s: %w", id, err)
	}

	c.mu.Lock()
	if c.conversationID != id {
		c.detachLocked()
	}
	c.conversationID = id
	c.messages = msgs
	if c.cycle != nil && c.cycle.conversationID == id && !c.cycle.attached {
		// back on the conversation with a running reply: show it again
		if open, ok := c.assembler.Open(); ok {
			c.messages = append(c.messages, open)
		}
		c.cycle.attached = true
	}
	c.publishLocked(Event{Kind: EventConversation})
	c.mu.Unlock()
	c.flush()
	return nil
}

// DeleteConversation removes a stored conversation and clears the view if
// it was active.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	if err := c.store.DeleteConversation(ctx, id); err != nil {
		c.mu.Lock()
		c.noticeLocked(NoticeError, "Failed to delete conversation")
		c.mu.Unlock()
		c.flush()
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}

	c.mu.Lock()
	if c.conversationID == id {
		c.detachLocked()
		c.conversationID = ""
		c.messages = nil
		c.publishLocked(Event{Kind: EventConversation})
	}
	c.noticeLocked(NoticeInfo, "Conversation deleted")
	c.mu.Unlock()
	c.flush()
	return nil
}

// detachLocked stops showing a running reply; it is still persisted into
// its own conversation. Caller must hold mu.
func (c *Controller) detachLocked() {
	if c.cycle != nil {
		c.cycle.attached = false
	}
	c.loading = false
}
