// Package store persists conversations and messages behind one interface
// with two backends: an ephemeral local store for anonymous callers and a
// remote record store for signed-in owners. The backend is chosen once per
// operation from the caller's current identity.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/raphaelgruber/livechat/internal/models"
)

var (
	// ErrRemote marks a failed round-trip to the remote backend. It is
	// recoverable: callers surface it and carry on.
	ErrRemote = errors.New("remote store")

	// ErrRemoteUnavailable is returned when an owner is signed in but no
	// remote backend is configured.
	ErrRemoteUnavailable = errors.New("remote store not configured")

	// ErrConversationNotFound is returned when appending to an unknown conversation.
	ErrConversationNotFound = errors.New("conversation not found")
)

// Backend is implemented identically by the local and remote stores.
type Backend interface {
	// ListConversations returns conversations most recently updated first.
	ListConversations(ctx context.Context, owner string) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, owner, title string) (models.Conversation, error)
	// ListMessages returns messages in creation order.
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	// AppendMessage stores a message, assigns its durable id and bumps the
	// conversation's UpdatedAt.
	AppendMessage(ctx context.Context, conversationID string, role models.Role, content string) (models.Message, error)
	// DeleteConversation removes the conversation and all its messages.
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Identity is the caller on whose behalf an operation runs.
type Identity struct {
	OwnerKey string
}

// Anonymous reports whether no owner is signed in.
func (i Identity) Anonymous() bool {
	return strings.TrimSpace(i.OwnerKey) == ""
}

// IdentityProvider yields the caller's identity at the time of each call.
type IdentityProvider interface {
	Identity() Identity
}

// Session is a mutable IdentityProvider; signing in or out takes effect
// on the next store operation.
type Session struct {
	mu sync.RWMutex
	id Identity
}

// NewSession returns a session signed in as owner, or anonymous for "".
func NewSession(owner string) *Session {
	return &Session{id: Identity{OwnerKey: owner}}
}

func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) SignIn(owner string) {
	s.mu.Lock()
	s.id = Identity{OwnerKey: owner}
	s.mu.Unlock()
}

func (s *Session) SignOut() {
	s.mu.Lock()
	s.id = Identity{}
	s.mu.Unlock()
}

// Kind names a backend.
type Kind int

const (
	KindLocal Kind = iota
	KindRemote
)

func (k Kind) String() string {
	if k == KindRemote {
		return "remote"
	}
	return "local"
}

// Select is the single dispatch rule between backends. An anonymous caller
// or a local conversation id goes to the local store; an owner with a
// non-local id (or no id, for listing and creation) goes to the remote one.
func Select(id Identity, conversationID string) Kind {
	if id.Anonymous() || models.IsLocalID(conversationID) {
		return KindLocal
	}
	return KindRemote
}
