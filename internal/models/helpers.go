// Package models defines the chat data structures shared by the transport,
// the stores and the controller.
package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// LocalIDPrefix marks conversations that live in the ephemeral local store.
const LocalIDPrefix = "local-"

// maxTitleRunes is the number of characters of the first message kept as title.
const maxTitleRunes = 40

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// MustRecordIDString extracts the string ID, panicking if not a string.
// Use only when you're certain the ID is a string (e.g., after DB operations that return strings).
func MustRecordIDString(id surrealmodels.RecordID) string {
	s, err := RecordIDString(id)
	if err != nil {
		panic(err)
	}
	return s
}

// TitleFromText derives a conversation title from the first user message.
func TitleFromText(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= maxTitleRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxTitleRunes]) + "..."
}

// NewLocalConversationID returns a fresh id carrying the local marker.
func NewLocalConversationID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", LocalIDPrefix, now.UnixMilli(), uuid.New().String()[:8])
}

// IsLocalID reports whether a conversation id belongs to the local store.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// NewMessageID returns a client-generated id with the given prefix,
// e.g. "user", "streaming" or "msg".
func NewMessageID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}
