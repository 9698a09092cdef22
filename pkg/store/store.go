// Package store defines the persistence contracts of the messaging service
// and their gorm, redis, and in-memory implementations.
package store

import (
	"errors"
	"fmt"
	"time"

	"booktalk/pkg/domain"
)

// ErrNotFound reports that the addressed row does not exist.
var ErrNotFound = errors.New("not found")

// StorageError wraps a backend failure with the operation that hit it.
// Callers treat it as retryable: the request failed, the data did not change
// in an unknown way.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ConnectionStore persists the connection table: transport connection IDs
// mapped to authenticated users, with an absolute expiry per row. Expired
// rows read as absent.
type ConnectionStore interface {
	// SaveConnection stores or replaces the row keyed by conn.ID.
	SaveConnection(conn domain.Connection) error
	// GetConnection returns the row, or ok=false if absent or expired.
	GetConnection(id string) (domain.Connection, bool, error)
	// DeleteConnection removes the row; absent rows are a no-op.
	DeleteConnection(id string) error
	// ListConnectionsByUser returns the user's non-expired connections.
	ListConnectionsByUser(userID string) ([]domain.Connection, error)
}

// ChatStore persists messages and conversation summaries.
type ChatStore interface {
	// SaveMessage appends one message to its conversation.
	SaveMessage(msg domain.Message) error
	// ListMessages returns one chronological page: the most recent limit
	// messages when before is zero, messages strictly older than before
	// otherwise.
	ListMessages(conversationID string, limit int, before time.Time) ([]domain.Message, error)
	// UpsertConversationOnSend creates the conversation seeded from conv, or
	// updates lastMessage/updatedAt and atomically increments the recipient
	// side's unread counter. Returns the stored row.
	UpsertConversationOnSend(conv domain.Conversation, recipient domain.UserRole) (domain.Conversation, error)
	// GetConversation returns one conversation, or ok=false if absent.
	GetConversation(id string) (domain.Conversation, bool, error)
	// ListConversationsByAdmin returns the admin's conversations, most
	// recently updated first.
	ListConversationsByAdmin(adminID string) ([]domain.Conversation, error)
	// GetConversationByCustomer returns the customer's conversation, if any.
	GetConversationByCustomer(customerID string) (domain.Conversation, bool, error)
	// MarkMessagesRead flips every unread message addressed to recipientID
	// in the conversation to read at readAt and resets the recipient side's
	// unread counter, all in one transaction. Returns the number flipped,
	// or ErrNotFound for an unknown conversation.
	MarkMessagesRead(conversationID, recipientID string, readAt time.Time) (int, error)
	// ListUnreadMessages returns unread messages addressed to recipientID.
	ListUnreadMessages(conversationID, recipientID string) ([]domain.Message, error)
	// SumAdminUnread totals the admin-side unread counter across the
	// admin's conversations.
	SumAdminUnread(adminID string) (int, error)
}
