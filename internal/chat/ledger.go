package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"booktalk/pkg/domain"
	"booktalk/pkg/store"
)

const defaultHistoryLimit = 50

// Ledger owns message history and conversation summaries: ordered paginated
// history, denormalized last-message rows, per-role unread counters, and
// read-state transitions.
type Ledger struct {
	store store.ChatStore
	now   func() time.Time
	newID func() string
}

// NewLedger builds a ledger over the given store.
func NewLedger(s store.ChatStore) *Ledger {
	return &Ledger{store: s, now: time.Now, newID: uuid.NewString}
}

// DeriveConversationID maps a (customer, admin) pair to its thread ID. The
// format is a fixed composite key, so the same pair always lands in the
// same thread across calls and restarts.
func DeriveConversationID(customerID, adminID string) string {
	return fmt.Sprintf("customer#%s#admin#%s", customerID, adminID)
}

// SaveMessage assigns a fresh ID and timestamp, persists, and returns the
// full row. Field validation happens upstream.
func (l *Ledger) SaveMessage(msg domain.Message) (domain.Message, error) {
	msg.ID = l.newID()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = l.now().UTC()
	}
	if msg.Type == "" {
		msg.Type = domain.MessageTypeText
	}
	if err := l.store.SaveMessage(msg); err != nil {
		return domain.Message{}, &store.StorageError{Op: "save message", Err: err}
	}
	return msg, nil
}

// Messages returns one chronological page of a conversation: the most
// recent limit messages, or, with a non-zero before, messages strictly
// older than it. Repeated calls with the oldest timestamp seen as the next
// before walk the full history without duplicates.
func (l *Ledger) Messages(conversationID string, limit int, before time.Time) ([]domain.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	msgs, err := l.store.ListMessages(conversationID, limit, before)
	if err != nil {
		return nil, &store.StorageError{Op: "list messages", Err: err}
	}
	return msgs, nil
}

// RecordConversation creates or updates the pair's thread for a new last
// message. The unread counter of whichever role did not send it goes up by
// one; on create the other counters start at zero.
func (l *Ledger) RecordConversation(customer domain.Identity, admin domain.Identity, last domain.LastMessage) (domain.Conversation, error) {
	recipient := domain.RoleAdmin
	if last.SenderID == admin.UserID {
		recipient = domain.RoleCustomer
	}
	now := l.now().UTC()
	conv := domain.Conversation{
		ID:            DeriveConversationID(customer.UserID, admin.UserID),
		CustomerID:    customer.UserID,
		CustomerName:  customer.Name,
		CustomerEmail: customer.Email,
		AdminID:       admin.UserID,
		AdminName:     admin.Name,
		LastMessage:   last,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        domain.ConversationActive,
	}
	if recipient == domain.RoleAdmin {
		conv.Unread.Admin = 1
	} else {
		conv.Unread.Customer = 1
	}
	stored, err := l.store.UpsertConversationOnSend(conv, recipient)
	if err != nil {
		return domain.Conversation{}, &store.StorageError{Op: "upsert conversation", Err: err}
	}
	return stored, nil
}

// Conversation returns one thread by ID.
func (l *Ledger) Conversation(conversationID string) (domain.Conversation, bool, error) {
	conv, ok, err := l.store.GetConversation(conversationID)
	if err != nil {
		return domain.Conversation{}, false, &store.StorageError{Op: "get conversation", Err: err}
	}
	return conv, ok, nil
}

// ConversationsByAdmin returns the admin's threads, most recently updated
// first.
func (l *Ledger) ConversationsByAdmin(adminID string) ([]domain.Conversation, error) {
	convs, err := l.store.ListConversationsByAdmin(adminID)
	if err != nil {
		return nil, &store.StorageError{Op: "list conversations", Err: err}
	}
	return convs, nil
}

// ConversationByCustomer returns the customer's thread, if any.
func (l *Ledger) ConversationByCustomer(customerID string) (domain.Conversation, bool, error) {
	conv, ok, err := l.store.GetConversationByCustomer(customerID)
	if err != nil {
		return domain.Conversation{}, false, &store.StorageError{Op: "get conversation", Err: err}
	}
	return conv, ok, nil
}

// MarkMessagesRead flips every unread message addressed to recipientID in
// the conversation to read with a shared readAt, and resets the recipient
// side's unread counter. The store runs both steps in one transaction.
// Returns the number of messages flipped.
func (l *Ledger) MarkMessagesRead(conversationID, recipientID string) (int, error) {
	n, err := l.store.MarkMessagesRead(conversationID, recipientID, l.now().UTC())
	if err != nil {
		if err == store.ErrNotFound {
			return 0, store.ErrNotFound
		}
		return 0, &store.StorageError{Op: "mark messages read", Err: err}
	}
	return n, nil
}

// UnreadMessages returns unread messages addressed to recipientID.
func (l *Ledger) UnreadMessages(conversationID, recipientID string) ([]domain.Message, error) {
	msgs, err := l.store.ListUnreadMessages(conversationID, recipientID)
	if err != nil {
		return nil, &store.StorageError{Op: "list unread messages", Err: err}
	}
	return msgs, nil
}

// UnreadCount sums the admin-side unread counter across all conversations
// where userID is the admin party.
func (l *Ledger) UnreadCount(userID string) (int, error) {
	n, err := l.store.SumAdminUnread(userID)
	if err != nil {
		return 0, &store.StorageError{Op: "sum unread", Err: err}
	}
	return n, nil
}
