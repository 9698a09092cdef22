package store

import (
	"sort"
	"sync"
	"time"

	"booktalk/pkg/domain"
)

// MemoryStore keeps everything in-process. It implements both
// ConnectionStore and ChatStore and backs tests and local development.
type MemoryStore struct {
	mu            sync.RWMutex
	conns         map[string]domain.Connection
	messages      map[string][]domain.Message // key: conversation ID, chronological
	conversations map[string]domain.Conversation
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conns:         make(map[string]domain.Connection),
		messages:      make(map[string][]domain.Message),
		conversations: make(map[string]domain.Conversation),
	}
}

// SaveConnection stores or replaces a connection row.
func (m *MemoryStore) SaveConnection(conn domain.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID] = conn
	return nil
}

// GetConnection returns a connection by ID, treating expired rows as absent.
func (m *MemoryStore) GetConnection(id string) (domain.Connection, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[id]
	if !ok || conn.Expired(time.Now().UTC()) {
		return domain.Connection{}, false, nil
	}
	return conn, true, nil
}

// DeleteConnection removes the row if present.
func (m *MemoryStore) DeleteConnection(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
	return nil
}

// ListConnectionsByUser returns the user's non-expired connections.
func (m *MemoryStore) ListConnectionsByUser(userID string) ([]domain.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now().UTC()
	var res []domain.Connection
	for _, conn := range m.conns {
		if conn.UserID == userID && !conn.Expired(now) {
			res = append(res, conn)
		}
	}
	return res, nil
}

// SaveMessage appends a message, keeping the conversation chronological.
func (m *MemoryStore) SaveMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := append(m.messages[msg.ConversationID], msg)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	m.messages[msg.ConversationID] = msgs
	return nil
}

// ListMessages returns one chronological page, newest page when before is
// zero, strictly-older messages otherwise.
func (m *MemoryStore) ListMessages(conversationID string, limit int, before time.Time) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[conversationID]
	var eligible []domain.Message
	for _, msg := range all {
		if before.IsZero() || msg.Timestamp.Before(before) {
			eligible = append(eligible, msg)
		}
	}
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[len(eligible)-limit:]
	}
	res := make([]domain.Message, len(eligible))
	copy(res, eligible)
	return res, nil
}

// UpsertConversationOnSend mirrors the SQL upsert: create seeded from conv,
// or replace lastMessage/updatedAt and bump the recipient counter. The
// whole step runs under one lock, so increments cannot be lost.
func (m *MemoryStore) UpsertConversationOnSend(conv domain.Conversation, recipient domain.UserRole) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.conversations[conv.ID]
	if !ok {
		m.conversations[conv.ID] = conv
		return conv, nil
	}
	existing.LastMessage = conv.LastMessage
	existing.UpdatedAt = conv.UpdatedAt
	if recipient == domain.RoleAdmin {
		existing.Unread.Admin++
	} else {
		existing.Unread.Customer++
	}
	m.conversations[conv.ID] = existing
	return existing, nil
}

// GetConversation returns one conversation by ID.
func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	return conv, ok, nil
}

// ListConversationsByAdmin returns the admin's threads, most recently
// updated first.
func (m *MemoryStore) ListConversationsByAdmin(adminID string) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Conversation
	for _, conv := range m.conversations {
		if conv.AdminID == adminID {
			res = append(res, conv)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	return res, nil
}

// GetConversationByCustomer returns the customer's single thread, if any.
func (m *MemoryStore) GetConversationByCustomer(customerID string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		found domain.Conversation
		ok    bool
	)
	for _, conv := range m.conversations {
		if conv.CustomerID != customerID {
			continue
		}
		if !ok || conv.UpdatedAt.After(found.UpdatedAt) {
			found = conv
			ok = true
		}
	}
	return found, ok, nil
}

// MarkMessagesRead flips unread rows and resets the counter under one lock
// hold, mirroring the SQL transaction.
func (m *MemoryStore) MarkMessagesRead(conversationID, recipientID string, readAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return 0, ErrNotFound
	}
	flipped := 0
	msgs := m.messages[conversationID]
	for i := range msgs {
		if msgs[i].RecipientID == recipientID && !msgs[i].Read {
			msgs[i].Read = true
			at := readAt
			msgs[i].ReadAt = &at
			flipped++
		}
	}
	if recipientID == conv.AdminID {
		conv.Unread.Admin = 0
	} else {
		conv.Unread.Customer = 0
	}
	m.conversations[conversationID] = conv
	return flipped, nil
}

// ListUnreadMessages returns unread messages addressed to recipientID.
func (m *MemoryStore) ListUnreadMessages(conversationID, recipientID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Message
	for _, msg := range m.messages[conversationID] {
		if msg.RecipientID == recipientID && !msg.Read {
			res = append(res, msg)
		}
	}
	return res, nil
}

// SumAdminUnread totals the admin counter over the admin's conversations.
func (m *MemoryStore) SumAdminUnread(adminID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, conv := range m.conversations {
		if conv.AdminID == adminID {
			total += conv.Unread.Admin
		}
	}
	return total, nil
}
