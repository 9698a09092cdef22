package chat

import (
	"fmt"
	"testing"
	"time"

	"booktalk/pkg/domain"
	"booktalk/pkg/store"
)

func newTestLedger() (*Ledger, *steppedClock) {
	clock := &steppedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := NewLedger(store.NewMemoryStore())
	l.now = clock.Now
	seq := 0
	l.newID = func() string {
		seq++
		return fmt.Sprintf("msg-%04d", seq)
	}
	return l, clock
}

// steppedClock advances by one second per reading so every message gets a
// distinct timestamp.
type steppedClock struct {
	t time.Time
}

func (c *steppedClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

var (
	testCustomer = domain.Identity{UserID: "u1", Role: domain.RoleCustomer, Email: "u1@example.com", Name: "Customer One"}
	testAdmin    = domain.Identity{UserID: "a1", Role: domain.RoleAdmin, Email: "a1@example.com", Name: "Admin One"}
)

func sendTestMessage(t *testing.T, l *Ledger, sender, recipient domain.Identity, content string) domain.Message {
	t.Helper()
	msg, err := l.SaveMessage(domain.Message{
		ConversationID: DeriveConversationID(testCustomer.UserID, testAdmin.UserID),
		SenderID:       sender.UserID,
		SenderRole:     sender.Role,
		SenderName:     sender.Name,
		RecipientID:    recipient.UserID,
		Content:        content,
	})
	if err != nil {
		t.Fatalf("save message: %v", err)
	}
	_, err = l.RecordConversation(testCustomer, testAdmin, domain.LastMessage{
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		t.Fatalf("record conversation: %v", err)
	}
	return msg
}

func TestDeriveConversationIDIsStable(t *testing.T) {
	a := DeriveConversationID("u1", "a1")
	b := DeriveConversationID("u1", "a1")
	if a != b {
		t.Fatalf("same pair must derive the same ID: %q vs %q", a, b)
	}
	if a == DeriveConversationID("u2", "a1") {
		t.Fatalf("different customers must not collide")
	}
	if a != "customer#u1#admin#a1" {
		t.Fatalf("unexpected ID format: %q", a)
	}
}

func TestSendsAccumulateRecipientUnread(t *testing.T) {
	l, _ := newTestLedger()
	for i := 0; i < 3; i++ {
		sendTestMessage(t, l, testCustomer, testAdmin, fmt.Sprintf("hello %d", i))
	}

	convs, err := l.ConversationsByAdmin(testAdmin.UserID)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected a single thread per pair, got %d", len(convs))
	}
	if convs[0].Unread.Admin != 3 || convs[0].Unread.Customer != 0 {
		t.Fatalf("unexpected counters: %+v", convs[0].Unread)
	}
	if convs[0].LastMessage.Content != "hello 2" {
		t.Fatalf("lastMessage must track the newest send, got %q", convs[0].LastMessage.Content)
	}

	// A reply swings the other counter without touching the admin's.
	sendTestMessage(t, l, testAdmin, testCustomer, "on it")
	conv, ok, err := l.ConversationByCustomer(testCustomer.UserID)
	if err != nil || !ok {
		t.Fatalf("customer thread: ok=%v err=%v", ok, err)
	}
	if conv.Unread.Customer != 1 || conv.Unread.Admin != 3 {
		t.Fatalf("unexpected counters after reply: %+v", conv.Unread)
	}
}

func TestMarkReadLeavesNoStaleCounter(t *testing.T) {
	l, _ := newTestLedger()
	convID := DeriveConversationID(testCustomer.UserID, testAdmin.UserID)
	for i := 0; i < 2; i++ {
		sendTestMessage(t, l, testCustomer, testAdmin, fmt.Sprintf("q%d", i))
	}

	flipped, err := l.MarkMessagesRead(convID, testAdmin.UserID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if flipped != 2 {
		t.Fatalf("expected 2 flipped, got %d", flipped)
	}

	conv, _, err := l.Conversation(convID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.Unread.Admin != 0 {
		t.Fatalf("admin counter must be zero after mark-read, got %d", conv.Unread.Admin)
	}
	unread, err := l.UnreadMessages(convID, testAdmin.UserID)
	if err != nil {
		t.Fatalf("unread messages: %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("counter is zero, so no message may remain unread; got %d", len(unread))
	}

	// Marking again is a no-op, not an error.
	flipped, err = l.MarkMessagesRead(convID, testAdmin.UserID)
	if err != nil || flipped != 0 {
		t.Fatalf("repeat mark-read: flipped=%d err=%v", flipped, err)
	}
}

func TestMarkReadUnknownConversation(t *testing.T) {
	l, _ := newTestLedger()
	if _, err := l.MarkMessagesRead("customer#ghost#admin#a1", "a1"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessagesPaginateWithoutDuplicates(t *testing.T) {
	l, _ := newTestLedger()
	convID := DeriveConversationID(testCustomer.UserID, testAdmin.UserID)
	var all []domain.Message
	for i := 0; i < 5; i++ {
		all = append(all, sendTestMessage(t, l, testCustomer, testAdmin, fmt.Sprintf("m%d", i)))
	}

	// First page: the two most recent, in chronological order.
	page, err := l.Messages(convID, 2, time.Time{})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page) != 2 || page[0].Content != "m3" || page[1].Content != "m4" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	// Walk backwards with the oldest timestamp seen as the cursor.
	var seen []domain.Message
	seen = append(seen, page...)
	before := page[0].Timestamp
	for {
		page, err = l.Messages(convID, 2, before)
		if err != nil {
			t.Fatalf("page before %v: %v", before, err)
		}
		if len(page) == 0 {
			break
		}
		seen = append(page, seen...)
		before = page[0].Timestamp
	}
	if len(seen) != len(all) {
		t.Fatalf("pagination lost or duplicated rows: got %d, want %d", len(seen), len(all))
	}
	for i, m := range seen {
		if m.ID != all[i].ID {
			t.Fatalf("out of order at %d: got %s, want %s", i, m.ID, all[i].ID)
		}
	}
}

func TestMessagesDefaultLimit(t *testing.T) {
	l, _ := newTestLedger()
	convID := DeriveConversationID(testCustomer.UserID, testAdmin.UserID)
	sendTestMessage(t, l, testCustomer, testAdmin, "only one")

	msgs, err := l.Messages(convID, 0, time.Time{})
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("zero limit must fall back to the default page size, got %d rows", len(msgs))
	}
}

func TestUnreadCountSumsAcrossConversations(t *testing.T) {
	l, _ := newTestLedger()
	other := domain.Identity{UserID: "u2", Role: domain.RoleCustomer, Name: "Customer Two"}

	sendTestMessage(t, l, testCustomer, testAdmin, "first thread")
	sendTestMessage(t, l, testCustomer, testAdmin, "again")
	if _, err := l.RecordConversation(other, testAdmin, domain.LastMessage{
		Content: "second thread", SenderID: other.UserID, Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("record second thread: %v", err)
	}

	n, err := l.UnreadCount(testAdmin.UserID)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected total 3 across threads, got %d", n)
	}
}
