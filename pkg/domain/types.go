package domain

import "time"

type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleCustomer UserRole = "CUSTOMER"
)

// Identity is what the user directory returns for a verified token or a
// user-ID lookup.
type Identity struct {
	UserID string   `json:"userId"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
}

// Connection is one live transport session. A user may hold several at once
// (multi-device); each is keyed by the transport-assigned connection ID.
type Connection struct {
	ID           string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	Role         UserRole  `json:"role"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the connection's absolute expiry has passed. An
// expired connection must be treated as absent even if not yet deleted.
func (c Connection) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

const MessageTypeText = "text"

type Message struct {
	ID             string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	SenderRole     UserRole   `json:"senderRole"`
	SenderName     string     `json:"senderName"`
	RecipientID    string     `json:"recipientId"`
	Content        string     `json:"content"`
	Timestamp      time.Time  `json:"timestamp"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	Type           string     `json:"type"`
}

// LastMessage is the denormalized summary kept on a conversation.
type LastMessage struct {
	Content    string    `json:"content"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Timestamp  time.Time `json:"timestamp"`
}

// UnreadCount holds one independent counter per role. Exactly one side
// increments per inbound message: the side that did not send it.
type UnreadCount struct {
	Customer int `json:"customer"`
	Admin    int `json:"admin"`
}

type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is the thread between exactly one customer and one admin.
// Its ID is derived deterministically from the pair, so the same two users
// always land in the same thread.
type Conversation struct {
	ID            string             `json:"conversationId"`
	CustomerID    string             `json:"customerId"`
	CustomerName  string             `json:"customerName"`
	CustomerEmail string             `json:"customerEmail"`
	AdminID       string             `json:"adminId"`
	AdminName     string             `json:"adminName"`
	LastMessage   LastMessage        `json:"lastMessage"`
	Unread        UnreadCount        `json:"unreadCount"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	Status        ConversationStatus `json:"status"`
}
