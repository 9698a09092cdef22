package server

import (
	"errors"
	"time"

	"booktalk/internal/chat"
	"booktalk/pkg/domain"
	"booktalk/pkg/store"
)

// Client actions.
const (
	actionSendMessage   = "sendMessage"
	actionHistory       = "history"
	actionMarkRead      = "markRead"
	actionConversations = "conversations"
	actionUnreadCount   = "unreadCount"
)

// Server event types beyond the ones the core defines.
const (
	eventError         = "error"
	eventHistory       = "history"
	eventRead          = "read"
	eventConversations = "conversations"
	eventUnreadCount   = "unreadCount"
)

// frame is the JSON envelope clients send.
type frame struct {
	Action         string `json:"action"`
	RecipientID    string `json:"recipientId,omitempty"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	// Before is an RFC 3339 pagination cursor: only messages strictly older
	// than it are returned.
	Before string `json:"before,omitempty"`
}

type connectedData struct {
	ConnectionID string          `json:"connectionId"`
	UserID       string          `json:"userId"`
	Role         domain.UserRole `json:"role"`
}

type ackData struct {
	Message   domain.Message `json:"message"`
	Delivered int            `json:"delivered"`
}

type historyData struct {
	ConversationID string           `json:"conversationId"`
	Messages       []domain.Message `json:"messages"`
	// NextBefore is the cursor for the page preceding this one; empty when
	// this page is (or may be) the oldest.
	NextBefore string `json:"nextBefore,omitempty"`
}

type readData struct {
	ConversationID string `json:"conversationId"`
	Updated        int    `json:"updated"`
}

type conversationsData struct {
	Conversations []domain.Conversation `json:"conversations"`
}

type unreadCountData struct {
	Count int `json:"count"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseBefore(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// errorBody maps a core error onto a wire error event. Internal detail is
// withheld for storage and unexpected failures.
func errorBody(err error) errorData {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return errorData{Code: "validation_error", Message: err.Error()}
	case errors.Is(err, chat.ErrUnauthorized):
		return errorData{Code: "unauthorized", Message: "unauthorized"}
	case errors.Is(err, chat.ErrForbidden):
		return errorData{Code: "forbidden", Message: "forbidden"}
	case errors.Is(err, store.ErrNotFound):
		return errorData{Code: "not_found", Message: "not found"}
	case store.IsStorage(err):
		return errorData{Code: "storage_unavailable", Message: "temporary storage failure, retry later"}
	default:
		return errorData{Code: "internal_error", Message: "internal error"}
	}
}
