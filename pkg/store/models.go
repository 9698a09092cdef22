package store

import (
	"time"

	"gorm.io/datatypes"

	"booktalk/pkg/domain"
)

// GORM models used for persistence.
type MessageModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"not null;index:idx_conv_ts,priority:1;index:idx_conv_recipient,priority:1"`
	SenderID       string `gorm:"not null"`
	SenderRole     string `gorm:"not null"`
	SenderName     string
	RecipientID    string    `gorm:"not null;index:idx_conv_recipient,priority:2"`
	Content        string    `gorm:"type:text;not null"`
	Timestamp      time.Time `gorm:"not null;index:idx_conv_ts,priority:2"`
	Read           bool      `gorm:"not null;default:false"`
	ReadAt         *time.Time
	Type           string `gorm:"not null;default:text"`
}

type ConversationModel struct {
	ID             string `gorm:"primaryKey"`
	CustomerID     string `gorm:"not null;index"`
	CustomerName   string
	CustomerEmail  string
	AdminID        string `gorm:"not null;index:idx_admin_updated,priority:1"`
	AdminName      string
	LastMessage    datatypes.JSONType[domain.LastMessage] `gorm:"type:jsonb"`
	UnreadCustomer int                                    `gorm:"not null;default:0"`
	UnreadAdmin    int                                    `gorm:"not null;default:0"`
	Status         string                                 `gorm:"not null;default:active"`
	CreatedAt      time.Time                              `gorm:"not null"`
	UpdatedAt      time.Time                              `gorm:"not null;index:idx_admin_updated,priority:2,sort:desc"`
}

func messageToModel(m domain.Message) MessageModel {
	return MessageModel{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderRole:     string(m.SenderRole),
		SenderName:     m.SenderName,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
		Read:           m.Read,
		ReadAt:         m.ReadAt,
		Type:           m.Type,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderRole:     domain.UserRole(m.SenderRole),
		SenderName:     m.SenderName,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
		Read:           m.Read,
		ReadAt:         m.ReadAt,
		Type:           m.Type,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:             c.ID,
		CustomerID:     c.CustomerID,
		CustomerName:   c.CustomerName,
		CustomerEmail:  c.CustomerEmail,
		AdminID:        c.AdminID,
		AdminName:      c.AdminName,
		LastMessage:    datatypes.NewJSONType(c.LastMessage),
		UnreadCustomer: c.Unread.Customer,
		UnreadAdmin:    c.Unread.Admin,
		Status:         string(c.Status),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:            m.ID,
		CustomerID:    m.CustomerID,
		CustomerName:  m.CustomerName,
		CustomerEmail: m.CustomerEmail,
		AdminID:       m.AdminID,
		AdminName:     m.AdminName,
		LastMessage:   m.LastMessage.Data(),
		Unread: domain.UnreadCount{
			Customer: m.UnreadCustomer,
			Admin:    m.UnreadAdmin,
		},
		Status:    domain.ConversationStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
