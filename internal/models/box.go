package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SendMethod describes how images move to a remote box
type SendMethod string

const (
	SendMethodPush SendMethod = "PUSH"
	SendMethodPoll SendMethod = "POLL"
)

// Box represents a peer slicebox instance
type Box struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name        string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_unique_box_name" json:"name"`
	Token       string     `gorm:"type:varchar(255);not null;index" json:"token"`
	BaseURL     string     `gorm:"type:varchar(500);not null" json:"base_url"`
	SendMethod  SendMethod `gorm:"type:varchar(10);not null" json:"send_method"`
	Online      bool       `gorm:"default:false" json:"online"`
	LastContact time.Time  `json:"last_contact"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (Box) TableName() string {
	return "boxes"
}

// BeforeCreate hook
func (b *Box) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// BoxCreateRequest is the payload for registering a remote box
type BoxCreateRequest struct {
	Name       string     `json:"name"`
	BaseURL    string     `json:"base_url"`
	Token      string     `json:"token,omitempty"`
	SendMethod SendMethod `json:"send_method"`
}
