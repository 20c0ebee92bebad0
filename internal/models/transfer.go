package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionStatus is the state of a transfer transaction
type TransactionStatus string

const (
	TransactionWaiting    TransactionStatus = "WAITING"
	TransactionProcessing TransactionStatus = "PROCESSING"
	TransactionFailed     TransactionStatus = "FAILED"
	TransactionFinished   TransactionStatus = "FINISHED"
)

// OutgoingTransaction is one logical "send N images to box B"
type OutgoingTransaction struct {
	ID              uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	BoxID           uuid.UUID         `gorm:"type:uuid;not null;index" json:"box_id"`
	BoxName         string            `gorm:"type:varchar(255);not null" json:"box_name"`
	SentImageCount  int64             `gorm:"not null;default:0" json:"sent_image_count"`
	TotalImageCount int64             `gorm:"not null" json:"total_image_count"`
	Status          TransactionStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	Images []OutgoingImage `gorm:"foreignKey:OutgoingTransactionID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (OutgoingTransaction) TableName() string {
	return "outgoing_transactions"
}

// BeforeCreate hook
func (t *OutgoingTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// OutgoingImage is one image within an outgoing transaction
type OutgoingImage struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OutgoingTransactionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_unique_outgoing_image" json:"outgoing_transaction_id"`
	ImageID               uuid.UUID `gorm:"type:uuid;not null;index" json:"image_id"`
	SequenceNumber        int64     `gorm:"not null;uniqueIndex:idx_unique_outgoing_image" json:"sequence_number"`
	Sent                  bool      `gorm:"not null;default:false" json:"sent"`

	TagValues []OutgoingTagValue `gorm:"foreignKey:OutgoingImageID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName overrides the table name
func (OutgoingImage) TableName() string {
	return "outgoing_images"
}

// BeforeCreate hook
func (i *OutgoingImage) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// OutgoingTagValue is a forced attribute override for one outgoing image.
// Tag is the packed DICOM tag, group in the high 16 bits.
type OutgoingTagValue struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OutgoingImageID uuid.UUID `gorm:"type:uuid;not null;index" json:"outgoing_image_id"`
	Tag             uint32    `gorm:"not null" json:"tag"`
	Value           string    `gorm:"type:text;not null" json:"value"`
}

// TableName overrides the table name
func (OutgoingTagValue) TableName() string {
	return "outgoing_tag_values"
}

// BeforeCreate hook
func (v *OutgoingTagValue) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// IncomingTransaction mirrors a remote OutgoingTransaction on the receiver
type IncomingTransaction struct {
	ID                    uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	BoxID                 uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_unique_incoming_transaction" json:"box_id"`
	BoxName               string            `gorm:"type:varchar(255);not null" json:"box_name"`
	OutgoingTransactionID uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_unique_incoming_transaction" json:"outgoing_transaction_id"`
	ReceivedImageCount    int64             `gorm:"not null;default:0" json:"received_image_count"`
	AddedImageCount       int64             `gorm:"not null;default:0" json:"added_image_count"`
	TotalImageCount       int64             `gorm:"not null" json:"total_image_count"`
	Status                TransactionStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	Images []IncomingImage `gorm:"foreignKey:IncomingTransactionID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (IncomingTransaction) TableName() string {
	return "incoming_transactions"
}

// BeforeCreate hook
func (t *IncomingTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// IncomingImage records one received image within an incoming transaction
type IncomingImage struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	IncomingTransactionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_unique_incoming_image" json:"incoming_transaction_id"`
	ImageID               uuid.UUID `gorm:"type:uuid;not null;index" json:"image_id"`
	SequenceNumber        int64     `gorm:"not null;uniqueIndex:idx_unique_incoming_image" json:"sequence_number"`
	Overwrite             bool      `gorm:"not null;default:false" json:"overwrite"`
}

// TableName overrides the table name
func (IncomingImage) TableName() string {
	return "incoming_images"
}

// BeforeCreate hook
func (i *IncomingImage) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// Complete reports whether every image of the transaction has been sent
func (t *OutgoingTransaction) Complete() bool {
	return t.SentImageCount == t.TotalImageCount
}

// Complete reports whether every image of the transaction has been received
func (t *IncomingTransaction) Complete() bool {
	return t.ReceivedImageCount == t.TotalImageCount
}

// OutgoingTransactionImage is the poll work item sent over the wire
type OutgoingTransactionImage struct {
	Transaction OutgoingTransaction `json:"transaction"`
	Image       OutgoingImage       `json:"image"`
}

// FailedOutgoingTransactionImage reports a permanent remote failure
type FailedOutgoingTransactionImage struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Message       string    `json:"message"`
}

// TagValue is a caller-supplied attribute override
type TagValue struct {
	Tag   uint32 `json:"tag"`
	Value string `json:"value"`
}

// ImageTagValues pairs an image with its forced overrides for a send
type ImageTagValues struct {
	ImageID   uuid.UUID  `json:"image_id"`
	TagValues []TagValue `json:"tag_values,omitempty"`
}

// SendImagesRequest enqueues images for transfer to a box
type SendImagesRequest struct {
	Images []ImageTagValues `json:"images"`
}
