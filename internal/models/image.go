package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Image is one catalog row in the metadata index. The SOP instance UID is
// the natural key; re-receiving the same instance overwrites the row.
type Image struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`

	SOPInstanceUID    string `gorm:"type:varchar(128);not null;uniqueIndex:idx_unique_image_sop_uid" json:"sop_instance_uid"`
	SOPClassUID       string `gorm:"type:varchar(128)" json:"sop_class_uid"`
	SeriesInstanceUID string `gorm:"type:varchar(128);index" json:"series_instance_uid"`
	StudyInstanceUID  string `gorm:"type:varchar(128);index" json:"study_instance_uid"`

	PatientName      string `gorm:"type:varchar(255);index" json:"patient_name"`
	PatientID        string `gorm:"type:varchar(255);index" json:"patient_id"`
	PatientBirthDate string `gorm:"type:varchar(16)" json:"patient_birth_date"`
	PatientSex       string `gorm:"type:varchar(16)" json:"patient_sex"`

	StudyDate           string `gorm:"type:varchar(16)" json:"study_date"`
	StudyDescription    string `gorm:"type:varchar(255)" json:"study_description"`
	StudyID             string `gorm:"type:varchar(64)" json:"study_id"`
	AccessionNumber     string `gorm:"type:varchar(64)" json:"accession_number"`
	SeriesDescription   string `gorm:"type:varchar(255)" json:"series_description"`
	ProtocolName        string `gorm:"type:varchar(255)" json:"protocol_name"`
	FrameOfReferenceUID string `gorm:"type:varchar(128)" json:"frame_of_reference_uid"`
	Modality            string `gorm:"type:varchar(32)" json:"modality"`

	// Source names where the image came from, e.g. "box:<name>"
	Source string `gorm:"type:varchar(255);index" json:"source"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (Image) TableName() string {
	return "images"
}

// BeforeCreate hook
func (i *Image) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
