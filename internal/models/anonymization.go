package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// KeyLevel is the hierarchy level at which an anonymization key matched
type KeyLevel string

const (
	KeyLevelPatient KeyLevel = "PATIENT"
	KeyLevelStudy   KeyLevel = "STUDY"
	KeyLevelSeries  KeyLevel = "SERIES"
	KeyLevelImage   KeyLevel = "IMAGE"
)

// AnonymizationKey maps original identifiers to their pseudonyms for one image
type AnonymizationKey struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ImageID uuid.UUID `gorm:"type:uuid;not null;index" json:"image_id"`

	PatientName          string `gorm:"type:varchar(255);index" json:"patient_name"`
	AnonPatientName      string `gorm:"type:varchar(255);index" json:"anon_patient_name"`
	PatientID            string `gorm:"type:varchar(255);index" json:"patient_id"`
	AnonPatientID        string `gorm:"type:varchar(255);index" json:"anon_patient_id"`
	PatientBirthDate     string `gorm:"type:varchar(16)" json:"patient_birth_date"`
	AnonPatientBirthDate string `gorm:"type:varchar(16)" json:"anon_patient_birth_date"`

	StudyInstanceUID     string `gorm:"type:varchar(128);index" json:"study_instance_uid"`
	AnonStudyInstanceUID string `gorm:"type:varchar(128);index" json:"anon_study_instance_uid"`
	StudyDescription     string `gorm:"type:varchar(255)" json:"study_description"`
	AnonStudyDescription string `gorm:"type:varchar(255)" json:"anon_study_description"`
	StudyID              string `gorm:"type:varchar(64)" json:"study_id"`
	AnonStudyID          string `gorm:"type:varchar(64)" json:"anon_study_id"`
	AccessionNumber      string `gorm:"type:varchar(64)" json:"accession_number"`
	AnonAccessionNumber  string `gorm:"type:varchar(64)" json:"anon_accession_number"`

	SeriesInstanceUID       string `gorm:"type:varchar(128);index" json:"series_instance_uid"`
	AnonSeriesInstanceUID   string `gorm:"type:varchar(128);index" json:"anon_series_instance_uid"`
	SeriesDescription       string `gorm:"type:varchar(255)" json:"series_description"`
	AnonSeriesDescription   string `gorm:"type:varchar(255)" json:"anon_series_description"`
	ProtocolName            string `gorm:"type:varchar(255)" json:"protocol_name"`
	AnonProtocolName        string `gorm:"type:varchar(255)" json:"anon_protocol_name"`
	FrameOfReferenceUID     string `gorm:"type:varchar(128)" json:"frame_of_reference_uid"`
	AnonFrameOfReferenceUID string `gorm:"type:varchar(128)" json:"anon_frame_of_reference_uid"`

	SOPInstanceUID     string `gorm:"type:varchar(128);index" json:"sop_instance_uid"`
	AnonSOPInstanceUID string `gorm:"type:varchar(128);index" json:"anon_sop_instance_uid"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the table name
func (AnonymizationKey) TableName() string {
	return "anonymization_keys"
}

// BeforeCreate hook
func (k *AnonymizationKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return nil
}

// SamePatientStudySeries reports whether two keys agree on original and
// pseudonym identifiers down to the series level. This is the equality used
// for key deduplication on send.
func (k *AnonymizationKey) SamePatientStudySeries(other *AnonymizationKey) bool {
	return k.PatientName == other.PatientName &&
		k.AnonPatientName == other.AnonPatientName &&
		k.PatientID == other.PatientID &&
		k.AnonPatientID == other.AnonPatientID &&
		k.StudyInstanceUID == other.StudyInstanceUID &&
		k.AnonStudyInstanceUID == other.AnonStudyInstanceUID &&
		k.SeriesInstanceUID == other.SeriesInstanceUID &&
		k.AnonSeriesInstanceUID == other.AnonSeriesInstanceUID
}

// MatchedKey is an anonymization key together with the level it matched at
type MatchedKey struct {
	Key   AnonymizationKey `json:"key"`
	Level KeyLevel         `json:"level"`
}

// AuthoritativeAt reports whether the matched key can restore attributes at
// the given level. A series-level match restores patient, study and series
// attributes but not image-level ones.
func (m *MatchedKey) AuthoritativeAt(level KeyLevel) bool {
	rank := map[KeyLevel]int{
		KeyLevelPatient: 0,
		KeyLevelStudy:   1,
		KeyLevelSeries:  2,
		KeyLevelImage:   3,
	}
	return rank[m.Level] >= rank[level]
}
