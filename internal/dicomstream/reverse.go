package dicomstream

import (
	"github.com/noor9026/slicebox/internal/models"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// KeyLookup resolves the anonymization key for the anonymised identifiers
// seen at the head of a stream. Returning a nil key means no match.
type KeyLookup func(anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID, anonSOPInstanceUID string) (*models.MatchedKey, error)

// CollectKeyStage buffers the head of the stream until the identifying
// attributes have passed, runs the key lookup, and re-emits the buffered
// parts behind an AnonKeyPart. This is the stream's single asynchronous
// hand-off point; ordering is preserved.
type CollectKeyStage struct {
	lookup KeyLookup
	buffer []Part
	done   bool

	anonPatientName    string
	anonPatientID      string
	anonStudyUID       string
	anonSeriesUID      string
	anonSOPInstanceUID string
}

// NewCollectKeyStage builds the stage around a lookup callback
func NewCollectKeyStage(lookup KeyLookup) *CollectKeyStage {
	return &CollectKeyStage{lookup: lookup}
}

// Process buffers until the identifier region of the data set has passed
func (s *CollectKeyStage) Process(part Part) ([]Part, error) {
	if s.done {
		return []Part{part}, nil
	}

	if element, ok := part.(*ElementPart); ok {
		switch element.Element.Tag {
		case tag.SOPInstanceUID:
			s.anonSOPInstanceUID = ElementString(element.Element)
		case tag.PatientName:
			s.anonPatientName = ElementString(element.Element)
		case tag.PatientID:
			s.anonPatientID = ElementString(element.Element)
		case tag.StudyInstanceUID:
			s.anonStudyUID = ElementString(element.Element)
		case tag.SeriesInstanceUID:
			s.anonSeriesUID = ElementString(element.Element)
		}

		// Identifying attributes live in groups 0008-0020; once past them
		// the lookup can run and the stream can flow freely again
		if element.Element.Tag.Group > 0x0020 {
			return s.flush(part)
		}
	}

	s.buffer = append(s.buffer, part)
	return nil, nil
}

// Finish flushes streams that never left the identifier region
func (s *CollectKeyStage) Finish() ([]Part, error) {
	if s.done {
		return nil, nil
	}
	return s.flush(nil)
}

func (s *CollectKeyStage) flush(current Part) ([]Part, error) {
	matched, err := s.lookup(s.anonPatientName, s.anonPatientID, s.anonStudyUID, s.anonSeriesUID, s.anonSOPInstanceUID)
	if err != nil {
		return nil, err
	}

	parts := make([]Part, 0, len(s.buffer)+2)
	parts = append(parts, &AnonKeyPart{Key: matched})
	parts = append(parts, s.buffer...)
	if current != nil {
		parts = append(parts, current)
	}
	s.buffer = nil
	s.done = true
	return parts, nil
}

// ReverseAnonymizeStage restores original identifiers on receive. It stays
// inactive until an AnonKeyPart with a match arrives; without one the
// anonymised values pass through untouched.
type ReverseAnonymizeStage struct {
	matched *models.MatchedKey
}

// NewReverseAnonymizeStage builds an inactive stage
func NewReverseAnonymizeStage() *ReverseAnonymizeStage {
	return &ReverseAnonymizeStage{}
}

// Process restores attribute values the matched key is authoritative for
func (s *ReverseAnonymizeStage) Process(part Part) ([]Part, error) {
	switch p := part.(type) {
	case *AnonKeyPart:
		s.matched = p.Key
		return nil, nil

	case *MetaPart:
		if s.matched == nil || !s.matched.AuthoritativeAt(models.KeyLevelImage) {
			return []Part{part}, nil
		}
		meta, err := rewriteMetaSOPInstance(p, s.matched.Key.SOPInstanceUID)
		if err != nil {
			return nil, err
		}
		return []Part{meta}, nil

	case *ElementPart:
		if s.matched == nil {
			return []Part{part}, nil
		}
		value, restore := s.restoredValue(p.Element.Tag)
		if !restore {
			return []Part{part}, nil
		}
		element, err := NewStringElement(p.Element.Tag, value)
		if err != nil {
			return nil, err
		}
		return []Part{&ElementPart{Element: element}}, nil

	default:
		return []Part{part}, nil
	}
}

// Finish has nothing to flush
func (s *ReverseAnonymizeStage) Finish() ([]Part, error) {
	return nil, nil
}

func (s *ReverseAnonymizeStage) restoredValue(t tag.Tag) (string, bool) {
	key := &s.matched.Key

	// Forced whenever a key matched, regardless of level
	switch t {
	case tag.PatientIdentityRemoved:
		return "NO", true
	case tag.DeidentificationMethod:
		return "", true
	}

	level := models.KeyLevelPatient
	var value string
	switch t {
	case tag.PatientName:
		value = key.PatientName
	case tag.PatientID:
		value = key.PatientID
	case tag.PatientBirthDate:
		value = key.PatientBirthDate
	case tag.StudyInstanceUID:
		level, value = models.KeyLevelStudy, key.StudyInstanceUID
	case tag.StudyDescription:
		level, value = models.KeyLevelStudy, key.StudyDescription
	case tag.StudyID:
		level, value = models.KeyLevelStudy, key.StudyID
	case tag.AccessionNumber:
		level, value = models.KeyLevelStudy, key.AccessionNumber
	case tag.SeriesInstanceUID:
		level, value = models.KeyLevelSeries, key.SeriesInstanceUID
	case tag.SeriesDescription:
		level, value = models.KeyLevelSeries, key.SeriesDescription
	case tag.ProtocolName:
		level, value = models.KeyLevelSeries, key.ProtocolName
	case tag.FrameOfReferenceUID:
		level, value = models.KeyLevelSeries, key.FrameOfReferenceUID
	case tag.SOPInstanceUID:
		level, value = models.KeyLevelImage, key.SOPInstanceUID
	default:
		return "", false
	}

	if !s.matched.AuthoritativeAt(level) {
		return "", false
	}
	return value, true
}
