package dicomstream

import (
	"github.com/noor9026/slicebox/internal/models"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// AnonymizeStage rewrites a stream according to the de-identification
// profile and the pseudonyms of one anonymization key. Identity attributes
// get the key's pseudonyms; everything else follows the action table.
type AnonymizeStage struct {
	key          *models.AnonymizationKey
	profile      map[tag.Tag]Action
	replacer     *UIDReplacer
	replacements map[tag.Tag]string
	seen         map[tag.Tag]bool
}

// NewAnonymizeStage builds the stage for one outgoing image
func NewAnonymizeStage(key *models.AnonymizationKey) *AnonymizeStage {
	replacer := NewUIDReplacer(map[string]string{
		key.StudyInstanceUID:    key.AnonStudyInstanceUID,
		key.SeriesInstanceUID:   key.AnonSeriesInstanceUID,
		key.SOPInstanceUID:      key.AnonSOPInstanceUID,
		key.FrameOfReferenceUID: key.AnonFrameOfReferenceUID,
	})

	return &AnonymizeStage{
		key:      key,
		profile:  BasicProfile,
		replacer: replacer,
		replacements: map[tag.Tag]string{
			tag.PatientName:         key.AnonPatientName,
			tag.PatientID:           key.AnonPatientID,
			tag.PatientBirthDate:    key.AnonPatientBirthDate,
			tag.StudyInstanceUID:    key.AnonStudyInstanceUID,
			tag.SeriesInstanceUID:   key.AnonSeriesInstanceUID,
			tag.SOPInstanceUID:      key.AnonSOPInstanceUID,
			tag.FrameOfReferenceUID: key.AnonFrameOfReferenceUID,
			tag.StudyID:             key.AnonStudyID,
			tag.AccessionNumber:     key.AnonAccessionNumber,
			tag.StudyDescription:    key.AnonStudyDescription,
			tag.SeriesDescription:   key.AnonSeriesDescription,
			tag.ProtocolName:        key.AnonProtocolName,
		},
		seen: make(map[tag.Tag]bool),
	}
}

// Process applies the profile to one part
func (s *AnonymizeStage) Process(part Part) ([]Part, error) {
	switch p := part.(type) {
	case *MetaPart:
		meta, err := rewriteMetaSOPInstance(p, s.key.AnonSOPInstanceUID)
		if err != nil {
			return nil, err
		}
		return []Part{meta}, nil

	case *ElementPart:
		t := p.Element.Tag
		s.seen[t] = true

		// Stamped fresh at Finish
		if t == tag.PatientIdentityRemoved || t == tag.DeidentificationMethod {
			return nil, nil
		}

		if value, ok := s.replacements[t]; ok {
			element, err := NewStringElement(t, value)
			if err != nil {
				return nil, err
			}
			return []Part{&ElementPart{Element: element}}, nil
		}

		action, ok := s.profile[t]
		if !ok {
			return []Part{part}, nil
		}
		switch action.Effective() {
		case ActionRemove:
			return nil, nil
		case ActionZero:
			element, err := NewStringElement(t, "")
			if err != nil {
				return nil, err
			}
			return []Part{&ElementPart{Element: element}}, nil
		case ActionReplaceUID:
			element, err := NewStringElement(t, s.replacer.Replace(ElementString(p.Element)))
			if err != nil {
				return nil, err
			}
			return []Part{&ElementPart{Element: element}}, nil
		default:
			return []Part{part}, nil
		}

	default:
		return []Part{part}, nil
	}
}

// Finish inserts the identity pseudonyms missing from the input and the two
// de-identification markers
func (s *AnonymizeStage) Finish() ([]Part, error) {
	inserts := []struct {
		tag   tag.Tag
		value string
	}{
		{tag.PatientName, s.key.AnonPatientName},
		{tag.PatientID, s.key.AnonPatientID},
		{tag.StudyInstanceUID, s.key.AnonStudyInstanceUID},
		{tag.SeriesInstanceUID, s.key.AnonSeriesInstanceUID},
		{tag.SOPInstanceUID, s.key.AnonSOPInstanceUID},
	}

	var parts []Part
	for _, insert := range inserts {
		if s.seen[insert.tag] {
			continue
		}
		element, err := NewStringElement(insert.tag, insert.value)
		if err != nil {
			return nil, err
		}
		parts = append(parts, &ElementPart{Element: element})
	}

	identityRemoved, err := NewStringElement(tag.PatientIdentityRemoved, "YES")
	if err != nil {
		return nil, err
	}
	method, err := NewStringElement(tag.DeidentificationMethod, ProfileName)
	if err != nil {
		return nil, err
	}
	return append(parts, &ElementPart{Element: identityRemoved}, &ElementPart{Element: method}), nil
}

// rewriteMetaSOPInstance returns a copy of the meta part with the media
// storage SOP instance UID swapped, keeping meta and data set consistent
func rewriteMetaSOPInstance(meta *MetaPart, sopInstanceUID string) (*MetaPart, error) {
	if sopInstanceUID == "" || meta.SOPInstanceUID == sopInstanceUID {
		return meta, nil
	}

	elements := make([]*dicom.Element, len(meta.Elements))
	copy(elements, meta.Elements)
	for i, element := range elements {
		if element.Tag == tag.MediaStorageSOPInstanceUID {
			replaced, err := NewStringElement(tag.MediaStorageSOPInstanceUID, sopInstanceUID)
			if err != nil {
				return nil, err
			}
			elements[i] = replaced
		}
	}

	return &MetaPart{
		SOPClassUID:       meta.SOPClassUID,
		SOPInstanceUID:    sopInstanceUID,
		TransferSyntaxUID: meta.TransferSyntaxUID,
		Elements:          elements,
	}, nil
}
