package dicomstream

import (
	"github.com/noor9026/slicebox/internal/models"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Override is one caller-supplied attribute rewrite
type Override struct {
	Tag             tag.Tag
	Value           string
	InsertIfMissing bool
}

// ModifyStage applies forced attribute overrides to a stream
type ModifyStage struct {
	overrides map[tag.Tag]Override
	applied   map[tag.Tag]bool
}

// NewModifyStage builds the stage from the given overrides
func NewModifyStage(overrides []Override) *ModifyStage {
	byTag := make(map[tag.Tag]Override, len(overrides))
	for _, override := range overrides {
		byTag[override.Tag] = override
	}
	return &ModifyStage{overrides: byTag, applied: make(map[tag.Tag]bool)}
}

// OverridesFromTagValues converts stored outgoing tag values into pipeline
// overrides. Forced values are inserted when the attribute is absent.
func OverridesFromTagValues(values []models.OutgoingTagValue) []Override {
	overrides := make([]Override, 0, len(values))
	for _, value := range values {
		overrides = append(overrides, Override{
			Tag:             TagFromUint32(value.Tag),
			Value:           value.Value,
			InsertIfMissing: true,
		})
	}
	return overrides
}

// TagFromUint32 unpacks a stored tag, group in the high 16 bits
func TagFromUint32(packed uint32) tag.Tag {
	return tag.Tag{Group: uint16(packed >> 16), Element: uint16(packed & 0xFFFF)}
}

// TagToUint32 packs a tag for storage
func TagToUint32(t tag.Tag) uint32 {
	return uint32(t.Group)<<16 | uint32(t.Element)
}

// Process rewrites overridden attributes in place
func (s *ModifyStage) Process(part Part) ([]Part, error) {
	element, ok := part.(*ElementPart)
	if !ok {
		return []Part{part}, nil
	}

	override, ok := s.overrides[element.Element.Tag]
	if !ok {
		return []Part{part}, nil
	}
	s.applied[override.Tag] = true

	replaced, err := NewStringElement(override.Tag, override.Value)
	if err != nil {
		return nil, err
	}
	return []Part{&ElementPart{Element: replaced}}, nil
}

// Finish inserts overrides the stream never carried
func (s *ModifyStage) Finish() ([]Part, error) {
	var parts []Part
	for _, override := range s.overrides {
		if s.applied[override.Tag] || !override.InsertIfMissing {
			continue
		}
		element, err := NewStringElement(override.Tag, override.Value)
		if err != nil {
			return nil, err
		}
		parts = append(parts, &ElementPart{Element: element})
	}
	return parts, nil
}
