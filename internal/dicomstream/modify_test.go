package dicomstream

import (
	"testing"

	"github.com/noor9026/slicebox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestModifyReplacesAndInserts(t *testing.T) {
	stage := NewModifyStage([]Override{
		{Tag: tag.Modality, Value: "OT", InsertIfMissing: true},
		{Tag: tag.StationName, Value: "FORCED", InsertIfMissing: true},
		{Tag: tag.StudyID, Value: "NOPE", InsertIfMissing: false},
	})

	out := runStage(t, stage, []Part{
		elementPart(t, tag.Modality, "CT"),
	})

	values := valuesByTag(out)
	assert.Equal(t, "OT", values[tag.Modality], "existing attribute is replaced")
	assert.Equal(t, "FORCED", values[tag.StationName], "missing attribute is inserted")
	_, hasStudyID := values[tag.StudyID]
	assert.False(t, hasStudyID, "insert is off for this override")
}

func TestOverridesFromTagValues(t *testing.T) {
	packed := TagToUint32(tag.Modality)
	assert.Equal(t, tag.Modality, TagFromUint32(packed))

	overrides := OverridesFromTagValues([]models.OutgoingTagValue{
		{Tag: packed, Value: "OT"},
	})
	assert.Len(t, overrides, 1)
	assert.Equal(t, tag.Modality, overrides[0].Tag)
	assert.Equal(t, "OT", overrides[0].Value)
	assert.True(t, overrides[0].InsertIfMissing)
}
