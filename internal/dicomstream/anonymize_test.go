package dicomstream

import (
	"testing"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func testKey() *models.AnonymizationKey {
	return &models.AnonymizationKey{
		ImageID:               uuid.New(),
		PatientName:           "Doe^John",
		AnonPatientName:       "Anonymous M 040-049",
		PatientID:             "PAT001",
		AnonPatientID:         "8e6c2f47-2f7e-4f1a-9a2d-0c9a4f2b1d11",
		PatientBirthDate:      "19800101",
		AnonPatientBirthDate:  "",
		StudyInstanceUID:      "1.2.3.4",
		AnonStudyInstanceUID:  "2.25.111",
		StudyDescription:      "Head CT",
		AnonStudyDescription:  "",
		StudyID:               "ST01",
		AnonStudyID:           "",
		AccessionNumber:       "ACC42",
		AnonAccessionNumber:   "",
		SeriesInstanceUID:     "1.2.3.4.5",
		AnonSeriesInstanceUID: "2.25.222",
		SeriesDescription:     "Axial",
		AnonSeriesDescription: "",
		ProtocolName:          "HeadRoutine",
		AnonProtocolName:      "",
		SOPInstanceUID:        "1.2.3.4.5.6",
		AnonSOPInstanceUID:    "2.25.333",
	}
}

func elementPart(t *testing.T, dcmTag tag.Tag, value string) *ElementPart {
	t.Helper()
	element, err := NewStringElement(dcmTag, value)
	require.NoError(t, err)
	return &ElementPart{Element: element}
}

func runStage(t *testing.T, stage Stage, parts []Part) []Part {
	t.Helper()
	var out []Part
	for _, part := range parts {
		produced, err := stage.Process(part)
		require.NoError(t, err)
		out = append(out, produced...)
	}
	flushed, err := stage.Finish()
	require.NoError(t, err)
	return append(out, flushed...)
}

func valuesByTag(parts []Part) map[tag.Tag]string {
	values := make(map[tag.Tag]string)
	for _, part := range parts {
		if element, ok := part.(*ElementPart); ok {
			values[element.Element.Tag] = ElementString(element.Element)
		}
	}
	return values
}

func TestAnonymizeReplacesIdentityAttributes(t *testing.T) {
	key := testKey()
	stage := NewAnonymizeStage(key)

	out := runStage(t, stage, []Part{
		elementPart(t, tag.PatientName, "Doe^John"),
		elementPart(t, tag.PatientID, "PAT001"),
		elementPart(t, tag.PatientBirthDate, "19800101"),
		elementPart(t, tag.StudyInstanceUID, "1.2.3.4"),
		elementPart(t, tag.SeriesInstanceUID, "1.2.3.4.5"),
		elementPart(t, tag.SOPInstanceUID, "1.2.3.4.5.6"),
		elementPart(t, tag.Modality, "CT"),
	})

	values := valuesByTag(out)
	assert.Equal(t, key.AnonPatientName, values[tag.PatientName])
	assert.Equal(t, key.AnonPatientID, values[tag.PatientID])
	assert.Equal(t, "", values[tag.PatientBirthDate])
	assert.Equal(t, key.AnonStudyInstanceUID, values[tag.StudyInstanceUID])
	assert.Equal(t, key.AnonSeriesInstanceUID, values[tag.SeriesInstanceUID])
	assert.Equal(t, key.AnonSOPInstanceUID, values[tag.SOPInstanceUID])
	assert.Equal(t, "CT", values[tag.Modality], "non-identity attributes pass through")
	assert.Equal(t, "YES", values[tag.PatientIdentityRemoved])
	assert.Equal(t, ProfileName, values[tag.DeidentificationMethod])
}

func TestAnonymizeProfileActions(t *testing.T) {
	stage := NewAnonymizeStage(testKey())

	out := runStage(t, stage, []Part{
		elementPart(t, tag.PatientAddress, "Somewhere 1"),   // REMOVE
		elementPart(t, tag.ReferringPhysicianName, "Dr^X"),  // ZERO
		elementPart(t, tag.ImageComments, "Head CT"),        // CLEAN, collapses to ZERO
		elementPart(t, tag.PatientAge, "043Y"),              // REMOVE_OR_ZERO, collapses to REMOVE
		elementPart(t, tag.InstanceCreatorUID, "1.9.9.9"),   // REPLACE_UID
	})

	values := valuesByTag(out)
	_, hasAddress := values[tag.PatientAddress]
	assert.False(t, hasAddress, "removed attribute must be dropped")
	_, hasAge := values[tag.PatientAge]
	assert.False(t, hasAge, "REMOVE_OR_ZERO acts as REMOVE")
	assert.Equal(t, "", values[tag.ReferringPhysicianName])
	assert.Equal(t, "", values[tag.ImageComments], "CLEAN acts as ZERO")
	assert.NotEqual(t, "1.9.9.9", values[tag.InstanceCreatorUID])
	assert.NotEmpty(t, values[tag.InstanceCreatorUID])
}

func TestAnonymizeInsertsMissingIdentity(t *testing.T) {
	key := testKey()
	stage := NewAnonymizeStage(key)

	out := runStage(t, stage, []Part{
		elementPart(t, tag.Modality, "CT"),
	})

	values := valuesByTag(out)
	assert.Equal(t, key.AnonPatientName, values[tag.PatientName])
	assert.Equal(t, key.AnonPatientID, values[tag.PatientID])
	assert.Equal(t, key.AnonSOPInstanceUID, values[tag.SOPInstanceUID])
}

func TestAnonymizeReplaceUIDConsistency(t *testing.T) {
	stage := NewAnonymizeStage(testKey())

	out := runStage(t, stage, []Part{
		elementPart(t, tag.InstanceCreatorUID, "1.9.9.9"),
		elementPart(t, tag.StorageMediaFileSetUID, "1.9.9.9"),
	})

	values := valuesByTag(out)
	assert.Equal(t, values[tag.InstanceCreatorUID], values[tag.StorageMediaFileSetUID],
		"the same original UID must map to the same replacement")
}

func TestProfileCollapsedActions(t *testing.T) {
	assert.Equal(t, ActionZero, ActionClean.Effective())
	assert.Equal(t, ActionZero, ActionDummy.Effective())
	assert.Equal(t, ActionRemove, ActionRemoveOrZero.Effective())
	assert.Equal(t, ActionKeep, ActionKeep.Effective())
	assert.Equal(t, ActionReplaceUID, ActionReplaceUID.Effective())
}
