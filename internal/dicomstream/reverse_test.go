package dicomstream

import (
	"testing"

	"github.com/noor9026/slicebox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func anonymizedParts(t *testing.T, key *models.AnonymizationKey) []Part {
	t.Helper()
	return []Part{
		elementPart(t, tag.SOPInstanceUID, key.AnonSOPInstanceUID),
		elementPart(t, tag.AccessionNumber, ""),
		elementPart(t, tag.PatientName, key.AnonPatientName),
		elementPart(t, tag.PatientID, key.AnonPatientID),
		elementPart(t, tag.PatientBirthDate, ""),
		elementPart(t, tag.PatientIdentityRemoved, "YES"),
		elementPart(t, tag.DeidentificationMethod, ProfileName),
		elementPart(t, tag.StudyInstanceUID, key.AnonStudyInstanceUID),
		elementPart(t, tag.SeriesInstanceUID, key.AnonSeriesInstanceUID),
		elementPart(t, tag.PerformedProcedureStepID, "STEP1"),
	}
}

func runReverse(t *testing.T, matched *models.MatchedKey, parts []Part) map[tag.Tag]string {
	t.Helper()
	lookup := func(_, _, _, _, _ string) (*models.MatchedKey, error) {
		return matched, nil
	}
	collect := NewCollectKeyStage(lookup)
	reverse := NewReverseAnonymizeStage()

	var out []Part
	for _, part := range parts {
		produced, err := collect.Process(part)
		require.NoError(t, err)
		for _, p := range produced {
			restored, err := reverse.Process(p)
			require.NoError(t, err)
			out = append(out, restored...)
		}
	}
	flushed, err := collect.Finish()
	require.NoError(t, err)
	for _, p := range flushed {
		restored, err := reverse.Process(p)
		require.NoError(t, err)
		out = append(out, restored...)
	}
	return valuesByTag(out)
}

func TestReverseRestoresAtImageLevel(t *testing.T) {
	key := testKey()
	values := runReverse(t, &models.MatchedKey{Key: *key, Level: models.KeyLevelImage}, anonymizedParts(t, key))

	assert.Equal(t, key.PatientName, values[tag.PatientName])
	assert.Equal(t, key.PatientID, values[tag.PatientID])
	assert.Equal(t, key.PatientBirthDate, values[tag.PatientBirthDate])
	assert.Equal(t, key.StudyInstanceUID, values[tag.StudyInstanceUID])
	assert.Equal(t, key.SeriesInstanceUID, values[tag.SeriesInstanceUID])
	assert.Equal(t, key.SOPInstanceUID, values[tag.SOPInstanceUID])
	assert.Equal(t, key.AccessionNumber, values[tag.AccessionNumber])
	assert.Equal(t, "NO", values[tag.PatientIdentityRemoved])
	assert.Equal(t, "", values[tag.DeidentificationMethod])
}

func TestReverseLevelGating(t *testing.T) {
	key := testKey()
	// A study-level match restores patient and study attributes only
	values := runReverse(t, &models.MatchedKey{Key: *key, Level: models.KeyLevelStudy}, anonymizedParts(t, key))

	assert.Equal(t, key.PatientName, values[tag.PatientName])
	assert.Equal(t, key.StudyInstanceUID, values[tag.StudyInstanceUID])
	assert.Equal(t, key.AnonSeriesInstanceUID, values[tag.SeriesInstanceUID],
		"series attributes stay anonymised without series authority")
	assert.Equal(t, key.AnonSOPInstanceUID, values[tag.SOPInstanceUID],
		"image attributes stay anonymised without image authority")
}

func TestReverseWithoutKeyIsNoOp(t *testing.T) {
	key := testKey()
	values := runReverse(t, nil, anonymizedParts(t, key))

	assert.Equal(t, key.AnonPatientName, values[tag.PatientName])
	assert.Equal(t, key.AnonSOPInstanceUID, values[tag.SOPInstanceUID])
	assert.Equal(t, "YES", values[tag.PatientIdentityRemoved],
		"without a key the identity stays removed")
}

func TestRoundTripRestoresOriginals(t *testing.T) {
	key := testKey()
	original := []Part{
		elementPart(t, tag.SOPInstanceUID, key.SOPInstanceUID),
		elementPart(t, tag.AccessionNumber, key.AccessionNumber),
		elementPart(t, tag.PatientName, key.PatientName),
		elementPart(t, tag.PatientID, key.PatientID),
		elementPart(t, tag.PatientBirthDate, key.PatientBirthDate),
		elementPart(t, tag.StudyInstanceUID, key.StudyInstanceUID),
		elementPart(t, tag.SeriesInstanceUID, key.SeriesInstanceUID),
		elementPart(t, tag.Modality, "CT"),
	}

	anonymized := runStage(t, NewAnonymizeStage(key), original)
	values := runReverse(t, &models.MatchedKey{Key: *key, Level: models.KeyLevelImage}, anonymized)

	assert.Equal(t, key.PatientName, values[tag.PatientName])
	assert.Equal(t, key.PatientID, values[tag.PatientID])
	assert.Equal(t, key.PatientBirthDate, values[tag.PatientBirthDate])
	assert.Equal(t, key.StudyInstanceUID, values[tag.StudyInstanceUID])
	assert.Equal(t, key.SeriesInstanceUID, values[tag.SeriesInstanceUID])
	assert.Equal(t, key.SOPInstanceUID, values[tag.SOPInstanceUID])
	assert.Equal(t, key.AccessionNumber, values[tag.AccessionNumber])
	assert.Equal(t, "CT", values[tag.Modality])
	assert.Equal(t, "NO", values[tag.PatientIdentityRemoved])
}

func TestCollectKeyStagePreservesOrder(t *testing.T) {
	lookupCalls := 0
	lookup := func(anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID, anonSOPInstanceUID string) (*models.MatchedKey, error) {
		lookupCalls++
		assert.Equal(t, "Anonymous", anonPatientName)
		assert.Equal(t, "2.25.1", anonStudyUID)
		return nil, nil
	}

	stage := NewCollectKeyStage(lookup)
	parts := []Part{
		elementPart(t, tag.PatientName, "Anonymous"),
		elementPart(t, tag.StudyInstanceUID, "2.25.1"),
		elementPart(t, tag.PerformedProcedureStepID, "STEP1"),
	}

	out := runStage(t, stage, parts)

	require.Equal(t, 1, lookupCalls)
	require.Len(t, out, 4)
	_, isKeyPart := out[0].(*AnonKeyPart)
	assert.True(t, isKeyPart, "the key part leads the re-emitted stream")
	assert.Equal(t, tag.PatientName, out[1].(*ElementPart).Element.Tag)
	assert.Equal(t, tag.StudyInstanceUID, out[2].(*ElementPart).Element.Tag)
	assert.Equal(t, tag.PerformedProcedureStepID, out[3].(*ElementPart).Element.Tag)
}
