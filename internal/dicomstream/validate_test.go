package dicomstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckContextAcceptsWhitelisted(t *testing.T) {
	meta := sampleMeta(ExplicitVRLittleEndian)
	assert.NoError(t, CheckContext(meta, DefaultContexts()))

	meta = sampleMeta(ImplicitVRLittleEndian)
	assert.NoError(t, CheckContext(meta, DefaultContexts()))

	meta = sampleMeta(DeflatedExplicitVRLittleEndian)
	assert.NoError(t, CheckContext(meta, DefaultContexts()))
}

func TestCheckContextRejectsUnknownSyntax(t *testing.T) {
	meta := sampleMeta("1.2.840.10008.1.2.4.70")
	err := CheckContext(meta, DefaultContexts())
	assert.Error(t, err)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCheckContextSOPClassPinned(t *testing.T) {
	contexts := []Context{{
		SOPClassUID:       "1.2.840.10008.5.1.4.1.1.2",
		TransferSyntaxUID: ExplicitVRLittleEndian,
	}}
	assert.NoError(t, CheckContext(sampleMeta(ExplicitVRLittleEndian), contexts))

	other := &FileMeta{elements: []rawMetaElement{
		{group: 0x0002, element: 0x0002, vr: "UI", value: []byte("1.2.840.10008.5.1.4.1.1.4")},
		{group: 0x0002, element: 0x0010, vr: "UI", value: []byte("1.2.840.10008.1.2.1\x00")},
	}}
	assert.Error(t, CheckContext(other, contexts))
}

func TestUIDReplacerConsistency(t *testing.T) {
	replacer := NewUIDReplacer(map[string]string{"1.2.3": "2.25.9"})

	assert.Equal(t, "2.25.9", replacer.Replace("1.2.3"))
	fresh := replacer.Replace("1.2.4")
	assert.NotEmpty(t, fresh)
	assert.NotEqual(t, "1.2.4", fresh)
	assert.Equal(t, fresh, replacer.Replace("1.2.4"))
	assert.Equal(t, "", replacer.Replace(""))
}

func TestNewUIDShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		uid := NewUID()
		assert.LessOrEqual(t, len(uid), 64, "DICOM UIDs are at most 64 characters")
		assert.Regexp(t, `^2\.25\.\d+$`, uid)
		assert.False(t, seen[uid], "UIDs must not repeat")
		seen[uid] = true
	}
}

func TestAnonymousPatientName(t *testing.T) {
	assert.Equal(t, "Anonymous M 040-049", AnonymousPatientName("M", "043Y"))
	assert.Equal(t, "Anonymous F 000-009", AnonymousPatientName("F", "008M"))
	assert.Equal(t, "Anonymous M", AnonymousPatientName("M", ""))
	assert.Equal(t, "Anonymous", AnonymousPatientName("", "bogus"))
}
