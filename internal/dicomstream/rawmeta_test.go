package dicomstream

import (
	"bytes"
	"compress/flate"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMeta(transferSyntax string) *FileMeta {
	pad := func(s string) []byte {
		b := []byte(s)
		if len(b)%2 != 0 {
			b = append(b, 0x00)
		}
		return b
	}
	return &FileMeta{elements: []rawMetaElement{
		{group: 0x0002, element: 0x0001, vr: "OB", value: []byte{0x00, 0x01}},
		{group: 0x0002, element: 0x0002, vr: "UI", value: pad("1.2.840.10008.5.1.4.1.1.2")},
		{group: 0x0002, element: 0x0012, vr: "UI", value: pad("1.2.3.4.5.6")},
		{group: 0x0002, element: 0x0010, vr: "UI", value: pad(transferSyntax)},
	}}
}

func TestFileMetaRoundTrip(t *testing.T) {
	meta := sampleMeta(ExplicitVRLittleEndian)
	encoded := meta.Encode()

	decoded, err := ReadFileMeta(bytes.NewReader(encoded))
	require.NoError(t, err)

	assert.Equal(t, ExplicitVRLittleEndian, decoded.TransferSyntaxUID())
	assert.Equal(t, "1.2.840.10008.5.1.4.1.1.2", decoded.SOPClassUID())
	assert.Equal(t, "1.2.3.4.5.6", decoded.SOPInstanceUID())

	// Re-encoding the decoded form must be byte-identical
	assert.Equal(t, encoded, decoded.Encode())
}

func TestReadFileMetaRejectsGarbage(t *testing.T) {
	_, err := ReadFileMeta(bytes.NewReader([]byte("definitely not dicom")))
	assert.Error(t, err)

	junk := make([]byte, preambleLength+4)
	copy(junk[preambleLength:], "JUNK")
	_, err = ReadFileMeta(bytes.NewReader(junk))
	assert.Error(t, err)
}

func TestNormalizeStreamPassesUncompressed(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	in := append(sampleMeta(ExplicitVRLittleEndian).Encode(), payload...)

	out, wireSyntax, err := NormalizeStream(bytes.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, ExplicitVRLittleEndian, wireSyntax)
}

func TestNormalizeStreamInflatesDeflated(t *testing.T) {
	payload := []byte("pretend this is an explicit little endian data set")

	var deflated bytes.Buffer
	fw, err := flate.NewWriter(&deflated, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	in := append(sampleMeta(DeflatedExplicitVRLittleEndian).Encode(), deflated.Bytes()...)

	out, wireSyntax, err := NormalizeStream(bytes.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, DeflatedExplicitVRLittleEndian, wireSyntax,
		"the original wire declaration is reported for the storage branch")

	decoded, err := ReadFileMeta(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, ExplicitVRLittleEndian, decoded.TransferSyntaxUID(),
		"the parser-facing bytes are re-declared as explicit little endian")
	assert.True(t, bytes.HasSuffix(out, payload), "the data set is inflated in place")
}

func TestReencodeDeflatedRoundTrip(t *testing.T) {
	payload := []byte("explicit little endian data set bytes")
	encoded := append(sampleMeta(ExplicitVRLittleEndian).Encode(), payload...)

	var stored bytes.Buffer
	require.NoError(t, reencodeDeflated(encoded, &stored))

	// The stored object declares the deflated syntax again
	meta, err := ReadFileMeta(bytes.NewReader(stored.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, DeflatedExplicitVRLittleEndian, meta.TransferSyntaxUID())

	// Normalizing the stored bytes yields the inflated data set back
	normalized, wireSyntax, err := NormalizeStream(bytes.NewReader(stored.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, DeflatedExplicitVRLittleEndian, wireSyntax)
	assert.True(t, bytes.HasSuffix(normalized, payload))
}
