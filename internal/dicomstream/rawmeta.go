package dicomstream

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Well-known transfer syntaxes
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

const preambleLength = 128

// rawMetaElement is one file meta element in its wire form
type rawMetaElement struct {
	group   uint16
	element uint16
	vr      string
	value   []byte
}

// FileMeta is the decoded file meta group (group 0002, explicit VR little
// endian by definition), kept in raw form so it can be rewritten and
// re-encoded byte-exactly.
type FileMeta struct {
	elements []rawMetaElement
}

// ReadFileMeta consumes the preamble, the DICM magic and the meta group
// from the reader, leaving it positioned at the first data set byte.
func ReadFileMeta(r io.Reader) (*FileMeta, error) {
	header := make([]byte, preambleLength+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read DICOM preamble: %w", err)
	}
	if string(header[preambleLength:]) != "DICM" {
		return nil, fmt.Errorf("not a DICOM stream: missing DICM magic")
	}

	// The first element must be (0002,0000) FileMetaInformationGroupLength
	first, err := readRawElement(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read meta group length: %w", err)
	}
	if first.group != 0x0002 || first.element != 0x0000 || len(first.value) != 4 {
		return nil, fmt.Errorf("malformed file meta group: first element is (%04x,%04x)", first.group, first.element)
	}
	groupLength := binary.LittleEndian.Uint32(first.value)

	blob := make([]byte, groupLength)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, fmt.Errorf("failed to read file meta group: %w", err)
	}

	meta := &FileMeta{}
	br := bytes.NewReader(blob)
	for br.Len() > 0 {
		element, err := readRawElement(br)
		if err != nil {
			return nil, fmt.Errorf("failed to decode file meta element: %w", err)
		}
		meta.elements = append(meta.elements, element)
	}
	return meta, nil
}

func readRawElement(r io.Reader) (rawMetaElement, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return rawMetaElement{}, err
	}
	element := rawMetaElement{
		group:   binary.LittleEndian.Uint16(header[0:2]),
		element: binary.LittleEndian.Uint16(header[2:4]),
		vr:      string(header[4:6]),
	}

	var length uint32
	switch element.vr {
	case "OB", "OW", "OF", "SQ", "UT", "UN":
		// header[6:8] held the reserved bytes; the 4-byte length follows
		var long [4]byte
		if _, err := io.ReadFull(r, long[:]); err != nil {
			return rawMetaElement{}, err
		}
		length = binary.LittleEndian.Uint32(long[:])
	default:
		length = uint32(binary.LittleEndian.Uint16(header[6:8]))
	}

	element.value = make([]byte, length)
	if _, err := io.ReadFull(r, element.value); err != nil {
		return rawMetaElement{}, err
	}
	return element, nil
}

func (e *rawMetaElement) encode(w *bytes.Buffer) {
	var header [8]byte
	binary.LittleEndian.PutUint16(header[0:2], e.group)
	binary.LittleEndian.PutUint16(header[2:4], e.element)
	copy(header[4:6], e.vr)
	switch e.vr {
	case "OB", "OW", "OF", "SQ", "UT", "UN":
		w.Write(header[:6])
		var long [6]byte
		binary.LittleEndian.PutUint32(long[2:6], uint32(len(e.value)))
		w.Write(long[:])
	default:
		binary.LittleEndian.PutUint16(header[6:8], uint16(len(e.value)))
		w.Write(header[:])
	}
	w.Write(e.value)
}

func (m *FileMeta) stringValue(group, element uint16) string {
	for _, e := range m.elements {
		if e.group == group && e.element == element {
			return strings.TrimRight(string(e.value), "\x00 ")
		}
	}
	return ""
}

// TransferSyntaxUID returns the declared transfer syntax
func (m *FileMeta) TransferSyntaxUID() string {
	return m.stringValue(0x0002, 0x0010)
}

// SOPClassUID returns the media storage SOP class
func (m *FileMeta) SOPClassUID() string {
	return m.stringValue(0x0002, 0x0002)
}

// SOPInstanceUID returns the media storage SOP instance
func (m *FileMeta) SOPInstanceUID() string {
	return m.stringValue(0x0002, 0x0012)
}

// SetTransferSyntaxUID rewrites the declared transfer syntax. UI values are
// null-padded to even length.
func (m *FileMeta) SetTransferSyntaxUID(uid string) {
	value := []byte(uid)
	if len(value)%2 != 0 {
		value = append(value, 0x00)
	}
	for i := range m.elements {
		if m.elements[i].group == 0x0002 && m.elements[i].element == 0x0010 {
			m.elements[i].value = value
			return
		}
	}
	m.elements = append(m.elements, rawMetaElement{group: 0x0002, element: 0x0010, vr: "UI", value: value})
}

// Encode serialises the meta group back to wire form, recomputing the group
// length element.
func (m *FileMeta) Encode() []byte {
	var body bytes.Buffer
	for i := range m.elements {
		m.elements[i].encode(&body)
	}

	var out bytes.Buffer
	out.Write(make([]byte, preambleLength))
	out.WriteString("DICM")
	lengthValue := make([]byte, 4)
	binary.LittleEndian.PutUint32(lengthValue, uint32(body.Len()))
	groupLength := rawMetaElement{group: 0x0002, element: 0x0000, vr: "UL", value: lengthValue}
	groupLength.encode(&out)
	out.Write(body.Bytes())
	return out.Bytes()
}

// NormalizeStream reads a whole DICOM object into the form the parser can
// consume. Input declared as deflated is inflated and its meta group
// re-declared as explicit VR little endian for parsing only; the returned
// wire syntax is the original declaration, so the storage branch can
// re-compress on write while the metadata branch consumes the inflated
// parts.
func NormalizeStream(r io.Reader) ([]byte, string, error) {
	meta, err := ReadFileMeta(r)
	if err != nil {
		return nil, "", err
	}
	wireSyntax := meta.TransferSyntaxUID()

	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read DICOM data set: %w", err)
	}

	if wireSyntax == DeflatedExplicitVRLittleEndian {
		inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(rest)))
		if err != nil {
			return nil, "", fmt.Errorf("failed to inflate deflated data set: %w", err)
		}
		rest = inflated
		meta.SetTransferSyntaxUID(ExplicitVRLittleEndian)
	}

	return append(meta.Encode(), rest...), wireSyntax, nil
}

// reencodeDeflated rewrites an uncompressed encoded object back to the
// deflated transfer syntax: the meta group is re-declared as deflated and
// the data set bytes after it are flate-compressed.
func reencodeDeflated(encoded []byte, w io.Writer) error {
	buf := bytes.NewBuffer(encoded)
	meta, err := ReadFileMeta(buf)
	if err != nil {
		return fmt.Errorf("failed to split encoded object: %w", err)
	}
	meta.SetTransferSyntaxUID(DeflatedExplicitVRLittleEndian)

	if _, err := w.Write(meta.Encode()); err != nil {
		return fmt.Errorf("failed to write file meta: %w", err)
	}

	fw, err := flate.NewWriter(w, flate.DefaultCompression)
	if err != nil {
		return fmt.Errorf("failed to open deflate writer: %w", err)
	}
	if _, err := fw.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to deflate data set: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to flush deflate writer: %w", err)
	}
	return nil
}
