package dicomstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// parserSource adapts the DICOM parser to the part stream. The file meta
// group is emitted first as a MetaPart, then each data set element in order.
type parserSource struct {
	parser   *dicom.Parser
	meta     *MetaPart
	sentMeta bool
}

// NewSource builds a part source over a whole in-memory DICOM object. The
// object must be in an uncompressed transfer syntax (see NormalizeStream).
func NewSource(data []byte) (Source, error) {
	parser, err := dicom.NewParser(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open DICOM parser: %w", err)
	}

	metaSet := parser.GetMetadata()
	meta := &MetaPart{Elements: metaSet.Elements}
	if element, err := metaSet.FindElementByTag(tag.MediaStorageSOPClassUID); err == nil {
		meta.SOPClassUID = ElementString(element)
	}
	if element, err := metaSet.FindElementByTag(tag.MediaStorageSOPInstanceUID); err == nil {
		meta.SOPInstanceUID = ElementString(element)
	}
	if element, err := metaSet.FindElementByTag(tag.TransferSyntaxUID); err == nil {
		meta.TransferSyntaxUID = ElementString(element)
	}

	return &parserSource{parser: parser, meta: meta}, nil
}

// Next returns the next part, or io.EOF when the stream is exhausted
func (s *parserSource) Next() (Part, error) {
	if !s.sentMeta {
		s.sentMeta = true
		return s.meta, nil
	}

	element, err := s.parser.Next()
	if err != nil {
		if errors.Is(err, dicom.ErrorEndOfDICOM) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to parse DICOM element: %w", err)
	}
	return &ElementPart{Element: element}, nil
}
