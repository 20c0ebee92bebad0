package dicomstream

import (
	"fmt"

	"github.com/noor9026/slicebox/internal/models"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Part is one unit of the lazy DICOM stream flowing through the pipeline
type Part interface {
	isPart()
}

// MetaPart carries the file meta group. It is always the first part of a
// stream and the discriminator for validation and routing decisions.
type MetaPart struct {
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
	Elements          []*dicom.Element
}

// ElementPart carries one data set element
type ElementPart struct {
	Element *dicom.Element
}

// AnonKeyPart carries the anonymization key matched for this stream. A nil
// key means no match; downstream reverse stages stay inactive.
type AnonKeyPart struct {
	Key *models.MatchedKey
}

func (*MetaPart) isPart()    {}
func (*ElementPart) isPart() {}
func (*AnonKeyPart) isPart() {}

// Stage consumes one part at a time and emits zero or more parts. Finish
// flushes whatever the stage buffered once the source is exhausted.
type Stage interface {
	Process(part Part) ([]Part, error)
	Finish() ([]Part, error)
}

// Sink consumes the final part stream. Close is called exactly once after
// the last part, or never if the stream failed.
type Sink interface {
	Consume(part Part) error
	Close() error
}

// Source produces parts in stream order. Next returns io.EOF when done.
type Source interface {
	Next() (Part, error)
}

// ElementString extracts the first string value of an element, or ""
func ElementString(element *dicom.Element) string {
	if element == nil || element.Value == nil {
		return ""
	}
	switch v := element.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case string:
		return v
	}
	return ""
}

// NewStringElement builds a string-valued element for the tag
func NewStringElement(t tag.Tag, value string) (*dicom.Element, error) {
	element, err := dicom.NewElement(t, []string{value})
	if err != nil {
		return nil, fmt.Errorf("failed to build element %s: %w", t, err)
	}
	return element, nil
}
