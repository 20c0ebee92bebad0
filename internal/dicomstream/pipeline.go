package dicomstream

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// StoreTags is the attribute whitelist extracted by the metadata branch and
// kept in the image catalog.
var StoreTags = []tag.Tag{
	tag.SOPInstanceUID,
	tag.SOPClassUID,
	tag.SeriesInstanceUID,
	tag.StudyInstanceUID,
	tag.PatientName,
	tag.PatientID,
	tag.PatientBirthDate,
	tag.PatientSex,
	tag.PatientAge,
	tag.StudyDate,
	tag.StudyDescription,
	tag.StudyID,
	tag.AccessionNumber,
	tag.SeriesDescription,
	tag.ProtocolName,
	tag.FrameOfReferenceUID,
	tag.Modality,
	tag.PatientIdentityRemoved,
	tag.DeidentificationMethod,
}

// Attributes holds the extracted store-tag values of one stream
type Attributes struct {
	values map[tag.Tag]string
}

// NewAttributes creates an empty attribute set
func NewAttributes() *Attributes {
	return &Attributes{values: make(map[tag.Tag]string)}
}

// Get returns the value for a tag, or ""
func (a *Attributes) Get(t tag.Tag) string {
	return a.values[t]
}

// Set stores a value for a tag
func (a *Attributes) Set(t tag.Tag, value string) {
	a.values[t] = value
}

// Run drives the pipeline: each part pulled from the source passes through
// every stage in order and the resulting parts are delivered to all sinks in
// lockstep before the next part is pulled. Neither branch can reorder or
// outrun the other.
func Run(source Source, stages []Stage, sinks ...Sink) error {
	emit := func(parts []Part) error {
		for _, part := range parts {
			for _, sink := range sinks {
				if err := sink.Consume(part); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for {
		part, err := source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		parts := []Part{part}
		for _, stage := range stages {
			parts, err = processAll(stage, parts)
			if err != nil {
				return err
			}
		}
		if err := emit(parts); err != nil {
			return err
		}
	}

	// Flush stage buffers; a stage's flushed parts still flow through the
	// stages after it
	for i, stage := range stages {
		parts, err := stage.Finish()
		if err != nil {
			return err
		}
		for j := i + 1; j < len(stages); j++ {
			parts, err = processAll(stages[j], parts)
			if err != nil {
				return err
			}
		}
		if err := emit(parts); err != nil {
			return err
		}
	}

	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			return err
		}
	}
	return nil
}

func processAll(stage Stage, parts []Part) ([]Part, error) {
	var out []Part
	for _, part := range parts {
		produced, err := stage.Process(part)
		if err != nil {
			return nil, err
		}
		out = append(out, produced...)
	}
	return out, nil
}

// StorageSink accumulates the transformed stream and encodes it as one DICOM
// object on Close. Elements are written in ascending tag order.
type StorageSink struct {
	w        io.Writer
	deflate  bool
	meta     []*dicom.Element
	elements []*dicom.Element
}

// NewStorageSink writes the encoded object to w on Close. The wireSyntax is
// the object's original transfer syntax declaration: when it is deflated,
// the data set is re-compressed on Close and the stored meta group keeps the
// deflated declaration, while the metadata branch has consumed the inflated
// parts. For every other syntax the stored bytes match what the metadata
// branch saw byte for byte.
func NewStorageSink(w io.Writer, wireSyntax string) *StorageSink {
	return &StorageSink{w: w, deflate: wireSyntax == DeflatedExplicitVRLittleEndian}
}

// Consume collects meta and data set elements
func (s *StorageSink) Consume(part Part) error {
	switch p := part.(type) {
	case *MetaPart:
		s.meta = p.Elements
	case *ElementPart:
		s.elements = append(s.elements, p.Element)
	}
	return nil
}

// Close encodes and writes the object
func (s *StorageSink) Close() error {
	elements := make([]*dicom.Element, 0, len(s.meta)+len(s.elements))
	elements = append(elements, s.meta...)
	elements = append(elements, s.elements...)
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].Tag.Group != elements[j].Tag.Group {
			return elements[i].Tag.Group < elements[j].Tag.Group
		}
		return elements[i].Tag.Element < elements[j].Tag.Element
	})

	ds := dicom.Dataset{Elements: elements}
	if s.deflate {
		var encoded bytes.Buffer
		if err := dicom.Write(&encoded, ds, dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()); err != nil {
			return fmt.Errorf("failed to encode DICOM object: %w", err)
		}
		if err := reencodeDeflated(encoded.Bytes(), s.w); err != nil {
			return fmt.Errorf("failed to deflate DICOM object: %w", err)
		}
		return nil
	}
	if err := dicom.Write(s.w, ds, dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()); err != nil {
		return fmt.Errorf("failed to encode DICOM object: %w", err)
	}
	return nil
}

// MetadataSink extracts the store-tag whitelist from the stream
type MetadataSink struct {
	attributes *Attributes
	whitelist  map[tag.Tag]bool
}

// NewMetadataSink creates the sink; extracted values land in attributes
func NewMetadataSink(attributes *Attributes) *MetadataSink {
	whitelist := make(map[tag.Tag]bool, len(StoreTags))
	for _, t := range StoreTags {
		whitelist[t] = true
	}
	return &MetadataSink{attributes: attributes, whitelist: whitelist}
}

// Consume records whitelisted attribute values
func (s *MetadataSink) Consume(part Part) error {
	switch p := part.(type) {
	case *MetaPart:
		if p.SOPClassUID != "" {
			s.attributes.Set(tag.SOPClassUID, p.SOPClassUID)
		}
	case *ElementPart:
		if s.whitelist[p.Element.Tag] {
			s.attributes.Set(p.Element.Tag, ElementString(p.Element))
		}
	}
	return nil
}

// Close has nothing to flush
func (s *MetadataSink) Close() error {
	return nil
}

// ReadAttributes parses a whole object and extracts the store tags. Used on
// send, where the original identifiers select the anonymization key.
func ReadAttributes(data []byte) (*Attributes, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM object: %w", err)
	}

	attributes := NewAttributes()
	for _, t := range StoreTags {
		if element, err := ds.FindElementByTag(t); err == nil {
			attributes.Set(t, ElementString(element))
		}
	}
	return attributes, nil
}
