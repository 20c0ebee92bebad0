package dicomstream

import (
	"fmt"
	"io"
)

// Context is an accepted (SOP class, transfer syntax) pair. An empty SOP
// class matches any class.
type Context struct {
	SOPClassUID       string
	TransferSyntaxUID string
}

// DefaultContexts accepts any SOP class in the syntaxes the pipeline can
// parse and re-encode. Deflated input is accepted because it is inflated at
// the pipeline entry.
func DefaultContexts() []Context {
	return []Context{
		{TransferSyntaxUID: ImplicitVRLittleEndian},
		{TransferSyntaxUID: ExplicitVRLittleEndian},
		{TransferSyntaxUID: DeflatedExplicitVRLittleEndian},
	}
}

// ValidationError marks a permanent rejection: the object can never be
// accepted, so the sending transaction must fail rather than retry.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// CheckContext validates the declared meta against the accepted contexts
func CheckContext(meta *FileMeta, contexts []Context) error {
	sopClass := meta.SOPClassUID()
	syntax := meta.TransferSyntaxUID()
	for _, context := range contexts {
		if context.TransferSyntaxUID != syntax {
			continue
		}
		if context.SOPClassUID == "" || context.SOPClassUID == sopClass {
			return nil
		}
	}
	return &ValidationError{Reason: fmt.Sprintf(
		"unsupported presentation context: SOP class %q, transfer syntax %q", sopClass, syntax)}
}

// Drain consumes the remainder of a rejected stream so the sender's write
// half never blocks before the error response goes out.
func Drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
