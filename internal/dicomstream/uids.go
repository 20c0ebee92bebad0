package dicomstream

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// NewUID generates a fresh DICOM UID under the UUID-derived root 2.25, as
// a decimal rendering of 128 random bits. Always within the 64-character
// UID limit.
func NewUID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return "2.25." + n.String()
}

// UIDReplacer hands out fresh UIDs consistently: the same input UID maps to
// the same replacement for the lifetime of the replacer, so references
// between attributes of one stream stay intact.
type UIDReplacer struct {
	replacements map[string]string
}

// NewUIDReplacer creates a replacer with optional pre-seeded mappings
func NewUIDReplacer(seed map[string]string) *UIDReplacer {
	replacements := make(map[string]string, len(seed))
	for original, replacement := range seed {
		if original != "" && replacement != "" {
			replacements[original] = replacement
		}
	}
	return &UIDReplacer{replacements: replacements}
}

// Replace maps a UID to its replacement, generating one on first sight
func (r *UIDReplacer) Replace(original string) string {
	if original == "" {
		return ""
	}
	if replacement, ok := r.replacements[original]; ok {
		return replacement
	}
	replacement := NewUID()
	r.replacements[original] = replacement
	return replacement
}

// AnonymousPatientName synthesises a demographically plausible pseudonym
// from the patient's sex and age, e.g. "Anonymous M 040-049".
func AnonymousPatientName(sex, age string) string {
	parts := []string{"Anonymous"}
	if sex != "" {
		parts = append(parts, strings.TrimSpace(sex))
	}
	if bucket := ageBucket(age); bucket != "" {
		parts = append(parts, bucket)
	}
	return strings.Join(parts, " ")
}

// ageBucket maps a DICOM age string such as "043Y" to a decade range
func ageBucket(age string) string {
	age = strings.TrimSpace(age)
	if len(age) < 2 {
		return ""
	}
	unit := age[len(age)-1]
	var years int
	if _, err := fmt.Sscanf(age[:len(age)-1], "%d", &years); err != nil {
		return ""
	}
	switch unit {
	case 'Y':
	case 'M', 'W', 'D':
		years = 0
	default:
		return ""
	}
	decade := (years / 10) * 10
	return fmt.Sprintf("%03d-%03d", decade, decade+9)
}
