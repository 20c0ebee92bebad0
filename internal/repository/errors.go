package repository

import (
	"errors"

	"gorm.io/gorm"
)

// ErrConflict signals a unique-constraint violation. Callers decide whether
// it is fatal (duplicate box name) or an idempotent replay (incoming image).
var ErrConflict = errors.New("conflict")

// IsNotFound reports whether err is a gorm record-not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func translateConflict(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}
