package repository

import (
	"errors"
	"fmt"
)

// ErrClockSkew marks an exchange rejection caused by request-timestamp
// drift. The caller resynchronizes the clock offset and retries exactly
// once.
var ErrClockSkew = errors.New("exchange: clock skew")

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("store: not found")

// RejectionError is a terminal exchange rejection (insufficient balance,
// invalid lot, filters). Never retried; the movement is marked failed and
// the diagnostic context is kept for operators.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("exchange rejection (code %d): %s", e.Code, e.Message)
}

// IsRejection reports whether err is a terminal exchange rejection.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}
