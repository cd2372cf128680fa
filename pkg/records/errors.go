package records

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedPayload is returned when a network payload cannot be decoded.
	// Nothing from the payload has been applied when it is returned.
	ErrMalformedPayload = errors.New("records: malformed payload")

	// ErrIntegrity matches every *IntegrityError.
	ErrIntegrity = errors.New("records: integrity violation")
)

// Violation describes one decoded best value that would regress a stored record.
type Violation struct {
	Field    string
	Stored   Optional[int32]
	Received Optional[int32]
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: stored %s, received %s", v.Field, v.Stored, v.Received)
}

// IntegrityError is returned by network decoding when a "new best" is worse
// than the stored record. The offending fields were skipped; everything else
// in the payload was applied.
type IntegrityError struct {
	Violations []Violation
}

func (e *IntegrityError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "records: integrity violation: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrIntegrity) match.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}
