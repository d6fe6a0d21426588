package mime

import (
	"errors"
	"fmt"
)

// ParseFailure is the fatal per-message error: the message is structurally
// unparsable and the caller should record a skip and continue the batch.
// Anything less severe degrades the affected part instead.
type ParseFailure struct {
	Reason string
	Err    error
}

func (e *ParseFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mime parse failure: %s: %v", e.Reason, e.Err)
	}
	return "mime parse failure: " + e.Reason
}

func (e *ParseFailure) Unwrap() error { return e.Err }

// IsParseFailure reports whether err is (or wraps) a ParseFailure.
func IsParseFailure(err error) bool {
	var pf *ParseFailure
	return errors.As(err, &pf)
}
