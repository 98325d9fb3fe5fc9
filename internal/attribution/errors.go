package attribution

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is matched by every primary source failure.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInvalidDate is returned for dates that are neither YYYY-MM-DD nor RFC 3339.
	ErrInvalidDate = errors.New("invalid date")
)

// SourceError reports a primary source that could not be read.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s source unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func (e *SourceError) Is(target error) bool {
	return target == ErrSourceUnavailable
}
