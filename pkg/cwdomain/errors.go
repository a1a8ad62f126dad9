package cwdomain

import (
	"errors"
	"fmt"
)

// ErrNotFound: operation referenced a record ID absent from storage.
var ErrNotFound = errors.New("certificate not found")

// DataQualityError: an observation carried a value we refuse to guess a
// meaning for (unparsable or missing expiry date). The record it would have
// touched must be left unchanged by the caller.
type DataQualityError struct {
	Field string
	Raw   string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality: unparsable %s: %q", e.Field, e.Raw)
}

func IsDataQuality(err error) bool {
	var dqe *DataQualityError
	return errors.As(err, &dqe)
}
