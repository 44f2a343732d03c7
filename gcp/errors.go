package gcp

import (
	"errors"
	"fmt"
	"net/http"

	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
)

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusNotFound
	}
	return false
}

// IsConflict reports whether err is a 409, which the API returns both for
// concurrent resource creation and for stale IAM policy etags.
func IsConflict(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusConflict
	}
	return false
}

// IsForbidden reports whether err indicates missing permissions or a
// disabled API ("Access Not Configured").
func IsForbidden(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusForbidden
	}
	return false
}

// operationError converts a failed compute operation into an error.
func operationError(op *compute.Operation) error {
	if op.Error == nil || len(op.Error.Errors) == 0 {
		return fmt.Errorf("operation %s failed", op.Name)
	}
	first := op.Error.Errors[0]
	return fmt.Errorf("operation %s failed: %s: %s", op.Name, first.Code, first.Message)
}
