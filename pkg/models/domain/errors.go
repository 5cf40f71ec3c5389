package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a workflow, consent handle or session lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrMalformedPayload marks an inbound or stored payload that does not match its schema.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrSigning marks a bad signing key or a payload that cannot be serialized.
	ErrSigning = errors.New("signing failed")
	// ErrExtraction marks a decoded FI object that cannot be turned into holdings.
	ErrExtraction = errors.New("extraction failed")
)

// ProviderError is a failed call to the data provider or the key custody service.
type ProviderError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
