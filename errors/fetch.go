package errors

import "fmt"

// FetchError reports an upstream failure for one gap of a stitch. The
// failed range is carried so callers can retry just that sub-range;
// progress on other gaps in the same call persists independently.
type FetchError struct {
	From string
	To   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for [%s, %s): %v", e.From, e.To, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps an upstream error with the half-open range it covers.
func NewFetchError(from, to string, err error) *FetchError {
	return &FetchError{From: from, To: to, Err: err}
}

// AsFetchError extracts a FetchError from an error chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if err != nil && As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// LoadReason classifies extension load failures.
type LoadReason string

const (
	// LoadNotFound means the module or file could not be resolved
	LoadNotFound LoadReason = "NotFound"
	// LoadAttributeError means the entry point export is missing
	LoadAttributeError LoadReason = "AttributeError"
	// LoadInstantiationError means the entry point could not be instantiated
	LoadInstantiationError LoadReason = "InstantiationError"
)

// LoadError reports a failed extension provider load. A failed load never
// leaves a partially registered provider.
type LoadError struct {
	Reason LoadReason
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("extension load failed (%s): %v", e.Reason, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError wraps err with a load failure classification.
func NewLoadError(reason LoadReason, err error) *LoadError {
	return &LoadError{Reason: reason, Err: err}
}

// AsLoadError extracts a LoadError from an error chain.
func AsLoadError(err error) (*LoadError, bool) {
	var le *LoadError
	if err != nil && As(err, &le) {
		return le, true
	}
	return nil, false
}
