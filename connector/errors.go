package connector

import (
	"errors"
	"fmt"

	"bloomberg-lite/fetch"
)

// ErrMalformedPayload is returned by Normalize when the top-level document
// cannot be decoded. Individual bad records are skipped and counted instead.
var ErrMalformedPayload = errors.New("malformed payload")

// ConfigError reports a connector that cannot run with the current
// configuration: an unregistered source tag, a missing credential or a
// missing provider identifier. The item is skipped, not failed.
type ConfigError struct {
	Source string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("connector %s: %s", e.Source, e.Reason)
}

// FetchError wraps a failed provider request.
type FetchError struct {
	Source string
	Status int // HTTP status, zero when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("connector %s: fetch: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports failures that may succeed on the next run: timeouts,
// network errors, 5xx and 429 responses.
func (e *FetchError) Transient() bool {
	var fe *fetch.Error
	if errors.As(e.Err, &fe) {
		return fe.Transient()
	}
	return false
}

// Auth reports a rejected credential.
func (e *FetchError) Auth() bool {
	var fe *fetch.Error
	return errors.As(e.Err, &fe) && fe.Auth()
}

// fetchErr wraps err as a *FetchError for source. Nil stays nil.
func fetchErr(source string, err error) error {
	if err == nil {
		return nil
	}
	fe := &FetchError{Source: source, Err: err}
	var te *fetch.Error
	if errors.As(err, &te) {
		fe.Status = te.Status
	}
	return fe
}

func malformed(source string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, source, err)
}
