package service

import "errors"

var (
	// ErrNotFound is returned when a document, user or conversation ID is unknown.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the requesting user does not own the resource.
	ErrForbidden = errors.New("access denied")

	// ErrInvalidInput is returned for non-PDF uploads, malformed URLs and
	// non-PDF remote content.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamFetch is returned when downloading a remote PDF fails.
	ErrUpstreamFetch = errors.New("failed to download PDF from URL")

	// ErrPersistence is returned when the registry snapshot cannot be written.
	ErrPersistence = errors.New("failed to persist registry")

	// ErrInvalidTransition is returned when a status change would move a
	// document backwards or skip a state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicatePath is returned when two documents would share a source file.
	ErrDuplicatePath = errors.New("file path already registered")

	// ErrNotReady is returned when content is requested before processing completed.
	ErrNotReady = errors.New("PDF processing not complete")

	// ErrEmailTaken is returned on registration with an existing email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned when login fails.
	ErrInvalidCredentials = errors.New("incorrect email or password")
)

// ConversionError reports that the conversion engine could not produce
// usable output for a document.
type ConversionError struct {
	Source  string
	Message string
	Err     error
}

func (e *ConversionError) Error() string {
	return "conversion failed for " + e.Source + ": " + e.Message
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
