package model

import (
	"errors"
	"fmt"
)

// Category groups failures by how they are surfaced to the user.
type Category string

const (
	CategoryValidation     Category = "validation_error"
	CategoryNetwork        Category = "network_error"
	CategoryServerRejected Category = "server_rejected"
	CategoryMalformed      Category = "malformed_response"
	CategoryExport         Category = "export_error"
	CategoryState          Category = "state_error"
)

var (
	ErrUnsupportedType    = errors.New("unsupported file type")
	ErrTooLarge           = errors.New("file too large")
	ErrInvalidImage       = errors.New("file is not a valid image")
	ErrDimensionsTooLarge = errors.New("image dimensions too large")

	ErrUnreachable       = errors.New("ocr service unreachable")
	ErrServerRejected    = errors.New("ocr service rejected the request")
	ErrMalformedResponse = errors.New("malformed ocr response")

	ErrNoData            = errors.New("no scan result available")
	ErrUnsupportedFormat = errors.New("unsupported export format")

	ErrScanInProgress = errors.New("a scan is already in progress")
	ErrScanAbandoned  = errors.New("scan abandoned")
	ErrNoFileSelected = errors.New("no file selected")
)

// ScanError carries a failure kind (one of the Err* sentinels) together with
// the user-facing message and, for provider failures, the HTTP status.
type ScanError struct {
	Category   Category
	Kind       error
	Message    string
	StatusCode int
	Cause      error
}

func (e *ScanError) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, msg)
}

func (e *ScanError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func NewScanError(category Category, kind error, message string, cause error) *ScanError {
	return &ScanError{
		Category: category,
		Kind:     kind,
		Message:  message,
		Cause:    cause,
	}
}

func ValidationError(kind error, message string) *ScanError {
	return NewScanError(CategoryValidation, kind, message, nil)
}

func ExportError(kind error, message string) *ScanError {
	return NewScanError(CategoryExport, kind, message, nil)
}

// CategoryOf returns the category of err, or "" when err is not a ScanError.
func CategoryOf(err error) Category {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// UserMessage renders err as a message suitable for the result view.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *ScanError
	if errors.As(err, &se) {
		if se.Message != "" {
			return se.Message
		}
		if se.Kind != nil {
			return se.Kind.Error()
		}
	}
	switch {
	case errors.Is(err, ErrScanInProgress), errors.Is(err, ErrScanAbandoned), errors.Is(err, ErrNoFileSelected):
		return err.Error()
	}
	return "An unexpected error occurred. Please try again."
}
