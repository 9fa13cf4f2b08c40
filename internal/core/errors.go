package core

import (
	"errors"
	"fmt"

	"closetstudio.app/virtual-closet/internal/store"
)

var (
	// ErrNotConfigured means a credential or setting the operation needs is missing.
	// It is returned before any network call is made.
	ErrNotConfigured = errors.New("service not configured")

	// ErrGenerationInFlight rejects a generation request while another is outstanding.
	ErrGenerationInFlight = errors.New("another generation request is already in progress")

	// ErrUploadFailed marks a failed image upload. Callers fall back to an inline data URL.
	ErrUploadFailed = errors.New("image upload failed")

	// ErrGenerationFailed wraps transport failures from the generation service.
	ErrGenerationFailed = errors.New("generation service request failed")

	// ErrForecastFailed wraps transport failures from the forecast service.
	ErrForecastFailed = errors.New("forecast service request failed")

	// ErrInsufficientHistory means too few liked outfits for style insights.
	ErrInsufficientHistory = errors.New("not enough liked outfits yet")

	ErrInvalidInput = errors.New("invalid input")

	ErrNotFound = store.ErrNotFound
)

type InsufficientWardrobeError struct {
	Have int
	Need int
}

func (e *InsufficientWardrobeError) Error() string {
	return fmt.Sprintf("wardrobe has %d items, at least %d are needed", e.Have, e.Need)
}

// GenerationParseError wraps a generation response that could not be read as
// the expected structure. The caller may retry.
type GenerationParseError struct {
	Err error
}

func (e *GenerationParseError) Error() string {
	return fmt.Sprintf("failed to parse generated outfit: %v", e.Err)
}

func (e *GenerationParseError) Unwrap() error { return e.Err }

func parseErrorf(format string, args ...any) error {
	return &GenerationParseError{Err: fmt.Errorf(format, args...)}
}

// ConstraintViolationError carries a generated outfit that broke outfit rules.
// The outfit is attached so the caller can retry or show it with a warning.
type ConstraintViolationError struct {
	Violations []store.Violation
	Outfit     *store.Outfit
}

func (e *ConstraintViolationError) Error() string {
	if len(e.Violations) == 1 {
		return "outfit violates rule " + e.Violations[0].Rule + ": " + e.Violations[0].Message
	}
	return fmt.Sprintf("outfit violates %d rules", len(e.Violations))
}

func notConfigured(what string) error {
	return fmt.Errorf("%w: %s", ErrNotConfigured, what)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// generationError classifies a Generator failure. Errors that already carry a
// kind pass through; anything else is a transport failure.
func generationError(err error) error {
	var parseErr *GenerationParseError
	if errors.Is(err, ErrNotConfigured) || errors.As(err, &parseErr) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
}
