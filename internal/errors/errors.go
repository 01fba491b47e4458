package errors

import (
	"fmt"
	"time"
)

/**
 * Custom error types for the medscan pipeline
 *
 * Every per-image failure is carried as a *ProcessingError so that outcomes can be
 * inspected by callers and persisted alongside successful results.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorInputDirMissing ErrorCode = "INPUT_DIR_MISSING"
	ErrorLoadFailed      ErrorCode = "LOAD_FAILED"

	// Processing errors
	ErrorPreprocessFailed  ErrorCode = "PREPROCESS_FAILED"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorClassifyFailed    ErrorCode = "CLASSIFY_FAILED"
	ErrorAlignmentMismatch ErrorCode = "ALIGNMENT_MISMATCH"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	ImageID   string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewInputDirMissingError(dir string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInputDirMissing,
		Message:   fmt.Sprintf("Input directory %q does not exist", dir),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"input_dir": dir,
		},
		Cause: cause,
	}
}

func NewLoadFailedError(imageID string, path string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorLoadFailed,
		Message:   fmt.Sprintf("Failed to load image: %s", path),
		ImageID:   imageID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"path": path,
		},
		Cause: cause,
	}
}

func NewPreprocessFailedError(imageID string, variant string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPreprocessFailed,
		Message:   fmt.Sprintf("Preprocessing failed for variant: %s", variant),
		ImageID:   imageID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"variant": variant,
		},
		Cause: cause,
	}
}

func NewOCRFailedError(imageID string, variant string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed for variant: %s", variant),
		ImageID:   imageID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"variant": variant,
		},
		Cause: cause,
	}
}

func NewClassifyFailedError(imageID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorClassifyFailed,
		Message:   "Entity classification failed",
		ImageID:   imageID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewAlignmentMismatchError(normal, advanced int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorAlignmentMismatch,
		Message:   fmt.Sprintf("Cannot pair %d normal results with %d advanced results", normal, advanced),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"normal_count":   normal,
			"advanced_count": advanced,
		},
	}
}

func NewProcessingTimeoutError(imageID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		ImageID:   imageID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(imageID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		ImageID:   imageID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// IsCode reports whether err is a *ProcessingError with the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if pe, ok := err.(*ProcessingError); ok && pe.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.ImageID != "" {
		result["image_id"] = e.ImageID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
