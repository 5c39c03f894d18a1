// Package errors holds the stable error-code vocabulary shared between
// the pipeline's logs and the query shim's JSON error responses.
package errors

const (
	// General
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeInternal   = "INTERNAL_ERROR"

	// Recipe pipeline
	ErrCodeDuplicateRecipe  = "DUPLICATE_RECIPE"
	ErrCodeExtractionFailed = "EXTRACTION_FAILED"
	ErrCodeSchemaFailure    = "SCHEMA_FAILURE"

	// Service
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeQuotaExceeded      = "QUOTA_EXCEEDED"
)
