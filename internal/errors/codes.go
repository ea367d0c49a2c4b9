// Package errors provides structured error handling for amanvec.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and persistence errors
//   - 3XX: Network and embedding backend errors
//   - 4XX: Input and contract validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk, and container persistence errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network and embedding backend errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation and contract errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO and persistence errors (200-299)
	ErrCodeFileNotFound      = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission    = "ERR_202_FILE_PERMISSION"
	ErrCodePersistenceFailed = "ERR_203_PERSISTENCE_FAILED"
	ErrCodeContainerCorrupt  = "ERR_204_CONTAINER_CORRUPT"
	ErrCodeContainerLocked   = "ERR_205_CONTAINER_LOCKED"
	ErrCodeContainerNotFound = "ERR_206_CONTAINER_NOT_FOUND"

	// Network and embedding errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeEmbeddingFailed    = "ERR_303_EMBEDDING_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeNoDocumentsFound  = "ERR_402_NO_DOCUMENTS_FOUND"
	ErrCodeMalformedChunk    = "ERR_403_MALFORMED_CHUNK"
	ErrCodeChunkNotFound     = "ERR_404_CHUNK_NOT_FOUND"
	ErrCodeUnknownBackend    = "ERR_405_UNKNOWN_BACKEND"
	ErrCodeDimensionMismatch = "ERR_406_DIMENSION_MISMATCH"

	// Internal errors (500-599)
	ErrCodeInternal    = "ERR_501_INTERNAL"
	ErrCodeMergeFailed = "ERR_502_MERGE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeContainerLocked:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// retryableCodes lists codes where retrying the whole operation may succeed.
var retryableCodes = map[string]bool{
	ErrCodeNetworkTimeout:     true,
	ErrCodeNetworkUnavailable: true,
	ErrCodeEmbeddingFailed:    true,
	ErrCodeContainerLocked:    true,
}

// isRetryableCode reports whether the code marks a retryable condition.
func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
