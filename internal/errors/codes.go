// Package errors provides structured error handling for uprootmcp.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Argument and validation errors
//   - 2XX: IO and storage errors
//   - 3XX: Policy errors (sensitive files, budgets)
//   - 4XX: Resolution errors (edit targets, lookups)
//   - 5XX: Internal errors
package errors

// Kind classifies an error for pillar boundaries. Kinds are stable wire
// values surfaced in structured responses.
type Kind string

const (
	// KindInvalidArgs indicates missing or malformed inputs.
	KindInvalidArgs Kind = "invalid_args"
	// KindNotFound indicates an unknown path or pack id.
	KindNotFound Kind = "not_found"
	// KindBlocked indicates a sensitive-file or budget policy denial.
	KindBlocked Kind = "blocked"
	// KindTimeout indicates cancellation by deadline.
	KindTimeout Kind = "timeout"
	// KindAmbiguousMatch indicates the edit resolver found multiple candidates.
	KindAmbiguousMatch Kind = "ambiguous_match"
	// KindNoMatch indicates the edit resolver found zero candidates.
	KindNoMatch Kind = "no_match"
	// KindHashMismatch indicates a file drifted between plan and apply.
	KindHashMismatch Kind = "hash_mismatch"
	// KindIndexStale indicates analysis returned a conservative result.
	KindIndexStale Kind = "index_stale"
	// KindFallbackUsed indicates the LOD analyzer fell back to a full parse.
	KindFallbackUsed Kind = "fallback_used"
	// KindFatal indicates corruption or unrecoverable I/O.
	KindFatal Kind = "fatal"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Argument errors (100-199)
	ErrCodeInvalidInput  = "ERR_101_INVALID_INPUT"
	ErrCodeQueryEmpty    = "ERR_102_QUERY_EMPTY"
	ErrCodeInvalidPath   = "ERR_103_INVALID_PATH"
	ErrCodeInvalidCursor = "ERR_104_INVALID_CURSOR"

	// IO and storage errors (200-299)
	ErrCodeFileNotFound  = "ERR_201_FILE_NOT_FOUND"
	ErrCodePackNotFound  = "ERR_202_PACK_NOT_FOUND"
	ErrCodeCorruptIndex  = "ERR_203_CORRUPT_INDEX"
	ErrCodeStorageFailed = "ERR_204_STORAGE_FAILED"
	ErrCodePackExpired   = "ERR_205_PACK_EXPIRED"

	// Policy errors (300-399)
	ErrCodeSensitiveFile  = "ERR_301_SENSITIVE_FILE"
	ErrCodeBudgetExceeded = "ERR_302_BUDGET_EXCEEDED"

	// Resolution errors (400-499)
	ErrCodeAmbiguousMatch = "ERR_401_AMBIGUOUS_MATCH"
	ErrCodeNoMatch        = "ERR_402_NO_MATCH"
	ErrCodeHashMismatch   = "ERR_403_HASH_MISMATCH"
	ErrCodeResolveTimeout = "ERR_404_RESOLVE_TIMEOUT"
	ErrCodeEagerLoadFail  = "ERR_405_EAGER_LOAD_FAILED"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeIndexStale     = "ERR_502_INDEX_STALE"
	ErrCodeFallbackUsed   = "ERR_503_FALLBACK_USED"
	ErrCodeEmbeddingFail  = "ERR_504_EMBEDDING_FAILED"
	ErrCodeSearchFailed   = "ERR_505_SEARCH_FAILED"
	ErrCodeChunkingFailed = "ERR_506_CHUNKING_FAILED"
)

// kindFromCode maps an error code to its boundary kind.
func kindFromCode(code string) Kind {
	switch code {
	case ErrCodeInvalidInput, ErrCodeQueryEmpty, ErrCodeInvalidPath, ErrCodeInvalidCursor:
		return KindInvalidArgs
	case ErrCodeFileNotFound, ErrCodePackNotFound, ErrCodePackExpired:
		return KindNotFound
	case ErrCodeSensitiveFile, ErrCodeBudgetExceeded:
		return KindBlocked
	case ErrCodeResolveTimeout, ErrCodeEagerLoadFail:
		return KindTimeout
	case ErrCodeAmbiguousMatch:
		return KindAmbiguousMatch
	case ErrCodeNoMatch:
		return KindNoMatch
	case ErrCodeHashMismatch:
		return KindHashMismatch
	case ErrCodeIndexStale:
		return KindIndexStale
	case ErrCodeFallbackUsed:
		return KindFallbackUsed
	case ErrCodeCorruptIndex, ErrCodeStorageFailed:
		return KindFatal
	default:
		return KindFatal
	}
}

// severityFromKind determines severity from the boundary kind.
func severityFromKind(kind Kind) Severity {
	switch kind {
	case KindFatal:
		return SeverityFatal
	case KindIndexStale, KindFallbackUsed:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableKind reports whether operations failing with this kind may be
// retried by the caller without changing inputs.
func isRetryableKind(kind Kind) bool {
	switch kind {
	case KindTimeout, KindNotFound, KindIndexStale:
		return true
	default:
		return false
	}
}
