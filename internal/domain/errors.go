package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Pair them with NewSubSystemError so ErrorCodeOf can
// resolve a subsystem-specific code.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrLimitReached  = fmt.Errorf("limit reached")
	ErrDisabled      = fmt.Errorf("disabled")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrConfigLoad = fmt.Errorf("failed to load configuration")

	// Pattern store errors.
	ErrStoreCorrupt        = fmt.Errorf("pattern store file is corrupt")
	ErrStoreClosed         = fmt.Errorf("pattern store is closed")
	ErrStoreWrite          = fmt.Errorf("pattern store write failed")
	ErrSnapshotInvalid     = fmt.Errorf("pattern snapshot is invalid")
	ErrPatternNotFound     = fmt.Errorf("pattern not found")
	ErrInteractionNotFound = fmt.Errorf("interaction not found")

	// Routing errors.
	ErrNoFallbackAgent = fmt.Errorf("no fallback agent registered")
	ErrEmptyMessage    = fmt.Errorf("message is empty")

	// Model backend errors.
	ErrModelUnavailable = fmt.Errorf("intent model unavailable")
	ErrRateLimit        = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid      = fmt.Errorf("authentication failed")
	ErrUpstream         = fmt.Errorf("upstream service failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "FileStore.Load")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "agent", "store"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUpstream) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeStoreCorrupt       ErrorCode = "STORE_CORRUPT"
	CodeStoreClosed        ErrorCode = "STORE_CLOSED"
	CodeStoreWrite         ErrorCode = "STORE_WRITE"
	CodeSnapshotInvalid    ErrorCode = "SNAPSHOT_INVALID"
	CodePatternNotFound    ErrorCode = "PATTERN_NOT_FOUND"
	CodeInteractionMissing ErrorCode = "INTERACTION_NOT_FOUND"
	CodeNoFallbackAgent    ErrorCode = "NO_FALLBACK_AGENT"
	CodeEmptyMessage       ErrorCode = "EMPTY_MESSAGE"
	CodeModelUnavailable   ErrorCode = "MODEL_UNAVAILABLE"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeUpstream           ErrorCode = "UPSTREAM"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDuplicate   ErrorCode = "AGENT_DUPLICATE"
	CodeAgentInvalid     ErrorCode = "AGENT_INVALID"
	CodeModelTimeout     ErrorCode = "MODEL_TIMEOUT"
	CodeStoreLimit       ErrorCode = "STORE_LIMIT"
	CodeSchedulerInvalid ErrorCode = "SCHEDULER_INVALID"

	// Category error codes, used when no subsystem-specific code matches.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeLimitReached  ErrorCode = "LIMIT_REACHED"
	CodeDisabled      ErrorCode = "DISABLED"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrLimitReached:  CodeLimitReached,
	ErrDisabled:      CodeDisabled,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrConfigLoad:          CodeConfigLoad,
	ErrStoreCorrupt:        CodeStoreCorrupt,
	ErrStoreClosed:         CodeStoreClosed,
	ErrStoreWrite:          CodeStoreWrite,
	ErrSnapshotInvalid:     CodeSnapshotInvalid,
	ErrPatternNotFound:     CodePatternNotFound,
	ErrInteractionNotFound: CodeInteractionMissing,
	ErrNoFallbackAgent:     CodeNoFallbackAgent,
	ErrEmptyMessage:        CodeEmptyMessage,
	ErrModelUnavailable:    CodeModelUnavailable,
	ErrRateLimit:           CodeRateLimit,
	ErrAuthInvalid:         CodeAuthInvalid,
	ErrUpstream:            CodeUpstream,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent": CodeAgentNotFound,
		"store": CodePatternNotFound,
	},
	ErrDuplicate: {
		"agent": CodeAgentDuplicate,
	},
	ErrTimeout: {
		"model": CodeModelTimeout,
	},
	ErrLimitReached: {
		"store": CodeStoreLimit,
	},
	ErrInvalidInput: {
		"agent":     CodeAgentInvalid,
		"store":     CodeSnapshotInvalid,
		"scheduler": CodeSchedulerInvalid,
	},
	ErrProviderError: {
		"model": CodeModelUnavailable,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
