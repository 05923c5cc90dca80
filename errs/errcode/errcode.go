// Package errcode provides a registry of stable, machine-checkable error
// codes for hangar, modeled on the distribution registry's API error-code
// table (registry/api/errcode). Every layer of the engine — arraysets,
// staging, refs, the remote protocol — returns these instead of ad hoc
// errors so the remote server can map them onto transport status codes
// (§6 "Status codes") without string matching.
package errcode

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// ErrorCode is a unique identifier assigned at registration time.
type ErrorCode int

// ErrorDescriptor provides relevant information about a given error code.
type ErrorDescriptor struct {
	// Code is the error code that this descriptor describes.
	Code ErrorCode

	// Value provides a unique, string key, often captilized with
	// underscores, to identify the error code. This value is used as the
	// keyed value when serializing api errors.
	Value string

	// Message is a short, human readable description of the error.
	Message string

	// Description provides a complete account of the errors purpose,
	// suitable for use in documentation.
	Description string

	// HTTPStatusCode provides the http status code that is associated with
	// this error condition.
	HTTPStatusCode int
}

// Error provides a wrapper around ErrorCode with extra Details provided.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  any       `json:"detail,omitempty"`
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code.Error(), e.Message)
}

// ErrorCode returns the ID/Value of this Error.
func (e Error) ErrorCode() ErrorCode {
	return e.Code
}

// ErrorCoder is the base interface for ErrorCode and Error, allowing both to
// be used interchangeably.
type ErrorCoder interface {
	ErrorCode() ErrorCode
}

var (
	errorCodeToDescriptors = map[ErrorCode]ErrorDescriptor{}
	idToDescriptors        = map[string]ErrorDescriptor{}
	mu                     sync.RWMutex
	nextCode               ErrorCode
)

// register registers an ErrorDescriptor assigning the next available
// ErrorCode. This is only to be used with init functions.
func register(group string, descriptor ErrorDescriptor) ErrorCode {
	mu.Lock()
	defer mu.Unlock()

	nextCode++
	descriptor.Code = nextCode
	if _, ok := idToDescriptors[descriptor.Value]; ok {
		panic(fmt.Sprintf("errcode: duplicate registration of %q", descriptor.Value))
	}
	errorCodeToDescriptors[descriptor.Code] = descriptor
	idToDescriptors[descriptor.Value] = descriptor
	return descriptor.Code
}

// Descriptor returns the descriptor for the error code.
func (ec ErrorCode) Descriptor() ErrorDescriptor {
	mu.RLock()
	defer mu.RUnlock()
	return errorCodeToDescriptors[ec]
}

// String returns the canonical identifier for this error code.
func (ec ErrorCode) String() string {
	return ec.Descriptor().Value
}

// Message returns the human-readable error message for this code.
func (ec ErrorCode) Message() string {
	return ec.Descriptor().Message
}

// Error returns the error code as a string, for compatibility with error
// interfaces.
func (ec ErrorCode) Error() string {
	return ec.Descriptor().Value
}

// WithMessage overrides the registered message for a particular
// occurrence of the error.
func (ec ErrorCode) WithMessage(format string, args ...any) Error {
	return Error{Code: ec, Message: fmt.Sprintf(format, args...)}
}

// WithDetail creates a new Error struct based on the passed-in info and
// set the Detail field appropriately.
func (ec ErrorCode) WithDetail(detail any) Error {
	return Error{Code: ec, Message: ec.Message(), Detail: detail}
}

// ErrorCode returns itself, allowing it to satisfy ErrorCoder directly.
func (ec ErrorCode) ErrorCode() ErrorCode {
	return ec
}

// HTTPStatusCode maps the error code to the transport's numeric status.
func (ec ErrorCode) HTTPStatusCode() int {
	return ec.Descriptor().HTTPStatusCode
}

// ParseValue returns the code registered for value, if any.
func ParseValue(value string) (ErrorCode, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := idToDescriptors[value]
	return d.Code, ok
}

// All returns a sorted, stable slice of all registered descriptors. Used
// to render documentation and verify there are no collisions in tests.
func All() []ErrorDescriptor {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]ErrorDescriptor, 0, len(errorCodeToDescriptors))
	for _, d := range errorCodeToDescriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

const engineGroup = "hangar.engine"

// The error taxonomy from spec §7: Validation, NotFound, AlreadyExists,
// Permission, Corruption, Resource, Internal.
var (
	ErrorCodeUnknown = register(engineGroup, ErrorDescriptor{
		Value:          "UNKNOWN",
		Message:        "unknown error",
		Description:    "Generic error with no more specific classification.",
		HTTPStatusCode: http.StatusInternalServerError,
	})

	ErrorCodeInvalidKey = register(engineGroup, ErrorDescriptor{
		Value:   "INVALID_KEY",
		Message: "sample key is malformed",
		Description: `Sample keys must be non-negative integers or strings of
		length 1-64 over [A-Za-z0-9_.-]. Returned without mutating any
		arrayset state.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeInvalidName = register(engineGroup, ErrorDescriptor{
		Value:          "INVALID_NAME",
		Message:        "arrayset, branch, or metadata key name is malformed",
		Description:    `Names obey the same character rules as sample keys.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeSchemaMismatch = register(engineGroup, ErrorDescriptor{
		Value:   "SCHEMA_MISMATCH",
		Message: "sample does not conform to arrayset schema",
		Description: `Raised when a sample's dtype, rank, or shape does not
		satisfy the arrayset's frozen schema. No partial mutation occurs.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeNonContiguous = register(engineGroup, ErrorDescriptor{
		Value:          "NON_CONTIGUOUS",
		Message:        "sample payload is not row-major contiguous",
		Description:    `Callers must normalize to C-contiguous, little-endian layout before writing; the store does not transpose on their behalf.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeNotFound = register(engineGroup, ErrorDescriptor{
		Value:          "NOT_FOUND",
		Message:        "requested object does not exist",
		Description:    `Returned for a missing digest, commit, branch, schema, or sample key.`,
		HTTPStatusCode: http.StatusNotFound,
	})

	ErrorCodeAlreadyExists = register(engineGroup, ErrorDescriptor{
		Value:   "ALREADY_EXISTS",
		Message: "object already exists",
		Description: `Returned by explicit create-new operations (arrayset
		init, branch create) when the name is already taken. Re-pushing an
		identical commit/schema/data digest is idempotent and is NOT
		reported through this code — see the idempotent no-op return.`,
		HTTPStatusCode: http.StatusConflict,
	})

	ErrorCodePermissionDenied = register(engineGroup, ErrorDescriptor{
		Value:          "PERMISSION_DENIED",
		Message:        "operation not permitted on this checkout",
		Description:    `Raised for writes against a reader checkout, a second concurrent writer checkout, or a restricted push.`,
		HTTPStatusCode: http.StatusForbidden,
	})

	ErrorCodeFailedPrecondition = register(engineGroup, ErrorDescriptor{
		Value:          "FAILED_PRECONDITION",
		Message:        "operation requires a precondition that was not met",
		Description:    `Raised when PushData is called outside a BEGIN...END push context, or a second push context is opened while one is active.`,
		HTTPStatusCode: http.StatusPreconditionFailed,
	})

	ErrorCodeDataLoss = register(engineGroup, ErrorDescriptor{
		Value:          "DATA_LOSS",
		Message:        "received payload does not match asserted digest",
		Description:    `The batch containing the mismatched payload is aborted wholesale; none of its samples are persisted.`,
		HTTPStatusCode: http.StatusUnprocessableEntity,
	})

	ErrorCodeResourceExhausted = register(engineGroup, ErrorDescriptor{
		Value:          "RESOURCE_EXHAUSTED",
		Message:        "backend container or chunk budget exhausted",
		Description:    `Retryable: the caller should back off, or the layer above should allocate a new backend container.`,
		HTTPStatusCode: http.StatusInsufficientStorage,
	})

	ErrorCodeInternal = register(engineGroup, ErrorDescriptor{
		Value:          "INTERNAL",
		Message:        "internal invariant violation",
		Description:    `Aborts the request with full context for diagnosis; no automatic repair is attempted.`,
		HTTPStatusCode: http.StatusInternalServerError,
	})
)
