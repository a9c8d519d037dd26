package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Every error returned by the host wraps exactly one
// of these so callers can classify failures with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("duplicate")
	ErrTimeout          = errors.New("operation timed out")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidInput     = errors.New("invalid input")
)

// Extension host sentinels, mirroring the failure taxonomy of the
// lifecycle controller and host bridge.
var (
	// ErrValidation covers malformed manifests and unsupported runtime tags.
	ErrValidation = errors.New("manifest validation failed")
	// ErrMissingPermissions blocks activation while any declared permission
	// is ungranted. The instance state is left unchanged.
	ErrMissingPermissions = errors.New("declared permissions not granted")
	// ErrSandboxInstantiation covers modules that fail to compile or
	// instantiate, or that export no usable linear memory.
	ErrSandboxInstantiation = errors.New("sandbox instantiation failed")
	// ErrCommandNotFound means no activated extension registered the command.
	ErrCommandNotFound = errors.New("command not found")
	// ErrPathOutsideWorkspace marks a filesystem request escaping the
	// workspace root. Host functions convert it to a sentinel return code;
	// it never crosses into guest code as an error.
	ErrPathOutsideWorkspace = errors.New("path is outside workspace root")
	// ErrMemoryAccess marks an out-of-bounds guest memory read or write.
	ErrMemoryAccess = errors.New("guest memory access out of bounds")
	// ErrSSRFBlocked marks an outbound fetch to a private/reserved address.
	ErrSSRFBlocked = errors.New("request to private/reserved IP blocked")
)

// DomainError wraps a sentinel with operation context.
type DomainError struct {
	Op     string // operation name, e.g. "Controller.Activate"
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error. Returns nil if err is nil,
// enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeDuplicate            ErrorCode = "DUPLICATE"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeValidation           ErrorCode = "MANIFEST_VALIDATION"
	CodeMissingPermissions   ErrorCode = "MISSING_PERMISSIONS"
	CodePermissionDenied     ErrorCode = "PERMISSION_DENIED"
	CodeSandboxInstantiation ErrorCode = "SANDBOX_INSTANTIATION"
	CodeCommandNotFound      ErrorCode = "COMMAND_NOT_FOUND"
	CodeOutsideWorkspace     ErrorCode = "PATH_OUTSIDE_WORKSPACE"
	CodeMemoryAccess         ErrorCode = "MEMORY_ACCESS"
	CodeSSRFBlocked          ErrorCode = "SSRF_BLOCKED"
)

var codeMap = []struct {
	sentinel error
	code     ErrorCode
}{
	{ErrValidation, CodeValidation},
	{ErrMissingPermissions, CodeMissingPermissions},
	{ErrSandboxInstantiation, CodeSandboxInstantiation},
	{ErrCommandNotFound, CodeCommandNotFound},
	{ErrPathOutsideWorkspace, CodeOutsideWorkspace},
	{ErrMemoryAccess, CodeMemoryAccess},
	{ErrSSRFBlocked, CodeSSRFBlocked},
	{ErrPermissionDenied, CodePermissionDenied},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicate, CodeDuplicate},
	{ErrTimeout, CodeTimeout},
	{ErrInvalidInput, CodeInvalidInput},
}

// ErrorCodeOf maps an error to its ErrorCode. Specific sentinels are
// checked before category sentinels.
func ErrorCodeOf(err error) ErrorCode {
	for _, m := range codeMap {
		if errors.Is(err, m.sentinel) {
			return m.code
		}
	}
	return CodeUnknown
}
