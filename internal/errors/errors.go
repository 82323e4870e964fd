package errors

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Code identifies a failure kind across the workflow.
type Code string

// Severity describes how loudly a failure should be reported.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes holds the default behaviour attached to a code.
type Attributes struct {
	Message  string
	Severity Severity
	// Fatal reports whether the workflow must stop when this code surfaces.
	Fatal bool
	// Retryable is informational; nothing in the workflow retries automatically.
	Retryable bool
}

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeKeyGeneration       Code = "KEY_GENERATION_FAILED"
	CodeChainUnavailable    Code = "CHAIN_UNAVAILABLE"
	CodeDeploymentRejected  Code = "DEPLOYMENT_REJECTED"
	CodeTransactionRejected Code = "TRANSACTION_REJECTED"
	CodeConfirmationTimeout Code = "CONFIRMATION_TIMEOUT"
	CodeFeeCeilingTooLow    Code = "FEE_CEILING_TOO_LOW"
	CodeMalformedResponse   Code = "MALFORMED_RESPONSE"
	CodeFundingAborted      Code = "FUNDING_ABORTED"
	CodeAborted             Code = "ABORTED"
	CodeStorageFailure      Code = "STORAGE_FAILURE"
	CodePublishFailure      Code = "PUBLISH_FAILURE"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:             {Message: "unknown error", Severity: SeverityCritical, Fatal: true},
		CodeInvalidArgument:     {Message: "invalid argument", Severity: SeverityInfo, Fatal: true},
		CodeKeyGeneration:       {Message: "key pair generation failed", Severity: SeverityCritical, Fatal: true},
		CodeChainUnavailable:    {Message: "chain endpoint unavailable", Severity: SeverityCritical, Fatal: true, Retryable: true},
		CodeDeploymentRejected:  {Message: "contract deployment rejected", Severity: SeverityCritical, Fatal: true},
		CodeTransactionRejected: {Message: "transaction rejected", Severity: SeverityCritical, Fatal: true},
		CodeConfirmationTimeout: {Message: "timed out waiting for confirmation", Severity: SeverityWarning, Fatal: true, Retryable: true},
		CodeFeeCeilingTooLow:    {Message: "fee ceiling too low", Severity: SeverityWarning, Fatal: true, Retryable: true},
		CodeMalformedResponse:   {Message: "malformed response", Severity: SeverityWarning, Fatal: false},
		CodeFundingAborted:      {Message: "funding confirmation aborted", Severity: SeverityWarning, Fatal: true},
		CodeAborted:             {Message: "workflow aborted", Severity: SeverityWarning, Fatal: true},
		CodeStorageFailure:      {Message: "storage failure", Severity: SeverityWarning, Fatal: false, Retryable: true},
		CodePublishFailure:      {Message: "event publish failure", Severity: SeverityWarning, Fatal: false, Retryable: true},
	}
)

// Register adds or overrides the attributes of a code.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes of code, falling back to UNKNOWN.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the coded error type used by every package of the module.
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	fatal     *bool
	severity  *Severity
}

// Option customises an Error at construction time.
type Option func(*Error)

// WithMetadata attaches a key/value pair shown in logs and journal entries.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithFatal overrides whether the error stops the workflow.
func WithFatal(fatal bool) Option {
	return func(e *Error) {
		e.fatal = &fatal
	}
}

// WithRetryable overrides the retry hint.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithSeverity overrides the default severity.
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New creates an error with the given code. An empty message uses the
// registered default.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap creates a coded error around cause.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.code, e.message)
	if len(e.metadata) > 0 {
		keys := make([]string, 0, len(e.metadata))
		for k := range e.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.metadata[k])
		}
		b.WriteString(")")
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error carrying the same code, so sentinel values work
// with errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata returns a copy of the attached metadata.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

func (e *Error) Fatal() bool {
	if e == nil {
		return false
	}
	if e.fatal != nil {
		return *e.fatal
	}
	return AttributesOf(e.code).Fatal
}

func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From extracts the first *Error in err's chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code carried by err or UNKNOWN.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsFatal reports whether err must stop the workflow. Uncoded errors are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := From(err); ok {
		return e.Fatal()
	}
	return true
}

// SeverityOf returns the severity of err.
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
