// Package dberr defines the error-kind surface the design requires: one
// typed error per kind, each unwrapping to its cause and carrying enough
// structured detail that a host can decide on retry without string-matching
// a message.
package dberr

import (
	"encoding/json"
	"fmt"
	"time"
)

// base carries the fields every kind shares, following the teacher's
// ConnectionError{Code, Type, Message, Details, Cause} shape
// (client/errors.go) generalized across every kind instead of duplicated
// per type.
type base struct {
	Code      string                 `json:"code"`
	Kind      string                 `json:"kind"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
}

func newBase(kind, code, msg string, cause error, details map[string]interface{}) base {
	return base{Code: code, Kind: kind, Message: msg, Details: details, Cause: cause, Timestamp: time.Now()}
}

func (b base) Error() string {
	if b.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", b.Code, b.Message, b.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", b.Code, b.Message)
}

func (b base) Unwrap() error { return b.Cause }

// FormatError renders either the concise production form or, in debug mode, a
// full JSON dump including details and timestamp — mirrors the teacher's
// FormatError(debugMode bool) convenience.
func (b base) FormatError(debugMode bool) string {
	if !debugMode {
		return b.Error()
	}
	data := map[string]interface{}{
		"code":    b.Code,
		"kind":    b.Kind,
		"message": b.Message,
	}
	if len(b.Details) > 0 {
		data["details"] = b.Details
	}
	if b.Cause != nil {
		data["cause"] = b.Cause.Error()
	}
	data["timestamp"] = b.Timestamp.Format(time.RFC3339Nano)
	out, _ := json.MarshalIndent(data, "", "  ")
	return string(out)
}

// IoError is the `Io` kind: a socket/TLS failure. Caller-level retry is
// appropriate; the owning connection is marked Disconnected.
type IoError struct{ base }

func NewIoError(msg string, cause error) *IoError {
	return &IoError{newBase("Io", "IO_ERROR", msg, cause, nil)}
}

// ProtocolFramingError is the `ProtocolFraming` kind: fatal to the
// connection, never retried on the same connection.
type ProtocolFramingError struct{ base }

func NewProtocolFramingError(msg string, cause error) *ProtocolFramingError {
	return &ProtocolFramingError{newBase("ProtocolFraming", "PROTOCOL_FRAMING", msg, cause, nil)}
}

// AuthFailedError is the `AuthFailed` kind: a LOGIN7/FEDAUTH rejection.
// Surfaced; never retried.
type AuthFailedError struct{ base }

func NewAuthFailedError(msg string, cause error) *AuthFailedError {
	return &AuthFailedError{newBase("AuthFailed", "AUTH_FAILED", msg, cause, nil)}
}

// ServerRefusedEncryptionError is the `ServerRefusedEncryption` kind: a
// PRELOGIN encryption-disposition mismatch.
type ServerRefusedEncryptionError struct{ base }

func NewServerRefusedEncryptionError(msg string, cause error) *ServerRefusedEncryptionError {
	return &ServerRefusedEncryptionError{newBase("ServerRefusedEncryption", "SERVER_REFUSED_ENCRYPTION", msg, cause, nil)}
}

// AcquireTimeoutError is the `AcquireTimeout` kind: the pool could not hand
// back a connection within the configured wait.
type AcquireTimeoutError struct {
	base
	Waited time.Duration
}

func NewAcquireTimeoutError(waited time.Duration) *AcquireTimeoutError {
	msg := fmt.Sprintf("acquire timed out after %s", waited)
	return &AcquireTimeoutError{newBase("AcquireTimeout", "ACQUIRE_TIMEOUT", msg, nil, map[string]interface{}{"waited": waited.String()}), waited}
}

// QueryTimeoutError is the `QueryTimeout` kind: a scan deadline elapsed. The
// connection is retained after the attention drain completes.
type QueryTimeoutError struct{ base }

func NewQueryTimeoutError(msg string) *QueryTimeoutError {
	return &QueryTimeoutError{newBase("QueryTimeout", "QUERY_TIMEOUT", msg, nil, nil)}
}

// CancelledError is the `Cancelled` kind: the host cancelled an in-flight
// scan. The connection is retained after the attention drain completes.
type CancelledError struct{ base }

func NewCancelledError(msg string) *CancelledError {
	return &CancelledError{newBase("Cancelled", "CANCELLED", msg, nil, nil)}
}

// ServerError is the `ServerError` kind: a decoded TDS ERROR token, surfaced
// with full metadata. The connection stays Idle if a DONE follows.
type ServerError struct {
	base
	Number     int32
	State      byte
	Class      byte
	ProcName   string
	LineNumber int32
}

func NewServerError(message string, number int32, state, class byte, procName string, line int32) *ServerError {
	details := map[string]interface{}{
		"number": number, "state": state, "class": class, "procName": procName, "line": line,
	}
	return &ServerError{newBase("ServerError", "SERVER_ERROR", message, nil, details), number, state, class, procName, line}
}

// UnsupportedTypeError is the `UnsupportedType` kind: surfaced at bind time,
// suggesting an explicit cast.
type UnsupportedTypeError struct{ base }

func NewUnsupportedTypeError(sqlTypeName, column string) *UnsupportedTypeError {
	msg := fmt.Sprintf("unsupported type %s for column %q; add an explicit CAST", sqlTypeName, column)
	return &UnsupportedTypeError{newBase("UnsupportedType", "UNSUPPORTED_TYPE", msg, nil, map[string]interface{}{"sqlType": sqlTypeName, "column": column})}
}

// NotImplementedError is the `NotImplemented` kind: a bridge-level feature
// gate. Surfaced; never retried.
type NotImplementedError struct{ base }

func NewNotImplementedError(feature string) *NotImplementedError {
	return &NotImplementedError{newBase("NotImplemented", "NOT_IMPLEMENTED", fmt.Sprintf("%s is not implemented", feature), nil, nil)}
}

// BadConfigurationError is the `BadConfiguration` kind: a setting failed
// validation.
type BadConfigurationError struct{ base }

func NewBadConfigurationError(field, reason string) *BadConfigurationError {
	msg := fmt.Sprintf("invalid configuration for %s: %s", field, reason)
	return &BadConfigurationError{newBase("BadConfiguration", "BAD_CONFIGURATION", msg, nil, map[string]interface{}{"field": field})}
}
