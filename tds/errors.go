package tds

import "fmt"

// ServerRefusedEncryptionError reports a PRELOGIN encryption disposition that
// cannot be reconciled with what the client requested.
type ServerRefusedEncryptionError struct {
	Requested         bool
	ServerDisposition byte
}

func (e *ServerRefusedEncryptionError) Error() string {
	return fmt.Sprintf("tds: prelogin encryption negotiation failed: client requested=%v, server disposition=0x%02X",
		e.Requested, e.ServerDisposition)
}

// UnsupportedTypeError reports a TDS type id the row reader does not decode.
// the design requires this to surface rather than silently coerce.
type UnsupportedTypeError struct {
	TypeID TypeID
	Column string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("tds: unsupported column type %s for column %q", e.TypeID.SQLTypeName(), e.Column)
	}
	return fmt.Sprintf("tds: unsupported column type %s", e.TypeID.SQLTypeName())
}

// ServerError is the decoded TDS ERROR token, surfaced verbatim.
type ServerError struct {
	Number     int32
	State      byte
	Class      byte
	Message    string
	ServerName string
	ProcName   string
	LineNumber int32
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("mssql: %s (number=%d, state=%d, class=%d, line=%d)",
		e.Message, e.Number, e.State, e.Class, e.LineNumber)
}

// FromSQLError converts a decoded SQLError token into the public ServerError.
func FromSQLError(s SQLError) *ServerError {
	return &ServerError{
		Number:     s.Number,
		State:      s.State,
		Class:      s.Class,
		Message:    s.Message,
		ServerName: s.ServerName,
		ProcName:   s.ProcName,
		LineNumber: s.LineNumber,
	}
}

// ProtocolError reports a non-framing protocol-level violation: an
// out-of-order token, an unexpected token id, or a malformed token body.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tds: protocol error: %s", e.Reason)
}
