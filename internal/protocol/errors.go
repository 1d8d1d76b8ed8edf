package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind buckets every rejection the orchestrator can hand back to a
// client. Validation and state errors are reported to the originating
// connection as a failure event; persistence errors degrade silently through
// the storage fallback chain and never reach gameplay.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindValidation  ErrorKind = "validation"
	KindState       ErrorKind = "state"
	KindPersistence ErrorKind = "persistence"
)

// Machine reason codes carried on failure events.
const (
	CodeMissingID     = "missing_id"
	CodeInvalidCode   = "invalid_code"
	CodeNotFound      = "notfound"
	CodeFull          = "full"
	CodeNotHost       = "not_host"
	CodeNotReady      = "not_ready"
	CodeTooFewPlayers = "too_few_players"
	CodeNotRolled     = "not_rolled"
	CodeAlreadyRolled = "already_rolled"
	CodeWrongTurn     = "wrong_turn"
	CodeNoSession     = "no_session"
	CodeAuthRequired  = "auth_required"
	CodeBadPayload    = "bad_payload"
)

// Error is a client-reportable rejection with a machine reason code.
type Error struct {
	Kind ErrorKind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error [%s]: %s", e.Kind, e.Code, e.Msg)
}

func NewAuthError(code, msg string) *Error {
	return &Error{Kind: KindAuth, Code: code, Msg: msg}
}

func NewValidationError(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Msg: msg}
}

func NewStateError(code, msg string) *Error {
	return &Error{Kind: KindState, Code: code, Msg: msg}
}

func NewPersistenceError(code, msg string) *Error {
	return &Error{Kind: KindPersistence, Code: code, Msg: msg}
}

// AsError unwraps err into a protocol Error if there is one in the chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
