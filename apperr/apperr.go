// Package apperr defines the error taxonomy shared by every lokitd component
// and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the transport layer.
type Kind uint8

const (
	// KindUnknown is for unclassified errors.
	KindUnknown Kind = iota
	// KindValidation is malformed input; rejected synchronously, never retried.
	KindValidation
	// KindNotFound is a missing file, entry or job.
	KindNotFound
	// KindExternalCall is a provider or remote failure isolated to one unit of work.
	KindExternalCall
	// KindPersistence is a save failure after the work itself succeeded.
	KindPersistence
	// KindOrchestratorFault fails a whole bulk job.
	KindOrchestratorFault
)

var kindNames = [...]string{
	KindUnknown:           "unknown",
	KindValidation:        "validation",
	KindNotFound:          "not_found",
	KindExternalCall:      "external_call",
	KindPersistence:       "persistence",
	KindOrchestratorFault: "orchestrator_fault",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// MarshalText renders the kind by name on the wire.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// HTTPStatus maps a kind to a response status.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindExternalCall:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured error type.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		if e.Msg == "" {
			return e.Op + ": " + e.Err.Error()
		}
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// AppKind lets KindOf classify the error.
func (e *Error) AppKind() Kind { return e.Kind }

// Wire is the JSON-serialisable form returned by the server.
type Wire struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// kinder is implemented by any error that knows its own kind, including
// errors defined in other packages (entry.DuplicateKeyError).
type kinder interface {
	error
	AppKind() Kind
}

// KindOf extracts the kind of err, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var k kinder
	if errors.As(err, &k) {
		return k.AppKind()
	}
	return KindUnknown
}

// Is reports whether err is of kind k.
func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// WireFrom converts any error into its wire form.
func WireFrom(err error) Wire {
	if err == nil {
		return Wire{}
	}
	return Wire{Kind: KindOf(err), Message: err.Error()}
}

// New returns a new *Error with the given kind.
func New(k Kind, op, msg string) error { return &Error{Kind: k, Op: op, Msg: msg} }

// Newf returns a new *Error with a formatted message.
func Newf(k Kind, op, format string, a ...any) error {
	return &Error{Kind: k, Op: op, Msg: fmt.Sprintf(format, a...)}
}

// Wrap classifies err. Wrapping nil returns nil.
func Wrap(err error, k Kind, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// Validationf is sugar for a validation error.
func Validationf(op, format string, a ...any) error {
	return Newf(KindValidation, op, format, a...)
}

// NotFoundf is sugar for a not-found error.
func NotFoundf(op, format string, a ...any) error {
	return Newf(KindNotFound, op, format, a...)
}
