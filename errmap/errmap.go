// Package errmap translates control-plane result codes into a closed set of
// local error kinds and carries those kinds through Go error values.
//
// A cloud response is considered successful only when its code is 0. Every
// other code is looked up in a fixed table; codes missing from the table map
// to a caller-supplied default, and that default can never be KindOK, so a
// failure is never reported as success.
package errmap

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Kind is a local error classification.
type Kind int

const (
	// KindOK means the operation succeeded.
	KindOK Kind = iota
	// KindUnknown is used when nothing more specific is known.
	KindUnknown

	// Domain kinds returned by the control plane.
	KindInvalidParameter
	KindSystem
	KindTokenInvalid
	KindAccountExists
	KindAccountNotFound
	KindBadPassword
	KindDeviceNotFound
	KindAlreadyShared
	KindVerificationCodeInvalid

	// Transport kinds.
	KindConnectFailed
	KindMalformed
	KindTimeout

	// Protocol kinds.
	KindUnexpectedMethod
	KindBadJSON

	// State machine kinds.
	KindWrongState
	KindPeerBusy
	KindPeerTimeout
)

var kindNames = map[Kind]string{
	KindOK:                      "ok",
	KindUnknown:                 "unknown",
	KindInvalidParameter:        "invalid-parameter",
	KindSystem:                  "system",
	KindTokenInvalid:            "token-invalid",
	KindAccountExists:           "account-exists",
	KindAccountNotFound:         "account-not-found",
	KindBadPassword:             "bad-password",
	KindDeviceNotFound:          "device-not-found",
	KindAlreadyShared:           "already-shared",
	KindVerificationCodeInvalid: "verification-code-invalid",
	KindConnectFailed:           "connect-failed",
	KindMalformed:               "malformed",
	KindTimeout:                 "timeout",
	KindUnexpectedMethod:        "unexpected-method",
	KindBadJSON:                 "bad-json",
	KindWrongState:              "wrong-state",
	KindPeerBusy:                "peer-busy",
	KindPeerTimeout:             "peer-timeout",
}

// String returns the kind's kebab-case name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error implements error so a Kind can be used as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Cloud result codes.
const (
	CodeOK                      = 0
	CodeSystem                  = 10000
	CodeInvalidParameter        = 10001
	CodeAccountNotFound         = 10002
	CodeBadPassword             = 10003
	CodeAccountExists           = 10004
	CodeVerificationCodeInvalid = 10005
	CodeTokenInvalid            = 10006
	CodeDeviceNotFound          = 20001
	CodeAlreadyShared           = 20002
)

// cloudTable is the closed code table. It is never mutated after init.
var cloudTable = map[int]Kind{
	CodeOK:                      KindOK,
	CodeSystem:                  KindSystem,
	CodeInvalidParameter:        KindInvalidParameter,
	CodeAccountNotFound:         KindAccountNotFound,
	CodeBadPassword:             KindBadPassword,
	CodeAccountExists:           KindAccountExists,
	CodeVerificationCodeInvalid: KindVerificationCodeInvalid,
	CodeTokenInvalid:            KindTokenInvalid,
	CodeDeviceNotFound:          KindDeviceNotFound,
	CodeAlreadyShared:           KindAlreadyShared,
}

// Map returns the local kind for a cloud code. Codes outside the table map
// to def; a def of KindOK is replaced with KindUnknown.
func Map(code int, def Kind) Kind {
	if kind, ok := cloudTable[code]; ok {
		return kind
	}
	if def == KindOK {
		def = KindUnknown
	}
	logrus.WithFields(logrus.Fields{
		"function": "Map",
		"code":     code,
		"default":  def.String(),
	}).Debug("Unmapped cloud code")
	return def
}

// MapStatus returns the kind implied by an HTTP status alone, or KindOK when
// the status carries no error meaning of its own.
func MapStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindTokenInvalid
	case status == http.StatusMethodNotAllowed:
		return KindUnexpectedMethod
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindSystem
	default:
		return KindOK
	}
}

// Error is a classified failure. Code and Tip are populated when the error
// originated from a control-plane response.
type Error struct {
	Kind Kind
	Code int
	Tip  string
	Err  error
}

// New creates an Error of the given kind with a message.
func New(kind Kind, tip string) *Error {
	return &Error{Kind: kind, Tip: tip}
}

// Wrap classifies err as kind.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// FromResponse builds an Error for a non-zero cloud code. It returns nil for
// code 0.
func FromResponse(code int, tip string, def Kind) error {
	if code == CodeOK {
		return nil
	}
	return &Error{Kind: Map(code, def), Code: code, Tip: tip}
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Tip != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Tip, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("%s (code %d): %s", e.Kind, e.Code, e.Tip)
	case e.Tip != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Tip)
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's Kind or another *Error of the
// same Kind, so errors.Is(err, ErrWrongState) holds for every wrong-state
// error, whatever its cause.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return t != nil && e.Kind == t.Kind
	}
	return false
}

// KindOf extracts the kind from err. A nil error is KindOK; an error that
// carries no kind is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return KindUnknown
}

// State machine sentinels.
var (
	// ErrWrongState is returned when an operation is not valid in the
	// current state.
	ErrWrongState = &Error{Kind: KindWrongState, Tip: "wrong state for this operation"}

	// ErrPeerBusy is reported when a peer is already in a call.
	ErrPeerBusy = &Error{Kind: KindPeerBusy, Tip: "peer busy"}

	// ErrPeerTimeout is reported when a peer did not respond in time.
	ErrPeerTimeout = &Error{Kind: KindPeerTimeout, Tip: "peer timeout"}
)
