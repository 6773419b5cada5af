package account

import (
	"encoding/json"
	"errors"
	"time"
)

// State is the account session state.
type State int

const (
	// StateIdle means no session exists.
	StateIdle State = iota
	// StateLoggingIn means a login or restore is in flight.
	StateLoggingIn
	// StateRunning means the session is established.
	StateRunning
	// StateLoggingOut means a logout is in flight.
	StateLoggingOut
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoggingIn:
		return "LOGGING_IN"
	case StateRunning:
		return "RUNNING"
	case StateLoggingOut:
		return "LOGGING_OUT"
	default:
		return "UNKNOWN"
	}
}

// Cause tells why a token was invalidated.
type Cause int

const (
	// CauseTokenInvalid is a revoked or expired token.
	CauseTokenInvalid Cause = iota
	// CauseLoginOtherDevice is an eviction by a login elsewhere.
	CauseLoginOtherDevice
)

func (c Cause) String() string {
	if c == CauseLoginOtherDevice {
		return "login-other-device"
	}
	return "token-invalid"
}

// EventKind tags an Event.
type EventKind int

// Session lifecycle events carry Err for the outcome of the operation.
// Device events carry Device and, where the notice had one, Payload.
const (
	EventStateChanged EventKind = iota
	EventLoginDone
	EventLogoutDone
	EventUnregisterDone
	EventLoginOtherDevice
	EventTokenInvalid
	EventTokenRefreshed
	EventDeviceOnline
	EventPropertyReport
	EventBindListChanged
	EventDeviceConnect
	EventConnectionChanged
)

var eventNames = map[EventKind]string{
	EventStateChanged:      "state-changed",
	EventLoginDone:         "login-done",
	EventLogoutDone:        "logout-done",
	EventUnregisterDone:    "unregister-done",
	EventLoginOtherDevice:  "login-other-device",
	EventTokenInvalid:      "token-invalid",
	EventTokenRefreshed:    "token-refreshed",
	EventDeviceOnline:      "device-online",
	EventPropertyReport:    "property-report",
	EventBindListChanged:   "bind-list-changed",
	EventDeviceConnect:     "device-connect",
	EventConnectionChanged: "connection-changed",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is delivered to account observers. Fields not relevant to Kind are
// zero.
type Event struct {
	Kind    EventKind
	Account string
	Err     error
	State   State

	// Device and Online describe device notices.
	Device string
	Online bool

	// Payload is the raw data object of a control notice.
	Payload json.RawMessage

	// Connection is set for EventConnectionChanged.
	Connection string
}

// Credentials are the long-lived login credentials of an account.
type Credentials struct {
	Account  string
	Password string
}

// IdentityProof is the temporary identity-pool credential used to connect
// the pub/sub client.
type IdentityProof struct {
	AccessKeyID     string    `json:"accessKeyId"`
	AccessKeySecret string    `json:"accessKeySecret"`
	SecurityToken   string    `json:"securityToken"`
	Expiration      time.Time `json:"expiration"`
	ClientID        string    `json:"clientId"`
}

// Session is the state of a logged-in account.
type Session struct {
	Account      string        `json:"account"`
	IdentityID   string        `json:"identityId"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	ExpiresAt    time.Time     `json:"expiresAt"`
	Scope        string        `json:"scope"`
	Identity     IdentityProof `json:"identity"`
	DeviceName   string        `json:"deviceName"`
}

// SessionStore persists a session between runs.
type SessionStore interface {
	SaveSession(Session) error
	LoadSession() (Session, error)
	ClearSession() error
}

var (
	// ErrNoSessionStore is returned by RestoreSession without a store.
	ErrNoSessionStore = errors.New("no session store configured")

	// ErrLoginSuperseded is returned by a login whose attempt was
	// invalidated before it completed.
	ErrLoginSuperseded = errors.New("login superseded by token invalidation")
)

// loginInfo is the info object of /account/login.
type loginInfo struct {
	IdentityID   string `json:"identityId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	Scope        string `json:"scope"`
}

// identityInfo is the info object of /account/identity.
type identityInfo struct {
	AccessKeyID     string `json:"accessKeyId"`
	AccessKeySecret string `json:"accessKeySecret"`
	SecurityToken   string `json:"securityToken"`
	Expiration      int64  `json:"expiration"`
	ClientID        string `json:"clientId"`
}

type deviceInfo struct {
	DeviceName string `json:"deviceName"`
}
