package av

import (
	"time"
)

// CallState is the state of the call session state machine.
type CallState uint32

const (
	// StateIdle means no call session exists.
	StateIdle CallState = iota
	// StateDialRequesting means an invite is being published.
	StateDialRequesting
	// StateDialResponding means the invite was delivered and the peer has
	// not answered yet.
	StateDialResponding
	// StateTalking means media is connected.
	StateTalking
	// StateHangupRequesting means a local hangup is notifying the peer.
	StateHangupRequesting
	// StateIncoming means a peer invite is waiting for Answer.
	StateIncoming
	// StateAnswerRequesting means the answer signal is being published.
	StateAnswerRequesting
	// StateAnswerResponding means the answer was delivered and media is
	// connecting.
	StateAnswerResponding
)

var stateNames = map[CallState]string{
	StateIdle:             "IDLE",
	StateDialRequesting:   "DIAL_REQUESTING",
	StateDialResponding:   "DIAL_RESPONDING",
	StateTalking:          "TALKING",
	StateHangupRequesting: "HANGUP_REQUESTING",
	StateIncoming:         "INCOMING",
	StateAnswerRequesting: "ANSWER_REQUESTING",
	StateAnswerResponding: "ANSWER_RESPONDING",
}

// String returns the state name.
func (s CallState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// timed reports whether a timeout timer runs while in s.
func (s CallState) timed() bool {
	switch s {
	case StateDialRequesting, StateDialResponding, StateIncoming,
		StateAnswerRequesting, StateAnswerResponding:
		return true
	default:
		return false
	}
}

// Role is the local side of a call.
type Role int

const (
	// RoleCaller dialed the call.
	RoleCaller Role = iota
	// RoleCallee received the invite.
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCallee {
		return "callee"
	}
	return "caller"
}

// Session describes the active call.
type Session struct {
	CallID     string
	Peer       string
	Role       Role
	Attach     string
	State      CallState
	StartedAt  time.Time
	AnsweredAt time.Time
}

// Outcome is how a finished call ended.
type Outcome int

const (
	// OutcomeCompleted is a call that reached TALKING and was hung up.
	OutcomeCompleted Outcome = iota
	// OutcomeCancelled is a dial the caller abandoned before an answer.
	OutcomeCancelled
	// OutcomeRejected is a call the other side declined before TALKING.
	OutcomeRejected
	// OutcomeMissed is an invite the callee never answered.
	OutcomeMissed
	// OutcomeBusy is a call refused because one side was already busy.
	OutcomeBusy
	// OutcomeTimeout is a call that ran out of time waiting for the peer.
	OutcomeTimeout
	// OutcomeFailed is a call ended by a signaling or media error.
	OutcomeFailed
	// OutcomeAborted is a call torn down by Reset.
	OutcomeAborted
)

var outcomeNames = map[Outcome]string{
	OutcomeCompleted: "completed",
	OutcomeCancelled: "cancelled",
	OutcomeRejected:  "rejected",
	OutcomeMissed:    "missed",
	OutcomeBusy:      "busy",
	OutcomeTimeout:   "timeout",
	OutcomeFailed:    "failed",
	OutcomeAborted:   "aborted",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// CallRecord is a finished call kept in the manager's history.
type CallRecord struct {
	CallID    string
	Peer      string
	Role      Role
	Outcome   Outcome
	StartedAt time.Time
	EndedAt   time.Time
	// Duration is the time spent TALKING, zero for calls that never
	// connected.
	Duration time.Duration
}

// EventKind tags an Event.
type EventKind int

// Peer events carry Peer and CallID; EventDialDone and EventHangupDone carry
// Err for the outcome.
const (
	EventStateChanged EventKind = iota
	EventDialDone
	EventPeerIncoming
	EventPeerAnswer
	EventPeerHangup
	EventPeerTimeout
	EventHangupDone
)

var eventNames = map[EventKind]string{
	EventStateChanged: "state-changed",
	EventDialDone:     "dial-done",
	EventPeerIncoming: "peer-incoming",
	EventPeerAnswer:   "peer-answer",
	EventPeerHangup:   "peer-hangup",
	EventPeerTimeout:  "peer-timeout",
	EventHangupDone:   "hangup-done",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is delivered to call listeners.
type Event struct {
	Kind   EventKind
	State  CallState
	Peer   string
	CallID string
	Attach string
	Err    error
}
