package av

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/shadowcall/clock"
	"github.com/opd-ai/shadowcall/errmap"
	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/opd-ai/shadowcall/limits"
	"github.com/opd-ai/shadowcall/listener"
	"github.com/opd-ai/shadowcall/shadow"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultCallTimeout bounds every timed state and stale invites.
	DefaultCallTimeout = 30 * time.Second

	// maxHistory is the number of finished calls kept by History.
	maxHistory = 64
)

// call is the manager's private view of the active session.
type call struct {
	sess Session
	// answered is set once the peer's answer was accepted, so a late
	// publish acknowledgement or a duplicate answer cannot move the
	// session again.
	answered bool
	mediaUp  bool
	// cancelConnect aborts a caller-side media connect still in flight.
	cancelConnect context.CancelFunc
}

// ending is what a finished session leaves behind for cleanup outside the
// lock.
type ending struct {
	session Session
	media   bool
	changed Event
}

// Manager is the call signaling state machine. All transitions are
// serialized by mu; listeners, network calls and media calls always run
// with mu released.
type Manager struct {
	mu          sync.Mutex
	state       CallState
	epoch       uint64
	call        *call
	timer       clock.Timer
	callTimeout time.Duration
	effect      string
	history     []CallRecord

	pubsub      interfaces.IPubSub
	media       interfaces.IMediaTransport
	store       *shadow.Store
	selfDevice  func() string
	storeHandle listener.Handle
	listeners   *listener.Registry[Event]

	timeProvider clock.TimeProvider
	scheduler    clock.Scheduler

	connecting int
	settled    *sync.Cond
}

// NewManager creates an idle call manager. selfDevice returns the own
// device name, or "" while no account session is running. The manager
// listens to store for signals addressed to that device.
func NewManager(pubsub interfaces.IPubSub, media interfaces.IMediaTransport, store *shadow.Store, selfDevice func() string) *Manager {
	m := &Manager{
		state:        StateIdle,
		callTimeout:  DefaultCallTimeout,
		pubsub:       pubsub,
		media:        media,
		store:        store,
		selfDevice:   selfDevice,
		listeners:    listener.NewRegistry[Event](),
		timeProvider: clock.DefaultTimeProvider{},
		scheduler:    clock.RealScheduler{},
	}
	m.settled = sync.NewCond(&m.mu)
	m.storeHandle = store.SubscribeFunc(m.handleShadowChange)

	logrus.WithFields(logrus.Fields{
		"function":     "NewManager",
		"call_timeout": m.callTimeout,
	}).Info("Call manager created")
	return m
}

// SetTimeProvider sets the time provider for deterministic testing.
// If tp is nil, DefaultTimeProvider is used.
func (m *Manager) SetTimeProvider(tp clock.TimeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tp == nil {
		tp = clock.DefaultTimeProvider{}
	}
	m.timeProvider = tp
}

// SetScheduler replaces the timer facility. Timers already armed keep
// running on the old scheduler.
func (m *Manager) SetScheduler(s clock.Scheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		s = clock.RealScheduler{}
	}
	m.scheduler = s
}

// SetCallTimeout changes the timeout used for timers armed from now on.
func (m *Manager) SetCallTimeout(d time.Duration) error {
	if d <= 0 {
		return errmap.Wrap(errmap.KindInvalidParameter, ErrInvalidTimeout)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callTimeout = d
	return nil
}

// CallTimeout returns the current call timeout.
func (m *Manager) CallTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callTimeout
}

// Subscribe registers an observer.
func (m *Manager) Subscribe(l listener.Listener[Event]) listener.Handle {
	return m.listeners.Add(l)
}

// SubscribeFunc registers a function observer.
func (m *Manager) SubscribeFunc(f func(Event)) listener.Handle {
	return m.listeners.AddFunc(f)
}

// Unsubscribe removes an observer. It is safe to call from a callback.
func (m *Manager) Unsubscribe(h listener.Handle) {
	m.listeners.Remove(h)
}

// State returns the current call state.
func (m *Manager) State() CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the active session.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.call == nil {
		return Session{}, false
	}
	return m.call.sess, true
}

// History returns finished calls, oldest first.
func (m *Manager) History() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallRecord, len(m.history))
	copy(out, m.history)
	return out
}

// Close detaches the manager from the shadow store, aborts any call and
// waits for a pending media connect to give up.
func (m *Manager) Close() {
	m.store.Unsubscribe(m.storeHandle)
	m.Reset(nil)
	m.Settle()
}

// Settle blocks until media connects started by incoming answers have
// finished. It reports whether there was one to wait for.
func (m *Manager) Settle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	waited := m.connecting > 0
	for m.connecting > 0 {
		m.settled.Wait()
	}
	return waited
}

// Dial invites peer to a call. It returns once the invite is acknowledged
// by the broker; the connect outcome arrives later as EventDialDone. Dial
// fails with errmap.ErrPeerBusy while another call session exists.
func (m *Manager) Dial(ctx context.Context, peer, attach string) error {
	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"peer":     peer,
	}).Info("Dialing peer")

	if err := limits.ValidateDeviceName(peer); err != nil {
		return errmap.Wrap(errmap.KindInvalidParameter, err)
	}
	if err := limits.ValidateAttachMessage(attach); err != nil {
		return errmap.Wrap(errmap.KindInvalidParameter, err)
	}
	self := m.selfDevice()
	if self == "" {
		return errmap.Wrap(errmap.KindWrongState, ErrNotLoggedIn)
	}
	if peer == self {
		return errmap.Wrap(errmap.KindInvalidParameter, ErrSelfCall)
	}

	m.mu.Lock()
	if m.call != nil {
		state := m.state
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Dial",
			"peer":     peer,
			"state":    state.String(),
		}).Warn("Dial rejected, a call session already exists")
		return errmap.ErrPeerBusy
	}
	now := m.timeProvider.Now()
	callID := uuid.NewString()
	m.call = &call{sess: Session{
		CallID:    callID,
		Peer:      peer,
		Role:      RoleCaller,
		Attach:    attach,
		StartedAt: now,
	}}
	changed := m.transitionLocked(StateDialRequesting)
	m.mu.Unlock()
	m.emit(changed)

	invite := Signal{Type: SignalInvite, CallID: callID, From: self, Attach: attach, TS: now.UnixMilli()}
	if err := m.publish(ctx, peer, invite); err != nil {
		m.mu.Lock()
		if !m.currentLocked(callID) {
			m.mu.Unlock()
			return errmap.Wrap(errmap.KindWrongState, ErrCallSuperseded)
		}
		end := m.endLocked(OutcomeFailed)
		m.mu.Unlock()
		m.release(end)
		m.emit(end.changed, Event{Kind: EventDialDone, Peer: peer, CallID: callID, Err: err})
		return err
	}

	m.mu.Lock()
	if !m.currentLocked(callID) {
		m.mu.Unlock()
		return errmap.Wrap(errmap.KindWrongState, ErrCallSuperseded)
	}
	if m.call.answered || m.state != StateDialRequesting {
		m.mu.Unlock()
		return nil
	}
	changed = m.transitionLocked(StateDialResponding)
	m.mu.Unlock()
	m.emit(changed)

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"peer":     peer,
		"call_id":  callID,
	}).Info("Invite delivered, waiting for peer")
	return nil
}

// Answer accepts the pending incoming call, connects media and moves to
// TALKING. It is valid only from INCOMING.
func (m *Manager) Answer(ctx context.Context) error {
	self := m.selfDevice()

	m.mu.Lock()
	if m.state != StateIncoming || m.call == nil {
		state := m.state
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Answer",
			"state":    state.String(),
		}).Warn("Answer rejected outside INCOMING")
		return errmap.ErrWrongState
	}
	sess := m.call.sess
	changed := m.transitionLocked(StateAnswerRequesting)
	m.mu.Unlock()
	m.emit(changed)

	answer := Signal{Type: SignalAnswer, CallID: sess.CallID, From: self, TS: m.now().UnixMilli()}
	if err := m.publish(ctx, sess.Peer, answer); err != nil {
		return m.abandon(sess.CallID, err)
	}

	m.mu.Lock()
	if !m.currentLocked(sess.CallID) {
		m.mu.Unlock()
		return errmap.Wrap(errmap.KindWrongState, ErrCallSuperseded)
	}
	changed = m.transitionLocked(StateAnswerResponding)
	epoch := m.epoch
	m.mu.Unlock()
	m.emit(changed)

	if err := m.connectMedia(ctx, sess); err != nil {
		m.notify(sess.Peer, Signal{Type: SignalHangup, CallID: sess.CallID, From: self})
		return m.abandon(sess.CallID, errmap.Wrap(errmap.KindConnectFailed, err))
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.disconnectMedia()
		return errmap.Wrap(errmap.KindWrongState, ErrCallSuperseded)
	}
	m.call.mediaUp = true
	m.call.sess.AnsweredAt = m.timeProvider.Now()
	changed = m.transitionLocked(StateTalking)
	m.mu.Unlock()
	m.emit(changed, Event{Kind: EventPeerAnswer, State: StateTalking, Peer: sess.Peer, CallID: sess.CallID})

	logrus.WithFields(logrus.Fields{
		"function": "Answer",
		"peer":     sess.Peer,
		"call_id":  sess.CallID,
	}).Info("Call answered")
	return nil
}

// Hangup ends the current call from any non-idle state. The peer is
// notified best-effort; the local session always ends. Hangup while IDLE
// is a no-op.
func (m *Manager) Hangup(ctx context.Context) error {
	self := m.selfDevice()

	m.mu.Lock()
	if m.call == nil || m.state == StateHangupRequesting {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Hangup",
		}).Debug("Nothing to hang up")
		return nil
	}
	prev := m.state
	sess := m.call.sess
	changed := m.transitionLocked(StateHangupRequesting)
	m.mu.Unlock()
	m.emit(changed)

	if self != "" {
		bye := Signal{Type: SignalHangup, CallID: sess.CallID, From: self, TS: m.now().UnixMilli()}
		if err := m.publish(ctx, sess.Peer, bye); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Hangup",
				"peer":     sess.Peer,
				"error":    err.Error(),
			}).Warn("Failed to notify peer of hangup")
		}
	}

	m.mu.Lock()
	if !m.currentLocked(sess.CallID) {
		m.mu.Unlock()
		return nil
	}
	end := m.endLocked(localHangupOutcome(prev))
	m.mu.Unlock()
	m.release(end)
	m.emit(end.changed, Event{Kind: EventHangupDone, Peer: sess.Peer, CallID: sess.CallID})

	logrus.WithFields(logrus.Fields{
		"function": "Hangup",
		"peer":     sess.Peer,
		"call_id":  sess.CallID,
	}).Info("Call hung up")
	return nil
}

// Reset aborts the current call without notifying the peer, for example
// after the account token was invalidated. reason is reported on
// EventHangupDone.
func (m *Manager) Reset(reason error) {
	m.mu.Lock()
	if m.call == nil {
		m.mu.Unlock()
		return
	}
	end := m.endLocked(OutcomeAborted)
	m.mu.Unlock()
	m.release(end)
	m.emit(end.changed, Event{Kind: EventHangupDone, Peer: end.session.Peer, CallID: end.session.CallID, Err: reason})

	fields := logrus.Fields{
		"function": "Reset",
		"call_id":  end.session.CallID,
	}
	if reason != nil {
		fields["reason"] = reason.Error()
	}
	logrus.WithFields(fields).Warn("Call aborted")
}

// MuteAudio mutes outgoing audio. It is rejected outside TALKING.
func (m *Manager) MuteAudio() error {
	return m.control("MuteAudio", func(mt interfaces.IMediaTransport) error { return mt.MuteAudio(true) })
}

// UnmuteAudio unmutes outgoing audio. It is rejected outside TALKING.
func (m *Manager) UnmuteAudio() error {
	return m.control("UnmuteAudio", func(mt interfaces.IMediaTransport) error { return mt.MuteAudio(false) })
}

// MuteVideo hides outgoing video. It is rejected outside TALKING.
func (m *Manager) MuteVideo() error {
	return m.control("MuteVideo", func(mt interfaces.IMediaTransport) error { return mt.MuteVideo(true) })
}

// UnmuteVideo shows outgoing video. It is rejected outside TALKING.
func (m *Manager) UnmuteVideo() error {
	return m.control("UnmuteVideo", func(mt interfaces.IMediaTransport) error { return mt.MuteVideo(false) })
}

// SetVolume sets the playback volume in percent. It is rejected outside
// TALKING.
func (m *Manager) SetVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return errmap.Wrap(errmap.KindInvalidParameter, fmt.Errorf("%w: %d", ErrInvalidVolume, volume))
	}
	return m.control("SetVolume", func(mt interfaces.IMediaTransport) error { return mt.SetVolume(volume) })
}

// SetAudioEffect selects an audio effect. Outside TALKING the effect is
// kept as a preference and applied when media connects.
func (m *Manager) SetAudioEffect(effect string) error {
	m.mu.Lock()
	m.effect = effect
	talking := m.state == StateTalking
	m.mu.Unlock()

	if !talking {
		logrus.WithFields(logrus.Fields{
			"function": "SetAudioEffect",
			"effect":   effect,
		}).Debug("Audio effect stored for the next call")
		return nil
	}
	return m.media.SetAudioEffect(effect)
}

// NetworkStats returns live media counters while TALKING and a zero value
// otherwise.
func (m *Manager) NetworkStats() interfaces.NetworkStats {
	m.mu.Lock()
	talking := m.state == StateTalking
	m.mu.Unlock()
	if !talking {
		return interfaces.NetworkStats{}
	}
	return m.media.NetworkStats()
}

func (m *Manager) control(name string, f func(interfaces.IMediaTransport) error) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state != StateTalking {
		logrus.WithFields(logrus.Fields{
			"function": name,
			"state":    state.String(),
		}).Warn("Media control rejected outside TALKING")
		return errmap.ErrWrongState
	}
	if err := f(m.media); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// handleShadowChange consumes signals written to the own device's rtc
// shadow. It runs on a transport callback context.
func (m *Manager) handleShadowChange(ev shadow.ChangeEvent) {
	self := m.selfDevice()
	sig, ok, err := signalFromChange(ev, self)
	if !ok {
		return
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleShadowChange",
			"device":   ev.Device,
			"error":    err.Error(),
		}).Warn("Dropping undecodable call signal")
		return
	}
	if sig.From == self {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleShadowChange",
		"type":     string(sig.Type),
		"from":     sig.From,
		"call_id":  sig.CallID,
	}).Debug("Received call signal")

	switch sig.Type {
	case SignalInvite:
		m.onInvite(sig, self)
	case SignalAnswer:
		m.onAnswer(sig, self)
	case SignalBusy:
		m.onBusy(sig)
	case SignalHangup:
		m.onPeerEnd(sig, EventPeerHangup)
	case SignalTimeout:
		m.onPeerEnd(sig, EventPeerTimeout)
	}
}

func (m *Manager) onInvite(sig Signal, self string) {
	m.mu.Lock()
	now := m.timeProvider.Now()
	if sig.TS > 0 && now.Sub(time.UnixMilli(sig.TS)) > m.callTimeout {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "onInvite",
			"call_id":  sig.CallID,
		}).Debug("Ignoring expired invite")
		return
	}
	if m.call != nil {
		if m.call.sess.CallID == sig.CallID {
			m.mu.Unlock()
			return
		}
		m.recordLocked(CallRecord{
			CallID:    sig.CallID,
			Peer:      sig.From,
			Role:      RoleCallee,
			Outcome:   OutcomeBusy,
			StartedAt: now,
			EndedAt:   now,
		})
		m.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "onInvite",
			"from":     sig.From,
			"call_id":  sig.CallID,
		}).Info("Replying busy to invite during another call")
		m.notify(sig.From, Signal{Type: SignalBusy, CallID: sig.CallID, From: self})
		return
	}

	m.call = &call{sess: Session{
		CallID:    sig.CallID,
		Peer:      sig.From,
		Role:      RoleCallee,
		Attach:    sig.Attach,
		StartedAt: now,
	}}
	changed := m.transitionLocked(StateIncoming)
	m.mu.Unlock()
	m.emit(changed, Event{
		Kind:   EventPeerIncoming,
		State:  StateIncoming,
		Peer:   sig.From,
		CallID: sig.CallID,
		Attach: sig.Attach,
	})
}

func (m *Manager) onAnswer(sig Signal, self string) {
	m.mu.Lock()
	c := m.call
	if c == nil || c.sess.CallID != sig.CallID || c.sess.Peer != sig.From ||
		c.sess.Role != RoleCaller || c.answered ||
		(m.state != StateDialRequesting && m.state != StateDialResponding) {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "onAnswer",
			"call_id":  sig.CallID,
		}).Debug("Ignoring answer for no pending dial")
		return
	}
	c.answered = true
	m.disarmLocked()
	epoch := m.epoch
	sess := c.sess
	ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
	c.cancelConnect = cancel
	m.connecting++
	m.mu.Unlock()

	// Media connects off the delivery goroutine; signals for this call,
	// a hangup included, keep being handled meanwhile.
	go m.completeAnswer(ctx, cancel, epoch, sess, self)
}

// completeAnswer connects media for an accepted answer. Ending the call
// meanwhile cancels ctx and moves the epoch, which discards the result.
func (m *Manager) completeAnswer(ctx context.Context, cancel context.CancelFunc, epoch uint64, sess Session, self string) {
	defer func() {
		cancel()
		m.mu.Lock()
		m.connecting--
		if m.connecting == 0 {
			m.settled.Broadcast()
		}
		m.mu.Unlock()
	}()

	if err := m.connectMedia(ctx, sess); err != nil {
		m.mu.Lock()
		if m.epoch != epoch {
			m.mu.Unlock()
			return
		}
		end := m.endLocked(OutcomeFailed)
		m.mu.Unlock()
		m.notify(sess.Peer, Signal{Type: SignalHangup, CallID: sess.CallID, From: self})
		m.emit(end.changed, Event{
			Kind:   EventDialDone,
			Peer:   sess.Peer,
			CallID: sess.CallID,
			Err:    errmap.Wrap(errmap.KindConnectFailed, err),
		})
		return
	}

	m.mu.Lock()
	c := m.call
	if m.epoch != epoch || c == nil {
		m.mu.Unlock()
		m.disconnectMedia()
		logrus.WithFields(logrus.Fields{
			"function": "completeAnswer",
			"call_id":  sess.CallID,
		}).Warn("Call ended while media was connecting")
		return
	}
	c.cancelConnect = nil
	c.mediaUp = true
	c.sess.AnsweredAt = m.timeProvider.Now()
	changed := m.transitionLocked(StateTalking)
	m.mu.Unlock()
	m.emit(changed,
		Event{Kind: EventPeerAnswer, State: StateTalking, Peer: sess.Peer, CallID: sess.CallID},
		Event{Kind: EventDialDone, State: StateTalking, Peer: sess.Peer, CallID: sess.CallID},
	)

	logrus.WithFields(logrus.Fields{
		"function": "completeAnswer",
		"peer":     sess.Peer,
		"call_id":  sess.CallID,
	}).Info("Peer answered, call connected")
}

func (m *Manager) onBusy(sig Signal) {
	m.mu.Lock()
	c := m.call
	if c == nil || c.sess.CallID != sig.CallID || c.sess.Role != RoleCaller || c.answered ||
		(m.state != StateDialRequesting && m.state != StateDialResponding) {
		m.mu.Unlock()
		return
	}
	end := m.endLocked(OutcomeBusy)
	m.mu.Unlock()
	m.emit(end.changed, Event{Kind: EventDialDone, Peer: sig.From, CallID: sig.CallID, Err: errmap.ErrPeerBusy})

	logrus.WithFields(logrus.Fields{
		"function": "onBusy",
		"peer":     sig.From,
		"call_id":  sig.CallID,
	}).Info("Peer is busy")
}

func (m *Manager) onPeerEnd(sig Signal, kind EventKind) {
	m.mu.Lock()
	c := m.call
	if c == nil || c.sess.CallID != sig.CallID || c.sess.Peer != sig.From {
		m.mu.Unlock()
		return
	}
	outcome := OutcomeTimeout
	if kind == EventPeerHangup {
		outcome = peerHangupOutcome(m.state, c.sess.Role)
	}
	end := m.endLocked(outcome)
	m.mu.Unlock()
	m.release(end)

	ev := Event{Kind: kind, Peer: sig.From, CallID: sig.CallID}
	if kind == EventPeerTimeout {
		ev.Err = errmap.ErrPeerTimeout
	}
	m.emit(end.changed, ev)

	logrus.WithFields(logrus.Fields{
		"function": "onPeerEnd",
		"event":    kind.String(),
		"peer":     sig.From,
		"call_id":  sig.CallID,
	}).Info("Peer ended the call")
}

// onTimeout runs on the scheduler. A timer armed under an older epoch is
// stale and does nothing.
func (m *Manager) onTimeout(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch || m.call == nil {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "onTimeout",
			"epoch":    epoch,
		}).Debug("Ignoring superseded call timer")
		return
	}
	outcome := OutcomeTimeout
	if m.state == StateIncoming {
		outcome = OutcomeMissed
	}
	end := m.endLocked(outcome)
	m.mu.Unlock()
	m.release(end)

	if self := m.selfDevice(); self != "" {
		m.notify(end.session.Peer, Signal{Type: SignalTimeout, CallID: end.session.CallID, From: self})
	}
	m.emit(end.changed, Event{
		Kind:   EventPeerTimeout,
		Peer:   end.session.Peer,
		CallID: end.session.CallID,
		Err:    errmap.ErrPeerTimeout,
	})

	logrus.WithFields(logrus.Fields{
		"function": "onTimeout",
		"peer":     end.session.Peer,
		"call_id":  end.session.CallID,
	}).Warn("Call timed out")
}

// abandon ends the session callID after a failed step of Answer.
func (m *Manager) abandon(callID string, err error) error {
	m.mu.Lock()
	if !m.currentLocked(callID) {
		m.mu.Unlock()
		return errmap.Wrap(errmap.KindWrongState, ErrCallSuperseded)
	}
	end := m.endLocked(OutcomeFailed)
	m.mu.Unlock()
	m.release(end)
	m.emit(end.changed)
	return err
}

// transitionLocked enters state to, invalidates the running timer and arms
// a new one when to is timed.
func (m *Manager) transitionLocked(to CallState) Event {
	from := m.state
	m.state = to
	m.disarmLocked()

	ev := Event{Kind: EventStateChanged, State: to}
	if m.call != nil {
		m.call.sess.State = to
		ev.Peer = m.call.sess.Peer
		ev.CallID = m.call.sess.CallID
		if to.timed() {
			epoch := m.epoch
			m.timer = m.scheduler.AfterFunc(m.callTimeout, func() { m.onTimeout(epoch) })
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "transition",
		"from":     from.String(),
		"to":       to.String(),
		"epoch":    m.epoch,
	}).Debug("Call state changed")
	return ev
}

func (m *Manager) disarmLocked() {
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) currentLocked(callID string) bool {
	return m.call != nil && m.call.sess.CallID == callID
}

// endLocked records the active session in the history and returns to IDLE.
func (m *Manager) endLocked(outcome Outcome) ending {
	c := m.call
	if c.cancelConnect != nil {
		c.cancelConnect()
		c.cancelConnect = nil
	}
	now := m.timeProvider.Now()
	rec := CallRecord{
		CallID:    c.sess.CallID,
		Peer:      c.sess.Peer,
		Role:      c.sess.Role,
		Outcome:   outcome,
		StartedAt: c.sess.StartedAt,
		EndedAt:   now,
	}
	if !c.sess.AnsweredAt.IsZero() {
		rec.Duration = now.Sub(c.sess.AnsweredAt)
	}
	m.recordLocked(rec)

	changed := m.transitionLocked(StateIdle)
	m.call = nil
	return ending{session: c.sess, media: c.mediaUp, changed: changed}
}

func (m *Manager) recordLocked(rec CallRecord) {
	m.history = append(m.history, rec)
	if len(m.history) > maxHistory {
		m.history = append([]CallRecord(nil), m.history[len(m.history)-maxHistory:]...)
	}
}

func (m *Manager) release(end ending) {
	if end.media {
		m.disconnectMedia()
	}
}

func (m *Manager) connectMedia(ctx context.Context, sess Session) error {
	err := m.media.Connect(ctx, interfaces.MediaSession{
		CallID: sess.CallID,
		PeerID: sess.Peer,
		Caller: sess.Role == RoleCaller,
		Attach: sess.Attach,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "connectMedia",
			"call_id":  sess.CallID,
			"error":    err.Error(),
		}).Error("Media connect failed")
		return err
	}

	m.mu.Lock()
	effect := m.effect
	m.mu.Unlock()
	if effect != "" {
		if err := m.media.SetAudioEffect(effect); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "connectMedia",
				"effect":   effect,
				"error":    err.Error(),
			}).Warn("Failed to apply audio effect")
		}
	}
	return nil
}

func (m *Manager) disconnectMedia() {
	if err := m.media.Disconnect(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "disconnectMedia",
			"error":    err.Error(),
		}).Warn("Media disconnect failed")
	}
}

// publish delivers sig to peer's rtc shadow.
func (m *Manager) publish(ctx context.Context, peer string, sig Signal) error {
	if sig.TS == 0 {
		sig.TS = m.now().UnixMilli()
	}
	payload, err := EncodeSignal(sig)
	if err != nil {
		return errmap.Wrap(errmap.KindInvalidParameter, err)
	}
	if err := m.pubsub.Publish(ctx, SignalTopic(peer), payload); err != nil {
		if errmap.KindOf(err) == errmap.KindUnknown {
			return errmap.Wrap(errmap.KindConnectFailed, err)
		}
		return err
	}
	return nil
}

// notify publishes sig best-effort, bounded by the call timeout.
func (m *Manager) notify(peer string, sig Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), m.CallTimeout())
	defer cancel()
	if err := m.publish(ctx, peer, sig); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "notify",
			"peer":     peer,
			"type":     string(sig.Type),
			"error":    err.Error(),
		}).Warn("Failed to send call signal")
	}
}

func (m *Manager) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeProvider.Now()
}

func (m *Manager) emit(events ...Event) {
	for _, ev := range events {
		m.listeners.Dispatch(ev)
	}
}

func localHangupOutcome(prev CallState) Outcome {
	switch prev {
	case StateTalking:
		return OutcomeCompleted
	case StateIncoming, StateAnswerRequesting, StateAnswerResponding:
		return OutcomeRejected
	default:
		return OutcomeCancelled
	}
}

func peerHangupOutcome(state CallState, role Role) Outcome {
	switch {
	case state == StateTalking || state == StateHangupRequesting:
		return OutcomeCompleted
	case role == RoleCallee:
		return OutcomeMissed
	default:
		return OutcomeRejected
	}
}
