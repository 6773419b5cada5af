package account

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/shadowcall/clock"
	"github.com/opd-ai/shadowcall/errmap"
	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/opd-ai/shadowcall/listener"
	"github.com/opd-ai/shadowcall/shadow"
	"github.com/sirupsen/logrus"
)

// RTCShadowName is the named shadow that carries call signaling.
const RTCShadowName = "rtc"

// Manager owns the account session. All state transitions are serialized
// through mu; network calls and event dispatch happen without holding it.
type Manager struct {
	mu           sync.Mutex
	state        State
	epoch        uint64
	session      *Session
	subscribed   []string
	connMu       sync.Mutex
	connOwner    uint64
	control      interfaces.IControlPlane
	pubsub       interfaces.IPubSub
	store        *shadow.Store
	sessions     SessionStore
	listeners    *listener.Registry[Event]
	timeProvider clock.TimeProvider
	watchOnce    sync.Once
}

// NewManager creates an idle manager. Shadow messages received on the
// account's subscriptions are applied to store.
func NewManager(control interfaces.IControlPlane, pubsub interfaces.IPubSub, store *shadow.Store) *Manager {
	return &Manager{
		control:      control,
		pubsub:       pubsub,
		store:        store,
		listeners:    listener.NewRegistry[Event](),
		timeProvider: clock.DefaultTimeProvider{},
	}
}

// SetSessionStore installs the store used to persist sessions.
func (m *Manager) SetSessionStore(s SessionStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = s
}

// SetTimeProvider sets the time provider for deterministic testing.
func (m *Manager) SetTimeProvider(tp clock.TimeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tp == nil {
		tp = clock.DefaultTimeProvider{}
	}
	m.timeProvider = tp
}

// Subscribe registers an observer.
func (m *Manager) Subscribe(l listener.Listener[Event]) listener.Handle {
	return m.listeners.Add(l)
}

// SubscribeFunc registers a function observer.
func (m *Manager) SubscribeFunc(f func(Event)) listener.Handle {
	return m.listeners.AddFunc(f)
}

// Unsubscribe removes an observer.
func (m *Manager) Unsubscribe(h listener.Handle) {
	m.listeners.Remove(h)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LoggedAccount returns the account name, or "" when not RUNNING.
func (m *Manager) LoggedAccount() string {
	return m.read(func(s *Session) string { return s.Account })
}

// AccountID returns the backend identity id, or "" when not RUNNING.
func (m *Manager) AccountID() string {
	return m.read(func(s *Session) string { return s.IdentityID })
}

// DeviceName returns the invent device name, or "" when not RUNNING.
func (m *Manager) DeviceName() string {
	return m.read(func(s *Session) string { return s.DeviceName })
}

// ClientID returns the pub/sub client id, or "" when not RUNNING.
func (m *Manager) ClientID() string {
	return m.read(func(s *Session) string { return s.Identity.ClientID })
}

// Token returns the access token, or "" when not RUNNING.
func (m *Manager) Token() string {
	return m.read(func(s *Session) string { return s.AccessToken })
}

// Session returns a copy of the running session.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning || m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

func (m *Manager) read(f func(*Session) string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning || m.session == nil {
		return ""
	}
	return f(m.session)
}

// Login authenticates creds and establishes the session. It blocks until
// the session is RUNNING or the attempt failed, and fires EventLoginDone in
// both cases. It is valid only from IDLE.
func (m *Manager) Login(ctx context.Context, creds Credentials) error {
	if creds.Account == "" || creds.Password == "" {
		return errmap.New(errmap.KindInvalidParameter, "account and password required")
	}
	attempt, err := m.beginLogin()
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Login",
		"account":  creds.Account,
	}).Info("Logging in")

	sess := &Session{Account: creds.Account}
	var subs []string
	err = m.authenticate(ctx, creds, sess)
	if err == nil {
		subs, err = m.establish(ctx, attempt, sess)
	}
	return m.finishLogin(attempt, sess, subs, err)
}

// RestoreSession resumes the session saved in the session store without a
// password login. It is valid only from IDLE.
func (m *Manager) RestoreSession(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.mu.Unlock()
	if sessions == nil {
		return ErrNoSessionStore
	}
	saved, err := sessions.LoadSession()
	if err != nil {
		return err
	}
	if saved.AccessToken == "" || saved.Account == "" {
		return errmap.New(errmap.KindInvalidParameter, "saved session incomplete")
	}

	attempt, err := m.beginLogin()
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.RestoreSession",
		"account":  saved.Account,
	}).Info("Restoring saved session")

	sess := saved
	subs, err := m.establish(ctx, attempt, &sess)
	if errmap.KindOf(err) == errmap.KindTokenInvalid {
		if clearErr := sessions.ClearSession(); clearErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.RestoreSession",
				"error":    clearErr.Error(),
			}).Warn("Failed to clear stale session")
		}
	}
	return m.finishLogin(attempt, &sess, subs, err)
}

func (m *Manager) beginLogin() (uint64, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Login",
			"state":    state.String(),
		}).Warn("Login rejected in current state")
		return 0, errmap.ErrWrongState
	}
	m.state = StateLoggingIn
	m.epoch++
	attempt := m.epoch
	m.mu.Unlock()

	m.watchOnce.Do(func() { go m.watchConnection() })
	m.emit(Event{Kind: EventStateChanged, State: StateLoggingIn})
	return attempt, nil
}

// finishLogin settles attempt. subs are the filters the attempt subscribed;
// they become the session's subscriptions only if the attempt is current.
func (m *Manager) finishLogin(attempt uint64, sess *Session, subs []string, err error) error {
	m.mu.Lock()
	current := m.epoch == attempt && m.state == StateLoggingIn
	if err == nil && !current {
		err = errmap.Wrap(errmap.KindWrongState, ErrLoginSuperseded)
	}
	if err != nil {
		if current {
			m.state = StateIdle
		}
		m.mu.Unlock()

		m.rollback(attempt, subs)
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Login",
			"account":  sess.Account,
			"error":    err.Error(),
		}).Error("Login failed")
		if current {
			m.emit(Event{Kind: EventStateChanged, State: StateIdle})
		}
		m.emit(Event{Kind: EventLoginDone, Account: sess.Account, Err: err})
		return err
	}

	m.state = StateRunning
	m.session = sess
	m.subscribed = subs
	sessions := m.sessions
	m.mu.Unlock()

	if sessions != nil {
		if saveErr := sessions.SaveSession(*sess); saveErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.Login",
				"error":    saveErr.Error(),
			}).Warn("Failed to persist session")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Manager.Login",
		"account":     sess.Account,
		"device_name": sess.DeviceName,
		"client_id":   sess.Identity.ClientID,
	}).Info("Login complete")
	m.emit(Event{Kind: EventStateChanged, State: StateRunning})
	m.emit(Event{Kind: EventLoginDone, Account: sess.Account})
	return nil
}

// authenticate performs the password login and fills the token fields.
func (m *Manager) authenticate(ctx context.Context, creds Credentials, sess *Session) error {
	resp, err := m.request(ctx, "/account/login", "", map[string]string{
		"account":  creds.Account,
		"password": creds.Password,
	})
	if err != nil {
		return err
	}
	var info loginInfo
	if err := resp.DecodeInfo(&info); err != nil {
		return errmap.Wrap(errmap.KindBadJSON, err)
	}
	if info.AccessToken == "" {
		return errmap.New(errmap.KindMalformed, "login returned no token")
	}
	sess.IdentityID = info.IdentityID
	sess.AccessToken = info.AccessToken
	sess.RefreshToken = info.RefreshToken
	sess.Scope = info.Scope
	sess.ExpiresAt = m.now().Add(time.Duration(info.ExpiresIn) * time.Second)
	return nil
}

// establish runs every login step after token acquisition and returns the
// filters it subscribed, also when a later step failed.
func (m *Manager) establish(ctx context.Context, attempt uint64, sess *Session) ([]string, error) {
	resp, err := m.request(ctx, "/account/identity", sess.AccessToken, nil)
	if err != nil {
		return nil, err
	}
	var ident identityInfo
	if err := resp.DecodeInfo(&ident); err != nil {
		return nil, errmap.Wrap(errmap.KindBadJSON, err)
	}
	if ident.ClientID == "" {
		return nil, errmap.New(errmap.KindMalformed, "identity returned no client id")
	}
	sess.Identity = IdentityProof{
		AccessKeyID:     ident.AccessKeyID,
		AccessKeySecret: ident.AccessKeySecret,
		SecurityToken:   ident.SecurityToken,
		Expiration:      time.Unix(ident.Expiration, 0),
		ClientID:        ident.ClientID,
	}

	device, err := m.resolveDevice(ctx, sess.AccessToken)
	if err != nil {
		return nil, err
	}
	sess.DeviceName = device

	return m.connect(ctx, attempt, interfaces.Credentials{
		ClientID: ident.ClientID,
		Username: ident.AccessKeyID,
		Password: ident.SecurityToken,
	}, device)
}

// connect opens the pub/sub link for attempt and subscribes the session
// topics. The connection is owned by the last attempt that opened it.
func (m *Manager) connect(ctx context.Context, attempt uint64, creds interfaces.Credentials, device string) ([]string, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if !m.attemptCurrent(attempt) {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.connect",
			"attempt":  attempt,
		}).Warn("Login attempt superseded before connecting")
		return nil, errmap.Wrap(errmap.KindWrongState, ErrLoginSuperseded)
	}
	if err := m.pubsub.Connect(ctx, creds); err != nil {
		if errmap.KindOf(err) == errmap.KindUnknown {
			err = errmap.Wrap(errmap.KindConnectFailed, err)
		}
		return nil, err
	}
	m.connOwner = attempt

	routes := []struct {
		filter  string
		handler interfaces.MessageHandler
	}{
		{shadow.UpdateAcceptedTopic(device, RTCShadowName), m.handleShadow},
		{shadow.GetAcceptedTopic(device, RTCShadowName), m.handleShadow},
		{shadow.FanInGetFilter, m.handleShadow},
		{shadow.ControlTopic(creds.ClientID), m.handleControl},
	}
	var subs []string
	for _, r := range routes {
		if err := m.subscribe(ctx, r.filter, r.handler); err != nil {
			return subs, err
		}
		subs = append(subs, r.filter)
	}
	return subs, nil
}

func (m *Manager) attemptCurrent(attempt uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch == attempt && m.state == StateLoggingIn
}

func (m *Manager) resolveDevice(ctx context.Context, token string) (string, error) {
	for _, path := range []string{"/device/invent/query", "/device/invent/create"} {
		resp, err := m.request(ctx, path, token, nil)
		if err != nil {
			return "", err
		}
		var info deviceInfo
		if err := resp.DecodeInfo(&info); err != nil && !errors.Is(err, interfaces.ErrNoInfo) {
			return "", errmap.Wrap(errmap.KindBadJSON, err)
		}
		if info.DeviceName != "" {
			return info.DeviceName, nil
		}
	}
	return "", errmap.New(errmap.KindDeviceNotFound, "invent device could not be created")
}

func (m *Manager) subscribe(ctx context.Context, filter string, h interfaces.MessageHandler) error {
	if err := m.pubsub.Subscribe(ctx, filter, h); err != nil {
		if errmap.KindOf(err) == errmap.KindUnknown {
			err = errmap.Wrap(errmap.KindConnectFailed, err)
		}
		return err
	}
	return nil
}

// rollback drops the subscriptions and connection of a failed or superseded
// attempt. A connection opened by a newer attempt is left alone.
func (m *Manager) rollback(attempt uint64, filters []string) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.connOwner != attempt {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.rollback",
			"attempt":  attempt,
			"owner":    m.connOwner,
		}).Debug("Connection not owned by attempt, nothing to roll back")
		return
	}
	m.connOwner = 0
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, f := range filters {
		_ = m.pubsub.Unsubscribe(ctx, f)
	}
	_ = m.pubsub.Close()
}

// Logout tears the session down. It is valid only from RUNNING and fires
// EventLogoutDone.
func (m *Manager) Logout(ctx context.Context) error {
	sess, err := m.beginTeardown("Manager.Logout")
	if err != nil {
		return err
	}
	if _, err := m.request(ctx, "/account/logout", sess.AccessToken, nil); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Logout",
			"error":    err.Error(),
		}).Warn("Remote logout failed, continuing locally")
	}
	m.finishTeardown(ctx, sess)
	m.emit(Event{Kind: EventLogoutDone, Account: sess.Account})
	return nil
}

// Unregister deletes the account on the backend and tears the session down.
// It is valid only from RUNNING.
func (m *Manager) Unregister(ctx context.Context) error {
	sess, ok := m.Session()
	if !ok {
		return errmap.ErrWrongState
	}
	if _, err := m.request(ctx, "/account/unregister", sess.AccessToken, nil); err != nil {
		return err
	}
	teardown, err := m.beginTeardown("Manager.Unregister")
	if err != nil {
		return err
	}
	m.finishTeardown(ctx, teardown)
	m.emit(Event{Kind: EventUnregisterDone, Account: teardown.Account})
	return nil
}

func (m *Manager) beginTeardown(function string) (Session, error) {
	m.mu.Lock()
	if m.state != StateRunning || m.session == nil {
		state := m.state
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": function,
			"state":    state.String(),
		}).Warn("Rejected in current state")
		return Session{}, errmap.ErrWrongState
	}
	m.state = StateLoggingOut
	m.epoch++
	sess := *m.session
	m.mu.Unlock()
	m.emit(Event{Kind: EventStateChanged, State: StateLoggingOut})
	return sess, nil
}

func (m *Manager) finishTeardown(ctx context.Context, sess Session) {
	m.mu.Lock()
	subs := m.subscribed
	m.subscribed = nil
	sessions := m.sessions
	m.mu.Unlock()

	for _, f := range subs {
		if err := m.pubsub.Unsubscribe(ctx, f); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.finishTeardown",
				"filter":   f,
				"error":    err.Error(),
			}).Debug("Unsubscribe failed during teardown")
		}
	}
	_ = m.pubsub.Close()
	if m.store != nil {
		m.store.Forget(sess.DeviceName)
	}
	if sessions != nil {
		if err := sessions.ClearSession(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.finishTeardown",
				"error":    err.Error(),
			}).Warn("Failed to clear persisted session")
		}
	}

	m.mu.Lock()
	changed := m.state == StateLoggingOut
	if changed {
		m.state = StateIdle
		m.session = nil
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.finishTeardown",
		"account":  sess.Account,
	}).Info("Session closed")
	if changed {
		m.emit(Event{Kind: EventStateChanged, State: StateIdle})
	}
}

// InvalidateToken forces IDLE from any state without a logout round-trip
// and fires EventLoginOtherDevice or EventTokenInvalid. It returns false
// when there was nothing to invalidate.
func (m *Manager) InvalidateToken(cause Cause) bool {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return false
	}
	m.epoch++
	m.state = StateIdle
	account := ""
	device := ""
	if m.session != nil {
		account = m.session.Account
		device = m.session.DeviceName
	}
	m.session = nil
	m.subscribed = nil
	sessions := m.sessions
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.InvalidateToken",
		"account":  account,
		"cause":    cause.String(),
	}).Warn("Session token invalidated")

	if m.store != nil && device != "" {
		m.store.Forget(device)
	}
	if sessions != nil {
		_ = sessions.ClearSession()
	}

	kind := EventTokenInvalid
	if cause == CauseLoginOtherDevice {
		kind = EventLoginOtherDevice
	}
	m.emit(Event{Kind: EventStateChanged, State: StateIdle})
	m.emit(Event{Kind: kind, Account: account})
	_ = m.pubsub.Close()
	return true
}

// Register creates a new account. It does not change the session state.
func (m *Manager) Register(ctx context.Context, creds Credentials, verificationCode string) error {
	if creds.Account == "" || creds.Password == "" {
		return errmap.New(errmap.KindInvalidParameter, "account and password required")
	}
	body := map[string]string{"account": creds.Account, "password": creds.Password}
	if verificationCode != "" {
		body["code"] = verificationCode
	}
	_, err := m.request(ctx, "/account/register", "", body)
	return err
}

// RefreshToken exchanges the refresh token for a new access token. It is
// valid only from RUNNING.
func (m *Manager) RefreshToken(ctx context.Context) error {
	sess, ok := m.Session()
	if !ok {
		return errmap.ErrWrongState
	}
	resp, err := m.request(ctx, "/account/token/refresh", "", map[string]string{
		"refreshToken": sess.RefreshToken,
	})
	if err != nil {
		if errmap.KindOf(err) == errmap.KindTokenInvalid {
			m.invalidateIfCurrent(sess.AccessToken)
		}
		return err
	}
	var info loginInfo
	if err := resp.DecodeInfo(&info); err != nil || info.AccessToken == "" {
		return errmap.New(errmap.KindBadJSON, "refresh returned no token")
	}

	m.mu.Lock()
	if m.session == nil || m.session.AccessToken != sess.AccessToken {
		m.mu.Unlock()
		return errmap.ErrWrongState
	}
	m.session.AccessToken = info.AccessToken
	if info.RefreshToken != "" {
		m.session.RefreshToken = info.RefreshToken
	}
	m.session.ExpiresAt = m.timeProvider.Now().Add(time.Duration(info.ExpiresIn) * time.Second)
	updated := *m.session
	sessions := m.sessions
	m.mu.Unlock()

	if sessions != nil {
		_ = sessions.SaveSession(updated)
	}
	m.emit(Event{Kind: EventTokenRefreshed, Account: updated.Account})
	return nil
}

// SetPrivateRTCParams stores private RTC parameters for the account. It is
// valid only from RUNNING.
func (m *Manager) SetPrivateRTCParams(ctx context.Context, params map[string]any) error {
	if len(params) == 0 {
		return errmap.New(errmap.KindInvalidParameter, "params required")
	}
	token := m.Token()
	if token == "" {
		return errmap.ErrWrongState
	}
	_, err := m.request(ctx, "/rtc/private/params", token, params)
	return err
}

// WatchDevice subscribes to the online notices of a physical device. It is
// valid only from RUNNING.
func (m *Manager) WatchDevice(ctx context.Context, productKey, deviceID string) error {
	if productKey == "" || deviceID == "" {
		return errmap.New(errmap.KindInvalidParameter, "product key and device id required")
	}
	if m.State() != StateRunning {
		return errmap.ErrWrongState
	}
	return m.subscribe(ctx, shadow.ConnectTopic(productKey, deviceID), func(msg interfaces.Message) {
		m.handleDeviceConnect(deviceID, msg)
	})
}

// request issues a control-plane call and maps the outcome. A token-invalid
// answer to an authenticated call invalidates the running session.
func (m *Manager) request(ctx context.Context, path, token string, body any) (*interfaces.Response, error) {
	resp, err := m.control.Request(ctx, &interfaces.Request{
		Path:  path,
		Token: token,
		Body:  body,
	})
	if err == nil {
		err = classify(resp)
	} else if errmap.KindOf(err) == errmap.KindUnknown {
		err = errmap.Wrap(errmap.KindConnectFailed, err)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.request",
			"path":     path,
			"error":    err.Error(),
		}).Debug("Control plane request failed")
		if token != "" && errmap.KindOf(err) == errmap.KindTokenInvalid {
			m.invalidateIfCurrent(token)
		}
		return nil, err
	}
	return resp, nil
}

func classify(resp *interfaces.Response) error {
	if resp == nil {
		return errmap.New(errmap.KindMalformed, "empty response")
	}
	if resp.Status != 0 {
		switch kind := errmap.MapStatus(resp.Status); kind {
		case errmap.KindOK:
		case errmap.KindTokenInvalid, errmap.KindUnexpectedMethod:
			return &errmap.Error{Kind: kind, Code: resp.Code, Tip: resp.Tip}
		default:
			if resp.Code == errmap.CodeOK {
				return &errmap.Error{Kind: kind, Tip: resp.Tip}
			}
		}
	}
	return errmap.FromResponse(resp.Code, resp.Tip, errmap.KindUnknown)
}

func (m *Manager) invalidateIfCurrent(token string) {
	m.mu.Lock()
	current := m.session != nil && m.session.AccessToken == token
	m.mu.Unlock()
	if current {
		m.InvalidateToken(CauseTokenInvalid)
	}
}

// watchConnection relays pub/sub status changes to observers.
func (m *Manager) watchConnection() {
	for status := range m.pubsub.Status() {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.watchConnection",
			"status":   status.String(),
		}).Debug("Pub/sub status changed")
		m.emit(Event{Kind: EventConnectionChanged, Connection: status.String()})
	}
}

func (m *Manager) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeProvider.Now()
}

func (m *Manager) emit(ev Event) {
	m.listeners.Dispatch(ev)
}
