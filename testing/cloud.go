package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opd-ai/shadowcall/errmap"
	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/opd-ai/shadowcall/shadow"
	"github.com/sirupsen/logrus"
)

// KickMessageType is the control notice type sent to a client whose token
// was revoked by a login elsewhere.
const KickMessageType = 4

// RequestRecord represents a control-plane call for testing verification
type RequestRecord struct {
	Method    string
	Path      string
	Token     string
	Body      json.RawMessage
	Timestamp time.Time
}

type cloudAccount struct {
	name       string
	password   string
	identityID string
	deviceName string
	token      string
	refresh    string
	clientID   string
	rtcParams  json.RawMessage
}

type override struct {
	code int
	tip  string
}

// Cloud is an in-memory control plane. It can be used directly as an
// IControlPlane via NewControlPlane or served over HTTP through Handler.
type Cloud struct {
	mu               sync.Mutex
	accounts         map[string]*cloudAccount
	tokens           map[string]*cloudAccount
	refreshTokens    map[string]*cloudAccount
	requests         []RequestRecord
	overrides        map[string]override
	verificationCode string
	tokenTTL         time.Duration
	broker           *Broker
	delay            time.Duration
}

// NewCloud creates an empty control plane. When broker is non-nil a second
// login for the same account pushes a kick notice to the evicted client.
func NewCloud(broker *Broker) *Cloud {
	logrus.WithFields(logrus.Fields{
		"function": "NewCloud",
	}).Info("Creating simulated control plane for testing")

	return &Cloud{
		accounts:      make(map[string]*cloudAccount),
		tokens:        make(map[string]*cloudAccount),
		refreshTokens: make(map[string]*cloudAccount),
		overrides:     make(map[string]override),
		tokenTTL:      2 * time.Hour,
		broker:        broker,
	}
}

// AddAccount registers an account directly.
func (c *Cloud) AddAccount(name, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[name] = &cloudAccount{
		name:       name,
		password:   password,
		identityID: "id-" + uuid.NewString(),
	}
}

// SetDeviceName pre-assigns the invent device for an account.
func (c *Cloud) SetDeviceName(account, device string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.accounts[account]; ok {
		a.deviceName = device
	}
}

// SetVerificationCode makes register require code.
func (c *Cloud) SetVerificationCode(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verificationCode = code
}

// SetResponse forces every request to path to answer with code and tip.
// A code of 0 removes the override.
func (c *Cloud) SetResponse(path string, code int, tip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code == 0 {
		delete(c.overrides, path)
		return
	}
	c.overrides[path] = override{code: code, tip: tip}
}

// SetDelay adds latency to every request.
func (c *Cloud) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// RevokeToken invalidates token as if it expired server side.
func (c *Cloud) RevokeToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.tokens[token]; ok {
		delete(c.tokens, token)
		a.token = ""
	}
}

// Requests returns a copy of the request log.
func (c *Cloud) Requests() []RequestRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RequestRecord, len(c.requests))
	copy(out, c.requests)
	return out
}

// RequestCount returns how many requests hit path.
func (c *Cloud) RequestCount(path string) int {
	n := 0
	for _, r := range c.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

// HasAccount reports whether name is registered.
func (c *Cloud) HasAccount(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.accounts[name]
	return ok
}

// RTCParams returns the private RTC parameters stored for account.
func (c *Cloud) RTCParams(account string) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.accounts[account]; ok {
		return a.rtcParams
	}
	return nil
}

// Handler returns an HTTP router serving the control plane.
func (c *Cloud) Handler() http.Handler {
	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusMethodNotAllowed, &interfaces.Response{Code: errmap.CodeInvalidParameter, Tip: "method not allowed"})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusNotFound, &interfaces.Response{Code: errmap.CodeInvalidParameter, Tip: "unknown path"})
	})
	for _, path := range []string{
		"/account/login", "/account/register", "/account/unregister", "/account/logout",
		"/account/token/refresh", "/account/identity",
		"/device/invent/query", "/device/invent/create", "/rtc/private/params",
	} {
		r.Post(path, c.serveHTTP)
	}
	return r
}

func (c *Cloud) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, &interfaces.Response{Code: errmap.CodeInvalidParameter, Tip: err.Error()})
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	resp := c.handle(r.Method, r.URL.Path, token, body)
	writeEnvelope(w, resp.Status, resp)
}

func writeEnvelope(w http.ResponseWriter, status int, resp *interfaces.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (c *Cloud) handle(method, path, token string, body []byte) *interfaces.Response {
	c.mu.Lock()
	delay := c.delay
	c.requests = append(c.requests, RequestRecord{
		Method:    method,
		Path:      path,
		Token:     token,
		Body:      append(json.RawMessage(nil), body...),
		Timestamp: time.Now(),
	})
	ov, overridden := c.overrides[path]
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Cloud.handle",
		"method":   method,
		"path":     path,
	}).Debug("Simulated control plane request")

	if overridden {
		status := http.StatusOK
		if ov.code == errmap.CodeTokenInvalid {
			status = http.StatusUnauthorized
		}
		return &interfaces.Response{Code: ov.code, Tip: ov.tip, Status: status}
	}
	if method != http.MethodPost {
		return &interfaces.Response{Code: errmap.CodeInvalidParameter, Tip: "method not allowed", Status: http.StatusMethodNotAllowed}
	}

	switch path {
	case "/account/register":
		return c.register(body)
	case "/account/login":
		return c.login(body)
	case "/account/token/refresh":
		return c.refresh(body)
	}

	c.mu.Lock()
	acct, ok := c.tokens[token]
	c.mu.Unlock()
	if !ok || token == "" {
		return &interfaces.Response{Code: errmap.CodeTokenInvalid, Tip: "token invalid", Status: http.StatusUnauthorized}
	}

	switch path {
	case "/account/identity":
		return c.identity(acct)
	case "/account/logout":
		c.RevokeToken(token)
		return ok200(nil)
	case "/account/unregister":
		c.mu.Lock()
		delete(c.accounts, acct.name)
		delete(c.tokens, token)
		c.mu.Unlock()
		return ok200(nil)
	case "/device/invent/query":
		c.mu.Lock()
		name := acct.deviceName
		c.mu.Unlock()
		return ok200(map[string]string{"deviceName": name})
	case "/device/invent/create":
		c.mu.Lock()
		if acct.deviceName == "" {
			acct.deviceName = "v-" + acct.name
		}
		name := acct.deviceName
		c.mu.Unlock()
		return ok200(map[string]string{"deviceName": name})
	case "/rtc/private/params":
		c.mu.Lock()
		acct.rtcParams = append(json.RawMessage(nil), body...)
		c.mu.Unlock()
		return ok200(nil)
	default:
		return &interfaces.Response{Code: errmap.CodeInvalidParameter, Tip: "unknown path", Status: http.StatusNotFound}
	}
}

func ok200(info any) *interfaces.Response {
	resp := &interfaces.Response{Code: errmap.CodeOK, Tip: "success", Status: http.StatusOK}
	if info != nil {
		raw, _ := json.Marshal(info)
		resp.Info = raw
	}
	return resp
}

func fail(code int, tip string) *interfaces.Response {
	return &interfaces.Response{Code: code, Tip: tip, Status: http.StatusOK}
}

type credentialsBody struct {
	Account  string `json:"account"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

func (c *Cloud) register(body []byte) *interfaces.Response {
	var req credentialsBody
	if err := json.Unmarshal(body, &req); err != nil || req.Account == "" || req.Password == "" {
		return fail(errmap.CodeInvalidParameter, "account and password required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verificationCode != "" && req.Code != c.verificationCode {
		return fail(errmap.CodeVerificationCodeInvalid, "verification code invalid")
	}
	if _, exists := c.accounts[req.Account]; exists {
		return fail(errmap.CodeAccountExists, "account exists")
	}
	c.accounts[req.Account] = &cloudAccount{
		name:       req.Account,
		password:   req.Password,
		identityID: "id-" + uuid.NewString(),
	}
	return ok200(nil)
}

func (c *Cloud) login(body []byte) *interfaces.Response {
	var req credentialsBody
	if err := json.Unmarshal(body, &req); err != nil || req.Account == "" {
		return fail(errmap.CodeInvalidParameter, "account required")
	}

	c.mu.Lock()
	acct, ok := c.accounts[req.Account]
	if !ok {
		c.mu.Unlock()
		return fail(errmap.CodeAccountNotFound, "account not found")
	}
	if acct.password != req.Password {
		c.mu.Unlock()
		return fail(errmap.CodeBadPassword, "bad password")
	}

	evictedClient := ""
	if acct.token != "" {
		delete(c.tokens, acct.token)
		evictedClient = acct.clientID
	}
	if acct.refresh != "" {
		delete(c.refreshTokens, acct.refresh)
	}
	acct.token = "at-" + uuid.NewString()
	acct.refresh = "rt-" + uuid.NewString()
	acct.clientID = ""
	c.tokens[acct.token] = acct
	c.refreshTokens[acct.refresh] = acct
	info := map[string]any{
		"identityId":   acct.identityID,
		"accessToken":  acct.token,
		"refreshToken": acct.refresh,
		"expiresIn":    int(c.tokenTTL.Seconds()),
		"scope":        "rtc shadow",
	}
	broker := c.broker
	c.mu.Unlock()

	if evictedClient != "" && broker != nil {
		notice, _ := json.Marshal(map[string]any{
			"messageType": KickMessageType,
			"data":        map[string]string{"reason": "login-other-device"},
		})
		broker.Inject(shadow.ControlTopic(evictedClient), notice)
	}
	return ok200(info)
}

func (c *Cloud) refresh(body []byte) *interfaces.Response {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.RefreshToken == "" {
		return fail(errmap.CodeInvalidParameter, "refresh token required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	acct, ok := c.refreshTokens[req.RefreshToken]
	if !ok {
		return &interfaces.Response{Code: errmap.CodeTokenInvalid, Tip: "refresh token invalid", Status: http.StatusUnauthorized}
	}
	delete(c.tokens, acct.token)
	acct.token = "at-" + uuid.NewString()
	c.tokens[acct.token] = acct
	raw, _ := json.Marshal(map[string]any{
		"accessToken":  acct.token,
		"refreshToken": acct.refresh,
		"expiresIn":    int(c.tokenTTL.Seconds()),
		"scope":        "rtc shadow",
	})
	return &interfaces.Response{Code: errmap.CodeOK, Tip: "success", Info: raw, Status: http.StatusOK}
}

func (c *Cloud) identity(acct *cloudAccount) *interfaces.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	acct.clientID = fmt.Sprintf("%s-%s", acct.name, uuid.NewString()[:8])
	raw, _ := json.Marshal(map[string]any{
		"accessKeyId":     "ak-" + acct.identityID,
		"accessKeySecret": "sk-" + uuid.NewString(),
		"securityToken":   "st-" + uuid.NewString(),
		"expiration":      time.Now().Add(c.tokenTTL).Unix(),
		"clientId":        acct.clientID,
	})
	return &interfaces.Response{Code: errmap.CodeOK, Tip: "success", Info: raw, Status: http.StatusOK}
}

// SimulatedControlPlane implements interfaces.IControlPlane in memory.
type SimulatedControlPlane struct {
	cloud *Cloud
}

// NewControlPlane returns an IControlPlane backed by cloud.
func (c *Cloud) NewControlPlane() *SimulatedControlPlane {
	return &SimulatedControlPlane{cloud: c}
}

// Request implements IControlPlane.Request with simulation
func (s *SimulatedControlPlane) Request(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	resp := s.cloud.handle(method, req.Path, req.Token, body)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// IsSimulation implements IControlPlane.IsSimulation
func (s *SimulatedControlPlane) IsSimulation() bool {
	return true
}
