package shadowcall

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/shadowcall/account"
	"github.com/opd-ai/shadowcall/av"
	"github.com/opd-ai/shadowcall/clock"
	"github.com/opd-ai/shadowcall/config"
	"github.com/opd-ai/shadowcall/errmap"
	"github.com/opd-ai/shadowcall/factory"
	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/opd-ai/shadowcall/shadow"
	"github.com/opd-ai/shadowcall/vault"
	"github.com/sirupsen/logrus"
)

// Version is the client version reported by the CLI.
const Version = "0.3.0"

// ErrClosed is returned by operations on a closed Client.
var ErrClosed = errors.New("client closed")

// Options contains configuration for creating a Client.
type Options struct {
	// Config holds the transport, timeout and storage settings.
	Config config.Config

	// Media is the real-time media transport. It is required unless
	// Config.UseSimulation is set or Transports is provided.
	Media interfaces.IMediaTransport

	// Transports overrides the factory. Tests use it to put several
	// clients on one simulated broker.
	Transports *factory.Transports

	// Passphrase unlocks the session vault in Config.VaultDir. Without it
	// sessions are not persisted. The slice is wiped by New.
	Passphrase []byte

	// Scheduler and TimeProvider replace the wall clock for deterministic
	// tests.
	Scheduler    clock.Scheduler
	TimeProvider clock.TimeProvider
}

// NewOptions creates Options with the default configuration.
func NewOptions() *Options {
	return &Options{Config: config.Default()}
}

// Client owns one account session and its call manager. Every consumer
// shares a Client by reference; there is no package level state, so tests
// may run several isolated clients side by side.
type Client struct {
	mu     sync.Mutex
	closed bool

	cfg        config.Config
	transports *factory.Transports
	store      *shadow.Store
	account    *account.Manager
	calls      *av.Manager
	vault      *vault.Vault
}

// New creates a Client. Nothing touches the network until Login or
// RestoreSession.
func New(options *Options) (*Client, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	transports := options.Transports
	if transports == nil {
		var err error
		transports, err = factory.NewTransportFactory().CreateTransportsWithConfig(options.Media, options.Config.Transport())
		if err != nil {
			return nil, fmt.Errorf("create transports: %w", err)
		}
	}

	store := shadow.NewStore()
	acct := account.NewManager(transports.ControlPlane, transports.PubSub, store)
	c := &Client{
		cfg:        options.Config,
		transports: transports,
		store:      store,
		account:    acct,
	}

	if len(options.Passphrase) > 0 {
		v, err := vault.Open(options.Config.VaultDir, options.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("open vault: %w", err)
		}
		c.vault = v
		acct.SetSessionStore(v)
	}

	c.calls = av.NewManager(transports.PubSub, transports.Media, store, acct.DeviceName)
	if err := c.calls.SetCallTimeout(options.Config.CallTimeoutDuration()); err != nil {
		return nil, err
	}
	if transports.Broker != nil {
		transports.Broker.AddSettler(c.calls.Settle)
	}
	if options.Scheduler != nil {
		c.calls.SetScheduler(options.Scheduler)
	}
	if options.TimeProvider != nil {
		store.SetTimeProvider(options.TimeProvider)
		acct.SetTimeProvider(options.TimeProvider)
		c.calls.SetTimeProvider(options.TimeProvider)
	}
	acct.SubscribeFunc(c.onAccountEvent)

	logrus.WithFields(logrus.Fields{
		"function":       "New",
		"use_simulation": options.Config.UseSimulation,
		"vault":          c.vault != nil,
	}).Info("Client created")
	return c, nil
}

// onAccountEvent tears the call down with the session that carried it.
func (c *Client) onAccountEvent(ev account.Event) {
	switch ev.Kind {
	case account.EventTokenInvalid:
		c.calls.Reset(errmap.New(errmap.KindTokenInvalid, "session token invalidated"))
	case account.EventLoginOtherDevice:
		c.calls.Reset(errmap.New(errmap.KindTokenInvalid, "logged in on another device"))
	case account.EventLogoutDone, account.EventUnregisterDone:
		c.calls.Reset(nil)
	}
}

// Account returns the account session manager.
func (c *Client) Account() *account.Manager { return c.account }

// Calls returns the call signaling manager.
func (c *Client) Calls() *av.Manager { return c.calls }

// Shadow returns the device shadow store.
func (c *Client) Shadow() *shadow.Store { return c.store }

// Transports returns the transports the client runs on.
func (c *Client) Transports() *factory.Transports { return c.transports }

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config { return c.cfg }

// Login logs in with an account name and password.
func (c *Client) Login(ctx context.Context, name, password string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.account.Login(ctx, account.Credentials{Account: name, Password: password})
}

// Logout hangs up any call and ends the account session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	_ = c.calls.Hangup(ctx)
	return c.account.Logout(ctx)
}

// Dial calls peer.
func (c *Client) Dial(ctx context.Context, peer, attach string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.calls.Dial(ctx, peer, attach)
}

// Close hangs up, disconnects the transports and locks the vault. A
// persisted session survives Close and can be resumed with
// Account().RestoreSession.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.calls.Hangup(ctx)
	c.calls.Close()

	var errs []error
	if err := c.transports.PubSub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pubsub: %w", err))
	}
	if c.vault != nil {
		if err := c.vault.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close vault: %w", err))
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Client closed")
	return errors.Join(errs...)
}

func (c *Client) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}
