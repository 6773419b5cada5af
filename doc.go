// Package shadowcall is a client for cloud signaled audio/video calls to
// IoT devices and other users.
//
// A [Client] ties together the pieces that live in the sub-packages: the
// transports built by package factory, the device shadow store, the account
// session manager and the call signaling manager. It is the single owned
// context of a process; create it once and pass it to whoever needs it.
//
// # Getting Started
//
//	options := shadowcall.NewOptions()
//	options.Config.UseSimulation = true
//
//	client, err := shadowcall.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(context.Background())
//
//	client.Calls().SubscribeFunc(func(ev av.Event) {
//	    fmt.Printf("%s %s\n", ev.Kind, ev.Peer)
//	})
//
//	if err := client.Login(ctx, "alice", "secret"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Dial(ctx, "doorbell-1", "front door"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Core Types
//
//   - [Client]: owns one account session and its call manager
//   - [Options]: configuration, media transport and optional vault passphrase
//
// # Session Lifecycle
//
// Login moves the account manager from IDLE through LOGGING_IN to RUNNING.
// When the cloud revokes the token, or the same account logs in on another
// device, the session drops straight back to IDLE and any call is aborted
// with a token-invalid error on av.EventHangupDone. A fresh login is then
// required; invalidation is never retried.
//
// With a Passphrase the session is kept in an encrypted vault, so a later
// process can call Account().RestoreSession instead of logging in again.
//
// # Calls
//
// Calls are signaled through the "rtc" named shadow of the peer's device.
// See package av for the state machine and its events.
//
// # Configuration
//
// Options.Config comes from config.Default or config.Load, which reads an
// optional TOML file and SHADOWCALL_* environment variables. With
// use_simulation set, New builds an in-memory broker and cloud that behave
// like the real services; this is what the tests and the demo command use.
package shadowcall
