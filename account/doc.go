// Package account implements the account session state machine.
//
// A Manager moves through IDLE, LOGGING_IN, RUNNING and LOGGING_OUT. Login
// performs the control-plane login, obtains the identity proof, resolves the
// account's invent device, connects the pub/sub client and subscribes the
// device shadow and control topics. Logout reverses those steps.
//
// A token invalidation, whether inferred from a 401 response, pushed as a
// kick notice on the control topic or requested by the caller, forces IDLE
// from any state without a logout round-trip. Each login attempt carries an
// epoch, so a login that completes after its epoch was invalidated rolls
// itself back instead of reaching RUNNING.
//
// Illegal calls such as Login while RUNNING return errmap.ErrWrongState
// synchronously and never touch the network.
//
// Observers register through Subscribe and receive tagged Event values:
//
//	mgr.SubscribeFunc(func(ev account.Event) {
//	    if ev.Kind == account.EventLoginDone && ev.Err != nil {
//	        log.Printf("login failed: %v", ev.Err)
//	    }
//	})
package account
