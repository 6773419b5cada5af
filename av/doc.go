// Package av implements call signaling for shadowcall.
//
// A Manager holds at most one call session and moves it through the caller
// path
//
//	IDLE -> DIAL_REQUESTING -> DIAL_RESPONDING -> TALKING -> HANGUP_REQUESTING -> IDLE
//
// or the callee path
//
//	IDLE -> INCOMING -> ANSWER_REQUESTING -> ANSWER_RESPONDING -> TALKING
//
// Signals travel as a JSON object under the desired "rtc" key of the peer's
// "rtc" named shadow. The manager publishes to the peer's update topic and
// learns about the peer's signals from change events of its own device in
// the shadow store, so it never subscribes to anything itself.
//
// Every transition bumps an epoch. Timers and asynchronous completions
// capture the epoch they were started under and become no-ops once it has
// moved on, which is what keeps a dial timeout and a late answer from both
// being reported.
//
// The real-time media channel is an external collaborator reached through
// interfaces.IMediaTransport. The manager connects it when a call reaches
// TALKING and disconnects it when the call ends; mute and volume controls
// are forwarded only while TALKING.
//
// Example:
//
//	calls := av.NewManager(pubsub, media, store, acct.DeviceName)
//	calls.SubscribeFunc(func(ev av.Event) {
//	    if ev.Kind == av.EventPeerIncoming {
//	        _ = calls.Answer(context.Background())
//	    }
//	})
//	if err := calls.Dial(ctx, "doorbell-1", "front door"); err != nil {
//	    log.Fatal(err)
//	}
package av
