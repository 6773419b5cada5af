// Package interfaces defines the transport abstractions the session and call
// state machines are written against.
//
// There are three collaborators:
//
//   - [IPubSub] is the persistent publish/subscribe connection (MQTT-like)
//     that carries shadow documents and control notices.
//   - [IControlPlane] is the stateless request/response channel to the cloud
//     control plane. Every reply is the {code, tip, info} envelope in [Response].
//   - [IMediaTransport] is the external real-time media transport that the
//     call manager commands (connect, disconnect, mute, volume, effects).
//
// Each has a simulated implementation in package testing and a production
// implementation in package real (the media transport is always supplied by
// the host application). Package factory chooses between them from a
// [TransportConfig]:
//
//	f := factory.NewTransportFactory()
//	set, err := f.CreateTransports(media)
//	if err != nil {
//	    return err
//	}
//	// set.PubSub, set.ControlPlane and set.Media implement the interfaces here.
//
// Topic filters follow MQTT conventions and are evaluated with [MatchTopic]:
// "+" matches exactly one level and a trailing "#" matches any remainder.
package interfaces
