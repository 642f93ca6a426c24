// Package interaction implements request/reply correlation for Buttplug
// sessions.
//
// Each outgoing request gets a non-zero id from the Correlator. The caller
// registers a completion handle for that id before the request is written,
// then waits on it. The read loop hands every reply with a non-zero id to
// Resolve, which settles the matching handle exactly once:
//
//	id := corr.Allocate()
//	call, err := corr.Register(id, "Ok")
//	// ... write the request carrying id ...
//	env, err := call.Wait(ctx)
//	if err != nil {
//	    corr.Forget(id)
//	    return err
//	}
//	err = call.Decode(env, &wire.Ok{})
//
// When the connection goes away, CloseAll settles every outstanding handle
// with ErrConnectionClosed and rejects later registrations.
//
// # Errors
//
// Replies named Error decode to *ProtocolError. A reply with an unexpected
// name or an undecodable body decodes to *ProtocolError carrying
// wire.ErrorCodeShapeMismatch. KindOf classifies any error returned by the
// client packages.
package interaction
