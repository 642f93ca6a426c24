package interaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/buttbee/buttbee-go/pkg/wire"
)

// ErrUsage is wrapped by every error caused by calling the API wrongly or
// in the wrong state.
var ErrUsage = errors.New("usage error")

// ErrTransport is wrapped by dial, send and receive failures.
var ErrTransport = errors.New("transport failure")

// ProtocolError is a failed reply: either an Error message from the server
// or a reply of the wrong shape.
type ProtocolError struct {
	Code    wire.ErrorCode
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

// ShapeMismatch reports whether the reply arrived under the wrong name or
// could not be decoded.
func (e *ProtocolError) ShapeMismatch() bool {
	return e.Code == wire.ErrorCodeShapeMismatch
}

// Kind classifies errors.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindProtocol
	KindShapeMismatch
	KindTransport
	KindMalformed
	KindUsage
	KindCancelled
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "PROTOCOL"
	case KindShapeMismatch:
		return "SHAPE_MISMATCH"
	case KindTransport:
		return "TRANSPORT"
	case KindMalformed:
		return "MALFORMED"
	case KindUsage:
		return "USAGE"
	case KindCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// KindOf classifies err. A nil error is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var pe *ProtocolError
	switch {
	case errors.As(err, &pe):
		if pe.ShapeMismatch() {
			return KindShapeMismatch
		}
		return KindProtocol
	case errors.Is(err, ErrUsage):
		return KindUsage
	case errors.Is(err, wire.ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindUnknown
	}
}
