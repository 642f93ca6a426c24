package log

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// A capture file is a header record followed by one CBOR item per event.
// Both use integer map keys.

// CaptureVersion is the capture format written by FileLogger.
const CaptureVersion = 1

const captureMagic = "buttbee-capture"

var (
	// ErrNotCapture is returned when a file does not start with a capture
	// header.
	ErrNotCapture = errors.New("not a capture file")

	// ErrUnsupportedVersion is returned for captures written by a newer
	// format.
	ErrUnsupportedVersion = errors.New("unsupported capture version")
)

type captureHeader struct {
	Magic   string    `cbor:"1,keyasint"`
	Version int       `cbor:"2,keyasint"`
	Created time.Time `cbor:"3,keyasint,omitempty"`
}

var (
	encMode = mustMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode())

	// Unknown keys are skipped so older readers can open newer captures of
	// the same version.
	decMode = mustMode(cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode())
)

func mustMode[M any](mode M, err error) M {
	if err != nil {
		panic(fmt.Sprintf("capture CBOR mode: %v", err))
	}
	return mode
}

// EncodeEvent encodes one event.
func EncodeEvent(event Event) ([]byte, error) {
	return encMode.Marshal(event)
}

// DecodeEvent decodes one event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := decMode.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}

func writeHeader(enc *cbor.Encoder, now time.Time) error {
	return enc.Encode(captureHeader{
		Magic:   captureMagic,
		Version: CaptureVersion,
		Created: now.UTC(),
	})
}

// readHeader consumes and checks the header. An empty stream yields io.EOF.
func readHeader(dec *cbor.Decoder) error {
	var raw cbor.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: %v", ErrNotCapture, err)
	}

	var h captureHeader
	if err := decMode.Unmarshal(raw, &h); err != nil || h.Magic != captureMagic {
		return ErrNotCapture
	}
	if h.Version > CaptureVersion || h.Version < 1 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return nil
}
