package commands

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/buttbee/buttbee-go/pkg/log"
)

// record is the flat, format-neutral shape of one exported event.
type record struct {
	Timestamp    time.Time       `json:"timestamp"`
	ConnectionID string          `json:"connection_id"`
	ServerURL    string          `json:"server_url,omitempty"`
	Direction    string          `json:"direction,omitempty"`
	Layer        string          `json:"layer"`
	Category     string          `json:"category"`
	DeviceIndex  *uint32         `json:"device_index,omitempty"`
	Kind         string          `json:"kind"`
	Name         string          `json:"name,omitempty"`
	MessageID    *uint32         `json:"message_id,omitempty"`
	RoundTripUS  *int64          `json:"round_trip_us,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	Detail       string          `json:"detail,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
}

func newRecord(e log.Event) record {
	r := record{
		Timestamp:    e.Timestamp.UTC(),
		ConnectionID: e.ConnectionID,
		ServerURL:    e.ServerURL,
		Layer:        e.Layer.String(),
		Category:     e.Category.String(),
		DeviceIndex:  e.DeviceIndex,
		Kind:         "unknown",
	}
	if e.Category != log.CategoryState {
		r.Direction = e.Direction.String()
	}

	switch {
	case e.Message != nil:
		m := e.Message
		id := m.MessageID
		r.Kind = m.Type.String()
		r.Name = m.Name
		r.MessageID = &id
		if m.RoundTrip != nil {
			us := m.RoundTrip.Microseconds()
			r.RoundTripUS = &us
		}
		if m.ErrorCode != nil {
			r.ErrorCode = m.ErrorCode.String()
		}
		if json.Valid(m.Body) {
			r.Body = m.Body
		}
	case e.Frame != nil:
		r.Kind = "frame"
		r.Detail = strconv.Itoa(e.Frame.Size) + " bytes"
	case e.StateChange != nil:
		r.Kind = "state"
		r.Name = e.StateChange.NewState
		r.Detail = e.StateChange.Entity.String()
		if e.StateChange.Reason != "" {
			r.Detail += ": " + e.StateChange.Reason
		}
	case e.ControlMsg != nil:
		r.Kind = e.ControlMsg.Type.String()
	case e.Error != nil:
		r.Kind = "error"
		r.Detail = e.Error.Message
	}
	return r
}

var csvHeader = []string{
	"timestamp", "connection_id", "direction", "layer", "category",
	"device_index", "type", "name", "message_id", "round_trip_us",
}

func (r record) csvRow() []string {
	optUint := func(v *uint32) string {
		if v == nil {
			return ""
		}
		return strconv.FormatUint(uint64(*v), 10)
	}
	roundTrip := ""
	if r.RoundTripUS != nil {
		roundTrip = strconv.FormatInt(*r.RoundTripUS, 10)
	}
	return []string{
		r.Timestamp.Format("2006-01-02T15:04:05.000000Z"),
		r.ConnectionID,
		r.Direction,
		r.Layer,
		r.Category,
		optUint(r.DeviceIndex),
		r.Kind,
		r.Name,
		optUint(r.MessageID),
		roundTrip,
	}
}

// RunExport writes every event of the capture at path as jsonl or csv.
// An empty output writes to stdout.
func RunExport(path, format, output string) error {
	var write func(io.Writer, *log.Reader) error
	switch format {
	case "jsonl":
		write = exportJSONL
	case "csv":
		write = exportCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	if output == "" {
		return write(os.Stdout, reader)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(f, reader); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// eachRecord calls fn for every remaining event in reader.
func eachRecord(reader *log.Reader, fn func(record) error) error {
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(newRecord(event)); err != nil {
			return err
		}
	}
}

func exportJSONL(w io.Writer, reader *log.Reader) error {
	enc := json.NewEncoder(w)
	return eachRecord(reader, func(r record) error {
		return enc.Encode(r)
	})
}

func exportCSV(w io.Writer, reader *log.Reader) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	err := eachRecord(reader, func(r record) error {
		return cw.Write(r.csvRow())
	})
	cw.Flush()
	if err != nil {
		return err
	}
	return cw.Error()
}
