// Package commands implements the buttbee-log CLI commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/buttbee/buttbee-go/pkg/log"
)

// detail is one indented line below an event headline. Lines without a key
// print the value alone.
type detail struct {
	key, value string
}

// formatEvent writes one event as a headline, its details and a blank line.
func formatEvent(w io.Writer, event log.Event) {
	fmt.Fprintln(w, headline(event))
	for _, d := range details(event) {
		if d.key == "" {
			fmt.Fprintf(w, "  %s\n", d.value)
		} else {
			fmt.Fprintf(w, "  %s: %s\n", d.key, d.value)
		}
	}
	fmt.Fprintln(w)
}

// headline renders "timestamp [conn:id] DIR LAYER label".
func headline(event log.Event) string {
	label := "Unknown"
	switch {
	case event.Message != nil:
		label = event.Message.Type.String() + " " + event.Message.Name
	case event.Frame != nil:
		label = "Frame"
	case event.StateChange != nil:
		label = "State"
	case event.ControlMsg != nil:
		label = event.ControlMsg.Type.String()
	case event.Error != nil:
		label = "Error"
	}

	layer := event.Layer.String()
	if event.Category == log.CategoryControl {
		layer = "CTRL"
	}

	return fmt.Sprintf("%s [conn:%s] %-3s %s %s",
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		shortenConnID(event.ConnectionID),
		event.Direction.String(), layer, label)
}

func details(event log.Event) []detail {
	var out []detail
	add := func(key, value string) { out = append(out, detail{key, value}) }

	if event.DeviceIndex != nil {
		add("Device", strconv.FormatUint(uint64(*event.DeviceIndex), 10))
	}

	switch {
	case event.Message != nil:
		m := event.Message
		add("Id", strconv.FormatUint(uint64(m.MessageID), 10))
		if m.ErrorCode != nil {
			add("ErrorCode", fmt.Sprintf("%s (%d)", m.ErrorCode, int(*m.ErrorCode)))
		}
		if m.RoundTrip != nil {
			add("RoundTrip", formatDuration(*m.RoundTrip))
		}
		if len(m.Body) > 0 {
			add("Body", string(m.Body))
		}

	case event.Frame != nil:
		size := strconv.Itoa(event.Frame.Size) + " bytes"
		if !event.Frame.Final {
			size += " (fragment)"
		}
		add("Size", size)
		if len(event.Frame.Data) > 0 {
			data := string(event.Frame.Data)
			if event.Frame.Truncated {
				data += " (truncated)"
			}
			add("Data", data)
		}

	case event.StateChange != nil:
		s := event.StateChange
		add("Entity", s.Entity.String())
		if s.Entity == log.StateEntityConnection && event.ServerURL != "" {
			add("Server", event.ServerURL)
		}
		if s.OldState != "" {
			add("", s.OldState+" -> "+s.NewState)
		} else {
			add("", "-> "+s.NewState)
		}
		if s.Reason != "" {
			add("Reason", s.Reason)
		}

	case event.ControlMsg != nil:
		if event.ControlMsg.Latency != nil {
			add("Latency", formatDuration(*event.ControlMsg.Latency))
		}

	case event.Error != nil:
		e := event.Error
		add("Layer", e.Layer.String())
		add("Message", e.Message)
		if e.Code != nil {
			add("Code", strconv.Itoa(*e.Code))
		}
		if e.Context != "" {
			add("Context", e.Context)
		}
	}
	return out
}

// shortenConnID keeps the first 8 characters of a connection ID.
func shortenConnID(id string) string {
	return id[:min(len(id), 8)]
}

// formatDuration picks us, ms or s with three decimals.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.3fus", float64(d)/float64(time.Microsecond))
	case d < time.Second:
		return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.3fs", d.Seconds())
	}
}

// RunView writes every event of path matching filter to output.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
}
