package commands

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/buttbee/buttbee-go/pkg/log"
)

// createTestLogFile creates a temporary capture file with the given events.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bblog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func messageEvent(ts time.Time, dir log.Direction, typ log.MessageType, id uint32, name string) log.Event {
	return log.Event{
		Timestamp:    ts,
		ConnectionID: "abc12345",
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:      typ,
			MessageID: id,
			Name:      name,
		},
	}
}

func TestExportToJSONL(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	path := createTestLogFile(t, []log.Event{
		messageEvent(ts, log.DirectionOut, log.MessageTypeRequest, 1, "RequestServerInfo"),
		messageEvent(ts.Add(time.Millisecond), log.DirectionIn, log.MessageTypeResponse, 1, "ServerInfo"),
	})

	outPath := filepath.Join(t.TempDir(), "out.jsonl")
	if err := RunExport(path, "jsonl", outPath); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if first["name"] != "RequestServerInfo" || first["kind"] != "REQUEST" || first["direction"] != "OUT" {
		t.Errorf("unexpected first record: %v", first)
	}
	if second["message_id"] != float64(1) || second["kind"] != "RESPONSE" {
		t.Errorf("unexpected second record: %v", second)
	}
	if first["timestamp"] != "2026-01-28T10:15:32.123456Z" {
		t.Errorf("timestamp = %v", first["timestamp"])
	}
}

func TestExportJSONLEmbedsBody(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	withBody := messageEvent(ts, log.DirectionOut, log.MessageTypeRequest, 3, "StartScanning")
	withBody.Message.Body = []byte(`{"Id":3}`)
	broken := messageEvent(ts, log.DirectionIn, log.MessageTypeEvent, 0, "Garbage")
	broken.Message.Body = []byte(`{"Id":`)

	path := createTestLogFile(t, []log.Event{withBody, broken})
	outPath := filepath.Join(t.TempDir(), "out.jsonl")
	if err := RunExport(path, "jsonl", outPath); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first, second map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	_ = json.Unmarshal([]byte(lines[1]), &second)
	body, ok := first["body"].(map[string]any)
	if !ok || body["Id"] != float64(3) {
		t.Errorf("body = %v, want embedded object", first["body"])
	}
	if _, ok := second["body"]; ok {
		t.Errorf("invalid body should be omitted, got %v", second["body"])
	}
}

func TestExportToCSV(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	rt := 2 * time.Millisecond
	index := uint32(5)

	reply := messageEvent(ts, log.DirectionIn, log.MessageTypeResponse, 9, "Ok")
	reply.DeviceIndex = &index
	reply.Message.RoundTrip = &rt

	path := createTestLogFile(t, []log.Event{
		reply,
		{
			Timestamp:    ts,
			ConnectionID: "abc12345",
			Layer:        log.LayerClient,
			Category:     log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityConnection,
				NewState: "CONNECTED",
			},
		},
	})

	outPath := filepath.Join(t.TempDir(), "out.csv")
	if err := RunExport(path, "csv", outPath); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header and 2 rows, got %d records", len(records))
	}
	if records[0][0] != "timestamp" || records[0][7] != "name" {
		t.Errorf("unexpected header: %v", records[0])
	}

	row := records[1]
	if row[5] != "5" {
		t.Errorf("device_index = %q, want 5", row[5])
	}
	if row[6] != "RESPONSE" || row[7] != "Ok" || row[8] != "9" {
		t.Errorf("unexpected message columns: %v", row)
	}
	if row[9] != "2000" {
		t.Errorf("round_trip_us = %q, want 2000", row[9])
	}

	if records[2][6] != "state" || records[2][7] != "CONNECTED" {
		t.Errorf("unexpected state row: %v", records[2])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, nil)
	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}
