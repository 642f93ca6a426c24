package buttbee_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/buttbee/buttbee-go/pkg/client"
	"github.com/buttbee/buttbee-go/pkg/connection"
	"github.com/buttbee/buttbee-go/pkg/device"
	"github.com/buttbee/buttbee-go/pkg/wire"
)

// testServer is a minimal Buttplug server on a real websocket.
type testServer struct {
	t   *testing.T
	srv *httptest.Server

	devices []wire.DeviceInfo
	maxPing uint32

	mu       sync.Mutex
	conns    []*serverConn
	received []wire.Envelope
	sessions atomic.Int32
}

type serverConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *serverConn) send(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func newTestServer(t *testing.T, maxPing uint32, devices ...wire.DeviceInfo) *testServer {
	t.Helper()
	s := &testServer{t: t, devices: devices, maxPing: maxPing}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn}
		s.mu.Lock()
		s.conns = append(s.conns, sc)
		s.mu.Unlock()
		s.sessions.Add(1)
		s.serve(sc)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *testServer) serve(sc *serverConn) {
	defer sc.conn.Close()
	for {
		_, data, err := sc.conn.ReadMessage()
		if err != nil {
			return
		}
		envs, err := wire.DecodeEnvelope(data)
		if err != nil {
			s.t.Errorf("server received malformed message: %v", err)
			return
		}
		for _, env := range envs {
			s.mu.Lock()
			s.received = append(s.received, env)
			s.mu.Unlock()

			var reply wire.Message = &wire.Ok{}
			switch env.Name {
			case "RequestServerInfo":
				reply = &wire.ServerInfo{ServerName: "Test Server", MessageVersion: 3, MaxPingTime: s.maxPing}
			case "RequestDeviceList":
				reply = &wire.DeviceList{Devices: s.devices}
			}
			reply.SetMessageID(env.ID)
			if err := sc.send(reply); err != nil {
				return
			}
		}
	}
}

// push sends an event on the most recent connection.
func (s *testServer) push(msg wire.Message) {
	s.t.Helper()
	s.mu.Lock()
	sc := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	msg.SetMessageID(wire.EventID)
	if err := sc.send(msg); err != nil {
		s.t.Fatalf("push failed: %v", err)
	}
}

// dropAll closes every server side connection without a close handshake.
func (s *testServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.conns {
		_ = sc.conn.NetConn().Close()
	}
	s.conns = nil
}

func (s *testServer) requests(name string) []wire.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Envelope
	for _, env := range s.received {
		if env.Name == name {
			out = append(out, env)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func vibrator(index uint32, name string) wire.DeviceInfo {
	return wire.DeviceInfo{
		DeviceName:  name,
		DeviceIndex: index,
		DeviceMessages: wire.DeviceMessages{
			ScalarCmd: []wire.DeviceAttribute{
				{StepCount: 20, ActuatorType: wire.ActuatorVibrate},
				{StepCount: 20, ActuatorType: wire.ActuatorVibrate},
			},
		},
	}
}

// TestE2E_ConnectAndActuate drives a device over a real websocket.
func TestE2E_ConnectAndActuate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := newTestServer(t, 1000, vibrator(0, "Test Vibrator"))

	conn := client.New(client.Config{URL: server.url(), ClientName: "e2e"})
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	if got := conn.ServerInfo().ServerName; got != "Test Server" {
		t.Errorf("ServerName = %q, want Test Server", got)
	}
	if !conn.KeepAliveRunning() {
		t.Error("expected keep-alive to run")
	}

	if err := conn.RefreshDevices(ctx); err != nil {
		t.Fatalf("RefreshDevices failed: %v", err)
	}
	dev := conn.Device(0)
	if dev == nil {
		t.Fatal("device 0 not found")
	}

	if err := dev.Scalar(ctx, wire.ActuatorVibrate, 0.5); err != nil {
		t.Fatalf("Scalar failed: %v", err)
	}

	cmds := server.requests("ScalarCmd")
	if len(cmds) != 1 {
		t.Fatalf("expected 1 ScalarCmd, got %d", len(cmds))
	}
	var cmd wire.ScalarCmd
	if err := wire.Unmarshal(cmds[0].Body, &cmd); err != nil {
		t.Fatalf("decode ScalarCmd: %v", err)
	}
	if len(cmd.Scalars) != 2 {
		t.Fatalf("expected both actuators in one message, got %d", len(cmd.Scalars))
	}
	for _, s := range cmd.Scalars {
		if s.Scalar != 0.5 {
			t.Errorf("actuator %d scalar = %v, want 0.5", s.Index, s.Scalar)
		}
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(server.requests("StopAllDevices")) != 1 {
		t.Error("expected StopAllDevices on close")
	}
	if dev.Connected() {
		t.Error("device should be disconnected after close")
	}
}

// TestE2E_DeviceEvents checks that events pushed by the server reach
// observers and sensors.
func TestE2E_DeviceEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := newTestServer(t, 0)

	conn := client.New(client.Config{URL: server.url()})
	added := make(chan *device.Device, 1)
	removed := make(chan *device.Device, 1)
	conn.OnDeviceAdded(func(d *device.Device) { added <- d })
	conn.OnDeviceRemoved(func(d *device.Device) { removed <- d })

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	if err := conn.StartScanning(ctx); err != nil {
		t.Fatalf("StartScanning failed: %v", err)
	}

	info := vibrator(4, "Late Arrival")
	info.DeviceMessages.SensorReadCmd = []wire.DeviceAttribute{
		{SensorType: wire.SensorBattery, SensorRange: [][2]int32{{0, 100}}},
	}
	server.push(&wire.DeviceAdded{DeviceInfo: info})

	var dev *device.Device
	select {
	case dev = <-added:
	case <-ctx.Done():
		t.Fatal("no device added notification")
	}
	if dev.Index() != 4 || dev.Name() != "Late Arrival" {
		t.Errorf("unexpected device %d %q", dev.Index(), dev.Name())
	}

	battery := dev.Sensors()[0]
	changed := make(chan []int32, 1)
	battery.OnValueChanged(func(ev device.SensorEvent) { changed <- ev.Values })

	reading := &wire.SensorReading{SensorIndex: 0, SensorType: wire.SensorBattery, Data: []int32{42}}
	reading.DeviceIndex = 4
	server.push(reading)

	select {
	case values := <-changed:
		if len(values) != 1 || values[0] != 42 {
			t.Errorf("values = %v, want [42]", values)
		}
	case <-ctx.Done():
		t.Fatal("no sensor notification")
	}
	if pct, ok := battery.Percent(0); !ok || pct != 42 {
		t.Errorf("Percent = %d, %v; want 42, true", pct, ok)
	}

	server.push(&wire.DeviceRemoved{DeviceIndex: 4})
	select {
	case d := <-removed:
		if d != dev {
			t.Error("removed notification carries a different device")
		}
	case <-ctx.Done():
		t.Fatal("no device removed notification")
	}
	if dev.Connected() {
		t.Error("removed device should be disconnected")
	}
	if conn.Device(4) != nil {
		t.Error("removed device still in table")
	}
}

// TestE2E_Reconnection checks that the manager starts a new session after
// the server drops the connection.
func TestE2E_Reconnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	server := newTestServer(t, 0, vibrator(0, "Test Vibrator"))

	var mu sync.Mutex
	var sessions []*client.Conn

	manager := connection.NewManager(func(ctx context.Context) (connection.Session, error) {
		conn := client.New(client.Config{URL: server.url()})
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		if err := conn.RefreshDevices(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		mu.Lock()
		sessions = append(sessions, conn)
		mu.Unlock()
		return conn, nil
	}, connection.Config{
		Backoff: connection.BackoffConfig{
			Initial:    20 * time.Millisecond,
			Max:        100 * time.Millisecond,
			Multiplier: 2,
			Jitter:     -1,
		},
	})

	reconnecting := make(chan int, 10)
	manager.OnReconnecting(func(attempt int, _ time.Duration) {
		reconnecting <- attempt
	})

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- manager.Run(runCtx) }()

	waitFor(t, "first session", func() bool { return manager.IsConnected() })

	mu.Lock()
	first := sessions[0]
	mu.Unlock()
	dev := first.Device(0)
	if dev == nil {
		t.Fatal("device missing in first session")
	}

	server.dropAll()

	select {
	case attempt := <-reconnecting:
		if attempt != 1 {
			t.Errorf("reconnect attempt = %d, want 1", attempt)
		}
	case <-ctx.Done():
		t.Fatal("manager did not reconnect")
	}

	waitFor(t, "second session", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sessions) == 2 && manager.IsConnected()
	})

	if first.State() != client.StateClosed {
		t.Errorf("first session state = %s, want closed", first.State())
	}
	if dev.Connected() {
		t.Error("device of dropped session should be disconnected")
	}
	if server.sessions.Load() != 2 {
		t.Errorf("server saw %d sessions, want 2", server.sessions.Load())
	}

	stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Run did not return")
	}
	if manager.State() != connection.StateClosed {
		t.Errorf("manager state = %s, want closed", manager.State())
	}
}
