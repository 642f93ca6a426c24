package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buttbee/buttbee-go/pkg/device"
	"github.com/buttbee/buttbee-go/pkg/interaction"
	"github.com/buttbee/buttbee-go/pkg/log"
	"github.com/buttbee/buttbee-go/pkg/transport"
	"github.com/buttbee/buttbee-go/pkg/wire"
)

type recorder[T any] struct {
	mu    sync.Mutex
	items []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.items = append(r.items, v)
	r.mu.Unlock()
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type captureLog struct{ recorder[log.Event] }

func (c *captureLog) Log(e log.Event) { c.add(e) }

func connect(t *testing.T, conn *Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))
}

// ---------------------------------------------------------------------------
// handshake and lifecycle
// ---------------------------------------------------------------------------

func TestConnectHandshake(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{ClientName: "test"})

	states := &recorder[StateChange]{}
	conn.OnStateChange(states.add)

	connect(t, conn)
	assert.Equal(t, StateConnected, conn.State())
	assert.Equal(t, "Fake Server", conn.ServerInfo().ServerName)
	assert.False(t, conn.KeepAliveRunning(), "no keep-alive without MaxPingTime")
	assert.NotEmpty(t, conn.ConnectionID())

	env := srv.expect("RequestServerInfo")
	var req wire.RequestServerInfo
	require.NoError(t, wire.Unmarshal(env.Body, &req))
	assert.Equal(t, "Buttbee/0.1; test", req.ClientName)
	assert.Equal(t, uint32(3), req.MessageVersion)
	assert.NotZero(t, env.ID)

	eventually(t, func() bool { return states.len() == 2 }, "state notifications")
	got := states.all()
	assert.Equal(t, StateChange{Old: StateDisconnected, New: StateConnecting}, got[0])
	assert.Equal(t, StateChange{Old: StateConnecting, New: StateConnected}, got[1])
}

func TestConnectStartsKeepAlive(t *testing.T) {
	srv, conn := newFakeServer(t, 200, Config{})
	connect(t, conn)

	assert.True(t, conn.KeepAliveRunning())
	srv.expect("Ping")
	srv.expect("Ping")
	assert.Equal(t, StateConnected, conn.State())
}

func TestKeepAliveFailureTearsDown(t *testing.T) {
	srv, conn := newFakeServer(t, 40, Config{})
	srv.handle("Ping", silent)

	states := &recorder[StateChange]{}
	conn.OnStateChange(states.add)
	connect(t, conn)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not torn down after missed ping")
	}
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 0, srv.count("StopAllDevices"), "no stop-all on a failed link")

	eventually(t, func() bool { return states.len() == 4 }, "state notifications")
	closing := states.all()[2]
	assert.Equal(t, StateClosing, closing.New)
	require.Error(t, closing.Err)
	assert.Equal(t, interaction.KindTransport, interaction.KindOf(closing.Err))
	assert.Equal(t, float64(1), testutil.ToFloat64(conn.metrics.keepAliveFailures))
}

func TestConnectTwice(t *testing.T) {
	_, conn := newFakeServer(t, 0, Config{})
	connect(t, conn)

	err := conn.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, interaction.KindUsage, interaction.KindOf(err))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Connect(context.Background()), ErrClosed)
}

func TestHandshakeErrorClosesConnection(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	srv.handle("RequestServerInfo", func(wire.Envelope) wire.Message {
		return &wire.Error{ErrorMessage: "version too old", ErrorCode: wire.ErrorCodeInit}
	})

	err := conn.Connect(context.Background())
	require.Error(t, err)
	var pe *interaction.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, wire.ErrorCodeInit, pe.Code)
	assert.Equal(t, StateClosed, conn.State())
}

func TestHandshakeUnexpectedReply(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	srv.handle("RequestServerInfo", replyOK)

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, interaction.KindShapeMismatch, interaction.KindOf(err))
	assert.Equal(t, StateClosed, conn.State())
}

func TestDialFailure(t *testing.T) {
	dialer := &transport.PipeDialer{Err: errors.New("connection refused")}
	conn := New(Config{URL: "ws://nowhere", Dialer: dialer})

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, interaction.KindTransport, interaction.KindOf(err))
	assert.Equal(t, []string{"ws://nowhere"}, dialer.URIs)
	assert.Equal(t, StateClosed, conn.State())
	require.NoError(t, conn.Close())
}

func TestRequestsBeforeConnect(t *testing.T) {
	conn := New(Config{})
	err := conn.StartScanning(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, interaction.KindUsage, interaction.KindOf(err))
}

func TestCloseStopsDevicesWhenHealthy(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	connect(t, conn)

	require.NoError(t, conn.Close())
	srv.expect("StopAllDevices")
	assert.Equal(t, StateClosed, conn.State())
	assert.ErrorIs(t, conn.StopAllDevices(context.Background()), ErrClosed)
}

func TestServerCloseTearsDown(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	connect(t, conn)

	require.NoError(t, srv.end.SendFrame(context.Background(), transport.Frame{Kind: transport.FrameClose, Final: true}))

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not torn down after close frame")
	}
	assert.Equal(t, StateClosed, conn.State())
}

// ---------------------------------------------------------------------------
// correlation
// ---------------------------------------------------------------------------

func TestEventNeverResolvesPendingCall(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	srv.handle("StopScanning", silent)

	msgs := &recorder[wire.Envelope]{}
	conn.OnMessage(msgs.add)
	connect(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- conn.StopScanning(ctx) }()

	srv.expect("StopScanning")
	srv.sendRaw(`[{"Ok":{"Id":0}}]`)

	err := <-result
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	eventually(t, func() bool {
		for _, env := range msgs.all() {
			if env.Name == "Ok" && env.ID == 0 {
				return true
			}
		}
		return false
	}, "event delivered to message observers")
}

func TestCloseSweepsPendingCalls(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	srv.handle("StartScanning", silent)
	connect(t, conn)

	results := make(chan error, 2)
	for range 2 {
		go func() { results <- conn.StartScanning(context.Background()) }()
	}
	srv.expect("StartScanning")
	srv.expect("StartScanning")

	require.NoError(t, conn.Close())

	for range 2 {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, interaction.ErrConnectionClosed)
			assert.Equal(t, interaction.KindTransport, interaction.KindOf(err))
		case <-time.After(time.Second):
			t.Fatal("pending call not resolved by Close")
		}
	}
	assert.Equal(t, 0, conn.corr.Pending())
}

func TestServerErrorReply(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	srv.handle("StartScanning", func(wire.Envelope) wire.Message {
		return &wire.Error{ErrorMessage: "no scanners", ErrorCode: wire.ErrorCodeDevice}
	})
	connect(t, conn)

	err := conn.StartScanning(context.Background())
	var pe *interaction.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "no scanners", pe.Message)
	assert.Equal(t, interaction.KindProtocol, interaction.KindOf(err))
	assert.Equal(t, float64(1), testutil.ToFloat64(conn.metrics.protocolErrors))
	assert.Equal(t, StateConnected, conn.State(), "request errors are not fatal")
}

func TestRequestTimeout(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{RequestTimeout: 30 * time.Millisecond})
	srv.handle("StopScanning", silent)
	connect(t, conn)

	err := conn.StopScanning(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, interaction.KindCancelled, interaction.KindOf(err))
}

// ---------------------------------------------------------------------------
// dispatch
// ---------------------------------------------------------------------------

func TestDeviceAddedAndRemoved(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	added := &recorder[*device.Device]{}
	removed := &recorder[*device.Device]{}
	conn.OnDeviceAdded(added.add)
	conn.OnDeviceRemoved(removed.add)
	connect(t, conn)

	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(1, "Lush")})
	eventually(t, func() bool { return added.len() == 1 }, "attach notification")

	d := conn.Device(1)
	require.NotNil(t, d)
	assert.Same(t, d, added.all()[0])
	assert.Equal(t, "Lush", d.Name())
	assert.True(t, d.Connected())

	srv.push(&wire.DeviceRemoved{DeviceIndex: 1})
	eventually(t, func() bool { return removed.len() == 1 }, "detach notification")
	assert.Same(t, d, removed.all()[0])
	assert.False(t, d.Connected())
	assert.Nil(t, conn.Device(1))
	assert.Empty(t, conn.Devices())
}

func TestDeviceAddedTwiceDetachesOldInstance(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(kind string) func(*device.Device) {
		return func(d *device.Device) {
			mu.Lock()
			events = append(events, fmt.Sprintf("%s %s", kind, d.Name()))
			mu.Unlock()
		}
	}
	conn.OnDeviceAdded(record("added"))
	conn.OnDeviceRemoved(record("removed"))
	connect(t, conn)

	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(1, "First")})
	eventually(t, func() bool { return conn.Device(1) != nil }, "first attach")
	first := conn.Device(1)

	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(1, "Second")})
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	}, "replacement notifications")

	mu.Lock()
	assert.Equal(t, []string{"added First", "removed First", "added Second"}, events)
	mu.Unlock()
	assert.False(t, first.Connected())
	assert.Equal(t, "Second", conn.Device(1).Name())
}

func TestRefreshDevicesReplacesTable(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	added := &recorder[*device.Device]{}
	removed := &recorder[*device.Device]{}
	conn.OnDeviceAdded(added.add)
	conn.OnDeviceRemoved(removed.add)
	connect(t, conn)

	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(1, "One")})
	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(2, "Two")})
	eventually(t, func() bool { return added.len() == 2 }, "initial devices")
	oldTwo := conn.Device(2)

	srv.handle("RequestDeviceList", func(wire.Envelope) wire.Message {
		return &wire.DeviceList{Devices: []wire.DeviceInfo{vibratorInfo(2, "Two"), vibratorInfo(3, "Three")}}
	})
	require.NoError(t, conn.RefreshDevices(context.Background()))

	eventually(t, func() bool { return added.len() == 3 && removed.len() == 1 }, "refresh notifications")
	time.Sleep(20 * time.Millisecond)
	require.Len(t, removed.all(), 1)
	require.Len(t, added.all(), 3)
	assert.Equal(t, uint32(1), removed.all()[0].Index())
	assert.Equal(t, uint32(3), added.all()[2].Index())

	devices := conn.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, uint32(2), devices[0].Index())
	assert.Equal(t, uint32(3), devices[1].Index())

	assert.NotSame(t, oldTwo, devices[0], "identity refreshed")
	assert.False(t, oldTwo.Connected())
	assert.True(t, devices[0].Connected())
}

func TestReplaceDevice(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	connect(t, conn)
	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(4, "Four")})
	eventually(t, func() bool { return conn.Device(4) != nil }, "device attached")

	old := conn.Device(4)
	replacement := device.New(vibratorInfo(4, "Four Prime"), conn, nil)
	conn.ReplaceDevice(old, replacement)

	assert.Same(t, replacement, conn.Device(4))
	assert.False(t, old.Connected())

	conn.ReplaceDevice(replacement, replacement)
	assert.True(t, replacement.Connected())
}

func TestMalformedMessagesAreSkipped(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	connect(t, conn)

	srv.sendRaw(`not json`)
	srv.sendRaw(`[{"DeviceAdded":{"Id":0,"DeviceIndex":"bad"}}]`)
	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(5, "Five")})

	eventually(t, func() bool { return conn.Device(5) != nil }, "loop continues after malformed input")
	assert.Equal(t, float64(2), testutil.ToFloat64(conn.metrics.malformed))
	assert.Equal(t, StateConnected, conn.State())
}

func TestBadElementDoesNotDropBundledReply(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	srv.handle("StartScanning", silent)
	connect(t, conn)

	result := make(chan error, 1)
	go func() { result <- conn.StartScanning(context.Background()) }()

	req := srv.expect("StartScanning")
	srv.sendRaw(fmt.Sprintf(`[{"Ok":{"Id":%d}},{"ScanningFinished":{}},{"DeviceAdded":{"Id":0,"DeviceIndex":6,"DeviceName":"Six","DeviceMessages":{}}}]`, req.ID))

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reply bundled with a bad element was not delivered")
	}
	eventually(t, func() bool { return conn.Device(6) != nil }, "element after the bad one dispatched")
	assert.Equal(t, 0, conn.corr.Pending())
	assert.Equal(t, float64(1), testutil.ToFloat64(conn.metrics.malformed))
	assert.Equal(t, StateConnected, conn.State())
}

func TestFragmentedMessageIsReassembled(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	connect(t, conn)

	added := &wire.DeviceAdded{DeviceInfo: vibratorInfo(6, "Fragmented")}
	data, err := wire.Encode(added)
	require.NoError(t, err)
	require.NoError(t, srv.end.SendFragments(context.Background(), data, 7))

	eventually(t, func() bool { return conn.Device(6) != nil }, "fragmented event dispatched")
	assert.Equal(t, "Fragmented", conn.Device(6).Name())
}

func TestSensorReadingEvent(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	connect(t, conn)
	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(7, "Sensored")})
	eventually(t, func() bool { return conn.Device(7) != nil }, "device attached")

	changes := &recorder[device.SensorEvent]{}
	conn.Device(7).Sensors()[0].OnValueChanged(changes.add)

	reading := &wire.SensorReading{SensorIndex: 0, SensorType: wire.SensorBattery, Data: []int32{80}}
	reading.DeviceIndex = 7
	srv.push(reading)

	eventually(t, func() bool { return changes.len() == 1 }, "value change")
	assert.Equal(t, []int32{80}, changes.all()[0].Values)
}

func TestScanningFinishedAndServerErrorEvents(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	finished := &recorder[struct{}]{}
	serverErrs := &recorder[*interaction.ProtocolError]{}
	conn.OnScanningFinished(func() { finished.add(struct{}{}) })
	conn.OnServerError(serverErrs.add)
	connect(t, conn)

	require.NoError(t, conn.StartScanning(context.Background()))
	srv.push(&wire.ScanningFinished{})
	srv.push(&wire.Error{ErrorMessage: "dongle unplugged", ErrorCode: wire.ErrorCodeDevice})

	eventually(t, func() bool { return finished.len() == 1 && serverErrs.len() == 1 }, "event notifications")
	assert.Equal(t, "dongle unplugged", serverErrs.all()[0].Message)
}

// ---------------------------------------------------------------------------
// devices through the connection
// ---------------------------------------------------------------------------

func TestDeviceCommandsReachServer(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	connect(t, conn)
	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(8, "Commanded")})
	eventually(t, func() bool { return conn.Device(8) != nil }, "device attached")

	require.NoError(t, conn.Device(8).Scalar(context.Background(), wire.ActuatorVibrate, 0.34))

	env := srv.expect("ScalarCmd")
	var cmd wire.ScalarCmd
	require.NoError(t, wire.Unmarshal(env.Body, &cmd))
	assert.Equal(t, uint32(8), cmd.DeviceIndex)
	require.Len(t, cmd.Scalars, 1)
	assert.InDelta(t, 0.3, cmd.Scalars[0].Scalar, 1e-9)
	assert.Equal(t, wire.ActuatorVibrate, cmd.Scalars[0].ActuatorType)
}

func TestObserversMayIssueRequests(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	results := make(chan error, 1)
	conn.OnDeviceAdded(func(d *device.Device) {
		results <- d.Stop(context.Background())
	})
	connect(t, conn)

	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(9, "Reentrant")})
	select {
	case err := <-results:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("observer request did not complete")
	}
	srv.expect("StopDeviceCmd")
}

func TestCloseDisconnectsDevices(t *testing.T) {
	srv, conn := newFakeServer(t, 0, Config{})
	connect(t, conn)
	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(10, "Ten")})
	eventually(t, func() bool { return conn.Device(10) != nil }, "device attached")
	d := conn.Device(10)

	require.NoError(t, conn.Close())
	assert.False(t, d.Connected())
	assert.ErrorIs(t, d.Stop(context.Background()), device.ErrDisconnected)
	assert.Empty(t, conn.Devices())
}

// ---------------------------------------------------------------------------
// capture and metrics
// ---------------------------------------------------------------------------

type captureCounts struct {
	requests, responses, events, states int
	roundTrip                           bool
}

func countCaptured(events []log.Event) captureCounts {
	var n captureCounts
	for _, e := range events {
		switch {
		case e.Message != nil && e.Message.Type == log.MessageTypeRequest:
			n.requests++
		case e.Message != nil && e.Message.Type == log.MessageTypeResponse:
			n.responses++
			n.roundTrip = n.roundTrip || e.Message.RoundTrip != nil
		case e.Message != nil && e.Message.Type == log.MessageTypeEvent:
			n.events++
		case e.StateChange != nil:
			n.states++
		}
	}
	return n
}

func TestProtocolCapture(t *testing.T) {
	capture := &captureLog{}
	srv, conn := newFakeServer(t, 0, Config{ProtocolLogger: capture})
	connect(t, conn)
	srv.push(&wire.DeviceAdded{DeviceInfo: vibratorInfo(11, "Captured")})

	// connecting, connected, device attached
	eventually(t, func() bool { return countCaptured(capture.all()).states == 3 }, "device state captured")

	n := countCaptured(capture.all())
	assert.Equal(t, 1, n.requests)
	assert.Equal(t, 1, n.responses)
	assert.True(t, n.roundTrip)
	assert.Equal(t, 1, n.events)

	for _, e := range capture.all() {
		assert.Equal(t, conn.ConnectionID(), e.ConnectionID)
		assert.Equal(t, "ws://fake", e.ServerURL)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestMetricsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, a := newFakeServer(t, 0, Config{Registerer: reg})
	_, b := newFakeServer(t, 0, Config{Registerer: reg})
	connect(t, a)
	connect(t, b)

	assert.Same(t, a.metrics.framesOut, b.metrics.framesOut)
	assert.Equal(t, float64(2), testutil.ToFloat64(a.metrics.framesOut))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "buttbee_client_messages_sent_total")
	assert.Contains(t, names, "buttbee_client_devices")
}
