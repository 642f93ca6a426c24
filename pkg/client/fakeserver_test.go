package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buttbee/buttbee-go/pkg/transport"
	"github.com/buttbee/buttbee-go/pkg/wire"
)

// replyFunc answers one request. A nil message sends nothing.
type replyFunc func(env wire.Envelope) wire.Message

// fakeServer is a scripted Buttplug server on one end of a pipe.
type fakeServer struct {
	t   *testing.T
	end *transport.PipeEnd

	mu       sync.Mutex
	replies  map[string]replyFunc
	received []wire.Envelope
	arrived  chan wire.Envelope
}

func replyOK(wire.Envelope) wire.Message { return &wire.Ok{} }

func silent(wire.Envelope) wire.Message { return nil }

func serverInfo(maxPing uint32) replyFunc {
	return func(wire.Envelope) wire.Message {
		return &wire.ServerInfo{ServerName: "Fake Server", MessageVersion: 3, MaxPingTime: maxPing}
	}
}

// newFakeServer returns a server and a connection wired to it. The server
// answers the handshake with maxPing, and every other request with Ok
// unless scripted otherwise.
func newFakeServer(t *testing.T, maxPing uint32, cfg Config) (*fakeServer, *Conn) {
	t.Helper()

	clientEnd, serverEnd := transport.NewPipe()
	s := &fakeServer{
		t:   t,
		end: serverEnd,
		replies: map[string]replyFunc{
			"RequestServerInfo": serverInfo(maxPing),
		},
		arrived: make(chan wire.Envelope, 1024),
	}
	go s.run()

	cfg.Dialer = transport.NewPipeDialer(clientEnd)
	if cfg.URL == "" {
		cfg.URL = "ws://fake"
	}
	conn := New(cfg)
	t.Cleanup(func() {
		_ = conn.Close()
		_ = serverEnd.Close()
	})
	return s, conn
}

func (s *fakeServer) handle(name string, fn replyFunc) {
	s.mu.Lock()
	s.replies[name] = fn
	s.mu.Unlock()
}

func (s *fakeServer) run() {
	for {
		f, err := s.end.Receive(context.Background())
		if err != nil {
			return
		}
		envs, err := wire.DecodeEnvelope(f.Data)
		if err != nil {
			s.t.Errorf("server received malformed message: %v", err)
			return
		}
		for _, env := range envs {
			s.mu.Lock()
			s.received = append(s.received, env)
			fn, found := s.replies[env.Name]
			s.mu.Unlock()
			select {
			case s.arrived <- env:
			default:
			}

			if !found {
				fn = replyOK
			}
			reply := fn(env)
			if reply == nil {
				continue
			}
			reply.SetMessageID(env.ID)
			data, err := wire.Encode(reply)
			if err != nil {
				s.t.Errorf("encode reply: %v", err)
				return
			}
			_ = s.end.Send(context.Background(), data)
		}
	}
}

// push sends an unsolicited event.
func (s *fakeServer) push(msg wire.Message) {
	s.t.Helper()
	msg.SetMessageID(wire.EventID)
	data, err := wire.Encode(msg)
	require.NoError(s.t, err)
	require.NoError(s.t, s.end.Send(context.Background(), data))
}

// sendRaw sends data unchanged.
func (s *fakeServer) sendRaw(data string) {
	s.t.Helper()
	require.NoError(s.t, s.end.Send(context.Background(), []byte(data)))
}

// expect waits for the next request named name, skipping others.
func (s *fakeServer) expect(name string) wire.Envelope {
	s.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env := <-s.arrived:
			if env.Name == name {
				return env
			}
		case <-timeout:
			s.t.Fatalf("server did not receive %s", name)
			return wire.Envelope{}
		}
	}
}

func (s *fakeServer) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.received {
		if env.Name == name {
			n++
		}
	}
	return n
}

func vibratorInfo(index uint32, name string) wire.DeviceInfo {
	return wire.DeviceInfo{
		DeviceName:  name,
		DeviceIndex: index,
		DeviceMessages: wire.DeviceMessages{
			ScalarCmd: []wire.DeviceAttribute{{StepCount: 10, ActuatorType: wire.ActuatorVibrate}},
			SensorReadCmd: []wire.DeviceAttribute{
				{SensorType: wire.SensorBattery, SensorRange: [][2]int32{{0, 100}}},
			},
		},
	}
}

// eventually waits for cond.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
