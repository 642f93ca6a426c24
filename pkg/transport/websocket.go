package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/buttbee/buttbee-go/pkg/log"
)

// closeGrace bounds the close handshake write.
const closeGrace = time.Second

// WebSocketDialer opens websocket channels.
type WebSocketDialer struct {
	// Dialer is the underlying dialer. Nil selects websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the upgrade request.
	Header http.Header

	// ReadChunkSize bounds each surfaced fragment. Zero selects ReadChunkSize.
	ReadChunkSize int
}

// Dial connects to uri.
func (d *WebSocketDialer) Dial(ctx context.Context, uri string) (Channel, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, uri, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", uri, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", uri, err)
	}

	return NewWebSocketChannel(conn, d.ReadChunkSize), nil
}

// WebSocketChannel adapts a websocket connection to Channel. Each inbound
// websocket message is surfaced as one or more fragments of at most the
// configured chunk size.
//
// Cancelling a Receive context interrupts the pending read, after which the
// underlying connection is no longer readable.
type WebSocketChannel struct {
	conn  *websocket.Conn
	chunk int

	readMu  sync.Mutex
	reader  io.Reader
	kind    FrameKind
	readErr error

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	logger log.Logger
	connID string
}

// NewWebSocketChannel wraps an established connection.
func NewWebSocketChannel(conn *websocket.Conn, chunkSize int) *WebSocketChannel {
	if chunkSize <= 0 {
		chunkSize = ReadChunkSize
	}
	return &WebSocketChannel{
		conn:   conn,
		chunk:  chunkSize,
		closed: make(chan struct{}),
	}
}

// SetLogger configures capture of every fragment. Pass nil to disable.
func (c *WebSocketChannel) SetLogger(logger log.Logger, connID string) {
	c.writeMu.Lock()
	c.readMu.Lock()
	c.logger = logger
	c.connID = connID
	c.readMu.Unlock()
	c.writeMu.Unlock()
}

// RemoteAddr returns the server address.
func (c *WebSocketChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes data as one text message.
func (c *WebSocketChannel) Send(ctx context.Context, data []byte) error {
	if c.isClosed() {
		return ErrChannelClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.isClosed() {
			return ErrChannelClosed
		}
		return fmt.Errorf("write: %w", err)
	}

	if c.logger != nil {
		c.logger.Log(frameEvent(c.connID, log.DirectionOut, data, true))
	}
	return nil
}

// Receive returns the next fragment.
func (c *WebSocketChannel) Receive(ctx context.Context) (Frame, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.readErr != nil {
		return Frame{}, c.readErr
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if c.reader == nil {
		mt, r, err := c.conn.NextReader()
		if err != nil {
			return c.failRead(ctx, err)
		}
		c.reader = r
		c.kind = FrameText
		if mt == websocket.BinaryMessage {
			c.kind = FrameBinary
		}
	}

	buf := make([]byte, c.chunk)
	n, err := io.ReadFull(c.reader, buf)
	frame := Frame{Data: buf[:n], Kind: c.kind}
	switch {
	case err == nil:
		// A full chunk; more may follow. An exact multiple of the chunk
		// size ends with an empty final fragment.
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		frame.Final = true
		c.reader = nil
	default:
		c.reader = nil
		return c.failRead(ctx, err)
	}

	if c.logger != nil {
		c.logger.Log(frameEvent(c.connID, log.DirectionIn, frame.Data, frame.Final))
	}
	return frame, nil
}

// failRead maps a read error. The connection is unusable afterwards.
func (c *WebSocketChannel) failRead(ctx context.Context, err error) (Frame, error) {
	var ce *websocket.CloseError
	switch {
	case c.isClosed():
		c.readErr = ErrChannelClosed
	case errors.As(err, &ce):
		c.readErr = ErrChannelClosed
		return Frame{Kind: FrameClose, Final: true, Data: []byte(ce.Text)}, nil
	case ctx.Err() != nil:
		c.readErr = ctx.Err()
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.readErr = ErrChannelClosed
	default:
		c.readErr = fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	return Frame{}, c.readErr
}

// Close sends a normal close message and closes the connection.
func (c *WebSocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = c.conn.Close()
		if c.logger != nil {
			c.logger.Log(log.Event{
				Timestamp:    time.Now(),
				ConnectionID: c.connID,
				Direction:    log.DirectionOut,
				Layer:        log.LayerTransport,
				Category:     log.CategoryControl,
				ControlMsg:   &log.ControlMsgEvent{Type: log.ControlMsgClose},
			})
		}
	})
	return err
}

func (c *WebSocketChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
