package appliance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"seabridge/logging"
)

// ErrTransportClosed is returned by Transport.ReadMessage when the peer closed
// the connection cleanly.
var ErrTransportClosed = errors.New("transport closed")

// Endpoint is the appliance address. It does not change for the lifetime of a Client.
type Endpoint struct {
	Host string
	Port int
}

// URL returns the WebSocket URL for the endpoint.
func (e Endpoint) URL() string {
	return "ws://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Validate checks that the endpoint can be dialed.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("appliance host is required")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("appliance port %d out of range", e.Port)
	}
	return nil
}

// Transport is a text-frame connection to the appliance.
// Close may be called concurrently with ReadMessage and WriteMessage and more
// than once. It unblocks any pending read or write.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Transport to the given URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer dials the appliance over a plain WebSocket with no sub-protocol.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 5 * time.Second
	}
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}, nil
}

// closeFrameTimeout bounds the courtesy close frame. A peer that is not
// reading gets a bare TCP close instead.
const closeFrameTimeout = 100 * time.Millisecond

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeFrameTimeout)); err != nil {
			logging.DebugLog("appliance", "close frame not sent: %v", err)
		}
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
