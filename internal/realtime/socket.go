package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var terminalCloseCodes = map[int]bool{
	websocket.CloseNormalClosure:   true,
	websocket.CloseGoingAway:       true,
	websocket.CloseProtocolError:   true,
	websocket.CloseUnsupportedData: true,
	websocket.ClosePolicyViolation: true,
}

// IsTerminalClose reports whether a close code ends the session without
// any reconnect attempt.
func IsTerminalClose(code int) bool {
	return terminalCloseCodes[code]
}

// CloseCode extracts the websocket close code from a read error. Errors
// without a close frame count as an abnormal closure.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Socket, error)
}

type DialFunc func(ctx context.Context, endpoint string) (Socket, error)

func (f DialFunc) Dial(ctx context.Context, endpoint string) (Socket, error) {
	return f(ctx, endpoint)
}

type WebsocketDialer struct {
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, endpoint string) (Socket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", shared.ErrConnection, endpoint, err)
	}
	return newWSSocket(conn), nil
}

type wsSocket struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSSocket(conn *websocket.Conn) *wsSocket {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s := &wsSocket{
		conn: conn,
		done: make(chan struct{}),
	}
	go s.keepalive()
	return s
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsSocket) WriteMessage(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait),
		)
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

func (s *wsSocket) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
