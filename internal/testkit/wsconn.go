package testkit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

const wsWait = 5 * time.Second

// ServerConn is the server side of one accepted WebSocket connection.
// Tests drive the conversation through it frame by frame.
type ServerConn struct {
	Path  string
	Query url.Values

	conn *websocket.Conn
	once sync.Once
	done chan struct{}
}

// SetWSReject makes WebSocket handshakes fail with the given HTTP status.
// Zero restores normal accepts.
func (b *Backend) SetWSReject(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wsReject = status
}

// NextConn waits for the client to open a WebSocket connection.
func (b *Backend) NextConn(t *testing.T) *ServerConn {
	t.Helper()
	select {
	case sc := <-b.conns:
		return sc
	case <-time.After(wsWait):
		t.Fatalf("timed out waiting for a websocket connection")
		return nil
	}
}

func (b *Backend) handleWS(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	reject := b.wsReject
	b.connects = append(b.connects, WSConnect{Path: r.URL.Path, Query: r.URL.Query()})
	b.mu.Unlock()

	if reject != 0 {
		writeError(w, reject, "handshake rejected")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	sc := &ServerConn{
		Path:  r.URL.Path,
		Query: r.URL.Query(),
		conn:  conn,
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	b.live = append(b.live, sc)
	b.mu.Unlock()

	select {
	case b.conns <- sc:
	case <-sc.done:
		return
	}

	// Keep the handler alive; the test owns the connection now.
	<-sc.done
}

// Send writes one JSON text frame to the client.
func (c *ServerConn) Send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWait)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// SendText writes one raw text frame, malformed payloads included.
func (c *ServerConn) SendText(t *testing.T, raw string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wsWait)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// ReadFrame returns the next JSON frame the client sends.
func (c *ServerConn) ReadFrame(t *testing.T) map[string]any {
	t.Helper()
	frame, err := c.TryRead(wsWait)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// TryRead reads one frame within d. Tests use the error return to assert
// silence or to observe the client closing the connection.
func (c *ServerConn) TryRead(d time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// CloseWith ends the connection from the server side with the given code.
func (c *ServerConn) CloseWith(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		_ = c.conn.Close(code, reason)
		close(c.done)
	})
}

// release frees the handler without caring about close-handshake errors.
func (c *ServerConn) release() {
	c.CloseWith(websocket.StatusGoingAway, "backend closing")
}
