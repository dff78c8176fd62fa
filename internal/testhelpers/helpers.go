// Package testhelpers provides shared utilities for tests that exercise the
// relay over real HTTP and WebSocket connections.
//
// Outbound frames may arrive coalesced into one WebSocket message, one JSON
// document per line. FrameReader hides that so tests can read one frame at a
// time.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// WebSocketURL turns an httptest server URL into the ws:// URL for path.
func WebSocketURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

// MakeRequest creates and executes an HTTP request with the given headers,
// failing the test if the request can not be made.
func MakeRequest(t *testing.T, method, url string, header http.Header) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "create request")
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := client.Do(req)
	require.NoError(t, err, "make request")
	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	require.Equal(t, expected, resp.StatusCode, "status code")
}

// ConnectWebSocket dials url with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Frame is one decoded outbound frame.
type Frame map[string]any

// Type returns the frame's discriminator.
func (f Frame) Type() string {
	s, _ := f["type"].(string)
	return s
}

// FrameReader reads frames from a WebSocket connection one at a time.
type FrameReader struct {
	conn    *websocket.Conn
	pending [][]byte
}

// NewFrameReader wraps conn.
func NewFrameReader(conn *websocket.Conn) *FrameReader {
	return &FrameReader{conn: conn}
}

// Next returns the next frame, waiting at most timeout for it to arrive.
func (r *FrameReader) Next(timeout time.Duration) (Frame, error) {
	for len(r.pending) == 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) > 0 {
				r.pending = append(r.pending, line)
			}
		}
	}

	line := r.pending[0]
	r.pending = r.pending[1:]

	var frame Frame
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// Expect reads the next frame and fails the test unless its type is typ.
func (r *FrameReader) Expect(t *testing.T, typ string) Frame {
	t.Helper()
	frame, err := r.Next(2 * time.Second)
	require.NoError(t, err, "waiting for %q frame", typ)
	require.Equal(t, typ, frame.Type(), "unexpected frame %v", frame)
	return frame
}

// ExpectNone fails the test if a frame arrives within wait. A timed out
// read leaves the connection unusable, so call it last on a reader.
func (r *FrameReader) ExpectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	frame, err := r.Next(wait)
	require.Error(t, err, "unexpected frame %v", frame)
}

// ExpectClosed fails the test unless the server closes the connection.
// Frames still in flight before the close are discarded.
func (r *FrameReader) ExpectClosed(t *testing.T) {
	t.Helper()
	for {
		_, err := r.Next(2 * time.Second)
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("connection still open: %v", err)
		}
		return
	}
}

// Join sends a join frame for username.
func Join(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join", "username": username}))
}

// SendChat sends a message frame with the given timestamp.
func SendChat(t *testing.T, conn *websocket.Conn, message string, timestamp any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "message": message, "timestamp": timestamp}))
}

// Online extracts the online_users list of a frame as strings.
func Online(frame Frame) []string {
	raw, _ := frame["online_users"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
