package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/live"
	"github.com/MeKo-Tech/checkercal/internal/synth"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	kind int
	data []byte
}

// recordingConn collects written messages and fails every write with err.
type recordingConn struct {
	sent []message
	err  error
}

func (c *recordingConn) WriteMessage(messageType int, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, message{messageType, data})
	return nil
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/track" + query
}

func readTrackMessage(t *testing.T, conn *websocket.Conn) TrackMessage {
	t.Helper()
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	var msg TrackMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestTrackWebSocket(t *testing.T) {
	s := newTestServer(t)
	s.SetModel(synth.DefaultModel())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?annotated=1"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(30*time.Second)))

	ds := dataset(t)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pngBytes(t, ds.Images[1])))

	msg := readTrackMessage(t, conn)
	assert.Equal(t, "pose", msg.Type)
	require.NotNil(t, msg.Result)
	assert.True(t, msg.Result.Found, msg.Result.Error)
	assert.Equal(t, 0, msg.Result.Seq)
	require.NotNil(t, msg.Result.Pose)

	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, ds.Images[1].Bounds(), img.Bounds())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	msg = readTrackMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "binary image frame")

	for _, junk := range [][]byte{[]byte("not an image"), {0x89, 'P', 'N', 'G'}, {}} {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, junk))
		msg = readTrackMessage(t, conn)
		assert.Equal(t, "error", msg.Type)
	}

	// sequence numbers only advance for decoded frames
	for want, img := range ds.Images[2:4] {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pngBytes(t, img)))
		msg = readTrackMessage(t, conn)
		require.NotNil(t, msg.Result)
		assert.Equal(t, want+1, msg.Result.Seq)
		_, _, err = conn.ReadMessage()
		require.NoError(t, err)
	}
}

func TestTrackWebSocketWithoutModel(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandleFrame(t *testing.T) {
	s := newTestServer(t)
	tr, err := live.NewTrackerFromConfig(synth.DefaultModel(), s.pipeline.Config(), true)
	require.NoError(t, err)

	t.Run("pose only", func(t *testing.T) {
		conn := &recordingConn{}
		processed, err := s.handleFrame(context.Background(), conn, tr, 7, pngBytes(t, dataset(t).Images[0]), false)
		require.NoError(t, err)
		assert.True(t, processed)
		require.Len(t, conn.sent, 1)
		assert.Equal(t, websocket.TextMessage, conn.sent[0].kind)
		assert.Contains(t, string(conn.sent[0].data), `"type":"pose"`)
		assert.Contains(t, string(conn.sent[0].data), `"found":true`)
		assert.Contains(t, string(conn.sent[0].data), `"seq":7`)
	})

	t.Run("annotated", func(t *testing.T) {
		conn := &recordingConn{}
		processed, err := s.handleFrame(context.Background(), conn, tr, 0, pngBytes(t, dataset(t).Images[0]), true)
		require.NoError(t, err)
		assert.True(t, processed)
		require.Len(t, conn.sent, 2)
		assert.Equal(t, websocket.BinaryMessage, conn.sent[1].kind)
	})

	t.Run("undecodable frame", func(t *testing.T) {
		conn := &recordingConn{}
		processed, err := s.handleFrame(context.Background(), conn, tr, 0, []byte{1, 2, 3}, true)
		require.NoError(t, err)
		assert.False(t, processed)
		require.Len(t, conn.sent, 1)
		assert.Contains(t, string(conn.sent[0].data), `"type":"error"`)
	})

	t.Run("write failure", func(t *testing.T) {
		broken := errors.New("broken pipe")
		_, err := s.handleFrame(context.Background(), &recordingConn{err: broken}, tr, 0, pngBytes(t, dataset(t).Images[0]), true)
		assert.ErrorIs(t, err, broken)
	})
}
