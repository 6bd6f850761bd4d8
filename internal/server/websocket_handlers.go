package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/live"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsMaxFrameSize = 16 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketConnWriter is the part of a connection used to send replies.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// TrackMessage is sent for every received frame.
type TrackMessage struct {
	Type   string            `json:"type"` // "pose" or "error"
	Result *live.FrameResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// trackWebSocketHandler tracks the board in binary JPEG/PNG frames sent by
// the client and answers each with a pose message. With ?annotated=1 the
// annotated frame follows as a binary JPEG message.
func (s *Server) trackWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	model, ok := s.Model()
	if !ok {
		writeError(w, errNoModel.Error(), http.StatusConflict)
		return
	}
	cfg, err := s.requestConfig(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tr, err := live.NewTrackerFromConfig(model, cfg, r.URL.Query().Get("refine") != "false")
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	annotated := r.URL.Query().Get("annotated") == "1"

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	slog.Info("Tracking session started", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go keepAlive(ctx, conn)

	frames := s.trackSession(ctx, conn, tr, annotated)
	slog.Info("Tracking session ended", "remote_addr", r.RemoteAddr, "frames", frames)
}

func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) trackSession(ctx context.Context, conn *websocket.Conn, tr *live.Tracker, annotated bool) int {
	conn.SetReadLimit(wsMaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	seq := 0
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket read failed", "error", err)
			}
			return seq
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if mt != websocket.BinaryMessage {
			if err := s.sendTrackMessage(conn, TrackMessage{Type: "error", Error: "expected a binary image frame"}); err != nil {
				return seq
			}
			continue
		}
		processed, err := s.handleFrame(ctx, conn, tr, seq, data, annotated)
		if err != nil {
			slog.Warn("WebSocket write failed", "error", err)
			return seq
		}
		if processed {
			seq++
		}
	}
}

// handleFrame answers one frame and reports whether it reached the tracker.
// Frames that do not decode are answered with an error message and do not
// consume a sequence number. Only write failures are returned.
func (s *Server) handleFrame(ctx context.Context, conn WebSocketConnWriter, tr *live.Tracker, seq int, data []byte, annotated bool) (bool, error) {
	img, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		requestsTotal.WithLabelValues("track", "error").Inc()
		return false, s.sendTrackMessage(conn, TrackMessage{Type: "error", Error: err.Error()})
	}
	fr := tr.Process(ctx, live.Frame{Seq: seq, Image: img, At: time.Now()})
	live.RecordFrame(fr.Found)
	requestsTotal.WithLabelValues("track", outcome(fr.Found)).Inc()
	processingDuration.WithLabelValues("track").Observe(fr.Latency.Seconds())

	if err := s.sendTrackMessage(conn, TrackMessage{Type: "pose", Result: &fr}); err != nil {
		return true, err
	}
	if !annotated {
		return true, nil
	}
	var buf bytes.Buffer
	if err := utils.EncodeJPEG(&buf, fr.Annotated); err != nil {
		return true, s.sendTrackMessage(conn, TrackMessage{Type: "error", Error: err.Error()})
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		return true, err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return true, nil
}

func (s *Server) sendTrackMessage(conn WebSocketConnWriter, msg TrackMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return nil
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}
