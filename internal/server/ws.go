package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/pipeline"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(s.opts.CORSOrigins, "*") {
				return true
			}
			return slices.Contains(s.opts.CORSOrigins, origin)
		},
	}
}

// handleWS streams a run over a websocket. The client sends one
// GenerateRequest; the server answers with the run's events and closes the
// connection after the terminal one. Closing the socket cancels the run.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxRequestBytes)
	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	var req GenerateRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeWS(conn, pipeline.Event{Type: pipeline.EventError, Message: "invalid request body"})
		closeWS(conn, websocket.CloseUnsupportedData)
		return
	}
	opts, err := req.RunOptions()
	if err != nil {
		writeWS(conn, pipeline.Event{Type: pipeline.EventError, Message: err.Error()})
		closeWS(conn, websocket.ClosePolicyViolation)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	// The client sends nothing after the request; a read error means it left.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	events := s.runner.Stream(ctx, req.Mission(), opts...)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				closeWS(conn, websocket.CloseNormalClosure)
				return
			}
			if err := writeWS(conn, ev); err != nil {
				zap.L().Warn("server: websocket write failed", zap.Error(err))
				cancel()
				// Drain so the run goroutine can finish.
				for range events {
				}
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				cancel()
				continue
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
			}
		}
	}
}

func writeWS(conn *websocket.Conn, ev pipeline.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

func closeWS(conn *websocket.Conn, code int) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(wsWriteWait))
}
