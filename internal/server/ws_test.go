package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-study-cli/internal/model"
)

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/generate-report"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	return conn
}

// readUntilClose collects JSON messages until the server closes the socket.
func readUntilClose(t *testing.T, conn *websocket.Conn) ([]map[string]any, error) {
	t.Helper()
	var events []map[string]any
	for {
		var ev map[string]any
		if err := conn.ReadJSON(&ev); err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestWS_StreamsRun(t *testing.T) {
	conn := dialWS(t, New(newTestPipeline(nil), nil, Options{}))
	require.NoError(t, conn.WriteJSON(GenerateRequest{MarketName: "Pet Care", Geography: "France"}))

	events, err := readUntilClose(t, conn)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)

	require.NotEmpty(t, events)
	assert.Equal(t, "start", events[0]["type"])
	last := events[len(events)-1]
	assert.Equal(t, "complete", last["type"])
	assert.Len(t, last["sections"], len(model.DefaultCatalog()))
}

func TestWS_BadAction(t *testing.T) {
	conn := dialWS(t, New(newTestPipeline(nil), nil, Options{}))
	require.NoError(t, conn.WriteJSON(GenerateRequest{MarketName: "Pet Care", Geography: "France", Action: "deepen"}))

	events, err := readUntilClose(t, conn)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected error: %v", err)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0]["type"])
	assert.Contains(t, events[0]["message"], "section_id is required")
}

func TestWS_MalformedRequest(t *testing.T) {
	conn := dialWS(t, New(newTestPipeline(nil), nil, Options{}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))

	events, err := readUntilClose(t, conn)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), "unexpected error: %v", err)
	require.Len(t, events, 1)
	assert.Equal(t, "invalid request body", events[0]["message"])
}

func TestWS_RejectsForeignOrigin(t *testing.T) {
	srv := New(newTestPipeline(nil), nil, Options{CORSOrigins: []string{"https://app.example"}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/generate-report"
	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}
