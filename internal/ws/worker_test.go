package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"account-api/internal/ws"
	"account-api/internal/ws/middleware"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// newTestClient поднимает сервер с воркером и возвращает клиентское
// соединение к нему.
func newTestClient(t *testing.T, handlers func(*ws.Conn) map[string]ws.Handler, limiter *middleware.RateLimiter) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := ws.NewConn(sock)
		ws.NewWorker(conn, handlers(conn), limiter).Run(r.Context())
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func sendText(t *testing.T, client *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func readReply(t *testing.T, client *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := client.ReadMessage()
	require.NoError(t, err)

	var reply map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &reply))
	return reply
}

func replyError(t *testing.T, reply map[string]json.RawMessage) string {
	t.Helper()
	var msg string
	require.NoError(t, json.Unmarshal(reply["error"], &msg))
	return msg
}

func TestPingPong(t *testing.T) {
	client := newTestClient(t, func(*ws.Conn) map[string]ws.Handler { return nil }, nil)

	sendText(t, client, `{"target":"ping","data":{}}`)
	reply := readReply(t, client)

	var target string
	require.NoError(t, json.Unmarshal(reply["target"], &target))
	require.Equal(t, "pong", target)
}

func TestPingWithoutData(t *testing.T) {
	client := newTestClient(t, func(*ws.Conn) map[string]ws.Handler { return nil }, nil)

	// Пинг обходится без поля data
	sendText(t, client, `{"target":"ping"}`)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := client.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"target":"pong"}`, string(raw))
}

func TestEnvelopeValidation(t *testing.T) {
	client := newTestClient(t, func(*ws.Conn) map[string]ws.Handler { return nil }, nil)

	cases := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"не объект", `[1,2,3]`, "Invalid data."},
		{"мусор", `garbage`, "Invalid data."},
		{"пустой объект", `{}`, "No data provided."},
		{"нет target", `{"data":{"action":"a","data":{}}}`, "No target provided or target invalid."},
		{"target null", `{"target":null,"data":{"action":"a","data":{}}}`, "No target provided or target invalid."},
		{"target число", `{"target":5,"data":{"action":"a","data":{}}}`, "No target provided or target invalid."},
		{"target пустой", `{"target":"","data":{"action":"a","data":{}}}`, "No target provided or target invalid."},
		{"нет data", `{"target":"users"}`, "No data provided or data invalid."},
		{"data null", `{"target":"users","data":null}`, "No data provided or data invalid."},
		{"data строка", `{"target":"users","data":"x"}`, "No data provided or data invalid."},
		{"data пустой объект", `{"target":"users","data":{}}`, "No action provided or action invalid."},
		{"нет action", `{"target":"users","data":{"data":{}}}`, "No action provided or action invalid."},
		{"action пустой", `{"target":"users","data":{"action":"","data":{}}}`, "No action provided or action invalid."},
		{"action не строка", `{"target":"users","data":{"action":7,"data":{}}}`, "No action provided or action invalid."},
		{"нет внутреннего data", `{"target":"users","data":{"action":"new"}}`, "No data provided or data invalid."},
		{"внутренний data null", `{"target":"users","data":{"action":"new","data":null}}`, "No data provided or data invalid."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sendText(t, client, tc.payload)
			require.Equal(t, tc.wantErr, replyError(t, readReply(t, client)))
		})
	}
}

func TestUnknownTarget(t *testing.T) {
	client := newTestClient(t, func(*ws.Conn) map[string]ws.Handler { return nil }, nil)

	sendText(t, client, `{"target":"nope","data":{"action":"x","data":{}}}`)
	require.Equal(t, "Target not found.", replyError(t, readReply(t, client)))
}

type echoHandler struct {
	conn *ws.Conn
}

func (h *echoHandler) HandleMessage(ctx context.Context, msg ws.Message) error {
	return h.conn.SendJSON(map[string]interface{}{
		"action": msg.Action,
		"data":   msg.Data,
	})
}

func TestDispatchPassesActionAndData(t *testing.T) {
	client := newTestClient(t, func(c *ws.Conn) map[string]ws.Handler {
		return map[string]ws.Handler{"echo": &echoHandler{conn: c}}
	}, nil)

	sendText(t, client, `{"target":"echo","data":{"action":"shout","data":{"text":"hi"}}}`)
	reply := readReply(t, client)

	var action string
	require.NoError(t, json.Unmarshal(reply["action"], &action))
	require.Equal(t, "shout", action)
	require.JSONEq(t, `{"text":"hi"}`, string(reply["data"]))
}

type panicHandler struct{}

func (panicHandler) HandleMessage(context.Context, ws.Message) error {
	panic("boom")
}

func TestHandlerPanicDoesNotKillLoop(t *testing.T) {
	client := newTestClient(t, func(*ws.Conn) map[string]ws.Handler {
		return map[string]ws.Handler{"bad": panicHandler{}}
	}, nil)

	sendText(t, client, `{"target":"bad","data":{"action":"x","data":{}}}`)

	// Цикл должен пережить панику и ответить на следующий пинг
	sendText(t, client, `{"target":"ping","data":{}}`)
	reply := readReply(t, client)

	var target string
	require.NoError(t, json.Unmarshal(reply["target"], &target))
	require.Equal(t, "pong", target)
}

func TestRateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(1, time.Minute)
	t.Cleanup(limiter.Close)

	client := newTestClient(t, func(*ws.Conn) map[string]ws.Handler { return nil }, limiter)

	sendText(t, client, `{"target":"ping","data":{}}`)
	readReply(t, client)

	sendText(t, client, `{"target":"ping","data":{}}`)
	require.Equal(t, "Too many requests.", replyError(t, readReply(t, client)))
}
