package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/paramhub/paramhub/internal/instance"
	"github.com/paramhub/paramhub/internal/schema"
)

func testInstance(t *testing.T) *instance.Instance {
	t.Helper()
	f := &schema.File{
		Messages: []schema.Message{
			{
				Name: "image_acquisition",
				Fields: []schema.Field{
					{
						Name: "image_width", Kind: "int32", Default: 256,
						Validation: &schema.Validation{Mode: "range", Min: 256, Max: 2048},
					},
				},
			},
		},
	}
	table, err := schema.Compile(f)
	require.NoError(t, err)
	reg := schema.NewRegistry(table)

	dir := t.TempDir()
	inst, err := instance.Open(reg, instance.Options{
		WorkingPath: filepath.Join(dir, "working.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { inst.Close() })
	require.NoError(t, inst.Start(context.Background()))
	return inst
}

// newTestServer spins up an httptest server for s and returns it along with
// a dial function that opens a fresh WebSocket connection to s's configured
// WS path.
func newTestServer(t *testing.T, s *Server) (*httptest.Server, func() *websocket.Conn) {
	t.Helper()
	httpSrv := httptest.NewServer(s.Mux())
	t.Cleanup(httpSrv.Close)

	dial := func() *websocket.Conn {
		wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + s.wsPath
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	return httpSrv, dial
}

// rpcCall sends one request and waits for its response, skipping over any
// "notify" push messages interleaved on the same connection (a connection
// that writes a parameter it also watches receives its own push before the
// write's response, since the push fires synchronously inside the write).
func rpcCall(t *testing.T, conn *websocket.Conn, method string, params any) Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method, Params: raw}))

	for {
		var body json.RawMessage
		require.NoError(t, conn.ReadJSON(&body))
		var probe struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.Unmarshal(body, &probe))
		if probe.Method == "notify" {
			continue
		}
		var out Response
		require.NoError(t, json.Unmarshal(body, &out))
		return out
	}
}

func TestInfoReportsGroupAndParameters(t *testing.T) {
	s := NewServer(testInstance(t), nil)
	httpSrv, _ := newTestServer(t, s)

	resp, err := http.Get(httpSrv.URL + "/api/info")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Group      []string    `json:"group"`
		Parameters []FieldInfo `json:"parameters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, []string{"image_acquisition"}, out.Group)
	require.Len(t, out.Parameters, 1)
	require.Equal(t, "image_acquisition@image_width", out.Parameters[0].Name)
}

func TestReadWriteRoundTrip(t *testing.T) {
	s := NewServer(testInstance(t), nil)
	_, dial := newTestServer(t, s)
	conn := dial()

	out := rpcCall(t, conn, "write", map[string]any{"name": "image_acquisition@image_width", "value": 512})
	require.Nil(t, out.Error)
	pm := out.Result.(map[string]any)["pm"].(map[string]any)
	require.EqualValues(t, 512, pm["image_acquisition@image_width"])

	out = rpcCall(t, conn, "read", map[string]any{"name": "image_acquisition@image_width"})
	require.Nil(t, out.Error)
	pm = out.Result.(map[string]any)["pm"].(map[string]any)
	require.EqualValues(t, 512, pm["image_acquisition@image_width"])
}

func TestWriteRejectsOutOfRange_S6(t *testing.T) {
	s := NewServer(testInstance(t), nil)
	_, dial := newTestServer(t, s)
	conn := dial()

	out := rpcCall(t, conn, "write", map[string]any{"name": "image_acquisition@image_width", "value": 100})
	require.NotNil(t, out.Error)

	out = rpcCall(t, conn, "read", map[string]any{"name": "image_acquisition@image_width"})
	require.Nil(t, out.Error)
	pm := out.Result.(map[string]any)["pm"].(map[string]any)
	require.EqualValues(t, 256, pm["image_acquisition@image_width"])
}

func TestUnknownMethod(t *testing.T) {
	s := NewServer(testInstance(t), nil)
	_, dial := newTestServer(t, s)
	conn := dial()

	out := rpcCall(t, conn, "bogus", map[string]any{})
	require.NotNil(t, out.Error)
	require.Equal(t, codeMethodNotFound, out.Error.Code)
}

func TestPushNotifiesOnChange(t *testing.T) {
	s := NewServer(testInstance(t), nil)
	_, dial := newTestServer(t, s)
	listener := dial()
	writer := dial()

	out := rpcCall(t, writer, "write", map[string]any{"name": "image_acquisition@image_width", "value": 1024})
	require.Nil(t, out.Error)

	var msg struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	require.NoError(t, listener.ReadJSON(&msg))
	require.Equal(t, "notify", msg.Method)
	require.EqualValues(t, 1024, msg.Params["image_acquisition@image_width"])
}
