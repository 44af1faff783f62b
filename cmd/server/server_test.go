package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kevinxiao27/egdoc/doc"
	"github.com/kevinxiao27/egdoc/internal/store"
	"github.com/kevinxiao27/egdoc/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	st, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	s := NewServer(st, types.NewActorId())
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPutAndGet(t *testing.T) {
	_, ts := newTestServer(t)

	resp := post(t, ts.URL+"/docs/notes/put", PutRequest{Obj: "_root", Key: "n", Value: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = post(t, ts.URL+"/docs/notes/put", PutRequest{Key: "s", Value: "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	get, err := http.Get(ts.URL + "/docs/notes")
	require.NoError(t, err)
	defer get.Body.Close()
	var got DocumentResponse
	require.NoError(t, json.NewDecoder(get.Body).Decode(&got))
	assert.Len(t, got.Heads, 1)
	assert.Equal(t, map[string]any{"n": float64(3), "s": "hi"}, got.Content)

	resp = post(t, ts.URL+"/docs/notes/put", PutRequest{Obj: "bogus", Key: "k"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = post(t, ts.URL+"/docs/notes/splice", SpliceRequest{Obj: "_root", Text: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChangesRoundTrip(t *testing.T) {
	_, ts := newTestServer(t)

	local := doc.New()
	_, err := local.Update(func(tx *doc.Transaction) error {
		return tx.Put(doc.Root, doc.Key("from"), types.Str("local"))
	})
	require.NoError(t, err)

	var msg ChangesMessage
	for _, c := range local.Changes() {
		msg.Changes = append(msg.Changes, c.Bytes())
	}
	resp := post(t, ts.URL+"/docs/shared/changes", msg)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	post(t, ts.URL+"/docs/shared/put", PutRequest{Key: "from_server", Value: true})

	since := local.Heads()[0].String()
	get, err := http.Get(ts.URL + "/docs/shared/changes?since=" + since)
	require.NoError(t, err)
	defer get.Body.Close()
	var back ChangesMessage
	require.NoError(t, json.NewDecoder(get.Body).Decode(&back))
	require.Len(t, back.Changes, 1)

	changes, err := decodeChanges(back.Changes)
	require.NoError(t, err)
	require.NoError(t, local.ApplyChanges(changes...))
	assert.Equal(t, back.Heads, local.Heads())

	resp = post(t, ts.URL+"/docs/shared/changes", ChangesMessage{Changes: [][]byte{{0xff}}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketRelay(t *testing.T) {
	_, ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?doc=live"

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		var init WSMessage
		require.NoError(t, conn.ReadJSON(&init))
		require.Equal(t, "init", init.Type)
		return conn
	}
	a, b := dial(), dial()

	local := doc.New()
	_, err := local.Update(func(tx *doc.Transaction) error {
		return tx.Put(doc.Root, doc.Key("k"), types.Int(1))
	})
	require.NoError(t, err)
	data, err := json.Marshal(ChangesMessage{Changes: [][]byte{local.Changes()[0].Bytes()}})
	require.NoError(t, err)
	require.NoError(t, a.WriteJSON(WSMessage{Type: "changes", Data: data}))

	require.NoError(t, b.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got WSMessage
	require.NoError(t, b.ReadJSON(&got))
	assert.Equal(t, "changes", got.Type)
	var cm ChangesMessage
	require.NoError(t, json.Unmarshal(got.Data, &cm))
	require.Len(t, cm.Changes, 1)
	assert.Equal(t, local.Heads(), cm.Heads)
}
