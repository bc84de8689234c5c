package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"gamepulse/internal/ingest"
)

type recordingAccepter struct {
	mu    sync.Mutex
	kinds []ingest.Kind
	valid *ingest.Validator
}

func (a *recordingAccepter) Accept(_ context.Context, kind ingest.Kind, payload map[string]any) (ingest.Event, error) {
	ev, err := a.valid.Validate(kind, payload)
	if err != nil {
		return ingest.Event{}, err
	}
	a.mu.Lock()
	a.kinds = append(a.kinds, kind)
	a.mu.Unlock()
	return ev, nil
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	return conn
}

func TestHandleAcksEachMessage(t *testing.T) {
	acc := &recordingAccepter{valid: ingest.NewValidator()}
	srv := httptest.NewServer(http.HandlerFunc(NewHandler(acc, HandlerConfig{APIKey: "k"}).Handle))
	t.Cleanup(srv.Close)

	conn := dial(t, srv, http.Header{"X-API-Key": []string{"k"}})

	messages := []string{
		`{"kind":"fatigue","player_id":"P5","fatigue_level":7}`,
		`{"kind":"position","player_id":41}`,
		`{"kind":"heartbeat","player_id":1}`,
		`not json`,
	}
	for _, m := range messages {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
	}

	var got []ack
	for range messages {
		var a ack
		require.NoError(t, conn.ReadJSON(&a))
		got = append(got, a)
	}

	require.True(t, got[0].OK)
	require.Equal(t, "P5", got[0].PID)
	require.False(t, got[1].OK)
	require.Equal(t, "player_id", got[1].Field)
	require.Equal(t, "kind", got[2].Field)
	require.Equal(t, "body", got[3].Field)

	acc.mu.Lock()
	defer acc.mu.Unlock()
	require.Equal(t, []ingest.Kind{ingest.KindFatigue}, acc.kinds)
}

func TestHandleRejectsWrongKey(t *testing.T) {
	acc := &recordingAccepter{valid: ingest.NewValidator()}
	srv := httptest.NewServer(http.HandlerFunc(NewHandler(acc, HandlerConfig{APIKey: "k"}).Handle))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-API-Key": []string{"nope"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
