package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollcast/pollcast/internal/entity"
	"github.com/pollcast/pollcast/internal/testutil"
)

func wsURL(server *httptest.Server, pollID string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/polls/" + pollID
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &frame))
	return frame
}

func TestSubscribe_WelcomeAndUpdates(t *testing.T) {
	store := testutil.NewStore()
	r, _, hub := newTestRouter(store)

	server := httptest.NewServer(r)
	defer server.Close()

	poll := seedPoll(t, store, nil)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, poll.ID.String()), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	frame := readFrame(t, conn)
	assert.JSONEq(t, `"connection_established"`, string(frame["type"]))

	// The registry sees the subscriber before any update is published.
	require.Eventually(t, func() bool {
		return hub.Subscribers(poll.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	update, err := json.Marshal(map[string]any{
		"type":    "poll_update",
		"results": []entity.OptionCount{{Ordinal: 1, VoteCount: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, hub.Publish(poll.ID, update))

	frame = readFrame(t, conn)
	assert.JSONEq(t, `"poll_update"`, string(frame["type"]))
	assert.JSONEq(t, `[{"id":1,"vote_count":3}]`, string(frame["results"]))
}

func TestSubscribe_DisconnectReleasesSubscription(t *testing.T) {
	store := testutil.NewStore()
	r, _, hub := newTestRouter(store)

	server := httptest.NewServer(r)
	defer server.Close()

	poll := seedPoll(t, store, nil)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, poll.ID.String()), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	readFrame(t, conn)
	require.Eventually(t, func() bool {
		return hub.Subscribers(poll.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return hub.Subscribers(poll.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribe_UnknownPoll(t *testing.T) {
	store := testutil.NewStore()
	r, _, _ := newTestRouter(store)

	server := httptest.NewServer(r)
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, uuid.NewString()), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubscribe_TwoSubscribersBothReceive(t *testing.T) {
	store := testutil.NewStore()
	r, _, hub := newTestRouter(store)

	server := httptest.NewServer(r)
	defer server.Close()

	poll := seedPoll(t, store, nil)

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, poll.ID.String()), nil)
		require.NoError(t, err)
		resp.Body.Close()
		defer conn.Close()
		readFrame(t, conn)
		conns = append(conns, conn)
	}

	require.Eventually(t, func() bool {
		return hub.Subscribers(poll.ID) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 2, hub.Publish(poll.ID, []byte(`{"type":"poll_update","results":[]}`)))

	for _, conn := range conns {
		frame := readFrame(t, conn)
		assert.JSONEq(t, `"poll_update"`, string(frame["type"]))
	}
}
