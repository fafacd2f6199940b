package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/rtc-signal/internal/database"
	"github.com/npezzotti/rtc-signal/internal/stats"
	"github.com/npezzotti/rtc-signal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// newWsServer upgrades every request and hands the connection to s for the
// participant named in the "pid" query parameter.
func newWsServer(t *testing.T, s *SignalServer) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pid, err := strconv.ParseInt(r.URL.Query().Get("pid"), 10, 64)
		if err != nil {
			http.Error(w, "bad pid", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if err := s.Serve(pid, conn); err != nil {
			t.Errorf("serve: %v", err)
		}
	}))
}

func dialParticipant(t *testing.T, srv *httptest.Server, pid int64) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?pid=" + strconv.FormatInt(pid, 10)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial participant %d: %v", pid, err)
	}
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var ack Envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read join ack for participant %d: %v", pid, err)
	}
	assert.Equal(t, TypeJoin, ack.Type)
	assert.Equal(t, pid, ack.From)
	assert.Nil(t, ack.Data)

	return conn
}

func TestSignalServer_Relay(t *testing.T) {
	db := &database.MockRoomRepository{}
	s := NewSignalServer(testutil.TestLogger(t), db, stats.NewStatsUpdater(nil), time.Second)
	srv := newWsServer(t, s)
	defer srv.Close()

	assert.True(t, s.StageRoom(42, 1, 4))
	assert.False(t, s.StageRoom(42, 1, 4), "expected staging an existing room to be a no-op")

	host := dialParticipant(t, srv, 1)
	defer host.Close()
	guest := dialParticipant(t, srv, 2)
	defer guest.Close()

	assert.NoError(t, host.WriteJSON(map[string]any{"from": 1, "type": "join", "data": 42}))
	assert.NoError(t, guest.WriteJSON(map[string]any{"from": 2, "type": "join", "data": 42}))
	assert.Eventually(t, func() bool { return s.Occupancy(42) == 2 }, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, guest.WriteJSON(map[string]any{
		"from": 2,
		"type": "offer",
		"data": 42,
		"sdp":  map[string]string{"type": "offer", "sdp": "v=0"},
	}))

	var got Envelope
	host.SetReadDeadline(time.Now().Add(2 * time.Second))
	assert.NoError(t, host.ReadJSON(&got))
	assert.Equal(t, TypeOffer, got.Type)
	assert.Equal(t, int64(2), got.From)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(got.Sdp))
}

func TestSignalServer_DisconnectReconciles(t *testing.T) {
	db := &database.MockRoomRepository{}
	defer db.AssertExpectations(t)
	saved := make(chan struct{})
	db.On("SoftDelete", mock.Anything, int64(42)).
		Run(func(mock.Arguments) { close(saved) }).
		Return(nil).Once()

	s := NewSignalServer(testutil.TestLogger(t), db, stats.NewStatsUpdater(nil), time.Second)
	srv := newWsServer(t, s)
	defer srv.Close()

	s.StageRoom(42, 1, 4)
	host := dialParticipant(t, srv, 1)
	assert.NoError(t, host.WriteJSON(map[string]any{"from": 1, "type": "join", "data": 42}))
	assert.Eventually(t, func() bool { return s.Occupancy(42) == 1 }, 2*time.Second, 10*time.Millisecond)

	host.Close()

	assert.Eventually(t, func() bool { return s.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, ok := s.Session(42)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "expected the emptied session to be torn down")

	select {
	case <-saved:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the room to be soft-deleted after the host disconnected")
	}
}

func TestSignalServer_Shutdown(t *testing.T) {
	s := NewSignalServer(testutil.TestLogger(t), &database.MockRoomRepository{}, stats.NewStatsUpdater(nil), time.Second)
	srv := newWsServer(t, s)
	defer srv.Close()

	a := dialParticipant(t, srv, 1)
	defer a.Close()
	b := dialParticipant(t, srv, 2)
	defer b.Close()
	assert.Equal(t, 2, s.registry.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, 0, s.registry.Len())

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := a.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected a normal close frame, got %v", err)
}

func TestSignalServer_ShutdownTimesOut(t *testing.T) {
	s := NewSignalServer(testutil.TestLogger(t), &database.MockRoomRepository{}, stats.NewStatsUpdater(nil), time.Second)
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.Canceled)
}
