package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/npezzotti/rtc-signal/internal/database"
	"github.com/npezzotti/rtc-signal/internal/stats"
	"github.com/npezzotti/rtc-signal/internal/testutil"
)

// newTestRouter wires a router over fresh registries and the given repository.
func newTestRouter(t *testing.T, db database.RoomRepository) *Router {
	t.Helper()

	logger := testutil.TestLogger(t)
	su := stats.NewStatsUpdater(nil)
	registry := NewRegistry()
	presence := NewPresenceTable(logger, su)
	return NewRouter(logger, registry, presence, db, su, time.Second)
}

func newTestClient(t *testing.T, participantId int64) *Client {
	t.Helper()
	return NewClient(participantId, nil, nil, testutil.TestLogger(t))
}

// connectClient registers c with the router and consumes the join ack.
func connectClient(t *testing.T, r *Router, participantId int64) *Client {
	t.Helper()

	c := newTestClient(t, participantId)
	if err := r.Connected(c); err != nil {
		t.Fatalf("connect participant %d: %v", participantId, err)
	}
	if env := receive(t, c); env == nil || env.Type != TypeJoin {
		t.Fatalf("expected join ack for participant %d, got %+v", participantId, env)
	}
	return c
}

// receive pops one queued envelope from c, or returns nil when none is queued.
func receive(t *testing.T, c *Client) *Envelope {
	t.Helper()

	select {
	case raw := <-c.send:
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal queued envelope: %v", err)
		}
		return &env
	default:
		return nil
	}
}

func receiveRaw(t *testing.T, c *Client) map[string]any {
	t.Helper()

	select {
	case raw := <-c.send:
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal queued envelope: %v", err)
		}
		return m
	default:
		return nil
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func envelopeJSON(t *testing.T, from int64, msgType string, roomId int64) []byte {
	t.Helper()
	return mustJSON(t, map[string]any{"from": from, "type": msgType, "data": roomId})
}

// stageAndJoin stages roomId and joins every client to it, host first.
func stageAndJoin(t *testing.T, r *Router, roomId, hostId int64, capacity int, clients ...*Client) {
	t.Helper()

	r.presence.Stage(roomId, hostId, capacity)
	for _, c := range clients {
		r.HandleMessage(c, envelopeJSON(t, c.participantId, TypeJoin, roomId))
	}
}
