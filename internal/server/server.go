package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/rtc-signal/internal/database"
	"github.com/npezzotti/rtc-signal/internal/stats"
)

// SignalServer owns the connection registry, the presence table and the
// router built on top of them.
type SignalServer struct {
	log      *slog.Logger
	registry *Registry
	presence *PresenceTable
	router   *Router
	wg       sync.WaitGroup
}

func NewSignalServer(logger *slog.Logger, rooms database.RoomRepository, su stats.StatsProvider, writeTimeout time.Duration) *SignalServer {
	registry := NewRegistry()
	presence := NewPresenceTable(logger, su)

	return &SignalServer{
		log:      logger,
		registry: registry,
		presence: presence,
		router:   NewRouter(logger, registry, presence, rooms, su, writeTimeout),
	}
}

// Serve attaches an upgraded websocket for participantId and starts its pumps.
func (s *SignalServer) Serve(participantId int64, conn *websocket.Conn) error {
	c := NewClient(participantId, conn, s.router, s.log)
	if err := s.router.Connected(c); err != nil {
		conn.Close()
		return fmt.Errorf("register connection: %w", err)
	}

	s.wg.Add(1)
	go c.Write()
	go func() {
		defer s.wg.Done()
		c.Read()
	}()

	return nil
}

// StageRoom pre-stages the live session for a room that is about to be entered.
func (s *SignalServer) StageRoom(roomId, hostId int64, capacity int) bool {
	return s.presence.Stage(roomId, hostId, capacity)
}

func (s *SignalServer) Occupancy(roomId int64) int {
	return s.presence.Occupancy(roomId)
}

func (s *SignalServer) Session(roomId int64) (RoomSession, bool) {
	return s.presence.Get(roomId)
}

// Shutdown closes every live connection and waits for their disconnect
// handling to finish.
func (s *SignalServer) Shutdown(ctx context.Context) error {
	clients := s.registry.Clients()
	s.log.Info("shutting down signaling connections", "count", len(clients))
	for _, c := range clients {
		c.stopClient()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
