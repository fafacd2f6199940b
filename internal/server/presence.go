package server

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/npezzotti/rtc-signal/internal/stats"
)

// RoomSession is the live view of a room. Participants maps a participant to
// the connection it joined with; the registry owns those connections.
type RoomSession struct {
	RoomId       int64
	HostId       int64
	Capacity     int
	Participants map[int64]*Client
}

func NewRoomSession(roomId, hostId int64, capacity int) RoomSession {
	return RoomSession{
		RoomId:       roomId,
		HostId:       hostId,
		Capacity:     capacity,
		Participants: make(map[int64]*Client),
	}
}

func (s *RoomSession) clone() RoomSession {
	return RoomSession{
		RoomId:       s.RoomId,
		HostId:       s.HostId,
		Capacity:     s.Capacity,
		Participants: maps.Clone(s.Participants),
	}
}

// PresenceTable holds every live room session. Readers always get a copy, so
// no caller can observe a session halfway through an update.
type PresenceTable struct {
	log      *slog.Logger
	stats    stats.StatsProvider
	mu       sync.RWMutex
	sessions map[int64]*RoomSession
}

func NewPresenceTable(logger *slog.Logger, su stats.StatsProvider) *PresenceTable {
	su.RegisterMetric(metricActiveRooms)
	return &PresenceTable{
		log:      logger,
		stats:    su,
		sessions: make(map[int64]*RoomSession),
	}
}

func (pt *PresenceTable) Get(roomId int64) (RoomSession, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	s, ok := pt.sessions[roomId]
	if !ok {
		return RoomSession{}, false
	}
	return s.clone(), true
}

// Put installs or refreshes the session for roomId. Host and capacity are
// taken from session; participants already present are kept.
func (pt *PresenceTable) Put(roomId int64, session RoomSession) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	next := session.clone()
	next.RoomId = roomId
	if next.Participants == nil {
		next.Participants = make(map[int64]*Client)
	}

	if cur, ok := pt.sessions[roomId]; ok {
		for pid, c := range cur.Participants {
			if _, dup := next.Participants[pid]; !dup {
				next.Participants[pid] = c
			}
		}
	} else {
		pt.stats.Incr(metricActiveRooms)
	}

	pt.sessions[roomId] = &next
}

// Stage installs a fresh session only when none exists yet and reports
// whether it did.
func (pt *PresenceTable) Stage(roomId, hostId int64, capacity int) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if _, ok := pt.sessions[roomId]; ok {
		return false
	}

	s := NewRoomSession(roomId, hostId, capacity)
	pt.sessions[roomId] = &s
	pt.stats.Incr(metricActiveRooms)
	pt.log.Info("staged room session", "room_id", roomId, "host_id", hostId, "capacity", capacity)
	return true
}

// AddParticipant maps participantId to c in an existing session. A newer
// connection replaces an older one for the same participant.
func (pt *PresenceTable) AddParticipant(roomId, participantId int64, c *Client) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	s, ok := pt.sessions[roomId]
	if !ok {
		pt.log.Warn("add participant: room has no live session", "room_id", roomId, "participant_id", participantId)
		return false
	}

	s.Participants[participantId] = c
	return true
}

// RemoveParticipant drops participantId from the room if it is still mapped to
// c, or to any connection when c is nil. A non-host removal lowers the live
// capacity by one, clamped at zero. The session is discarded once its last
// participant is gone. removed is false when there was nothing to remove, which
// makes a second departure for the same join a no-op.
func (pt *PresenceTable) RemoveParticipant(roomId, participantId int64, c *Client) (isHost bool, removed bool) {
	return pt.remove(roomId, participantId, c, true)
}

// Withdraw undoes an AddParticipant that never completed. Unlike
// RemoveParticipant it leaves the live capacity alone.
func (pt *PresenceTable) Withdraw(roomId, participantId int64, c *Client) bool {
	_, removed := pt.remove(roomId, participantId, c, false)
	return removed
}

func (pt *PresenceTable) remove(roomId, participantId int64, c *Client, departing bool) (isHost bool, removed bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	s, ok := pt.sessions[roomId]
	if !ok {
		return false, false
	}

	cur, ok := s.Participants[participantId]
	if !ok || (c != nil && cur != c) {
		return false, false
	}

	delete(s.Participants, participantId)
	isHost = s.HostId == participantId
	if departing && !isHost && s.Capacity > 0 {
		s.Capacity--
	}

	if len(s.Participants) == 0 {
		delete(pt.sessions, roomId)
		pt.stats.Decr(metricActiveRooms)
		pt.log.Info("room session torn down", "room_id", roomId)
	}

	return isHost, true
}

// Participants returns a snapshot of the room's participant set.
func (pt *PresenceTable) Participants(roomId int64) (map[int64]*Client, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	s, ok := pt.sessions[roomId]
	if !ok {
		return nil, false
	}
	return maps.Clone(s.Participants), true
}

// Occupancy is the number of participants currently joined to roomId.
func (pt *PresenceTable) Occupancy(roomId int64) int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	if s, ok := pt.sessions[roomId]; ok {
		return len(s.Participants)
	}
	return 0
}

func (pt *PresenceTable) Len() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.sessions)
}
