package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/npezzotti/rtc-signal/internal/database"
	"github.com/npezzotti/rtc-signal/internal/stats"
)

const (
	metricActiveConnections  = "NumActiveConnections"
	metricActiveRooms        = "NumActiveRooms"
	metricRelayedMessages    = "NumRelayedMessages"
	metricDroppedMessages    = "NumDroppedMessages"
	metricPersistenceFailure = "NumPersistenceFailures"

	signalPreviewLen    = 64
	defaultWriteTimeout = 5 * time.Second
)

type SendResult int

const (
	SendOK SendResult = iota
	SendFailed
)

// Router decodes inbound envelopes and applies the per-type signaling rules.
// It is safe for concurrent use; frames from one connection must be handed to
// it in arrival order.
type Router struct {
	log          *slog.Logger
	registry     *Registry
	presence     *PresenceTable
	rooms        database.RoomRepository
	stats        stats.StatsProvider
	writeTimeout time.Duration
}

func NewRouter(logger *slog.Logger, registry *Registry, presence *PresenceTable, rooms database.RoomRepository, su stats.StatsProvider, writeTimeout time.Duration) *Router {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	su.RegisterMetric(metricActiveConnections)
	su.RegisterMetric(metricRelayedMessages)
	su.RegisterMetric(metricDroppedMessages)
	su.RegisterMetric(metricPersistenceFailure)

	return &Router{
		log:          logger,
		registry:     registry,
		presence:     presence,
		rooms:        rooms,
		stats:        su,
		writeTimeout: writeTimeout,
	}
}

// Connected registers c and acknowledges it with a join envelope carrying its
// own participant id.
func (r *Router) Connected(c *Client) error {
	if err := r.registry.Register(c); err != nil {
		return err
	}
	r.stats.Incr(metricActiveConnections)
	r.log.Info("connection established", "conn_id", c.id, "participant_id", c.participantId)

	r.sendEnvelope(c, joinAck(c.participantId))
	return nil
}

// Disconnected reconciles the departure of c and forgets it. Repeated calls
// for the same connection do nothing.
func (r *Router) Disconnected(c *Client) {
	b, ok := r.registry.Remove(c)
	if !ok {
		return
	}
	r.stats.Decr(metricActiveConnections)
	r.log.Info("connection closed", "conn_id", c.id, "participant_id", b.ParticipantId)

	if b.InRoom {
		r.leaveRoom(c, b.RoomId, b.ParticipantId)
	}
}

func (r *Router) HandleMessage(c *Client, raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		r.log.Warn("dropping malformed envelope", "conn_id", c.id, "error", err)
		r.stats.Incr(metricDroppedMessages)
		return
	}

	sender, ok := r.registry.Participant(c)
	if !ok {
		r.log.Warn("envelope from unregistered connection", "conn_id", c.id)
		return
	}
	if env.From != sender {
		r.log.Debug("envelope sender overridden", "claimed", env.From, "participant_id", sender)
	}

	r.log.Info("envelope received", "type", env.Type, "participant_id", sender)

	switch env.Type {
	case TypeOffer, TypeAnswer, TypeIce:
		r.handleSignal(sender, env)
	case TypeJoin:
		r.handleJoin(c, sender, env)
	case TypeLeave:
		r.handleLeave(c, sender, env)
	case TypeToast:
		r.handleToast(sender, env)
	case TypePing:
		r.handlePing(sender, env)
	default:
		r.log.Info("ignoring envelope of undefined type", "type", env.Type, "participant_id", sender)
	}
}

func (r *Router) handleSignal(sender int64, env *Envelope) {
	if env.hasCandidate() {
		r.log.Debug("signal", "type", env.Type, "candidate", preview(env.Candidate, signalPreviewLen))
	} else {
		r.log.Debug("signal", "type", env.Type, "sdp", preview(env.Sdp, signalPreviewLen))
	}

	roomId, ok := env.RoomId()
	if !ok {
		r.drop(env, "no room id")
		return
	}

	r.broadcast(roomId, sender, signalEnvelope(sender, env.Type, roomId, env.Candidate, env.Sdp))
}

func (r *Router) handleToast(sender int64, env *Envelope) {
	roomId, ok := env.RoomId()
	if !ok {
		r.drop(env, "no room id")
		return
	}

	r.broadcast(roomId, sender, noticeEnvelope(sender, env.Type, roomId))
}

func (r *Router) handlePing(sender int64, env *Envelope) {
	roomId, ok := env.RoomId()
	if !ok {
		r.drop(env, "no room id")
		return
	}

	session, ok := r.presence.Get(roomId)
	if !ok {
		r.drop(env, "room has no live session")
		return
	}

	host, ok := session.Participants[session.HostId]
	if !ok {
		r.drop(env, "host has no live connection")
		return
	}

	r.sendEnvelope(host, noticeEnvelope(sender, env.Type, roomId))
}

func (r *Router) handleJoin(c *Client, sender int64, env *Envelope) {
	roomId, ok := env.RoomId()
	if !ok {
		r.drop(env, "no room id")
		return
	}

	r.log.Info("participant joining room", "participant_id", sender, "room_id", roomId)

	if _, ok := r.presence.Get(roomId); !ok {
		r.log.Warn("join ignored: room was not staged", "participant_id", sender, "room_id", roomId)
		return
	}

	if prev, ok := r.registry.Room(c); ok && prev != roomId {
		r.leaveRoom(c, prev, sender)
	}

	if !r.presence.AddParticipant(roomId, sender, c) {
		return
	}
	if !r.registry.BindRoom(c, roomId) {
		// c was disconnected while joining; nothing will reconcile it later.
		r.presence.Withdraw(roomId, sender, c)
		r.log.Info("join abandoned, connection closed", "participant_id", sender, "room_id", roomId)
	}
}

func (r *Router) handleLeave(c *Client, sender int64, env *Envelope) {
	roomId, ok := env.RoomId()
	if !ok {
		r.drop(env, "no room id")
		return
	}

	r.log.Info("participant leaving room", "participant_id", sender, "room_id", roomId)

	if _, ok := r.presence.Get(roomId); !ok {
		r.drop(env, "room has no live session")
		return
	}

	r.leaveRoom(c, roomId, sender)
}

// leaveRoom removes the participant from the live view and, if it was still
// there, reconciles the persisted room.
func (r *Router) leaveRoom(c *Client, roomId, participantId int64) {
	isHost, removed := r.presence.RemoveParticipant(roomId, participantId, c)
	if !removed {
		r.log.Debug("participant already departed", "participant_id", participantId, "room_id", roomId)
		return
	}

	r.depart(roomId, participantId, isHost)
}

// depart is the single place a departure reaches storage. A host departure
// soft-deletes the room; any other departure lowers its capacity by one.
func (r *Router) depart(roomId, participantId int64, isHost bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if isHost {
		if err := r.rooms.SoftDelete(ctx, roomId); err != nil {
			if errors.Is(err, database.ErrRoomNotFound) {
				r.log.Info("room already deleted or missing", "room_id", roomId)
				return
			}
			r.persistFailed("soft delete room", roomId, participantId, err)
			return
		}
		r.log.Info("host left, room marked deleted", "room_id", roomId, "participant_id", participantId)
		return
	}

	capacity, err := r.rooms.DecrementCapacity(ctx, roomId)
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			r.log.Info("capacity left unchanged, room missing or deleted", "room_id", roomId)
			return
		}
		r.persistFailed("decrement capacity", roomId, participantId, err)
		return
	}
	r.log.Info("participant left room", "room_id", roomId, "participant_id", participantId, "capacity", capacity)
}

func (r *Router) persistFailed(op string, roomId, participantId int64, err error) {
	r.stats.Incr(metricPersistenceFailure)
	r.log.Error(op, "room_id", roomId, "participant_id", participantId, "error", err)
}

// broadcast sends env to every participant of roomId except sender, using the
// participant set as it is when the call starts.
func (r *Router) broadcast(roomId, sender int64, env *Envelope) {
	participants, ok := r.presence.Participants(roomId)
	if !ok {
		r.drop(env, "room has no live session")
		return
	}

	msg, err := serializeEnvelope(env)
	if err != nil {
		r.log.Error("serialize envelope", "error", err)
		return
	}

	for pid, c := range participants {
		if pid == sender {
			continue
		}
		r.send(c, msg)
	}
}

func (r *Router) sendEnvelope(c *Client, env *Envelope) SendResult {
	msg, err := serializeEnvelope(env)
	if err != nil {
		r.log.Error("serialize envelope", "error", err)
		return SendFailed
	}
	return r.send(c, msg)
}

// send queues msg for c. A connection that cannot take the message is torn
// down and handled as a disconnect.
func (r *Router) send(c *Client, msg []byte) SendResult {
	if c.queueMessage(msg) {
		r.stats.Incr(metricRelayedMessages)
		return SendOK
	}

	r.log.Warn("send failed, closing connection", "conn_id", c.id, "participant_id", c.participantId)
	r.stats.Incr(metricDroppedMessages)
	c.stopClient()
	r.Disconnected(c)
	return SendFailed
}

func (r *Router) drop(env *Envelope, reason string) {
	r.stats.Incr(metricDroppedMessages)
	r.log.Debug("envelope dropped", "type", env.Type, "reason", reason)
}
