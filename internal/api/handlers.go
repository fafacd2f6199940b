package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/npezzotti/rtc-signal/internal/database"
	"github.com/npezzotti/rtc-signal/internal/notify"
	"github.com/npezzotti/rtc-signal/internal/types"
)

type CreateRoomRequest struct {
	Title     string `json:"title"`
	Category  string `json:"category"`
	Capacity  int    `json:"capacity"`
	IsPrivate bool   `json:"is_private"`
	Password  string `json:"password"`
}

type EnterRoomRequest struct {
	Password string `json:"password"`
}

func (s *SignalApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", "error", err)
	}
}

func (s *SignalApp) writeRoomLookupError(w http.ResponseWriter, err error) {
	var errResp *ApiError
	if errors.Is(err, database.ErrRoomNotFound) {
		errResp = NewNotFoundError()
	} else {
		s.log.Error("find room", "error", err)
		errResp = NewInternalServerError(err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func toApiRoom(room database.Room) *types.Room {
	return &types.Room{
		Id:        room.Id,
		Title:     room.Title,
		Category:  room.Category,
		HostId:    room.HostId,
		Capacity:  room.Capacity,
		IsPrivate: room.IsPrivate,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}
}

func roomIdParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// refreshSession reissues the token cookie with a fresh expiry.
func (s *SignalApp) refreshSession(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(userId, defaultJwtExpiration)
	if err != nil {
		s.log.Error("create session token", "user_id", userId, "error", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))
	w.WriteHeader(http.StatusNoContent)
}

func (s *SignalApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Error("health check", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *SignalApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Title == "" || req.Capacity <= 0 || (req.IsPrivate && req.Password == "") {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateRoomParams{
		Title:     req.Title,
		Category:  req.Category,
		HostId:    userId,
		Capacity:  req.Capacity,
		IsPrivate: req.IsPrivate,
	}

	if req.IsPrivate {
		pwdHash, err := hashPassword(req.Password)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		params.PasswordHash = pwdHash
	}

	newRoom, err := s.db.CreateRoom(r.Context(), params)
	if err != nil {
		s.log.Error("create room", "error", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if s.broker != nil {
		if err := s.broker.NotifyFollowers(r.Context(), userId); err != nil {
			s.log.Warn("notify followers", "host_id", userId, "error", err)
		}
	}

	s.writeJson(w, http.StatusCreated, toApiRoom(newRoom))
}

func (s *SignalApp) getRoom(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.FindRoomById(r.Context(), roomId)
	if err != nil {
		s.writeRoomLookupError(w, err)
		return
	}

	if room.IsDeleted {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toApiRoom(room))
}

// enterRoom admits the caller to a room and makes sure the room has a live
// session for the caller's join envelope to land in.
func (s *SignalApp) enterRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId, ok := roomIdParam(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req EnterRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.FindRoomById(r.Context(), roomId)
	if err != nil {
		s.writeRoomLookupError(w, err)
		return
	}

	if room.IsDeleted {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.IsPrivate && room.HostId != userId && !verifyPassword(room.PasswordHash, req.Password) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if s.ss.Occupancy(room.Id) >= room.Capacity {
		errResp := NewConflictError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if s.ss.StageRoom(room.Id, room.HostId, room.Capacity) {
		s.log.Info("room staged on entry", "room_id", room.Id, "user_id", userId)
	}

	s.writeJson(w, http.StatusOK, toApiRoom(room))
}

func (s *SignalApp) events(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	events, cancel := s.broker.Subscribe(userId)
	defer cancel()

	if err := notify.Stream(r.Context(), w, events); err != nil {
		if errors.Is(err, notify.ErrStreamingUnsupported) {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		s.log.Debug("event stream closed", "user_id", userId, "error", err)
	}
}

func (s *SignalApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading connection", "error", err)
		return
	}

	if err := s.ss.Serve(userId, conn); err != nil {
		s.log.Error("serve connection", "user_id", userId, "error", err)
	}
}
