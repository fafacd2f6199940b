package server

import (
	"encoding/json"
	"fmt"
)

const (
	TypeOffer  = "offer"
	TypeAnswer = "answer"
	TypeIce    = "ice"
	TypeJoin   = "join"
	TypeLeave  = "leave"
	TypeToast  = "toast"
	TypePing   = "ping"
)

// Envelope is the unit exchanged over the signaling channel. Data carries the
// room id for every type. Candidate and Sdp are opaque and relayed untouched.
type Envelope struct {
	From      int64           `json:"from"`
	Type      string          `json:"type"`
	Data      *int64          `json:"data"`
	Candidate json.RawMessage `json:"candidate"`
	Sdp       json.RawMessage `json:"sdp"`
}

func (e *Envelope) RoomId() (int64, bool) {
	if e.Data == nil {
		return 0, false
	}
	return *e.Data, true
}

// hasCandidate reports whether the envelope carries an ICE candidate. An
// explicit null counts as absent.
func (e *Envelope) hasCandidate() bool {
	return len(e.Candidate) > 0 && string(e.Candidate) != "null"
}

func decodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}

func serializeEnvelope(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func roomRef(roomId int64) *int64 {
	return &roomId
}

func signalEnvelope(from int64, msgType string, roomId int64, candidate, sdp json.RawMessage) *Envelope {
	return &Envelope{
		From:      from,
		Type:      msgType,
		Data:      roomRef(roomId),
		Candidate: candidate,
		Sdp:       sdp,
	}
}

// noticeEnvelope carries only the type and sender, used for toast and ping.
func noticeEnvelope(from int64, msgType string, roomId int64) *Envelope {
	return &Envelope{
		From: from,
		Type: msgType,
		Data: roomRef(roomId),
	}
}

func joinAck(participantId int64) *Envelope {
	return &Envelope{
		From: participantId,
		Type: TypeJoin,
	}
}

// preview shortens an opaque payload for logging.
func preview(raw json.RawMessage, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n])
}
