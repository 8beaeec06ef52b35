// internal/handlers/messages.go
package handlers

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/apperr"
)

// Client-to-server event types.
const (
	EventCreateRoom = "createRoom"
	EventGetRooms   = "getRooms"
	EventJoinRoom   = "joinRoom"
	EventDrawCards  = "drawCards"
	EventPlayCard   = "playCard"
	EventAttack     = "attack"
	EventEndTurn    = "endTurn"
	EventPing       = "ping"
)

// Server-to-client event types not owned by the battle package.
const (
	EventRoomCreated      = "roomCreated"
	EventRoomsList        = "roomsList"
	EventRoomsListUpdated = "roomsListUpdated"
	EventPong             = "pong"
	EventError            = "error"
)

// ClientMessage is one inbound frame. Payload is decoded per event type.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// flexID accepts a numeric id sent either as a JSON number or as a numeric string.
type flexID int64

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexID(n)
	return nil
}

type createRoomPayload struct {
	DeckID flexID `json:"deckId"`
}

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
	DeckID flexID `json:"deckId"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type playCardPayload struct {
	RoomID    string `json:"roomId"`
	CardIndex *int   `json:"cardIndex"`
}

// decodePayload unmarshals raw into v. A missing payload decodes as an empty object.
func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Validation("malformed payload: %v", err)
	}
	return nil
}

func requireDeckID(id flexID) (int64, error) {
	if id <= 0 {
		return 0, apperr.Validation("deckId is required")
	}
	return int64(id), nil
}

// parseRoomID maps anything that is not a known room id to NotFound.
func parseRoomID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperr.NotFound("room %q not found", s)
	}
	return id, nil
}
