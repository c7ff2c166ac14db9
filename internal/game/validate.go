package game

import (
	"bytes"
	"encoding/json"
	"math"
	"unicode/utf8"

	"github.com/scythe504/dejavu-backend/internal"
	"github.com/scythe504/dejavu-backend/internal/utils"
)

// =============================================================================
// MESSAGE VALIDATION
// =============================================================================

func invalid(format string, args ...any) *internal.GameError {
	return internal.Errorf(internal.ErrInvalidMessage, format, args...)
}

// decodeEnvelope splits a frame into its kind and an object payload. A
// missing payload reads as an empty object.
func decodeEnvelope(raw []byte) (string, json.RawMessage, *internal.GameError) {
	var env internal.Message[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, invalid("Failed to parse message")
	}
	if env.Type == "" {
		return "", nil, invalid("Message type is required")
	}
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = []byte("{}")
	}
	if payload[0] != '{' {
		return "", nil, invalid("Payload must be an object")
	}
	return env.Type, payload, nil
}

func decodePayload(payload json.RawMessage, v any) *internal.GameError {
	if err := json.Unmarshal(payload, v); err != nil {
		return invalid("Invalid payload: %v", err)
	}
	return nil
}

func validName(name *string) *internal.GameError {
	if name == nil {
		return invalid("playerName is required")
	}
	if !internal.ValidPlayerName(*name) {
		return invalid("Name must be 1-%d characters of letters, numbers, _ or -", internal.PlayerNameMax)
	}
	return nil
}

func validRoomCode(code *string) *internal.GameError {
	if code == nil {
		return invalid("roomCode is required")
	}
	if !utils.ValidRoomCode(*code) {
		return invalid("roomCode must be 6 characters A-Z or 0-9")
	}
	return nil
}

func isInteger(f float64) bool {
	return f == math.Trunc(f) && !math.IsInf(f, 0)
}

func decodeCreateRoom(payload json.RawMessage) (internal.CreateRoomPayload, *internal.GameError) {
	var p struct {
		PlayerName *string `json:"playerName"`
		Config     *struct {
			Rounds          *float64               `json:"rounds"`
			TimeScale       *float64               `json:"timeScale"`
			MaxPlayers      *float64               `json:"maxPlayers"`
			WitnessCount    *internal.WitnessCount `json:"witnessCount"`
			AllowSpectators *bool                  `json:"allowSpectators"`
			VoiceEnabled    *bool                  `json:"voiceEnabled"`
		} `json:"config"`
	}
	if gerr := decodePayload(payload, &p); gerr != nil {
		return internal.CreateRoomPayload{}, gerr
	}
	if gerr := validName(p.PlayerName); gerr != nil {
		return internal.CreateRoomPayload{}, gerr
	}
	c := p.Config
	if c == nil || c.Rounds == nil || c.TimeScale == nil || c.MaxPlayers == nil ||
		c.WitnessCount == nil || c.AllowSpectators == nil || c.VoiceEnabled == nil {
		return internal.CreateRoomPayload{}, invalid("config requires rounds, timeScale, maxPlayers, witnessCount, allowSpectators and voiceEnabled")
	}
	if !isInteger(*c.Rounds) || !isInteger(*c.MaxPlayers) {
		return internal.CreateRoomPayload{}, invalid("rounds and maxPlayers must be whole numbers")
	}
	cfg := internal.RoomConfig{
		Rounds:          int(*c.Rounds),
		TimeScale:       *c.TimeScale,
		MaxPlayers:      int(*c.MaxPlayers),
		WitnessCount:    *c.WitnessCount,
		AllowSpectators: *c.AllowSpectators,
		VoiceEnabled:    *c.VoiceEnabled,
	}
	if err := cfg.Validate(); err != nil {
		return internal.CreateRoomPayload{}, invalid("%v", err)
	}
	return internal.CreateRoomPayload{PlayerName: *p.PlayerName, Config: cfg}, nil
}

func decodeJoinRoom(payload json.RawMessage) (internal.JoinRoomPayload, *internal.GameError) {
	var p struct {
		RoomCode    *string `json:"roomCode"`
		PlayerName  *string `json:"playerName"`
		AsSpectator *bool   `json:"asSpectator"`
	}
	if gerr := decodePayload(payload, &p); gerr != nil {
		return internal.JoinRoomPayload{}, gerr
	}
	if gerr := validRoomCode(p.RoomCode); gerr != nil {
		return internal.JoinRoomPayload{}, gerr
	}
	if gerr := validName(p.PlayerName); gerr != nil {
		return internal.JoinRoomPayload{}, gerr
	}
	out := internal.JoinRoomPayload{RoomCode: *p.RoomCode, PlayerName: *p.PlayerName}
	if p.AsSpectator != nil {
		out.AsSpectator = *p.AsSpectator
	}
	return out, nil
}

func decodeSetReady(payload json.RawMessage) (internal.SetReadyPayload, *internal.GameError) {
	var p struct {
		Ready *bool `json:"ready"`
	}
	if gerr := decodePayload(payload, &p); gerr != nil {
		return internal.SetReadyPayload{}, gerr
	}
	if p.Ready == nil {
		return internal.SetReadyPayload{}, invalid("ready is required")
	}
	return internal.SetReadyPayload{Ready: *p.Ready}, nil
}

func decodeReconnect(payload json.RawMessage) (internal.ReconnectPayload, *internal.GameError) {
	var p struct {
		RoomCode     *string `json:"roomCode"`
		SessionToken *string `json:"sessionToken"`
	}
	if gerr := decodePayload(payload, &p); gerr != nil {
		return internal.ReconnectPayload{}, gerr
	}
	if gerr := validRoomCode(p.RoomCode); gerr != nil {
		return internal.ReconnectPayload{}, gerr
	}
	if p.SessionToken == nil {
		return internal.ReconnectPayload{}, invalid("sessionToken is required")
	}
	return internal.ReconnectPayload{RoomCode: *p.RoomCode, SessionToken: *p.SessionToken}, nil
}

func decodePing(payload json.RawMessage) (internal.PingPayload, *internal.GameError) {
	var p struct {
		ClientTime *float64 `json:"clientTime"`
	}
	if gerr := decodePayload(payload, &p); gerr != nil {
		return internal.PingPayload{}, gerr
	}
	if p.ClientTime == nil {
		return internal.PingPayload{}, invalid("clientTime is required")
	}
	return internal.PingPayload{ClientTime: *p.ClientTime}, nil
}

func decodeSubmitDetail(payload json.RawMessage) (internal.SubmitDetailPayload, *internal.GameError) {
	var p struct {
		Answer *string `json:"answer"`
	}
	if gerr := decodePayload(payload, &p); gerr != nil {
		return internal.SubmitDetailPayload{}, gerr
	}
	if p.Answer == nil {
		return internal.SubmitDetailPayload{}, invalid("answer is required")
	}
	if utf8.RuneCountInString(*p.Answer) > internal.DetailAnswerMax {
		return internal.SubmitDetailPayload{}, invalid("answer must be at most %d characters", internal.DetailAnswerMax)
	}
	return internal.SubmitDetailPayload{Answer: *p.Answer}, nil
}

func decodeCastVote(payload json.RawMessage) (internal.CastVotePayload, *internal.GameError) {
	var p struct {
		TargetPlayerID *string `json:"targetPlayerId"`
	}
	if gerr := decodePayload(payload, &p); gerr != nil {
		return internal.CastVotePayload{}, gerr
	}
	if p.TargetPlayerID == nil {
		return internal.CastVotePayload{}, invalid("targetPlayerId is required")
	}
	return internal.CastVotePayload{TargetPlayerID: *p.TargetPlayerID}, nil
}
