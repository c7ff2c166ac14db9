package internal

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const (
	RoomCodeLength   = 6
	RoomCodeChars    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	MinPlayers       = 3
	MaxPlayers       = 8
	PlayerNameMax    = 20
	DetailAnswerMax  = 280
	FragmentCount    = 4
	HintCount        = 4
	DetailQuestions  = 5
	WitnessPoints    = 5
	DetectivePoints  = 10
	AutoSubmitAnswer = "[Lost in thought...]"
)

// Phase durations before time scaling.
const (
	MemoryPhaseDuration    = 5 * time.Second
	RolesPhaseDuration     = 5 * time.Second
	DetailsPhaseDuration   = 45 * time.Second
	QuestionsPhaseDuration = 90 * time.Second
	VotingPhaseDuration    = 30 * time.Second
	ResultsPhaseDuration   = 10 * time.Second
)

type GameState string

const (
	GameLobby    GameState = "lobby"
	GamePlaying  GameState = "playing"
	GameFinished GameState = "finished"
)

type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseMemory    Phase = "memory"
	PhaseRoles     Phase = "roles"
	PhaseDetails   Phase = "details"
	PhaseQuestions Phase = "questions"
	PhaseVoting    Phase = "voting"
	PhaseResults   Phase = "results"
)

// PhaseDuration returns how long phase lasts at the given time scale.
// Lobby has no deadline and returns zero.
func PhaseDuration(phase Phase, timeScale float64) time.Duration {
	var base time.Duration
	switch phase {
	case PhaseMemory:
		base = MemoryPhaseDuration
	case PhaseRoles:
		base = RolesPhaseDuration
	case PhaseDetails:
		base = DetailsPhaseDuration
	case PhaseQuestions:
		base = QuestionsPhaseDuration
	case PhaseVoting:
		base = VotingPhaseDuration
	case PhaseResults:
		base = ResultsPhaseDuration
	default:
		return 0
	}
	if timeScale <= 0 {
		timeScale = 1
	}
	return time.Duration(math.Round(float64(base) * timeScale))
}

type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusStale        ConnectionStatus = "stale"
	StatusDegraded     ConnectionStatus = "degraded"
	StatusDropped      ConnectionStatus = "dropped"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

type Role string

const (
	RoleWitness  Role = "witness"
	RoleImposter Role = "imposter"
)

// WitnessCount is either a fixed number of witnesses or WitnessAuto.
// It travels as the string "auto" or a number.
type WitnessCount int

const WitnessAuto WitnessCount = 0

func (w WitnessCount) MarshalJSON() ([]byte, error) {
	if w == WitnessAuto {
		return []byte(`"auto"`), nil
	}
	return json.Marshal(int(w))
}

func (w *WitnessCount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "auto" {
			return fmt.Errorf("witnessCount must be \"auto\", 1 or 2, got %q", s)
		}
		*w = WitnessAuto
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("witnessCount must be \"auto\", 1 or 2")
	}
	if n != 1 && n != 2 {
		return fmt.Errorf("witnessCount must be \"auto\", 1 or 2, got %v", n)
	}
	*w = WitnessCount(n)
	return nil
}

type RoomConfig struct {
	Rounds          int          `json:"rounds"`
	TimeScale       float64      `json:"timeScale"`
	MaxPlayers      int          `json:"maxPlayers"`
	WitnessCount    WitnessCount `json:"witnessCount"`
	AllowSpectators bool         `json:"allowSpectators"`
	VoiceEnabled    bool         `json:"voiceEnabled"`
}

func DefaultConfig() RoomConfig {
	return RoomConfig{
		Rounds:          5,
		TimeScale:       1.0,
		MaxPlayers:      6,
		WitnessCount:    WitnessAuto,
		AllowSpectators: true,
		VoiceEnabled:    true,
	}
}

// Validate checks the ranges a host may choose from.
func (c RoomConfig) Validate() error {
	switch c.Rounds {
	case 3, 5, 7:
	default:
		return fmt.Errorf("rounds must be 3, 5 or 7")
	}
	if c.TimeScale < 0.5 || c.TimeScale > 1.5 {
		return fmt.Errorf("timeScale must be between 0.5 and 1.5")
	}
	if c.MaxPlayers < MinPlayers || c.MaxPlayers > MaxPlayers {
		return fmt.Errorf("maxPlayers must be between %d and %d", MinPlayers, MaxPlayers)
	}
	if c.WitnessCount < WitnessAuto || c.WitnessCount > 2 {
		return fmt.Errorf("witnessCount must be auto, 1 or 2")
	}
	return nil
}

type Player struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	IsHost           bool             `json:"isHost"`
	IsReady          bool             `json:"isReady"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	Score            int              `json:"score"`
	SessionToken     string           `json:"sessionToken"`
	JoinedAt         int64            `json:"joinedAt"`
}

type RoundData struct {
	WitnessIDs           []string          `json:"witnessIds"`
	MemoryPrompt         string            `json:"memoryPrompt"`
	Fragments            []string          `json:"fragments"`
	Hints                []string          `json:"hints"`
	DetailQuestions      []string          `json:"detailQuestions"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	PlayerDetails        map[string]string `json:"playerDetails"`
	Votes                map[string]string `json:"votes"`
	RoundScores          map[string]int    `json:"roundScores,omitempty"`
}

// PlayerStats accumulates the per-game tallies behind the end-of-game awards.
type PlayerStats struct {
	CorrectVotes    int `json:"correctVotes"`
	VotesAsInnocent int `json:"votesAsInnocent"`
	TimesUndetected int `json:"timesUndetected"`
	RoundsAsWitness int `json:"roundsAsWitness"`
}

// RoomState is the canonical, persisted state of one room.
type RoomState struct {
	RoomCode     string                  `json:"roomCode"`
	Config       RoomConfig              `json:"config"`
	GameState    GameState               `json:"gameState"`
	CurrentPhase Phase                   `json:"currentPhase"`
	CurrentRound int                     `json:"currentRound"`
	PhaseEndTime int64                   `json:"phaseEndTime"`
	Players      []*Player               `json:"players"`
	Spectators   []*Player               `json:"spectators"`
	RoundData    *RoundData              `json:"roundData"`
	Stats        map[string]*PlayerStats `json:"stats,omitempty"`
	CreatedAt    int64                   `json:"createdAt"`
}

// NewRoomState returns a fresh lobby for code with the default config.
func NewRoomState(code string, now time.Time) *RoomState {
	return &RoomState{
		RoomCode:     code,
		Config:       DefaultConfig(),
		GameState:    GameLobby,
		CurrentPhase: PhaseLobby,
		Players:      []*Player{},
		Spectators:   []*Player{},
		CreatedAt:    now.UnixMilli(),
	}
}

// Alarm is the single durable wake-up a room may have pending. Phase and
// Round identify the phase instance it was armed for.
type Alarm struct {
	At    int64 `json:"at"`
	Phase Phase `json:"phase"`
	Round int   `json:"round"`
}

func (a Alarm) Time() time.Time {
	return time.UnixMilli(a.At)
}
