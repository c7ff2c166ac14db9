package internal

// Message is the envelope for every frame in both directions.
type Message[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

func NewMessage[T any](kind string, payload T) Message[T] {
	return Message[T]{Type: kind, Payload: payload}
}

// Client message kinds.
const (
	MsgCreateRoom   = "create_room"
	MsgJoinRoom     = "join_room"
	MsgSetReady     = "set_ready"
	MsgStartGame    = "start_game"
	MsgLeaveRoom    = "leave_room"
	MsgReconnect    = "reconnect"
	MsgPing         = "ping"
	MsgSubmitDetail = "submit_detail"
	MsgCastVote     = "cast_vote"
	MsgContinueGame = "continue_game"
)

// Server message kinds.
const (
	MsgRoomJoined              = "room_joined"
	MsgPlayerJoined            = "player_joined"
	MsgPlayerLeft              = "player_left"
	MsgPlayerReadyChanged      = "player_ready_changed"
	MsgPlayerConnectionChanged = "player_connection_changed"
	MsgHostTransferred         = "host_transferred"
	MsgGameStarted             = "game_started"
	MsgRoundStarted            = "round_started"
	MsgMemoryRevealed          = "memory_revealed"
	MsgRoleAssigned            = "role_assigned"
	MsgDetailQuestion          = "detail_question"
	MsgPlayerSubmittedDetail   = "player_submitted_detail"
	MsgDetailsRevealed         = "details_revealed"
	MsgVotingStarted           = "voting_started"
	MsgPlayerVoted             = "player_voted"
	MsgRoundResults            = "round_results"
	MsgGameFinished            = "game_finished"
	MsgReconnectSuccess        = "reconnect_success"
	MsgPong                    = "pong"
	MsgError                   = "error"
	MsgRoomClosed              = "room_closed"
)

// =============================================================================
// CLIENT PAYLOADS
// =============================================================================

type CreateRoomPayload struct {
	PlayerName string     `json:"playerName"`
	Config     RoomConfig `json:"config"`
}

type JoinRoomPayload struct {
	RoomCode    string `json:"roomCode"`
	PlayerName  string `json:"playerName"`
	AsSpectator bool   `json:"asSpectator"`
}

type SetReadyPayload struct {
	Ready bool `json:"ready"`
}

type ReconnectPayload struct {
	RoomCode     string `json:"roomCode"`
	SessionToken string `json:"sessionToken"`
}

type PingPayload struct {
	ClientTime float64 `json:"clientTime"`
}

type SubmitDetailPayload struct {
	Answer string `json:"answer"`
}

type CastVotePayload struct {
	TargetPlayerID string `json:"targetPlayerId"`
}

// =============================================================================
// SERVER PAYLOADS
// =============================================================================

type PublicPlayer struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	IsHost           bool             `json:"isHost"`
	IsReady          bool             `json:"isReady"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	Score            int              `json:"score"`
}

type PlayerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoomJoinedPayload struct {
	RoomCode     string         `json:"roomCode"`
	PlayerID     string         `json:"playerId"`
	SessionToken string         `json:"sessionToken"`
	IsHost       bool           `json:"isHost"`
	IsSpectator  bool           `json:"isSpectator"`
	Players      []PublicPlayer `json:"players"`
	Spectators   []PublicPlayer `json:"spectators"`
	Config       RoomConfig     `json:"config"`
	GameState    GameState      `json:"gameState"`
	CurrentPhase Phase          `json:"currentPhase"`
	RoundNumber  int            `json:"roundNumber"`
}

type PlayerJoinedPayload struct {
	Player      PublicPlayer `json:"player"`
	IsSpectator bool         `json:"isSpectator"`
}

type PlayerLeftPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Reason     string `json:"reason"`
}

type PlayerReadyChangedPayload struct {
	PlayerID string `json:"playerId"`
	Ready    bool   `json:"ready"`
}

type PlayerConnectionChangedPayload struct {
	PlayerID string           `json:"playerId"`
	Status   ConnectionStatus `json:"status"`
}

type HostTransferredPayload struct {
	PreviousHostID string `json:"previousHostId"`
	NewHostID      string `json:"newHostId"`
	NewHostName    string `json:"newHostName"`
}

type GameStartedPayload struct {
	TotalRounds int         `json:"totalRounds"`
	Players     []PlayerRef `json:"players"`
}

type RoundStartedPayload struct {
	RoundNumber int `json:"roundNumber"`
	TotalRounds int `json:"totalRounds"`
}

type MemoryRevealedPayload struct {
	Prompt        string `json:"prompt"`
	TimeRemaining int64  `json:"timeRemaining"`
}

type RoleAssignedPayload struct {
	Role          Role     `json:"role"`
	Fragments     []string `json:"fragments,omitempty"`
	Hints         []string `json:"hints,omitempty"`
	TimeRemaining int64    `json:"timeRemaining"`
}

type DetailQuestionPayload struct {
	Question      string `json:"question"`
	QuestionIndex int    `json:"questionIndex"`
	TimeRemaining int64  `json:"timeRemaining"`
}

type PlayerSubmittedDetailPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type DetailsRevealedPayload struct {
	Details       map[string]string `json:"details"`
	TimeRemaining int64             `json:"timeRemaining"`
}

type VotingStartedPayload struct {
	TimeRemaining int64 `json:"timeRemaining"`
}

type PlayerVotedPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type RoundResultsPayload struct {
	RoundNumber   int               `json:"roundNumber"`
	WitnessIDs    []string          `json:"witnessIds"`
	WitnessNames  []string          `json:"witnessNames"`
	Fragments     []string          `json:"fragments"`
	Votes         map[string]string `json:"votes"`
	RoundScores   map[string]int    `json:"roundScores"`
	TotalScores   map[string]int    `json:"totalScores"`
	TimeRemaining int64             `json:"timeRemaining"`
}

type FinalScore struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Score      int    `json:"score"`
	Rank       int    `json:"rank"`
}

type Award struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Value      int    `json:"value"`
}

type GameStats struct {
	BestBluff        *Award `json:"bestBluff"`
	BestDetective    *Award `json:"bestDetective"`
	SneakiestWitness *Award `json:"sneakiestWitness"`
}

type GameFinishedPayload struct {
	Reason          string       `json:"reason"`
	FinalScores     []FinalScore `json:"finalScores"`
	Winner          *FinalScore  `json:"winner"`
	Stats           GameStats    `json:"stats"`
	RoundsCompleted int          `json:"roundsCompleted"`
	RoundsTotal     int          `json:"roundsTotal"`
}

// ReconnectSuccessPayload is the full snapshot a returning player needs to
// resume. Role data is present only once roles were assigned; details only
// once they were revealed; witnesses only in results.
type ReconnectSuccessPayload struct {
	RoomCode       string            `json:"roomCode"`
	PlayerID       string            `json:"playerId"`
	IsHost         bool              `json:"isHost"`
	IsSpectator    bool              `json:"isSpectator"`
	Config         RoomConfig        `json:"config"`
	GameState      GameState         `json:"gameState"`
	CurrentPhase   Phase             `json:"currentPhase"`
	RoundNumber    int               `json:"roundNumber"`
	TotalRounds    int               `json:"totalRounds"`
	TimeRemaining  int64             `json:"timeRemaining"`
	Players        []PublicPlayer    `json:"players"`
	Spectators     []PublicPlayer    `json:"spectators"`
	Scores         map[string]int    `json:"scores"`
	MemoryPrompt   string            `json:"memoryPrompt,omitempty"`
	Role           Role              `json:"role,omitempty"`
	Fragments      []string          `json:"fragments,omitempty"`
	Hints          []string          `json:"hints,omitempty"`
	DetailQuestion string            `json:"detailQuestion,omitempty"`
	HasSubmitted   bool              `json:"hasSubmitted"`
	HasVoted       bool              `json:"hasVoted"`
	Details        map[string]string `json:"details,omitempty"`
	WitnessIDs     []string          `json:"witnessIds,omitempty"`
}

type PongPayload struct {
	ServerTime int64   `json:"serverTime"`
	ClientTime float64 `json:"clientTime"`
}

type RoomClosedPayload struct {
	Reason string `json:"reason"`
}

// =============================================================================
// HTTP RESPONSES
// =============================================================================

type Response struct {
	RoomCode string `json:"roomCode,omitempty"`
	Error    string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}
