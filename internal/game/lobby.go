package game

import (
	"encoding/json"
	"log"
	"time"

	"github.com/scythe504/dejavu-backend/internal"
	"github.com/scythe504/dejavu-backend/internal/scenario"
	"github.com/scythe504/dejavu-backend/internal/utils"
)

const (
	reasonLeft         = "left"
	reasonDisconnected = "disconnected"
)

// =============================================================================
// JOINING
// =============================================================================

func (r *Room) handleCreateRoom(peer Peer, sess *session, payload json.RawMessage) *internal.GameError {
	p, gerr := decodeCreateRoom(payload)
	if gerr != nil {
		return gerr
	}
	if sess != nil {
		return internal.Errorf(internal.ErrInvalidAction, "Already in this room")
	}
	if len(r.state.Players) > 0 || len(r.state.Spectators) > 0 {
		return internal.Errorf(internal.ErrInvalidAction, "Room %s has already been created", r.code)
	}
	r.state.Config = p.Config
	return r.join(peer, p.PlayerName, false)
}

func (r *Room) handleJoinRoom(peer Peer, sess *session, payload json.RawMessage) *internal.GameError {
	p, gerr := decodeJoinRoom(payload)
	if gerr != nil {
		return gerr
	}
	if sess != nil {
		return internal.Errorf(internal.ErrInvalidAction, "Already in this room")
	}
	if p.RoomCode != r.code {
		return internal.Errorf(internal.ErrRoomNotFound, "Room %s not found", p.RoomCode)
	}
	return r.join(peer, p.PlayerName, p.AsSpectator)
}

// join admits a new player or spectator. Checks run in a fixed order:
// name taken, room full, game in progress.
func (r *Room) join(peer Peer, name string, spectator bool) *internal.GameError {
	s := r.state
	if s.NameTaken(name) {
		return internal.Errorf(internal.ErrNameTaken, "The name %s is already taken", name)
	}
	if !spectator && s.IsFull() {
		return internal.Errorf(internal.ErrRoomFull, "Room is full")
	}
	if !spectator && s.GameState == internal.GamePlaying {
		return internal.Errorf(internal.ErrGameInProgress, "Game already in progress")
	}
	if spectator && !s.Config.AllowSpectators {
		return internal.Errorf(internal.ErrInvalidAction, "Spectators are not allowed in this room")
	}

	now := r.opts.Now()
	id := utils.GeneratePlayerID()
	for p, _ := s.Lookup(id); p != nil; p, _ = s.Lookup(id) {
		id = utils.GeneratePlayerID()
	}
	player := &internal.Player{
		ID:               id,
		Name:             name,
		IsHost:           !spectator && len(s.Players) == 0,
		ConnectionStatus: internal.StatusConnected,
		SessionToken:     utils.GenerateSessionToken(r.code, id, now),
		JoinedAt:         now.UnixMilli(),
	}
	if spectator {
		s.Spectators = append(s.Spectators, player)
	} else {
		s.Players = append(s.Players, player)
	}
	r.bind(peer, player, spectator)

	if !r.persist() {
		return nil
	}

	r.send(peer, internal.NewMessage(internal.MsgRoomJoined, internal.RoomJoinedPayload{
		RoomCode:     r.code,
		PlayerID:     player.ID,
		SessionToken: player.SessionToken,
		IsHost:       player.IsHost,
		IsSpectator:  spectator,
		Players:      internal.PublicPlayers(s.Players),
		Spectators:   internal.PublicPlayers(s.Spectators),
		Config:       s.Config,
		GameState:    s.GameState,
		CurrentPhase: s.CurrentPhase,
		RoundNumber:  s.CurrentRound,
	}))
	r.broadcastExcept(player.ID, internal.NewMessage(internal.MsgPlayerJoined, internal.PlayerJoinedPayload{
		Player:      player.ToPublicPlayer(),
		IsSpectator: spectator,
	}))

	log.Printf("[join] Room %s: %s joined as %s (spectator=%t, players=%d)", r.code, player.Name, player.ID, spectator, len(s.Players))
	r.track("player_joined", map[string]any{"spectator": spectator, "players": len(s.Players)})
	return nil
}

// bind attaches peer to a player, superseding any older socket.
func (r *Room) bind(peer Peer, p *internal.Player, spectator bool) {
	if old, ok := r.sessions[p.ID]; ok && old.peer != peer {
		delete(r.peers, old.peer)
		old.peer.Close()
	}
	r.sessions[p.ID] = &session{
		playerID:      p.ID,
		peer:          peer,
		lastHeartbeat: r.opts.Now(),
		spectator:     spectator,
	}
	r.peers[peer] = p.ID
}

// =============================================================================
// LOBBY ACTIONS
// =============================================================================

func (r *Room) handleSetReady(peer Peer, sess *session, payload json.RawMessage) *internal.GameError {
	p, gerr := decodeSetReady(payload)
	if gerr != nil {
		return gerr
	}
	if sess.spectator {
		return internal.Errorf(internal.ErrInvalidAction, "Spectators cannot ready up")
	}
	if r.state.GameState == internal.GamePlaying {
		return internal.Errorf(internal.ErrInvalidAction, "Game already in progress")
	}
	player := r.state.FindPlayer(sess.playerID)
	if player == nil {
		return internal.Errorf(internal.ErrInvalidSession, "Player not found")
	}

	player.IsReady = p.Ready
	if !r.persist() {
		return nil
	}
	r.broadcast(internal.NewMessage(internal.MsgPlayerReadyChanged, internal.PlayerReadyChangedPayload{
		PlayerID: player.ID,
		Ready:    player.IsReady,
	}))
	return nil
}

func (r *Room) handleStartGame(peer Peer, sess *session, payload json.RawMessage) *internal.GameError {
	player := r.state.FindPlayer(sess.playerID)
	if player == nil || !player.IsHost {
		return internal.Errorf(internal.ErrNotHost, "Only the host can start the game")
	}
	if r.state.GameState == internal.GamePlaying {
		return internal.Errorf(internal.ErrGameInProgress, "Game already in progress")
	}
	if ready := r.state.ReadyCount(); ready < internal.MinPlayers {
		return internal.Errorf(internal.ErrInvalidAction, "Need at least %d ready players, have %d", internal.MinPlayers, ready)
	}
	r.startGame()
	return nil
}

func (r *Room) handleLeaveRoom(peer Peer, sess *session, payload json.RawMessage) *internal.GameError {
	delete(r.sessions, sess.playerID)
	delete(r.peers, peer)
	r.depart(sess.playerID, reasonLeft)
	peer.Close()
	return nil
}

// =============================================================================
// CONNECTION LIFECYCLE
// =============================================================================

// disconnect handles a closed socket. Sockets that were superseded by a
// reconnect, or never joined, are ignored.
func (r *Room) disconnect(peer Peer) {
	id, ok := r.peers[peer]
	if !ok {
		return
	}
	delete(r.peers, peer)
	sess, ok := r.sessions[id]
	if !ok || sess.peer != peer {
		return
	}
	delete(r.sessions, id)
	r.logf("[disconnect] Room %s: %s closed, last heartbeat %s ago", r.code, id, r.opts.Now().Sub(sess.lastHeartbeat).Round(time.Millisecond))
	if r.state != nil {
		r.depart(id, reasonDisconnected)
	}
}

// depart removes a player outside a game, or marks them dropped during one.
// A departing host hands the role to the next player in join order.
func (r *Room) depart(id, reason string) {
	s := r.state
	player, _ := s.Lookup(id)
	if player == nil {
		return
	}

	if s.GameState != internal.GamePlaying {
		s.Remove(id)
		var newHost *internal.Player
		if player.IsHost {
			newHost = r.promoteHost(id)
		}
		if !r.persist() {
			return
		}
		r.broadcast(internal.NewMessage(internal.MsgPlayerLeft, internal.PlayerLeftPayload{
			PlayerID:   player.ID,
			PlayerName: player.Name,
			Reason:     reason,
		}))
		r.announceHost(player.ID, newHost)
		log.Printf("[depart] Room %s: %s removed (%s)", r.code, player.Name, reason)
		return
	}

	player.ConnectionStatus = internal.StatusDropped
	var newHost *internal.Player
	if player.IsHost {
		newHost = r.promoteHost(id)
	}
	if !r.persist() {
		return
	}
	r.broadcast(internal.NewMessage(internal.MsgPlayerConnectionChanged, internal.PlayerConnectionChangedPayload{
		PlayerID: player.ID,
		Status:   internal.StatusDropped,
	}))
	r.announceHost(player.ID, newHost)
	log.Printf("[depart] Room %s: %s dropped mid-game (%s)", r.code, player.Name, reason)
}

// promoteHost moves the host flag away from departingID. It returns the new
// host, or nil if nobody else can take it.
func (r *Room) promoteHost(departingID string) *internal.Player {
	next := internal.NextHost(r.state.Players, departingID)
	if next == nil {
		return nil
	}
	for _, p := range r.state.Players {
		p.IsHost = false
	}
	next.IsHost = true
	return next
}

func (r *Room) announceHost(previousID string, newHost *internal.Player) {
	if newHost == nil {
		return
	}
	r.broadcast(internal.NewMessage(internal.MsgHostTransferred, internal.HostTransferredPayload{
		PreviousHostID: previousID,
		NewHostID:      newHost.ID,
		NewHostName:    newHost.Name,
	}))
}

func (r *Room) handleReconnect(peer Peer, sess *session, payload json.RawMessage) *internal.GameError {
	p, gerr := decodeReconnect(payload)
	if gerr != nil {
		return gerr
	}
	if p.RoomCode != r.code {
		return internal.Errorf(internal.ErrRoomNotFound, "Room %s not found", p.RoomCode)
	}
	if issued, ok := utils.SessionTokenRoom(p.SessionToken); !ok || issued != r.code {
		return internal.Errorf(internal.ErrInvalidSession, "Invalid session token")
	}
	player, spectator := r.state.FindBySessionToken(p.SessionToken)
	if player == nil {
		return internal.Errorf(internal.ErrInvalidSession, "Invalid session token")
	}
	if sess != nil && sess.playerID != player.ID {
		return internal.Errorf(internal.ErrInvalidAction, "This connection belongs to another player")
	}

	r.bind(peer, player, spectator)
	player.ConnectionStatus = internal.StatusConnected
	if !r.persist() {
		return nil
	}

	r.send(peer, internal.NewMessage(internal.MsgReconnectSuccess, r.reconnectSnapshot(player, spectator)))
	r.broadcastExcept(player.ID, internal.NewMessage(internal.MsgPlayerConnectionChanged, internal.PlayerConnectionChangedPayload{
		PlayerID: player.ID,
		Status:   internal.StatusConnected,
	}))

	log.Printf("[reconnect] Room %s: %s reconnected", r.code, player.Name)
	r.track("player_reconnected", map[string]any{"phase": string(r.state.CurrentPhase)})
	return nil
}

func (r *Room) handlePing(peer Peer, sess *session, payload json.RawMessage) *internal.GameError {
	p, gerr := decodePing(payload)
	if gerr != nil {
		return gerr
	}
	if sess != nil {
		sess.lastHeartbeat = r.opts.Now()
	}
	r.send(peer, internal.NewMessage(internal.MsgPong, internal.PongPayload{
		ServerTime: r.opts.Now().UnixMilli(),
		ClientTime: p.ClientTime,
	}))
	return nil
}

// reconnectSnapshot is everything a returning player needs to resume the
// current phase, including their own secret role data.
func (r *Room) reconnectSnapshot(player *internal.Player, spectator bool) internal.ReconnectSuccessPayload {
	s := r.state
	out := internal.ReconnectSuccessPayload{
		RoomCode:     r.code,
		PlayerID:     player.ID,
		IsHost:       player.IsHost,
		IsSpectator:  spectator,
		Config:       s.Config,
		GameState:    s.GameState,
		CurrentPhase: s.CurrentPhase,
		RoundNumber:  s.CurrentRound,
		TotalRounds:  s.Config.Rounds,
		Players:      internal.PublicPlayers(s.Players),
		Spectators:   internal.PublicPlayers(s.Spectators),
		Scores:       s.Scores(),
	}

	rd := s.RoundData
	if s.GameState != internal.GamePlaying || rd == nil {
		return out
	}
	out.TimeRemaining = r.timeRemaining()
	out.MemoryPrompt = rd.MemoryPrompt

	if phaseAtLeast(s.CurrentPhase, internal.PhaseRoles) && !spectator {
		if rd.IsWitness(player.ID) {
			out.Role = internal.RoleWitness
			out.Fragments = rd.Fragments
		} else {
			out.Role = internal.RoleImposter
			out.Hints = rd.Hints
		}
	}
	if phaseAtLeast(s.CurrentPhase, internal.PhaseDetails) {
		out.DetailQuestion = scenario.QuestionAt(rd.DetailQuestions, rd.CurrentQuestionIndex)
		_, out.HasSubmitted = rd.PlayerDetails[player.ID]
	}
	if phaseAtLeast(s.CurrentPhase, internal.PhaseQuestions) {
		out.Details = rd.PlayerDetails
	}
	if phaseAtLeast(s.CurrentPhase, internal.PhaseVoting) {
		_, out.HasVoted = rd.Votes[player.ID]
	}
	if s.CurrentPhase == internal.PhaseResults {
		out.WitnessIDs = rd.WitnessIDs
	}
	return out
}
