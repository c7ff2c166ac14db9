package game

import (
	"encoding/json"

	"github.com/scythe504/dejavu-backend/internal"
)

// =============================================================================
// DETAILS & VOTES
// =============================================================================

// handleSubmitDetail records a player's answer. Only the first answer
// counts; repeats are dropped without a reply.
func (r *Room) handleSubmitDetail(peer Peer, sess *session, payload json.RawMessage) *internal.GameError {
	p, gerr := decodeSubmitDetail(payload)
	if gerr != nil {
		return gerr
	}
	s := r.state
	if s.GameState != internal.GamePlaying || s.CurrentPhase != internal.PhaseDetails || s.RoundData == nil {
		return internal.Errorf(internal.ErrInvalidAction, "Details can only be submitted during the details phase")
	}
	if sess.spectator {
		return internal.Errorf(internal.ErrInvalidAction, "Spectators cannot submit details")
	}
	player := s.FindPlayer(sess.playerID)
	if player == nil {
		return internal.Errorf(internal.ErrInvalidSession, "Player not found")
	}
	if _, done := s.RoundData.PlayerDetails[player.ID]; done {
		return nil
	}

	s.RoundData.PlayerDetails[player.ID] = p.Answer
	if !r.persist() {
		return nil
	}
	r.broadcast(internal.NewMessage(internal.MsgPlayerSubmittedDetail, internal.PlayerSubmittedDetailPayload{
		PlayerID:   player.ID,
		PlayerName: player.Name,
	}))

	if s.AllSubmitted() {
		r.advance(internal.PhaseDetails, s.CurrentRound)
	}
	return nil
}

func (r *Room) handleCastVote(peer Peer, sess *session, payload json.RawMessage) *internal.GameError {
	p, gerr := decodeCastVote(payload)
	if gerr != nil {
		return gerr
	}
	s := r.state
	if s.GameState != internal.GamePlaying || s.CurrentPhase != internal.PhaseVoting || s.RoundData == nil {
		return internal.Errorf(internal.ErrInvalidAction, "Votes can only be cast during the voting phase")
	}
	if sess.spectator {
		return internal.Errorf(internal.ErrInvalidAction, "Spectators cannot vote")
	}
	voter := s.FindPlayer(sess.playerID)
	if voter == nil {
		return internal.Errorf(internal.ErrInvalidSession, "Player not found")
	}
	if _, voted := s.RoundData.Votes[voter.ID]; voted {
		return internal.Errorf(internal.ErrInvalidAction, "You have already voted")
	}
	if p.TargetPlayerID == voter.ID {
		return internal.Errorf(internal.ErrInvalidAction, "You cannot vote for yourself")
	}
	if s.FindPlayer(p.TargetPlayerID) == nil {
		return internal.Errorf(internal.ErrInvalidAction, "Unknown vote target")
	}

	s.RoundData.Votes[voter.ID] = p.TargetPlayerID
	if !r.persist() {
		return nil
	}
	r.broadcast(internal.NewMessage(internal.MsgPlayerVoted, internal.PlayerVotedPayload{
		PlayerID:   voter.ID,
		PlayerName: voter.Name,
	}))

	if s.AllVoted() {
		r.advance(internal.PhaseVoting, s.CurrentRound)
	}
	return nil
}

// handleContinueGame lets the host skip the rest of the results phase.
func (r *Room) handleContinueGame(peer Peer, sess *session, payload json.RawMessage) *internal.GameError {
	player := r.state.FindPlayer(sess.playerID)
	if player == nil || !player.IsHost {
		return internal.Errorf(internal.ErrNotHost, "Only the host can continue the game")
	}
	if r.state.GameState != internal.GamePlaying || r.state.CurrentPhase != internal.PhaseResults {
		return internal.Errorf(internal.ErrInvalidAction, "The game can only be continued from the results")
	}
	r.advance(internal.PhaseResults, r.state.CurrentRound)
	return nil
}
