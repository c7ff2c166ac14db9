package game

import (
	"slices"

	"github.com/scythe504/dejavu-backend/internal"
)

// Score computes one round's point deltas. A voter who picked any witness
// earns DetectivePoints. Every vote that missed the witnesses is worth
// WitnessPoints, split evenly (rounded down) between the witnesses.
func Score(witnessIDs []string, votes map[string]string) map[string]int {
	deltas := make(map[string]int)
	if len(witnessIDs) == 0 {
		return deltas
	}

	wrong := 0
	for voter, target := range votes {
		if slices.Contains(witnessIDs, target) {
			deltas[voter] += internal.DetectivePoints
		} else {
			wrong++
		}
	}

	share := wrong * internal.WitnessPoints / len(witnessIDs)
	if share > 0 {
		for _, id := range witnessIDs {
			deltas[id] += share
		}
	}
	return deltas
}

// applyRoundScores adds this round's deltas to every player's total and
// updates the award tallies. The returned map has an entry for every
// player, zero included.
func (r *Room) applyRoundScores() map[string]int {
	s := r.state
	rd := s.RoundData
	deltas := Score(rd.WitnessIDs, rd.Votes)

	roundScores := make(map[string]int, len(s.Players))
	for _, p := range s.Players {
		p.Score += deltas[p.ID]
		roundScores[p.ID] = deltas[p.ID]
	}

	if s.Stats == nil {
		s.Stats = make(map[string]*internal.PlayerStats)
	}
	stats := func(id string) *internal.PlayerStats {
		st, ok := s.Stats[id]
		if !ok {
			st = &internal.PlayerStats{}
			s.Stats[id] = st
		}
		return st
	}

	detected := make(map[string]bool)
	for voter, target := range rd.Votes {
		if rd.IsWitness(target) {
			stats(voter).CorrectVotes++
			detected[target] = true
		} else {
			stats(target).VotesAsInnocent++
		}
	}
	for _, id := range rd.WitnessIDs {
		stats(id).RoundsAsWitness++
		if !detected[id] {
			stats(id).TimesUndetected++
		}
	}
	return roundScores
}

// finalResults ranks players by score. Ties keep join order, so the
// earliest joined player wins a tied game.
func (r *Room) finalResults(reason string) internal.GameFinishedPayload {
	s := r.state
	ranked := slices.Clone(s.Players)
	slices.SortStableFunc(ranked, func(a, b *internal.Player) int {
		return b.Score - a.Score
	})

	scores := make([]internal.FinalScore, 0, len(ranked))
	for i, p := range ranked {
		scores = append(scores, internal.FinalScore{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			Score:      p.Score,
			Rank:       i + 1,
		})
	}

	out := internal.GameFinishedPayload{
		Reason:          reason,
		FinalScores:     scores,
		RoundsCompleted: s.CurrentRound,
		RoundsTotal:     s.Config.Rounds,
		Stats: internal.GameStats{
			BestBluff:        r.award(func(st *internal.PlayerStats) int { return st.VotesAsInnocent }),
			BestDetective:    r.award(func(st *internal.PlayerStats) int { return st.CorrectVotes }),
			SneakiestWitness: r.award(func(st *internal.PlayerStats) int { return st.TimesUndetected }),
		},
	}
	if len(scores) > 0 {
		winner := scores[0]
		out.Winner = &winner
	}
	return out
}

// award picks the player with the highest positive tally, earliest joined
// on ties.
func (r *Room) award(value func(*internal.PlayerStats) int) *internal.Award {
	var best *internal.Award
	for _, p := range r.state.Players {
		st, ok := r.state.Stats[p.ID]
		if !ok {
			continue
		}
		v := value(st)
		if v > 0 && (best == nil || v > best.Value) {
			best = &internal.Award{PlayerID: p.ID, PlayerName: p.Name, Value: v}
		}
	}
	return best
}
