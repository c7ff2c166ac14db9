package internal

import (
	"crypto/subtle"
	"encoding/json"
	"slices"
	"time"
)

// Methods (RoomState Struct)

func (r *RoomState) FindPlayer(id string) *Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Lookup finds id among players and then spectators.
func (r *RoomState) Lookup(id string) (p *Player, spectator bool) {
	if p := r.FindPlayer(id); p != nil {
		return p, false
	}
	for _, s := range r.Spectators {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// FindBySessionToken compares token against every player and spectator in
// constant time per candidate.
func (r *RoomState) FindBySessionToken(token string) (p *Player, spectator bool) {
	if token == "" {
		return nil, false
	}
	match := func(c *Player) bool {
		return subtle.ConstantTimeCompare([]byte(c.SessionToken), []byte(token)) == 1
	}
	for _, c := range r.Players {
		if match(c) {
			return c, false
		}
	}
	for _, c := range r.Spectators {
		if match(c) {
			return c, true
		}
	}
	return nil, false
}

func (r *RoomState) NameTaken(name string) bool {
	for _, p := range r.Players {
		if SameName(p.Name, name) {
			return true
		}
	}
	for _, s := range r.Spectators {
		if SameName(s.Name, name) {
			return true
		}
	}
	return false
}

// Remove deletes id from players or spectators, keeping join order.
func (r *RoomState) Remove(id string) {
	match := func(p *Player) bool { return p.ID == id }
	r.Players = slices.DeleteFunc(r.Players, match)
	r.Spectators = slices.DeleteFunc(r.Spectators, match)
}

func (r *RoomState) Host() *Player {
	for _, p := range r.Players {
		if p.IsHost {
			return p
		}
	}
	return nil
}

func (r *RoomState) ReadyCount() int {
	count := 0
	for _, p := range r.Players {
		if p.IsReady {
			count++
		}
	}
	return count
}

func (r *RoomState) PlayerIDs() []string {
	ids := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		ids = append(ids, p.ID)
	}
	return ids
}

func (r *RoomState) Scores() map[string]int {
	scores := make(map[string]int, len(r.Players))
	for _, p := range r.Players {
		scores[p.ID] = p.Score
	}
	return scores
}

func (r *RoomState) IsFull() bool {
	return len(r.Players) >= r.Config.MaxPlayers
}

// AllSubmitted reports whether every player has a detail on record.
func (r *RoomState) AllSubmitted() bool {
	if r.RoundData == nil || len(r.Players) == 0 {
		return false
	}
	return len(r.RoundData.PlayerDetails) >= len(r.Players)
}

// AllVoted reports whether every player has cast a vote.
func (r *RoomState) AllVoted() bool {
	if r.RoundData == nil || len(r.Players) == 0 {
		return false
	}
	return len(r.RoundData.Votes) >= len(r.Players)
}

// TimeRemaining is the time left in the current phase in milliseconds.
func (r *RoomState) TimeRemaining(now time.Time) int64 {
	return max(r.PhaseEndTime-now.UnixMilli(), 0)
}

// Clone returns a deep copy through the persisted representation.
func (r *RoomState) Clone() (*RoomState, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var out RoomState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *RoundData) IsWitness(id string) bool {
	return slices.Contains(d.WitnessIDs, id)
}

// NextHost picks who inherits the host role when departingID leaves: the
// first other player in join order who is still connected, otherwise the
// first other player at all. It returns nil when nobody else is left.
func NextHost(players []*Player, departingID string) *Player {
	var fallback *Player
	for _, p := range players {
		if p.ID == departingID {
			continue
		}
		if !p.IsDropped() {
			return p
		}
		if fallback == nil {
			fallback = p
		}
	}
	return fallback
}

// WitnessCountFor resolves the configured witness count for n players. A
// fixed setting is clamped to [1, n-1]; auto gives one witness up to four
// players and min(2, n/3) above that.
func WitnessCountFor(setting WitnessCount, n int) int {
	if n <= 1 {
		return min(n, 1)
	}
	if setting != WitnessAuto {
		return max(1, min(int(setting), n-1))
	}
	if n <= 4 {
		return 1
	}
	return max(1, min(2, n/3))
}
