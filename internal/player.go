package internal

import (
	"regexp"
	"strings"
)

var playerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidPlayerName reports whether name is 1-20 characters of letters,
// digits, underscore or hyphen.
func ValidPlayerName(name string) bool {
	return len(name) >= 1 && len(name) <= PlayerNameMax && playerNamePattern.MatchString(name)
}

func SameName(a, b string) bool {
	return strings.EqualFold(a, b)
}

func (p *Player) ToPublicPlayer() PublicPlayer {
	return PublicPlayer{
		ID:               p.ID,
		Name:             p.Name,
		IsHost:           p.IsHost,
		IsReady:          p.IsReady,
		ConnectionStatus: p.ConnectionStatus,
		Score:            p.Score,
	}
}

func (p *Player) Ref() PlayerRef {
	return PlayerRef{ID: p.ID, Name: p.Name}
}

func (p *Player) IsDropped() bool {
	return p.ConnectionStatus == StatusDropped
}

func PublicPlayers(players []*Player) []PublicPlayer {
	out := make([]PublicPlayer, 0, len(players))
	for _, p := range players {
		out = append(out, p.ToPublicPlayer())
	}
	return out
}
