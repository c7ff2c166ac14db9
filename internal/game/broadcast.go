package game

import (
	"encoding/json"
	"log"

	"github.com/scythe504/dejavu-backend/internal"
)

// =============================================================================
// BROADCASTING
// =============================================================================

func encode(msg any) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[encode] Failed to marshal outbound message: %v", err)
		return nil, false
	}
	return data, true
}

// send is fire-and-forget: a slow or closed socket only loses this frame.
func (r *Room) send(peer Peer, msg any) {
	data, ok := encode(msg)
	if !ok {
		return
	}
	if err := peer.Send(data); err != nil {
		r.logf("[send] Room %s: dropped frame: %v", r.code, err)
	}
}

func (r *Room) sendError(peer Peer, gerr *internal.GameError) {
	r.logf("[sendError] Room %s: %s", r.code, gerr)
	r.send(peer, internal.NewMessage(internal.MsgError, gerr.Payload()))
}

func (r *Room) sendTo(playerID string, msg any) {
	if s, ok := r.sessions[playerID]; ok {
		r.send(s.peer, msg)
	}
}

func (r *Room) broadcast(msg any) {
	r.broadcastExcept("", msg)
}

// broadcastExcept sends msg to every live session except exceptID.
func (r *Room) broadcastExcept(exceptID string, msg any) {
	data, ok := encode(msg)
	if !ok {
		return
	}
	sent := 0
	for id, s := range r.sessions {
		if id == exceptID {
			continue
		}
		if err := s.peer.Send(data); err != nil {
			r.logf("[broadcast] Room %s: dropped frame for %s: %v", r.code, id, err)
			continue
		}
		sent++
	}
	r.logf("[broadcast] Room %s: sent to %d sessions", r.code, sent)
}

func (r *Room) timeRemaining() int64 {
	return r.state.TimeRemaining(r.opts.Now())
}
