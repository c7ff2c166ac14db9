package game

import (
	"encoding/json"

	"github.com/scythe504/dejavu-backend/internal"
)

// =============================================================================
// MESSAGE ROUTING
// =============================================================================

type handlerFunc func(r *Room, peer Peer, sess *session, payload json.RawMessage) *internal.GameError

type route struct {
	handle handlerFunc
	// bound handlers need a player or spectator already attached to the socket.
	bound bool
}

var routes = map[string]route{
	internal.MsgCreateRoom:   {handle: (*Room).handleCreateRoom},
	internal.MsgJoinRoom:     {handle: (*Room).handleJoinRoom},
	internal.MsgReconnect:    {handle: (*Room).handleReconnect},
	internal.MsgPing:         {handle: (*Room).handlePing},
	internal.MsgSetReady:     {handle: (*Room).handleSetReady, bound: true},
	internal.MsgStartGame:    {handle: (*Room).handleStartGame, bound: true},
	internal.MsgLeaveRoom:    {handle: (*Room).handleLeaveRoom, bound: true},
	internal.MsgSubmitDetail: {handle: (*Room).handleSubmitDetail, bound: true},
	internal.MsgCastVote:     {handle: (*Room).handleCastVote, bound: true},
	internal.MsgContinueGame: {handle: (*Room).handleContinueGame, bound: true},
}

// route validates one frame and hands it to its handler. Rejections are
// reported to the sender only.
func (r *Room) route(peer Peer, raw []byte) {
	kind, payload, gerr := decodeEnvelope(raw)
	if gerr != nil {
		r.sendError(peer, gerr)
		return
	}

	rt, ok := routes[kind]
	if !ok {
		r.sendError(peer, invalid("Unknown message type %q", kind))
		return
	}

	if r.state == nil {
		r.sendError(peer, internal.Errorf(internal.ErrRoomNotFound, "Room %s does not exist", r.code))
		return
	}

	var sess *session
	if id, ok := r.peers[peer]; ok {
		sess = r.sessions[id]
	}
	if rt.bound && sess == nil {
		r.sendError(peer, internal.Errorf(internal.ErrInvalidSession, "Join the room first"))
		return
	}

	if gerr := rt.handle(r, peer, sess, payload); gerr != nil {
		r.sendError(peer, gerr)
	}
}
