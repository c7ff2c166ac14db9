package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scythe504/dejavu-backend/internal"
	"github.com/scythe504/dejavu-backend/internal/scenario"
	"github.com/scythe504/dejavu-backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoom = "ABC234"

func testConfig() map[string]any {
	return map[string]any{
		"rounds":          3,
		"timeScale":       1,
		"maxPlayers":      6,
		"witnessCount":    "auto",
		"allowSpectators": true,
		"voiceEnabled":    false,
	}
}

// =============================================================================
// FAKES
// =============================================================================

type fakePeer struct {
	mu     sync.Mutex
	frames []internal.Message[json.RawMessage]
	closed bool
}

func (p *fakePeer) Send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errClientClosed
	}
	var msg internal.Message[json.RawMessage]
	if err := json.Unmarshal(frame, &msg); err != nil {
		return err
	}
	p.frames = append(p.frames, msg)
	return nil
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) count(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, f := range p.frames {
		if f.Type == kind {
			n++
		}
	}
	return n
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

func lastPayload[T any](t *testing.T, p *fakePeer, kind string) T {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out T
	for i := len(p.frames) - 1; i >= 0; i-- {
		if p.frames[i].Type == kind {
			require.NoError(t, json.Unmarshal(p.frames[i].Payload, &out))
			return out
		}
	}
	require.Failf(t, "missing frame", "no %s frame received", kind)
	return out
}

func lastError(t *testing.T, p *fakePeer) internal.ErrorCode {
	t.Helper()
	return lastPayload[internal.ErrorPayload](t, p, internal.MsgError).Code
}

type fakeAlarms struct {
	mu    sync.Mutex
	armed map[string]internal.Alarm
}

func newFakeAlarms() *fakeAlarms {
	return &fakeAlarms{armed: make(map[string]internal.Alarm)}
}

func (f *fakeAlarms) Arm(code string, a internal.Alarm) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[code] = a
}

func (f *fakeAlarms) Disarm(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, code)
}

func (f *fakeAlarms) get(code string) (internal.Alarm, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.armed[code]
	return a, ok
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// flakyStore fails every write once failPuts is set.
type flakyStore struct {
	*store.Memory
	failPuts atomic.Bool
}

func (s *flakyStore) Put(ctx context.Context, room, key string, value []byte) error {
	if s.failPuts.Load() {
		return errors.New("disk unavailable")
	}
	return s.Memory.Put(ctx, room, key, value)
}

// =============================================================================
// HARNESS
// =============================================================================

type seat struct {
	peer  *fakePeer
	id    string
	token string
}

type harness struct {
	t      *testing.T
	room   *Room
	store  store.Store
	alarms *fakeAlarms
	clock  *testClock
}

func testOptions(clock *testClock) Options {
	return Options{
		Scenarios: scenario.NewStatic([]scenario.Scenario{scenario.Default()}),
		Now:       clock.Now,
		Shuffle:   func(int, func(i, j int)) {},
	}
}

func newHarness(t *testing.T, st store.Store) *harness {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	h := &harness{
		t:      t,
		store:  st,
		alarms: newFakeAlarms(),
		clock:  &testClock{now: time.UnixMilli(1_700_000_000_000)},
	}
	h.room = newRoom(testRoom, st, h.alarms, testOptions(h.clock), nil)
	t.Cleanup(h.room.Stop)

	created, err := h.room.create(context.Background())
	require.NoError(t, err)
	require.True(t, created)
	return h
}

func (h *harness) send(p *fakePeer, kind string, payload any) {
	h.t.Helper()
	raw, err := json.Marshal(map[string]any{"type": kind, "payload": payload})
	require.NoError(h.t, err)
	require.NoError(h.t, h.room.HandleMessage(context.Background(), p, raw))
}

func (h *harness) sendRaw(p *fakePeer, raw string) {
	h.t.Helper()
	require.NoError(h.t, h.room.HandleMessage(context.Background(), p, []byte(raw)))
}

func (h *harness) close(p *fakePeer) {
	h.t.Helper()
	p.Close()
	require.NoError(h.t, h.room.HandleClose(context.Background(), p))
}

func (h *harness) createRoom(name string, cfg map[string]any) seat {
	h.t.Helper()
	p := &fakePeer{}
	h.send(p, internal.MsgCreateRoom, map[string]any{"playerName": name, "config": cfg})
	joined := lastPayload[internal.RoomJoinedPayload](h.t, p, internal.MsgRoomJoined)
	return seat{peer: p, id: joined.PlayerID, token: joined.SessionToken}
}

func (h *harness) join(name string, spectator bool) seat {
	h.t.Helper()
	p := &fakePeer{}
	h.send(p, internal.MsgJoinRoom, map[string]any{"roomCode": testRoom, "playerName": name, "asSpectator": spectator})
	joined := lastPayload[internal.RoomJoinedPayload](h.t, p, internal.MsgRoomJoined)
	return seat{peer: p, id: joined.PlayerID, token: joined.SessionToken}
}

// lobby seats n ready players. The first is the host.
func (h *harness) lobby(n int, cfg map[string]any) []seat {
	h.t.Helper()
	seats := []seat{h.createRoom("p0", cfg)}
	for i := 1; i < n; i++ {
		seats = append(seats, h.join(fmt.Sprintf("p%d", i), false))
	}
	for _, s := range seats {
		h.send(s.peer, internal.MsgSetReady, map[string]any{"ready": true})
	}
	return seats
}

func (h *harness) start(n int, cfg map[string]any) []seat {
	h.t.Helper()
	seats := h.lobby(n, cfg)
	h.send(seats[0].peer, internal.MsgStartGame, nil)
	require.Equal(h.t, internal.PhaseMemory, h.state().CurrentPhase)
	return seats
}

// fire moves the clock to the armed alarm and delivers it.
func (h *harness) fire() internal.Alarm {
	h.t.Helper()
	a, ok := h.alarms.get(testRoom)
	require.True(h.t, ok, "no alarm armed")
	h.clock.Set(a.Time())
	require.NoError(h.t, h.room.HandleAlarm(context.Background(), a))
	return a
}

// fireUntil fires alarms until the room reaches phase.
func (h *harness) fireUntil(phase internal.Phase) {
	h.t.Helper()
	for range len(phaseOrder) + 1 {
		if h.state().CurrentPhase == phase {
			return
		}
		h.fire()
	}
	require.Equal(h.t, phase, h.state().CurrentPhase)
}

// heartbeat reads the last heartbeat recorded for a bound player.
func (h *harness) heartbeat(id string) time.Time {
	h.t.Helper()
	var at time.Time
	require.NoError(h.t, h.room.do(context.Background(), func() {
		if sess := h.room.sessions[id]; sess != nil {
			at = sess.lastHeartbeat
		}
	}))
	return at
}

func (h *harness) state() *internal.RoomState {
	h.t.Helper()
	s, err := h.room.State(context.Background())
	require.NoError(h.t, err)
	require.NotNil(h.t, s)
	return s
}

// =============================================================================
// LOBBY
// =============================================================================

func TestCreateRoomAppliesConfigAndMakesHost(t *testing.T) {
	h := newHarness(t, nil)
	cfg := testConfig()
	cfg["rounds"] = 7
	cfg["witnessCount"] = 2

	host := h.createRoom("alice", cfg)

	joined := lastPayload[internal.RoomJoinedPayload](t, host.peer, internal.MsgRoomJoined)
	assert.True(t, joined.IsHost)
	assert.Equal(t, testRoom, joined.RoomCode)
	assert.NotEmpty(t, joined.SessionToken)
	assert.Equal(t, 7, joined.Config.Rounds)
	assert.Equal(t, internal.WitnessCount(2), joined.Config.WitnessCount)

	s := h.state()
	require.Len(t, s.Players, 1)
	assert.True(t, s.Players[0].IsHost)
	assert.Equal(t, 7, s.Config.Rounds)

	other := &fakePeer{}
	h.send(other, internal.MsgCreateRoom, map[string]any{"playerName": "bob", "config": testConfig()})
	assert.Equal(t, internal.ErrInvalidAction, lastError(t, other))
}

func TestJoinRoomNotifiesOthers(t *testing.T) {
	h := newHarness(t, nil)
	host := h.createRoom("alice", testConfig())

	bob := h.join("bob", false)

	joined := lastPayload[internal.PlayerJoinedPayload](t, host.peer, internal.MsgPlayerJoined)
	assert.Equal(t, bob.id, joined.Player.ID)
	assert.Equal(t, "bob", joined.Player.Name)
	assert.Zero(t, bob.peer.count(internal.MsgPlayerJoined), "the joiner gets room_joined only")

	roomJoined := lastPayload[internal.RoomJoinedPayload](t, bob.peer, internal.MsgRoomJoined)
	assert.False(t, roomJoined.IsHost)
	assert.Len(t, roomJoined.Players, 2)
}

func TestJoinRejections(t *testing.T) {
	h := newHarness(t, nil)
	cfg := testConfig()
	cfg["maxPlayers"] = 3
	cfg["allowSpectators"] = false
	host := h.createRoom("alice", cfg)
	h.join("bob", false)

	p := &fakePeer{}
	h.send(p, internal.MsgJoinRoom, map[string]any{"roomCode": testRoom, "playerName": "ALICE"})
	assert.Equal(t, internal.ErrNameTaken, lastError(t, p))

	h.send(p, internal.MsgJoinRoom, map[string]any{"roomCode": testRoom, "playerName": "carol", "asSpectator": true})
	assert.Equal(t, internal.ErrInvalidAction, lastError(t, p))

	h.send(p, internal.MsgJoinRoom, map[string]any{"roomCode": "ZZZ999", "playerName": "carol"})
	assert.Equal(t, internal.ErrRoomNotFound, lastError(t, p))

	h.send(p, internal.MsgJoinRoom, map[string]any{"roomCode": testRoom, "playerName": "bad name!"})
	assert.Equal(t, internal.ErrInvalidMessage, lastError(t, p))

	h.join("carol", false)
	h.send(p, internal.MsgJoinRoom, map[string]any{"roomCode": testRoom, "playerName": "dave"})
	assert.Equal(t, internal.ErrRoomFull, lastError(t, p))

	h.send(host.peer, internal.MsgJoinRoom, map[string]any{"roomCode": testRoom, "playerName": "again"})
	assert.Equal(t, internal.ErrInvalidAction, lastError(t, host.peer))

	assert.Len(t, h.state().Players, 3)
}

func TestJoinDuringGame(t *testing.T) {
	h := newHarness(t, nil)
	h.start(3, testConfig())

	p := &fakePeer{}
	h.send(p, internal.MsgJoinRoom, map[string]any{"roomCode": testRoom, "playerName": "late"})
	assert.Equal(t, internal.ErrGameInProgress, lastError(t, p))

	watcher := h.join("watcher", true)
	joined := lastPayload[internal.RoomJoinedPayload](t, watcher.peer, internal.MsgRoomJoined)
	assert.True(t, joined.IsSpectator)
	assert.Equal(t, internal.GamePlaying, joined.GameState)

	s := h.state()
	assert.Len(t, s.Players, 3)
	assert.Len(t, s.Spectators, 1)
}

func TestMessagesBeforeCreate(t *testing.T) {
	alarms := newFakeAlarms()
	clock := &testClock{now: time.Now()}
	room := newRoom("NEW234", store.NewMemory(), alarms, testOptions(clock), nil)
	t.Cleanup(room.Stop)
	require.NoError(t, room.load(context.Background()))

	p := &fakePeer{}
	raw := `{"type":"join_room","payload":{"roomCode":"NEW234","playerName":"alice"}}`
	require.NoError(t, room.HandleMessage(context.Background(), p, []byte(raw)))
	assert.Equal(t, internal.ErrRoomNotFound, lastError(t, p))
}

func TestUnboundSocketIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.createRoom("alice", testConfig())

	p := &fakePeer{}
	for _, kind := range []string{internal.MsgSetReady, internal.MsgStartGame, internal.MsgCastVote, internal.MsgLeaveRoom} {
		p.reset()
		h.send(p, kind, map[string]any{"ready": true, "targetPlayerId": "x"})
		assert.Equal(t, internal.ErrInvalidSession, lastError(t, p), kind)
	}
}

func TestMalformedFrames(t *testing.T) {
	h := newHarness(t, nil)
	host := h.createRoom("alice", testConfig())

	for _, raw := range []string{
		`not json`,
		`{"payload":{}}`,
		`{"type":"fly_away","payload":{}}`,
		`{"type":"set_ready","payload":[true]}`,
		`{"type":"set_ready","payload":{}}`,
		`{"type":"set_ready","payload":{"ready":"yes"}}`,
	} {
		host.peer.reset()
		h.sendRaw(host.peer, raw)
		assert.Equal(t, internal.ErrInvalidMessage, lastError(t, host.peer), raw)
	}
	assert.False(t, host.peer.isClosed(), "rejections never close the socket")
}

func TestSetReadyBroadcasts(t *testing.T) {
	h := newHarness(t, nil)
	host := h.createRoom("alice", testConfig())
	bob := h.join("bob", false)

	h.send(bob.peer, internal.MsgSetReady, map[string]any{"ready": true})

	changed := lastPayload[internal.PlayerReadyChangedPayload](t, host.peer, internal.MsgPlayerReadyChanged)
	assert.Equal(t, bob.id, changed.PlayerID)
	assert.True(t, changed.Ready)
	assert.Equal(t, 1, h.state().ReadyCount())
}

func TestStartGameRules(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.lobby(2, testConfig())

	h.send(seats[1].peer, internal.MsgStartGame, nil)
	assert.Equal(t, internal.ErrNotHost, lastError(t, seats[1].peer))

	h.send(seats[0].peer, internal.MsgStartGame, nil)
	assert.Equal(t, internal.ErrInvalidAction, lastError(t, seats[0].peer))

	third := h.join("p2", false)
	h.send(seats[0].peer, internal.MsgStartGame, nil)
	assert.Equal(t, internal.ErrInvalidAction, lastError(t, seats[0].peer), "p2 is not ready yet")

	h.send(third.peer, internal.MsgSetReady, map[string]any{"ready": true})
	h.send(seats[0].peer, internal.MsgStartGame, nil)
	assert.Equal(t, internal.GamePlaying, h.state().GameState)

	h.send(seats[0].peer, internal.MsgStartGame, nil)
	assert.Equal(t, internal.ErrGameInProgress, lastError(t, seats[0].peer))
}

func TestHostLeavesLobby(t *testing.T) {
	h := newHarness(t, nil)
	host := h.createRoom("alice", testConfig())
	bob := h.join("bob", false)
	h.join("carol", false)

	h.send(host.peer, internal.MsgLeaveRoom, nil)

	assert.True(t, host.peer.isClosed())
	left := lastPayload[internal.PlayerLeftPayload](t, bob.peer, internal.MsgPlayerLeft)
	assert.Equal(t, host.id, left.PlayerID)
	assert.Equal(t, reasonLeft, left.Reason)

	transferred := lastPayload[internal.HostTransferredPayload](t, bob.peer, internal.MsgHostTransferred)
	assert.Equal(t, host.id, transferred.PreviousHostID)
	assert.Equal(t, bob.id, transferred.NewHostID)

	s := h.state()
	require.Len(t, s.Players, 2)
	assert.Equal(t, bob.id, s.Host().ID)
}

func TestDisconnectInLobbyRemovesPlayer(t *testing.T) {
	h := newHarness(t, nil)
	host := h.createRoom("alice", testConfig())
	bob := h.join("bob", false)

	h.close(bob.peer)

	left := lastPayload[internal.PlayerLeftPayload](t, host.peer, internal.MsgPlayerLeft)
	assert.Equal(t, reasonDisconnected, left.Reason)
	assert.Len(t, h.state().Players, 1)
}

func TestPing(t *testing.T) {
	h := newHarness(t, nil)
	p := &fakePeer{}

	h.send(p, internal.MsgPing, map[string]any{"clientTime": 1234.5})

	pong := lastPayload[internal.PongPayload](t, p, internal.MsgPong)
	assert.Equal(t, 1234.5, pong.ClientTime)
	assert.Equal(t, h.clock.Now().UnixMilli(), pong.ServerTime)
}

func TestPingRefreshesHeartbeat(t *testing.T) {
	h := newHarness(t, nil)
	host := h.createRoom("alice", testConfig())
	joinedAt := h.heartbeat(host.id)
	assert.Equal(t, h.clock.Now(), joinedAt)

	h.clock.Set(joinedAt.Add(15 * time.Second))
	h.send(host.peer, internal.MsgPing, map[string]any{"clientTime": 1})
	assert.Equal(t, joinedAt.Add(15*time.Second), h.heartbeat(host.id))
}

// =============================================================================
// GAME FLOW
// =============================================================================

func TestFullRound(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())
	witness, voter, bystander := seats[0], seats[1], seats[2]
	sc := scenario.Default()

	started := lastPayload[internal.GameStartedPayload](t, voter.peer, internal.MsgGameStarted)
	assert.Equal(t, 3, started.TotalRounds)
	assert.Len(t, started.Players, 3)

	memory := lastPayload[internal.MemoryRevealedPayload](t, voter.peer, internal.MsgMemoryRevealed)
	assert.Equal(t, sc.Prompt, memory.Prompt)
	assert.Equal(t, internal.MemoryPhaseDuration.Milliseconds(), memory.TimeRemaining)

	a, ok := h.alarms.get(testRoom)
	require.True(t, ok)
	assert.Equal(t, internal.PhaseMemory, a.Phase)
	assert.Equal(t, 1, a.Round)

	h.fire()
	role := lastPayload[internal.RoleAssignedPayload](t, witness.peer, internal.MsgRoleAssigned)
	assert.Equal(t, internal.RoleWitness, role.Role)
	assert.Equal(t, sc.Fragments, role.Fragments)
	assert.Empty(t, role.Hints)

	role = lastPayload[internal.RoleAssignedPayload](t, voter.peer, internal.MsgRoleAssigned)
	assert.Equal(t, internal.RoleImposter, role.Role)
	assert.Equal(t, sc.Hints, role.Hints)
	assert.Empty(t, role.Fragments)

	h.fire()
	question := lastPayload[internal.DetailQuestionPayload](t, bystander.peer, internal.MsgDetailQuestion)
	assert.Equal(t, 0, question.QuestionIndex)
	assert.Equal(t, sc.DetailQuestions[0], question.Question)

	for i, s := range seats {
		h.send(s.peer, internal.MsgSubmitDetail, map[string]any{"answer": fmt.Sprintf("answer %d", i)})
	}
	assert.Equal(t, 3, witness.peer.count(internal.MsgPlayerSubmittedDetail))
	revealed := lastPayload[internal.DetailsRevealedPayload](t, bystander.peer, internal.MsgDetailsRevealed)
	assert.Equal(t, "answer 1", revealed.Details[voter.id])
	assert.Equal(t, internal.PhaseQuestions, h.state().CurrentPhase, "details end early once everyone answered")

	h.fire()
	lastPayload[internal.VotingStartedPayload](t, voter.peer, internal.MsgVotingStarted)

	h.send(voter.peer, internal.MsgCastVote, map[string]any{"targetPlayerId": witness.id})
	h.send(bystander.peer, internal.MsgCastVote, map[string]any{"targetPlayerId": voter.id})
	h.send(witness.peer, internal.MsgCastVote, map[string]any{"targetPlayerId": voter.id})

	results := lastPayload[internal.RoundResultsPayload](t, bystander.peer, internal.MsgRoundResults)
	assert.Equal(t, 1, results.RoundNumber)
	assert.Equal(t, []string{witness.id}, results.WitnessIDs)
	assert.Equal(t, []string{"p0"}, results.WitnessNames)
	assert.Equal(t, map[string]int{witness.id: 10, voter.id: 10, bystander.id: 0}, results.RoundScores)
	assert.Equal(t, map[string]int{witness.id: 10, voter.id: 10, bystander.id: 0}, results.TotalScores)

	s := h.state()
	assert.Equal(t, internal.PhaseResults, s.CurrentPhase)
	assert.Equal(t, 1, s.Stats[voter.id].CorrectVotes)
	assert.Equal(t, 2, s.Stats[voter.id].VotesAsInnocent)
	assert.Equal(t, 1, s.Stats[witness.id].RoundsAsWitness)
	assert.Zero(t, s.Stats[witness.id].TimesUndetected)

	h.fire()
	round := lastPayload[internal.RoundStartedPayload](t, voter.peer, internal.MsgRoundStarted)
	assert.Equal(t, 2, round.RoundNumber)
	assert.Equal(t, internal.PhaseMemory, h.state().CurrentPhase)
}

func TestDetailsAutoFill(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())
	h.fireUntil(internal.PhaseDetails)

	h.send(seats[0].peer, internal.MsgSubmitDetail, map[string]any{"answer": "the red door"})
	h.fire()

	revealed := lastPayload[internal.DetailsRevealedPayload](t, seats[1].peer, internal.MsgDetailsRevealed)
	assert.Equal(t, "the red door", revealed.Details[seats[0].id])
	assert.Equal(t, internal.AutoSubmitAnswer, revealed.Details[seats[1].id])
	assert.Equal(t, internal.AutoSubmitAnswer, revealed.Details[seats[2].id])
}

func TestDuplicateDetailIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())
	h.fireUntil(internal.PhaseDetails)

	h.send(seats[0].peer, internal.MsgSubmitDetail, map[string]any{"answer": "first"})
	h.send(seats[0].peer, internal.MsgSubmitDetail, map[string]any{"answer": "second"})

	assert.Zero(t, seats[0].peer.count(internal.MsgError))
	assert.Equal(t, 1, seats[1].peer.count(internal.MsgPlayerSubmittedDetail))
	assert.Equal(t, "first", h.state().RoundData.PlayerDetails[seats[0].id])
}

func TestSubmitOutsidePhase(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())

	h.send(seats[0].peer, internal.MsgSubmitDetail, map[string]any{"answer": "early"})
	assert.Equal(t, internal.ErrInvalidAction, lastError(t, seats[0].peer))

	h.send(seats[0].peer, internal.MsgCastVote, map[string]any{"targetPlayerId": seats[1].id})
	assert.Equal(t, internal.ErrInvalidAction, lastError(t, seats[0].peer))

	long := make([]rune, internal.DetailAnswerMax+1)
	for i := range long {
		long[i] = 'x'
	}
	h.fireUntil(internal.PhaseDetails)
	h.send(seats[0].peer, internal.MsgSubmitDetail, map[string]any{"answer": string(long)})
	assert.Equal(t, internal.ErrInvalidMessage, lastError(t, seats[0].peer))
}

func TestVoteRejections(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(4, testConfig())
	h.fireUntil(internal.PhaseVoting)

	h.send(seats[1].peer, internal.MsgCastVote, map[string]any{"targetPlayerId": seats[1].id})
	assert.Equal(t, internal.ErrInvalidAction, lastError(t, seats[1].peer))

	h.send(seats[1].peer, internal.MsgCastVote, map[string]any{"targetPlayerId": "nobody"})
	assert.Equal(t, internal.ErrInvalidAction, lastError(t, seats[1].peer))

	h.send(seats[1].peer, internal.MsgCastVote, map[string]any{"targetPlayerId": seats[0].id})
	assert.Equal(t, 1, seats[2].peer.count(internal.MsgPlayerVoted))

	h.send(seats[1].peer, internal.MsgCastVote, map[string]any{"targetPlayerId": seats[2].id})
	assert.Equal(t, internal.ErrInvalidAction, lastError(t, seats[1].peer))
	assert.Equal(t, seats[0].id, h.state().RoundData.Votes[seats[1].id])
}

func TestStaleAlarmIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())
	h.fireUntil(internal.PhaseDetails)
	detailsAlarm, ok := h.alarms.get(testRoom)
	require.True(t, ok)

	for _, s := range seats {
		h.send(s.peer, internal.MsgSubmitDetail, map[string]any{"answer": "same"})
	}
	require.Equal(t, internal.PhaseQuestions, h.state().CurrentPhase)

	require.NoError(t, h.room.HandleAlarm(context.Background(), detailsAlarm))
	require.NoError(t, h.room.HandleAlarm(context.Background(), detailsAlarm))

	s := h.state()
	assert.Equal(t, internal.PhaseQuestions, s.CurrentPhase)
	assert.Equal(t, 1, seats[0].peer.count(internal.MsgDetailsRevealed))
	assert.Zero(t, seats[0].peer.count(internal.MsgVotingStarted))
}

func TestTimeScaleShortensPhases(t *testing.T) {
	h := newHarness(t, nil)
	cfg := testConfig()
	cfg["timeScale"] = 0.5
	h.start(3, cfg)

	a, ok := h.alarms.get(testRoom)
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(2500*time.Millisecond).UnixMilli(), a.At)
}

func TestContinueGame(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())

	h.send(seats[0].peer, internal.MsgContinueGame, nil)
	assert.Equal(t, internal.ErrInvalidAction, lastError(t, seats[0].peer))

	h.fireUntil(internal.PhaseResults)
	h.send(seats[1].peer, internal.MsgContinueGame, nil)
	assert.Equal(t, internal.ErrNotHost, lastError(t, seats[1].peer))

	h.send(seats[0].peer, internal.MsgContinueGame, nil)
	s := h.state()
	assert.Equal(t, 2, s.CurrentRound)
	assert.Equal(t, internal.PhaseMemory, s.CurrentPhase)
}

func TestGameEndsAfterLastRound(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())

	for round := 1; round <= 3; round++ {
		h.fireUntil(internal.PhaseResults)
		require.Equal(t, round, h.state().CurrentRound)
		h.fire()
	}

	finished := lastPayload[internal.GameFinishedPayload](t, seats[1].peer, internal.MsgGameFinished)
	assert.Equal(t, "completed", finished.Reason)
	assert.Equal(t, 3, finished.RoundsCompleted)
	assert.Equal(t, 3, finished.RoundsTotal)
	require.Len(t, finished.FinalScores, 3)
	require.NotNil(t, finished.Winner)
	assert.Equal(t, seats[0].id, finished.Winner.PlayerID, "ties go to the earliest joined player")

	s := h.state()
	assert.Equal(t, internal.GameFinished, s.GameState)
	assert.Equal(t, internal.PhaseLobby, s.CurrentPhase)
	assert.Zero(t, s.ReadyCount())

	_, armed := h.alarms.get(testRoom)
	assert.False(t, armed)
	_, err := h.store.Get(context.Background(), testRoom, store.KeyAlarm)
	assert.ErrorIs(t, err, store.ErrNotFound)

	for _, st := range seats {
		h.send(st.peer, internal.MsgSetReady, map[string]any{"ready": true})
	}
	h.send(seats[0].peer, internal.MsgStartGame, nil)
	s = h.state()
	assert.Equal(t, internal.GamePlaying, s.GameState)
	assert.Equal(t, 1, s.CurrentRound)
}

func TestStatePersistsAcrossReload(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())
	h.fireUntil(internal.PhaseDetails)

	reloaded := newRoom(testRoom, h.store, newFakeAlarms(), testOptions(h.clock), nil)
	t.Cleanup(reloaded.Stop)
	require.NoError(t, reloaded.load(context.Background()))
	s, err := reloaded.State(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, internal.PhaseDetails, s.CurrentPhase)
	assert.Equal(t, []string{seats[0].id}, s.RoundData.WitnessIDs)
	assert.Len(t, s.Players, 3)

	data, err := h.store.Get(context.Background(), testRoom, store.KeyAlarm)
	require.NoError(t, err)
	var a internal.Alarm
	require.NoError(t, json.Unmarshal(data, &a))
	assert.Equal(t, internal.PhaseDetails, a.Phase)
	assert.Equal(t, s.PhaseEndTime, a.At)
}

// =============================================================================
// CONNECTIONS
// =============================================================================

func TestDropAndReconnectMidGame(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())
	bob := seats[1]

	h.close(bob.peer)
	changed := lastPayload[internal.PlayerConnectionChangedPayload](t, seats[0].peer, internal.MsgPlayerConnectionChanged)
	assert.Equal(t, bob.id, changed.PlayerID)
	assert.Equal(t, internal.StatusDropped, changed.Status)
	require.Len(t, h.state().Players, 3, "dropped players stay in the game")

	h.fireUntil(internal.PhaseVoting)

	back := &fakePeer{}
	h.send(back, internal.MsgReconnect, map[string]any{"roomCode": testRoom, "sessionToken": bob.token})

	snap := lastPayload[internal.ReconnectSuccessPayload](t, back, internal.MsgReconnectSuccess)
	assert.Equal(t, bob.id, snap.PlayerID)
	assert.Equal(t, internal.PhaseVoting, snap.CurrentPhase)
	assert.Equal(t, internal.RoleImposter, snap.Role)
	assert.Equal(t, scenario.Default().Hints, snap.Hints)
	assert.Empty(t, snap.Fragments)
	assert.Equal(t, internal.AutoSubmitAnswer, snap.Details[bob.id])
	assert.True(t, snap.HasSubmitted)
	assert.False(t, snap.HasVoted)
	assert.Empty(t, snap.WitnessIDs)
	assert.Positive(t, snap.TimeRemaining)

	changed = lastPayload[internal.PlayerConnectionChangedPayload](t, seats[0].peer, internal.MsgPlayerConnectionChanged)
	assert.Equal(t, internal.StatusConnected, changed.Status)

	h.send(back, internal.MsgCastVote, map[string]any{"targetPlayerId": seats[0].id})
	assert.Equal(t, seats[0].id, h.state().RoundData.Votes[bob.id])
}

func TestReconnectSupersedesOldSocket(t *testing.T) {
	h := newHarness(t, nil)
	host := h.createRoom("alice", testConfig())
	bob := h.join("bob", false)

	fresh := &fakePeer{}
	h.send(fresh, internal.MsgReconnect, map[string]any{"roomCode": testRoom, "sessionToken": bob.token})
	assert.True(t, bob.peer.isClosed())

	h.close(bob.peer)
	assert.Zero(t, host.peer.count(internal.MsgPlayerLeft), "the superseded socket closing is not a departure")
	assert.Len(t, h.state().Players, 2)

	h.send(fresh, internal.MsgSetReady, map[string]any{"ready": true})
	assert.Equal(t, 1, h.state().ReadyCount())
}

func TestReconnectRejections(t *testing.T) {
	h := newHarness(t, nil)
	host := h.createRoom("alice", testConfig())

	p := &fakePeer{}
	h.send(p, internal.MsgReconnect, map[string]any{"roomCode": testRoom, "sessionToken": "nope"})
	assert.Equal(t, internal.ErrInvalidSession, lastError(t, p))

	h.send(p, internal.MsgReconnect, map[string]any{"roomCode": "ZZZ999", "sessionToken": host.token})
	assert.Equal(t, internal.ErrRoomNotFound, lastError(t, p))
}

func TestHostDropMidGameTransfersHost(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())

	h.close(seats[0].peer)

	transferred := lastPayload[internal.HostTransferredPayload](t, seats[1].peer, internal.MsgHostTransferred)
	assert.Equal(t, seats[0].id, transferred.PreviousHostID)
	assert.Equal(t, seats[1].id, transferred.NewHostID)

	hosts := 0
	for _, p := range h.state().Players {
		if p.IsHost {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts)
}

func TestDroppedPlayersRemovedAtGameEnd(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())
	gone := seats[2]
	h.close(gone.peer)

	for range 3 {
		h.fireUntil(internal.PhaseResults)
		h.fire()
	}

	left := lastPayload[internal.PlayerLeftPayload](t, seats[0].peer, internal.MsgPlayerLeft)
	assert.Equal(t, gone.id, left.PlayerID)
	assert.Equal(t, reasonDisconnected, left.Reason)

	s := h.state()
	assert.Len(t, s.Players, 2)
	assert.Nil(t, s.FindPlayer(gone.id))
}

func TestStorageFailureClosesRoom(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	h := newHarness(t, st)
	seats := h.lobby(3, testConfig())
	for _, s := range seats {
		s.peer.reset()
	}

	st.failPuts.Store(true)
	h.send(seats[1].peer, internal.MsgSetReady, map[string]any{"ready": false})

	for _, s := range seats {
		closed := lastPayload[internal.RoomClosedPayload](t, s.peer, internal.MsgRoomClosed)
		assert.Equal(t, "storage_unavailable", closed.Reason)
		assert.True(t, s.peer.isClosed())
		assert.Zero(t, s.peer.count(internal.MsgPlayerReadyChanged), "nothing is confirmed before it is stored")
	}

	select {
	case <-h.room.Done():
	case <-time.After(time.Second):
		t.Fatal("room did not stop")
	}
	err := h.room.HandleMessage(context.Background(), seats[0].peer, []byte(`{"type":"ping","payload":{"clientTime":1}}`))
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestDefaultRoomGameStart(t *testing.T) {
	h := newHarness(t, nil)
	seats := []seat{h.join("alice", false), h.join("bob", false), h.join("carol", false)}
	for _, s := range seats {
		h.send(s.peer, internal.MsgSetReady, map[string]any{"ready": true})
	}

	h.send(seats[0].peer, internal.MsgStartGame, nil)

	for _, s := range seats {
		started := lastPayload[internal.GameStartedPayload](t, s.peer, internal.MsgGameStarted)
		assert.Equal(t, 5, started.TotalRounds)
		memory := lastPayload[internal.MemoryRevealedPayload](t, s.peer, internal.MsgMemoryRevealed)
		assert.NotEmpty(t, memory.Prompt)
	}
}

func TestHostDisconnectInLobbyTransfersOnce(t *testing.T) {
	h := newHarness(t, nil)
	host := h.createRoom("alice", testConfig())
	bob := h.join("bob", false)
	carol := h.join("carol", false)

	h.close(host.peer)

	assert.Equal(t, 1, bob.peer.count(internal.MsgHostTransferred))
	assert.Equal(t, 1, carol.peer.count(internal.MsgHostTransferred))
	transferred := lastPayload[internal.HostTransferredPayload](t, carol.peer, internal.MsgHostTransferred)
	assert.Contains(t, []string{bob.id, carol.id}, transferred.NewHostID)
	assert.Equal(t, transferred.NewHostID, h.state().Host().ID)
}

func TestFinishedGameDropsRoundData(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())
	witness := seats[0]

	for range 2 {
		h.fireUntil(internal.PhaseResults)
		h.fire()
	}
	h.fireUntil(internal.PhaseVoting)
	h.send(seats[1].peer, internal.MsgCastVote, map[string]any{"targetPlayerId": witness.id})
	h.close(witness.peer)
	h.fireUntil(internal.PhaseResults)
	h.fire()

	s := h.state()
	require.Equal(t, internal.GameFinished, s.GameState)
	assert.Nil(t, s.FindPlayer(witness.id))
	assert.Nil(t, s.RoundData)

	data, err := h.store.Get(context.Background(), testRoom, store.KeyState)
	require.NoError(t, err)
	var stored internal.RoomState
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Nil(t, stored.RoundData)

	h.send(seats[2].peer, internal.MsgLeaveRoom, nil)
	assert.Nil(t, h.state().RoundData)
}

func TestScoresNeverDecrease(t *testing.T) {
	h := newHarness(t, nil)
	seats := h.start(3, testConfig())
	witness, sharp, fooled := seats[0], seats[1], seats[2]

	previous := map[string]int{}
	for round := 1; round <= 3; round++ {
		h.fireUntil(internal.PhaseVoting)
		h.send(sharp.peer, internal.MsgCastVote, map[string]any{"targetPlayerId": witness.id})
		h.send(fooled.peer, internal.MsgCastVote, map[string]any{"targetPlayerId": sharp.id})
		h.send(witness.peer, internal.MsgCastVote, map[string]any{"targetPlayerId": fooled.id})
		require.Equal(t, internal.PhaseResults, h.state().CurrentPhase, "voting ends early once everyone voted")

		results := lastPayload[internal.RoundResultsPayload](t, fooled.peer, internal.MsgRoundResults)
		require.Equal(t, round, results.RoundNumber)
		for _, st := range seats {
			assert.GreaterOrEqual(t, results.TotalScores[st.id], previous[st.id], "round %d", round)
		}
		assert.Greater(t, results.TotalScores[sharp.id], previous[sharp.id])
		assert.Greater(t, results.TotalScores[witness.id], previous[witness.id])
		previous = results.TotalScores
		h.fire()
	}
}

func TestReconnectRejectsTokenFromAnotherRoom(t *testing.T) {
	h := newHarness(t, nil)
	host := h.createRoom("alice", testConfig())

	p := &fakePeer{}
	foreign := "XYZ789" + host.token[len(testRoom):]
	h.send(p, internal.MsgReconnect, map[string]any{"roomCode": testRoom, "sessionToken": foreign})
	assert.Equal(t, internal.ErrInvalidSession, lastError(t, p))
	assert.Zero(t, p.count(internal.MsgReconnectSuccess))
}

func TestNextScenarioIsPreparedDuringResults(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	gen := scenario.GeneratorFunc(func(ctx context.Context) (scenario.Scenario, error) {
		sc := scenario.Default()
		n := calls.Add(1)
		if n > 1 {
			<-release
		}
		sc.Prompt = fmt.Sprintf("scenario %d", n)
		return sc, nil
	})

	h := &harness{
		t:      t,
		store:  store.NewMemory(),
		alarms: newFakeAlarms(),
		clock:  &testClock{now: time.UnixMilli(1_700_000_000_000)},
	}
	opts := testOptions(h.clock)
	opts.Scenarios = gen
	h.room = newRoom(testRoom, h.store, h.alarms, opts, nil)
	t.Cleanup(h.room.Stop)
	_, err := h.room.create(context.Background())
	require.NoError(t, err)

	seats := h.start(3, testConfig())
	h.fireUntil(internal.PhaseResults)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	h.send(seats[1].peer, internal.MsgPing, map[string]any{"clientTime": 1})
	lastPayload[internal.PongPayload](t, seats[1].peer, internal.MsgPong)

	close(release)
	require.Eventually(t, func() bool {
		var ready bool
		require.NoError(t, h.room.do(context.Background(), func() { ready = h.room.upcoming != nil }))
		return ready
	}, time.Second, 5*time.Millisecond)

	h.fire()
	memory := lastPayload[internal.MemoryRevealedPayload](t, seats[1].peer, internal.MsgMemoryRevealed)
	assert.Equal(t, "scenario 2", memory.Prompt)
	assert.Equal(t, int32(2), calls.Load())
}
