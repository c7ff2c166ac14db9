package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/scythe504/dejavu-backend/internal"
	"github.com/scythe504/dejavu-backend/internal/analytics"
	"github.com/scythe504/dejavu-backend/internal/scenario"
	"github.com/scythe504/dejavu-backend/internal/store"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomClosed   = errors.New("room closed")
)

const (
	persistAttempts = 3
	persistBackoff  = 50 * time.Millisecond
	storeTimeout    = 5 * time.Second
	inboxSize       = 64
)

// Peer is a live socket as a room sees it.
type Peer interface {
	// Send queues an encoded frame and never blocks.
	Send(frame []byte) error
	Close()
}

type session struct {
	playerID      string
	peer          Peer
	lastHeartbeat time.Time
	spectator     bool
}

// Options are the collaborators and knobs shared by every room.
type Options struct {
	Scenarios       scenario.Generator
	ScenarioTimeout time.Duration
	Events          analytics.Sink
	Verbose         bool
	Now             func() time.Time
	Shuffle         func(n int, swap func(i, j int))
}

func (o Options) withDefaults() Options {
	if o.Scenarios == nil {
		o.Scenarios = scenario.NewStatic(nil)
	}
	if o.ScenarioTimeout <= 0 {
		o.ScenarioTimeout = 8 * time.Second
	}
	if o.Events == nil {
		o.Events = analytics.Nop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Shuffle == nil {
		o.Shuffle = rand.Shuffle
	}
	return o
}

// =============================================================================
// ROOM ACTOR
// =============================================================================

// Room is the single owner of one room's state. Every entry point is run
// on the room's goroutine, one at a time, in arrival order.
type Room struct {
	code   string
	store  store.Store
	alarms AlarmScheduler
	opts   Options

	state    *internal.RoomState
	loaded   bool
	sessions map[string]*session
	peers    map[Peer]string
	attached map[Peer]struct{}
	upcoming *upcomingScenario

	inbox   chan func()
	done    chan struct{}
	closed  bool
	onClose func(*Room)

	lastActive atomic.Int64
}

func newRoom(code string, st store.Store, alarms AlarmScheduler, opts Options, onClose func(*Room)) *Room {
	r := &Room{
		code:     code,
		onClose:  onClose,
		store:    st,
		alarms:   alarms,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*session),
		peers:    make(map[Peer]string),
		attached: make(map[Peer]struct{}),
		inbox:    make(chan func(), inboxSize),
		done:     make(chan struct{}),
	}
	r.touch()
	go r.run()
	return r
}

func (r *Room) Code() string {
	return r.code
}

func (r *Room) run() {
	defer func() {
		close(r.done)
		if r.onClose != nil {
			r.onClose(r)
		}
	}()
	for fn := range r.inbox {
		r.safely(fn)
		if r.closed {
			return
		}
	}
}

// safely keeps one bad message from taking the room down.
func (r *Room) safely(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Room] Room %s: recovered from panic: %v\n%s", r.code, rec, debug.Stack())
		}
	}()
	fn()
}

// do runs fn on the room goroutine and waits for it to finish.
func (r *Room) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}

	select {
	case r.inbox <- cmd:
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-r.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

func (r *Room) LastActive() time.Time {
	return time.Unix(0, r.lastActive.Load())
}

// Done is closed once the room goroutine has exited.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// =============================================================================
// ENTRY POINTS
// =============================================================================

// HandleMessage processes one inbound frame from peer.
func (r *Room) HandleMessage(ctx context.Context, peer Peer, raw []byte) error {
	return r.do(ctx, func() {
		r.touch()
		r.attached[peer] = struct{}{}
		r.route(peer, raw)
	})
}

// HandleClose tells the room that peer's socket is gone.
func (r *Room) HandleClose(ctx context.Context, peer Peer) error {
	return r.do(ctx, func() {
		r.touch()
		delete(r.attached, peer)
		r.disconnect(peer)
	})
}

// HandleAlarm delivers a fired alarm. Alarms for a phase the room has
// already left are ignored.
func (r *Room) HandleAlarm(ctx context.Context, a internal.Alarm) error {
	return r.do(ctx, func() {
		r.touch()
		r.onAlarm(a)
	})
}

// State returns a deep copy of the current room state, or nil if the room
// was never created.
func (r *Room) State(ctx context.Context) (*internal.RoomState, error) {
	var out *internal.RoomState
	var err error
	if doErr := r.do(ctx, func() {
		if r.state != nil {
			out, err = r.state.Clone()
		}
	}); doErr != nil {
		return nil, doErr
	}
	return out, err
}

// Stop unloads the room. Durable state and alarms are left in place.
func (r *Room) Stop() {
	_ = r.do(context.Background(), func() { r.shutdown("") })
}

// idle reports whether the room has no live sessions.
func (r *Room) idle(ctx context.Context) (bool, error) {
	var idle bool
	err := r.do(ctx, func() {
		idle = len(r.sessions) == 0 && len(r.attached) == 0
	})
	return idle, err
}

// load reads the persisted state once. A missing state leaves r.state nil.
func (r *Room) load(ctx context.Context) error {
	var err error
	if doErr := r.do(ctx, func() {
		if r.loaded {
			return
		}
		var data []byte
		data, err = r.store.Get(ctx, r.code, store.KeyState)
		if errors.Is(err, store.ErrNotFound) {
			err = nil
			r.loaded = true
			return
		}
		if err != nil {
			err = fmt.Errorf("load room %s: %w", r.code, err)
			return
		}
		var state internal.RoomState
		if err = json.Unmarshal(data, &state); err != nil {
			err = fmt.Errorf("decode room %s: %w", r.code, err)
			return
		}
		r.state = &state
		r.loaded = true
	}); doErr != nil {
		return doErr
	}
	return err
}

// create makes the room with the default config. It reports false when the
// room already existed.
func (r *Room) create(ctx context.Context) (bool, error) {
	if err := r.load(ctx); err != nil {
		return false, err
	}
	var created bool
	var err error
	if doErr := r.do(ctx, func() {
		if r.state != nil {
			return
		}
		r.state = internal.NewRoomState(r.code, r.opts.Now())
		if !r.persist() {
			err = ErrRoomClosed
			return
		}
		created = true
		log.Printf("[create] Room %s: created with default config", r.code)
		r.track("room_created", nil)
	}); doErr != nil {
		return false, doErr
	}
	return created, err
}

// exists reports whether the room has state.
func (r *Room) exists(ctx context.Context) (bool, error) {
	var ok bool
	err := r.do(ctx, func() { ok = r.state != nil })
	return ok, err
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persist writes the state. On failure the room is closed and false is
// returned; callers must stop without replying.
func (r *Room) persist() bool {
	data, err := json.Marshal(r.state)
	if err == nil {
		err = r.write(store.KeyState, data)
	}
	if err != nil {
		r.fail(err)
		return false
	}
	return true
}

func (r *Room) write(key string, value []byte) error {
	var err error
	for attempt := range persistAttempts {
		if attempt > 0 {
			time.Sleep(persistBackoff << (attempt - 1))
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err = r.store.Put(ctx, r.code, key, value)
		cancel()
		if err == nil {
			return nil
		}
		log.Printf("[persist] Room %s: write %s failed (attempt %d/%d): %v", r.code, key, attempt+1, persistAttempts, err)
	}
	return err
}

// armAlarm persists and arms the alarm for the phase just entered.
func (r *Room) armAlarm() bool {
	a := internal.Alarm{
		At:    r.state.PhaseEndTime,
		Phase: r.state.CurrentPhase,
		Round: r.state.CurrentRound,
	}
	data, err := json.Marshal(a)
	if err == nil {
		err = r.write(store.KeyAlarm, data)
	}
	if err != nil {
		r.fail(err)
		return false
	}
	r.alarms.Arm(r.code, a)
	return true
}

// clearAlarm drops the pending alarm. A leftover durable alarm is harmless
// because it no longer matches the room's phase.
func (r *Room) clearAlarm() {
	r.alarms.Disarm(r.code)
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.Delete(ctx, r.code, store.KeyAlarm); err != nil {
		log.Printf("[clearAlarm] Room %s: %v", r.code, err)
	}
}

func (r *Room) fail(err error) {
	log.Printf("[fail] Room %s: storage unavailable, closing room: %v", r.code, err)
	r.track("room_failed", map[string]any{"error": err.Error()})
	r.shutdown("storage_unavailable")
}

// shutdown closes every socket and marks the room closed so the run loop
// exits after the current command.
func (r *Room) shutdown(reason string) {
	if r.closed {
		return
	}
	if reason != "" {
		r.broadcast(internal.NewMessage(internal.MsgRoomClosed, internal.RoomClosedPayload{Reason: reason}))
	}
	for peer := range r.attached {
		peer.Close()
	}
	for peer := range r.peers {
		peer.Close()
	}
	r.sessions = make(map[string]*session)
	r.peers = make(map[Peer]string)
	r.attached = make(map[Peer]struct{})
	r.closed = true
}

func (r *Room) track(name string, fields map[string]any) {
	r.opts.Events.Track(analytics.Event{
		Name:     name,
		RoomCode: r.code,
		Time:     r.opts.Now().UTC(),
		Fields:   fields,
	})
}

func (r *Room) logf(format string, args ...any) {
	if r.opts.Verbose {
		log.Printf(format, args...)
	}
}
