package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scythe504/dejavu-backend/internal"
	"github.com/scythe504/dejavu-backend/internal/store"
	"github.com/scythe504/dejavu-backend/internal/utils"
)

const (
	createAttempts = 10
	alarmTimeout   = 30 * time.Second
)

// =============================================================================
// ROOM MANAGER
// =============================================================================

// Manager keeps at most one live Room per room code and owns the alarm
// timers for all of them.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	store       store.Store
	alarms      *Scheduler
	opts        Options
	idleTimeout time.Duration
}

func NewManager(st store.Store, opts Options, idleTimeout time.Duration) *Manager {
	m := &Manager{
		rooms:       make(map[string]*Room),
		store:       st,
		opts:        opts,
		idleTimeout: idleTimeout,
	}
	m.alarms = NewScheduler(m.fireAlarm)
	return m
}

// get returns the live room for code, starting one if needed.
func (m *Manager) get(code string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[code]; ok {
		return room
	}
	room := newRoom(code, m.store, m.alarms, m.opts, m.forget)
	m.rooms[code] = room
	return room
}

// forget drops a room from the map once its goroutine has exited.
func (m *Manager) forget(room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[room.code] == room {
		delete(m.rooms, room.code)
	}
}

func (m *Manager) unload(room *Room) {
	m.forget(room)
	room.Stop()
}

// Create makes a new room with a fresh code and the default config.
func (m *Manager) Create(ctx context.Context) (string, error) {
	for range createAttempts {
		code := utils.GenerateRoomCode()
		room := m.get(code)
		created, err := room.create(ctx)
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			return "", err
		}
		if created {
			log.Printf("[Manager] Room %s: created", code)
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a room code after %d attempts", createAttempts)
}

// Room returns the live room for code, loading it from the store if needed.
// It fails with ErrRoomNotFound when the room was never created.
func (m *Manager) Room(ctx context.Context, code string) (*Room, error) {
	code = utils.NormalizeRoomCode(code)
	if !utils.ValidRoomCode(code) {
		return nil, ErrRoomNotFound
	}

	var lastErr error
	for range 2 {
		room := m.get(code)
		if err := room.load(ctx); err != nil {
			lastErr = err
			if errors.Is(err, ErrRoomClosed) {
				continue
			}
			return nil, err
		}
		ok, err := room.exists(ctx)
		if errors.Is(err, ErrRoomClosed) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			m.unload(room)
			return nil, ErrRoomNotFound
		}
		return room, nil
	}
	return nil, lastErr
}

// fireAlarm delivers an alarm, loading the room first if it went idle.
func (m *Manager) fireAlarm(code string, a internal.Alarm) {
	ctx, cancel := context.WithTimeout(context.Background(), alarmTimeout)
	defer cancel()

	for range 2 {
		room, err := m.Room(ctx, code)
		if errors.Is(err, ErrRoomNotFound) {
			log.Printf("[Manager] Room %s: alarm fired for a room that no longer exists", code)
			return
		}
		if err != nil {
			log.Printf("[Manager] Room %s: alarm for %s/%d not delivered: %v", code, a.Phase, a.Round, err)
			return
		}
		err = room.HandleAlarm(ctx, a)
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			log.Printf("[Manager] Room %s: alarm for %s/%d not delivered: %v", code, a.Phase, a.Round, err)
		}
		return
	}
}

// Recover re-arms every durable alarm. It runs once at startup so games in
// progress keep advancing after a restart.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	alarms, err := m.store.Scan(ctx, store.KeyAlarm)
	if err != nil {
		return 0, fmt.Errorf("scan alarms: %w", err)
	}
	armed := 0
	for code, data := range alarms {
		var a internal.Alarm
		if err := json.Unmarshal(data, &a); err != nil {
			log.Printf("[Manager] Room %s: skipping unreadable alarm: %v", code, err)
			continue
		}
		m.alarms.Arm(code, a)
		armed++
	}
	log.Printf("[Manager] Recovered %d pending alarms", armed)
	return armed, nil
}

// Run unloads idle rooms until ctx is done, then closes the manager.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTimeout <= 0 {
		<-ctx.Done()
		m.Close()
		return
	}

	ticker := time.NewTicker(max(m.idleTimeout/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-ticker.C:
			m.reap(ctx)
		}
	}
}

// reap unloads rooms that have had no live sockets for idleTimeout. Their
// state and alarms stay in the store.
func (m *Manager) reap(ctx context.Context) {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var stale []*Room
	for _, room := range m.rooms {
		if room.LastActive().Before(cutoff) {
			stale = append(stale, room)
		}
	}
	m.mu.Unlock()

	unloaded := 0
	for _, room := range stale {
		idle, err := room.idle(ctx)
		if err != nil || !idle {
			continue
		}
		m.unload(room)
		unloaded++
	}
	if unloaded > 0 {
		log.Printf("[Manager] Unloaded %d idle rooms", unloaded)
	}
}

// Loaded reports how many rooms are live in memory.
func (m *Manager) Loaded() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Close stops every timer and unloads every room.
func (m *Manager) Close() {
	m.alarms.Stop()

	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	for _, room := range rooms {
		m.unload(room)
	}
	log.Printf("[Manager] Closed %d rooms", len(rooms))
}
