// Package analytics records game events without ever holding up a room.
package analytics

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Name     string         `json:"name"`
	RoomCode string         `json:"roomCode"`
	Time     time.Time      `json:"time"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Sink receives events. Track must not block for long.
type Sink interface {
	Track(Event)
}

type Nop struct{}

func (Nop) Track(Event) {}

// Log writes each event as one JSON line on the standard logger.
type Log struct{}

func (Log) Track(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[analytics] Dropping unencodable event %s: %v", e.Name, err)
		return
	}
	log.Printf("[analytics] %s", data)
}

// Async hands events to a single worker through a bounded buffer. When the
// buffer is full the event is dropped.
type Async struct {
	next    Sink
	events  chan Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func NewAsync(next Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		next:   next,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Track(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	select {
	case a.events <- e:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits for the buffer to drain.
func (a *Async) Close() {
	a.once.Do(func() {
		close(a.events)
		<-a.done
	})
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.events {
		a.deliver(e)
	}
}

func (a *Async) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[analytics] Sink panicked on %s: %v", e.Name, r)
		}
	}()
	a.next.Track(e)
}
