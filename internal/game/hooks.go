package game

import "time"

// Metrics receives simulation measurements. The api package implements it
// with Prometheus collectors.
type Metrics interface {
	ObserveTick(d time.Duration)
	SetPlayers(n int)
	SetEntities(n int)
	SetActiveDigs(n int)
	AddSpawns(n int)
	AddDespawns(n int)
	DigOutcome(state string)
	ProtocolViolation(kind string)
	InboundDrained(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(time.Duration) {}
func (nopMetrics) SetPlayers(int)            {}
func (nopMetrics) SetEntities(int)           {}
func (nopMetrics) SetActiveDigs(int)         {}
func (nopMetrics) AddSpawns(int)             {}
func (nopMetrics) AddDespawns(int)           {}
func (nopMetrics) DigOutcome(string)         {}
func (nopMetrics) ProtocolViolation(string)  {}
func (nopMetrics) InboundDrained(int)        {}

// DigRecord is a finished dig as stored by a Journal.
type DigRecord struct {
	Tick      uint64
	SessionID string
	EntityID  uint64
	X, Y      int
	Block     uint8
	Tool      string
	StartTick uint64
	Outcome   string
	At        time.Time
}

// SessionRecord is a join or leave as stored by a Journal.
type SessionRecord struct {
	SessionID string
	EntityID  uint64
	Name      string
	Event     string // "join" or "leave"
	Tick      uint64
	At        time.Time
}

// Journal persists dig and session history outside the simulation.
// Implementations must not block the caller.
type Journal interface {
	RecordDig(rec DigRecord)
	RecordSession(rec SessionRecord)
}

type nopJournal struct{}

func (nopJournal) RecordDig(DigRecord)         {}
func (nopJournal) RecordSession(SessionRecord) {}
